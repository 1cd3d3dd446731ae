// Package lot holds the lot workflow domain: the status state machine, the
// append-only audit trail, access tokens, workflow actions and the
// replacement request sub-workflow. Functions here are pure with respect to
// storage; callers load a Lot, mutate it through these functions and persist
// the result atomically.
package lot

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lot is the tracked inventory unit.
type Lot struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Source          string        `json:"source,omitempty"`
	BatchNumber     string        `json:"batchNumber,omitempty"`
	ManufactureDate *time.Time    `json:"manufactureDate,omitempty"`
	DeliveryDate    *time.Time    `json:"deliveryDate,omitempty"`
	Status          Status        `json:"status"`
	OwnerID         string        `json:"ownerId"`
	AuditTrail      []AuditEntry  `json:"auditTrail"`
	AccessTokens    []AccessToken `json:"accessTokens"`
	Version         int64         `json:"version"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Descriptor carries the descriptive fields supplied at creation.
type Descriptor struct {
	Name            string     `json:"name" validate:"required"`
	Source          string     `json:"source"`
	BatchNumber     string     `json:"batchNumber"`
	ManufactureDate *time.Time `json:"manufactureDate"`
	DeliveryDate    *time.Time `json:"deliveryDate"`
}

// New creates a pending lot owned by owner. Only vendors originate lots.
// Creation appends nothing to the audit trail.
func New(owner Actor, d Descriptor, now time.Time) (Lot, error) {
	if owner.Role != RoleVendor {
		return Lot{}, Errorf(KindForbidden, "role %q cannot create lots", owner.Role)
	}
	d.Name = strings.TrimSpace(d.Name)
	d.Source = strings.TrimSpace(d.Source)
	d.BatchNumber = strings.TrimSpace(d.BatchNumber)
	if err := checkRequired(d); err != nil {
		return Lot{}, err
	}
	now = now.UTC()
	return Lot{
		ID:              NewID(),
		Name:            d.Name,
		Source:          d.Source,
		BatchNumber:     d.BatchNumber,
		ManufactureDate: d.ManufactureDate,
		DeliveryDate:    d.DeliveryDate,
		Status:          StatusPending,
		OwnerID:         owner.ID,
		AuditTrail:      []AuditEntry{},
		AccessTokens:    []AccessToken{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// NewID allocates a time-ordered unique identifier (UUIDv7).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Clone returns a deep copy so stores can hand out lots without sharing
// backing arrays with their own state.
func (l Lot) Clone() Lot {
	out := l
	out.ManufactureDate = cloneTime(l.ManufactureDate)
	out.DeliveryDate = cloneTime(l.DeliveryDate)
	out.AuditTrail = make([]AuditEntry, len(l.AuditTrail))
	for i, e := range l.AuditTrail {
		out.AuditTrail[i] = e.clone()
	}
	out.AccessTokens = append([]AccessToken{}, l.AccessTokens...)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}
