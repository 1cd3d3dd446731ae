package lot

import (
	"strings"
	"time"
)

// ReplacementStatus is the state of a replacement request.
type ReplacementStatus string

const (
	ReplacementPending   ReplacementStatus = "pending"
	ReplacementApproved  ReplacementStatus = "approved"
	ReplacementRejected  ReplacementStatus = "rejected"
	ReplacementCompleted ReplacementStatus = "completed"
)

func (s ReplacementStatus) Valid() bool {
	switch s {
	case ReplacementPending, ReplacementApproved, ReplacementRejected, ReplacementCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further move is possible from s.
func (s ReplacementStatus) Terminal() bool {
	return s == ReplacementRejected || s == ReplacementCompleted
}

// ReplacementRequest asks depot staff to swap out a lot or one of its parts.
// It lives beside the lot rather than inside it; the lot only records the
// replacement_requested entry that points here.
type ReplacementRequest struct {
	ID            string            `json:"id"`
	LotID         string            `json:"lotId"`
	PartID        string            `json:"partId,omitempty"`
	RequestedBy   string            `json:"requestedBy"`
	RequesterName string            `json:"requesterName"`
	RequesterRole Role              `json:"requesterRole"`
	Reason        Reason            `json:"reason"`
	Description   string            `json:"description"`
	Photos        []string          `json:"photos"`
	Priority      Priority          `json:"priority"`
	Status        ReplacementStatus `json:"status"`

	ReviewedBy  string     `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`
	ReviewNotes string     `json:"reviewNotes,omitempty"`

	CompletedBy     string     `json:"completedBy,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	CompletionNotes string     `json:"completionNotes,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of r.
func (r ReplacementRequest) Clone() ReplacementRequest {
	out := r
	out.Photos = cloneStrings(r.Photos)
	out.ReviewedAt = cloneTime(r.ReviewedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	return out
}

// ReviewInput is a reviewer's decision on a pending request.
type ReviewInput struct {
	Decision ReplacementStatus `json:"decision"`
	Notes    string            `json:"notes"`
}

// Review approves or rejects a pending request.
func (r *ReplacementRequest) Review(actor Actor, in ReviewInput, now time.Time) error {
	if !hasRole(actor.Role, RoleDepotStaff, RoleAdmin) {
		return Errorf(KindForbidden, "role %q cannot review replacement requests", actor.Role)
	}
	if in.Decision != ReplacementApproved && in.Decision != ReplacementRejected {
		return Errorf(KindInvalidTransition, "review decision must be approved or rejected, got %q", in.Decision)
	}
	if r.Status != ReplacementPending {
		return Errorf(KindInvalidTransition, "replacement request %s is %s, not pending", r.ID, r.Status)
	}
	now = now.UTC()
	r.Status = in.Decision
	r.ReviewedBy = actor.ID
	r.ReviewedAt = &now
	r.ReviewNotes = strings.TrimSpace(in.Notes)
	r.UpdatedAt = now
	return nil
}

// Complete closes an approved request.
func (r *ReplacementRequest) Complete(actor Actor, notes string, now time.Time) error {
	if !hasRole(actor.Role, RoleDepotStaff, RoleAdmin) {
		return Errorf(KindForbidden, "role %q cannot complete replacement requests", actor.Role)
	}
	if r.Status != ReplacementApproved {
		return Errorf(KindInvalidTransition, "replacement request %s is %s, not approved", r.ID, r.Status)
	}
	now = now.UTC()
	r.Status = ReplacementCompleted
	r.CompletedBy = actor.ID
	r.CompletedAt = &now
	r.CompletionNotes = strings.TrimSpace(notes)
	r.UpdatedAt = now
	return nil
}
