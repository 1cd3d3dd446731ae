package httpapi

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/yourorg/lotflow/internal/lot"
)

type createLotRequest struct {
	Name            string              `json:"name"`
	Source          string              `json:"source"`
	BatchNumber     string              `json:"batchNumber"`
	ManufactureDate *openapi_types.Date `json:"manufactureDate,omitempty"`
	DeliveryDate    *openapi_types.Date `json:"deliveryDate,omitempty"`
}

func (r createLotRequest) descriptor() lot.Descriptor {
	return lot.Descriptor{
		Name:            r.Name,
		Source:          r.Source,
		BatchNumber:     r.BatchNumber,
		ManufactureDate: dateToTime(r.ManufactureDate),
		DeliveryDate:    dateToTime(r.DeliveryDate),
	}
}

type installRequest struct {
	Location         string              `json:"location"`
	Section          string              `json:"section"`
	InstallationDate *openapi_types.Date `json:"installationDate,omitempty"`
	Notes            string              `json:"notes"`
}

func (r installRequest) input() lot.InstallInput {
	return lot.InstallInput{
		Location:         r.Location,
		Section:          r.Section,
		InstallationDate: dateToTime(r.InstallationDate),
		Notes:            r.Notes,
	}
}

type inspectRequest struct {
	Condition         lot.Condition       `json:"condition"`
	Notes             string              `json:"notes"`
	Photos            []string            `json:"photos"`
	NextInspectionDue *openapi_types.Date `json:"nextInspectionDue,omitempty"`
}

func (r inspectRequest) input() lot.InspectInput {
	return lot.InspectInput{
		Condition:         r.Condition,
		Notes:             r.Notes,
		Photos:            r.Photos,
		NextInspectionDue: dateToTime(r.NextInspectionDue),
	}
}

type completeRequest struct {
	Notes string `json:"notes"`
}

type evidenceUploadRequest struct {
	FileName string `json:"fileName" validate:"required,max=255"`
}

// issueTokenResponse is returned when the label is not requested as PDF.
// It is the only response that ever carries the raw token value.
type issueTokenResponse struct {
	LotID     string    `json:"lotId"`
	TokenID   string    `json:"tokenId"`
	Token     string    `json:"token"`
	Prefix    string    `json:"prefix"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	AccessURL string    `json:"accessUrl"`
	LabelCode string    `json:"labelCode"`
}

type replacementResponse struct {
	Lot     lot.Lot                `json:"lot"`
	Request lot.ReplacementRequest `json:"request"`
}

type pruneResponse struct {
	LotID   string `json:"lotId"`
	Removed int    `json:"removed"`
}

type historyResponse struct {
	ActorID string                 `json:"actorId"`
	Entries []lot.UserHistoryEntry `json:"entries"`
}

func dateToTime(d *openapi_types.Date) *time.Time {
	if d == nil || d.Time.IsZero() {
		return nil
	}
	t := d.Time.UTC()
	return &t
}
