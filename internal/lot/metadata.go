package lot

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is the action-specific payload of an audit entry. Each variant
// reports the Action it belongs to, so an entry's tag and payload can never
// disagree.
type Metadata interface {
	Action() Action
}

// TokenIssued records an access-token issuance. It carries the token's id,
// display prefix and validity window; never the token value or its rendering.
type TokenIssued struct {
	TokenID     string    `json:"tokenId"`
	TokenPrefix string    `json:"tokenPrefix"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (TokenIssued) Action() Action { return ActionQRGenerated }

type StatusChanged struct {
	PreviousStatus    Status `json:"previousStatus"`
	NewStatus         Status `json:"newStatus"`
	Notes             string `json:"notes,omitempty"`
	SampleCheckResult string `json:"sampleCheckResult,omitempty"`
}

func (StatusChanged) Action() Action { return ActionStatusUpdated }

type InstallationRecorded struct {
	Location         string     `json:"location"`
	Section          string     `json:"section"`
	InstallationDate *time.Time `json:"installationDate,omitempty"`
	Notes            string     `json:"notes,omitempty"`
}

func (InstallationRecorded) Action() Action { return ActionInstallationRecorded }

type InspectionRecorded struct {
	Condition         Condition  `json:"condition"`
	Notes             string     `json:"notes,omitempty"`
	Photos            []string   `json:"photos,omitempty"`
	NextInspectionDue *time.Time `json:"nextInspectionDue,omitempty"`
}

func (InspectionRecorded) Action() Action { return ActionInspectionRecorded }

type ReplacementRequested struct {
	RequestID string   `json:"requestId"`
	Reason    Reason   `json:"reason"`
	Priority  Priority `json:"priority"`
	PartID    string   `json:"partId,omitempty"`
}

func (ReplacementRequested) Action() Action { return ActionReplacementRequested }

func encodeMetadata(m Metadata) (json.RawMessage, error) {
	if m == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMetadata(action Action, raw json.RawMessage) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	var (
		m   Metadata
		err error
	)
	switch action {
	case ActionQRGenerated:
		var v TokenIssued
		err = json.Unmarshal(raw, &v)
		m = v
	case ActionStatusUpdated:
		var v StatusChanged
		err = json.Unmarshal(raw, &v)
		m = v
	case ActionInstallationRecorded:
		var v InstallationRecorded
		err = json.Unmarshal(raw, &v)
		m = v
	case ActionInspectionRecorded:
		var v InspectionRecorded
		err = json.Unmarshal(raw, &v)
		m = v
	case ActionReplacementRequested:
		var v ReplacementRequested
		err = json.Unmarshal(raw, &v)
		m = v
	default:
		return nil, fmt.Errorf("unknown audit action %q", action)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", action, err)
	}
	return m, nil
}
