package lot

import (
	"encoding/json"
	"time"
)

// TargetType names what a user history entry refers to.
type TargetType string

const (
	TargetLot                TargetType = "lot"
	TargetReplacementRequest TargetType = "replacement_request"
)

// UserHistoryEntry mirrors an audit entry into the acting user's own log.
type UserHistoryEntry struct {
	ID         string
	Timestamp  time.Time
	Action     Action
	Detail     string
	Metadata   Metadata
	TargetType TargetType
	TargetID   string
}

type userHistoryJSON struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Action     Action          `json:"action"`
	Detail     string          `json:"detail,omitempty"`
	Metadata   json.RawMessage `json:"metadata"`
	TargetType TargetType      `json:"targetType"`
	TargetID   string          `json:"targetId"`
}

func (h UserHistoryEntry) MarshalJSON() ([]byte, error) {
	meta, err := encodeMetadata(h.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(userHistoryJSON{
		ID:         h.ID,
		Timestamp:  h.Timestamp,
		Action:     h.Action,
		Detail:     h.Detail,
		Metadata:   meta,
		TargetType: h.TargetType,
		TargetID:   h.TargetID,
	})
}

func (h *UserHistoryEntry) UnmarshalJSON(b []byte) error {
	var raw userHistoryJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	meta, err := decodeMetadata(raw.Action, raw.Metadata)
	if err != nil {
		return err
	}
	*h = UserHistoryEntry{
		ID:         raw.ID,
		Timestamp:  raw.Timestamp,
		Action:     raw.Action,
		Detail:     raw.Detail,
		Metadata:   meta,
		TargetType: raw.TargetType,
		TargetID:   raw.TargetID,
	}
	return nil
}

// Clone returns a copy that shares no slices or pointers with h.
func (h UserHistoryEntry) Clone() UserHistoryEntry {
	h.Metadata = AuditEntry{Metadata: h.Metadata}.clone().Metadata
	return h
}

// MirrorEntry copies an appended lot entry into a history entry targeting the
// lot. The history id reuses the audit entry id so the two can be joined.
func MirrorEntry(lotID string, e AuditEntry) UserHistoryEntry {
	e = e.clone()
	return UserHistoryEntry{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		Action:     e.Action,
		Detail:     e.Detail,
		Metadata:   e.Metadata,
		TargetType: TargetLot,
		TargetID:   lotID,
	}
}

// User is an actor's record together with the history of what they did.
type User struct {
	ID          string             `json:"id"`
	DisplayName string             `json:"displayName"`
	Role        Role               `json:"role"`
	History     []UserHistoryEntry `json:"history"`
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	out := u
	if u.History != nil {
		out.History = make([]UserHistoryEntry, len(u.History))
		for i, h := range u.History {
			out.History[i] = h.Clone()
		}
	}
	return out
}
