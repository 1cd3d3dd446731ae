package lot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"iter"
	"time"
)

// AuditEntry is an immutable fact appended to a lot's trail. Seq is the
// 1-based append position and is the only ordering key; timestamps may tie.
type AuditEntry struct {
	ID        string
	Seq       int
	Timestamp time.Time
	ActorID   string
	ActorName string
	Action    Action
	Detail    string
	Metadata  Metadata
	PrevHash  string
	Hash      string
}

type auditEntryJSON struct {
	ID        string          `json:"id"`
	Seq       int             `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	ActorID   string          `json:"actorId"`
	ActorName string          `json:"actorName"`
	Action    Action          `json:"action"`
	Detail    string          `json:"detail,omitempty"`
	Metadata  json.RawMessage `json:"metadata"`
	PrevHash  string          `json:"prevHash,omitempty"`
	Hash      string          `json:"hash"`
}

func (e AuditEntry) MarshalJSON() ([]byte, error) {
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(auditEntryJSON{
		ID:        e.ID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		ActorID:   e.ActorID,
		ActorName: e.ActorName,
		Action:    e.Action,
		Detail:    e.Detail,
		Metadata:  meta,
		PrevHash:  e.PrevHash,
		Hash:      e.Hash,
	})
}

func (e *AuditEntry) UnmarshalJSON(b []byte) error {
	var raw auditEntryJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	meta, err := decodeMetadata(raw.Action, raw.Metadata)
	if err != nil {
		return err
	}
	*e = AuditEntry{
		ID:        raw.ID,
		Seq:       raw.Seq,
		Timestamp: raw.Timestamp,
		ActorID:   raw.ActorID,
		ActorName: raw.ActorName,
		Action:    raw.Action,
		Detail:    raw.Detail,
		Metadata:  meta,
		PrevHash:  raw.PrevHash,
		Hash:      raw.Hash,
	}
	return nil
}

func (e AuditEntry) clone() AuditEntry {
	out := e
	switch m := e.Metadata.(type) {
	case InspectionRecorded:
		m.Photos = cloneStrings(m.Photos)
		m.NextInspectionDue = cloneTime(m.NextInspectionDue)
		out.Metadata = m
	case InstallationRecorded:
		m.InstallationDate = cloneTime(m.InstallationDate)
		out.Metadata = m
	}
	return out
}

// NewEntry builds an unappended entry for actor. The action tag is taken from
// the metadata variant.
func NewEntry(actor Actor, detail string, meta Metadata) AuditEntry {
	return AuditEntry{
		ActorID:   actor.ID,
		ActorName: actor.DisplayName,
		Action:    meta.Action(),
		Detail:    detail,
		Metadata:  meta,
	}
}

// Append inserts e at the tail of the trail. It assigns the id, sequence and
// hash chain, and stamps the entry with now when it carries no timestamp. The
// timestamp is clamped so it never precedes the previous entry.
func (l *Lot) Append(e AuditEntry, now time.Time) AuditEntry {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC()
	e.PrevHash = ""
	if n := len(l.AuditTrail); n > 0 {
		last := l.AuditTrail[n-1]
		if e.Timestamp.Before(last.Timestamp) {
			e.Timestamp = last.Timestamp
		}
		e.PrevHash = last.Hash
	}
	e.Seq = len(l.AuditTrail) + 1
	e.Hash = hashEntry(l.ID, e)
	l.AuditTrail = append(l.AuditTrail, e)
	if e.Timestamp.After(l.UpdatedAt) {
		l.UpdatedAt = e.Timestamp
	}
	return e
}

// hashEntry digests every stored field of e except Hash. The fields are
// encoded as a JSON array so free text cannot shift field boundaries.
func hashEntry(lotID string, e AuditEntry) string {
	meta, _ := encodeMetadata(e.Metadata)
	payload, _ := json.Marshal([]any{
		lotID, e.Seq, e.ID, e.ActorID, e.ActorName, string(e.Action),
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Detail, string(meta), e.PrevHash,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// VerifyChain recomputes the hash chain and returns the sequence number of
// the first entry that does not match, or 0 when the trail is intact.
func (l Lot) VerifyChain() int {
	prev := ""
	for i, e := range l.AuditTrail {
		if e.Seq != i+1 || e.PrevHash != prev || hashEntry(l.ID, e) != e.Hash {
			return i + 1
		}
		prev = e.Hash
	}
	return 0
}

// Predicate selects audit entries.
type Predicate func(AuditEntry) bool

// WithAction matches entries tagged with any of actions.
func WithAction(actions ...Action) Predicate {
	return func(e AuditEntry) bool {
		for _, a := range actions {
			if e.Action == a {
				return true
			}
		}
		return false
	}
}

// ByActor matches entries produced by actorID.
func ByActor(actorID string) Predicate {
	return func(e AuditEntry) bool { return e.ActorID == actorID }
}

// Between matches entries with from <= timestamp < to. A zero bound is open.
func Between(from, to time.Time) Predicate {
	return func(e AuditEntry) bool {
		if !from.IsZero() && e.Timestamp.Before(from) {
			return false
		}
		if !to.IsZero() && !e.Timestamp.Before(to) {
			return false
		}
		return true
	}
}

// All matches entries accepted by every predicate; nil predicates are skipped.
func All(preds ...Predicate) Predicate {
	return func(e AuditEntry) bool {
		for _, p := range preds {
			if p != nil && !p(e) {
				return false
			}
		}
		return true
	}
}

// Query returns a lazy sequence over the entries matching pred, in append
// order. The sequence is bounded by the trail length observed at call time and
// can be ranged over repeatedly.
func (l Lot) Query(pred Predicate) iter.Seq[AuditEntry] {
	trail := l.AuditTrail[:len(l.AuditTrail):len(l.AuditTrail)]
	return func(yield func(AuditEntry) bool) {
		for _, e := range trail {
			if pred != nil && !pred(e) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}
