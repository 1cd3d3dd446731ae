package lot

import (
	"fmt"
	"strings"
	"time"
)

// TransitionInput is a requested status change.
type TransitionInput struct {
	Status            Status `json:"status"`
	Notes             string `json:"notes"`
	SampleCheckResult string `json:"sampleCheckResult"`
}

// Transition moves l to in.Status on behalf of actor. Only depot staff may
// change status; the role gate is checked before anything else so a
// non-depot caller is refused whatever the current or requested status.
//
// Any status may follow any other, including itself: depot staff use
// same-status and backward moves to correct erroneous holds and to record
// re-checks.
func Transition(l *Lot, actor Actor, in TransitionInput, now time.Time) (AuditEntry, error) {
	if actor.Role != RoleDepotStaff {
		return AuditEntry{}, Errorf(KindForbidden, "role %q cannot change lot status", actor.Role)
	}
	if !in.Status.Valid() {
		return AuditEntry{}, Errorf(KindInvalidStatus, "invalid status %q", in.Status)
	}
	prev := l.Status
	entry := l.Append(NewEntry(actor, fmt.Sprintf("status changed from %s to %s", prev, in.Status), StatusChanged{
		PreviousStatus:    prev,
		NewStatus:         in.Status,
		Notes:             strings.TrimSpace(in.Notes),
		SampleCheckResult: strings.TrimSpace(in.SampleCheckResult),
	}), now)
	l.Status = in.Status
	return entry, nil
}
