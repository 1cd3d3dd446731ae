package lot

import (
	"fmt"
	"strings"
	"time"
)

type InstallInput struct {
	Location         string     `json:"location" validate:"required"`
	Section          string     `json:"section" validate:"required"`
	InstallationDate *time.Time `json:"installationDate"`
	Notes            string     `json:"notes"`
}

// Install records an installation. Re-recording on an already installed lot
// is allowed and models a re-installation.
func Install(l *Lot, actor Actor, in InstallInput, now time.Time) (AuditEntry, error) {
	if actor.Role != RoleTrackWorker {
		return AuditEntry{}, Errorf(KindForbidden, "role %q cannot record installations", actor.Role)
	}
	in.Location = strings.TrimSpace(in.Location)
	in.Section = strings.TrimSpace(in.Section)
	if err := checkRequired(in); err != nil {
		return AuditEntry{}, err
	}
	return l.Append(NewEntry(actor, fmt.Sprintf("installed at %s, %s", in.Location, in.Section), InstallationRecorded{
		Location:         in.Location,
		Section:          in.Section,
		InstallationDate: cloneTime(in.InstallationDate),
		Notes:            strings.TrimSpace(in.Notes),
	}), now), nil
}

type InspectInput struct {
	Condition         Condition  `json:"condition"`
	Notes             string     `json:"notes"`
	Photos            []string   `json:"photos"`
	NextInspectionDue *time.Time `json:"nextInspectionDue"`
}

// Inspect records an inspection outcome.
func Inspect(l *Lot, actor Actor, in InspectInput, now time.Time) (AuditEntry, error) {
	if actor.Role != RoleInspector {
		return AuditEntry{}, Errorf(KindForbidden, "role %q cannot record inspections", actor.Role)
	}
	if !in.Condition.Valid() {
		return AuditEntry{}, Errorf(KindInvalidCondition, "invalid condition %q", in.Condition)
	}
	return l.Append(NewEntry(actor, fmt.Sprintf("inspected: %s", in.Condition), InspectionRecorded{
		Condition:         in.Condition,
		Notes:             strings.TrimSpace(in.Notes),
		Photos:            cleanList(in.Photos),
		NextInspectionDue: cloneTime(in.NextInspectionDue),
	}), now), nil
}

type ReplacementInput struct {
	Reason      Reason   `json:"reason" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Photos      []string `json:"photos"`
	Priority    Priority `json:"priority"`
	PartID      string   `json:"partId"`
}

// RequestReplacement opens a pending replacement request for l and records a
// replacement_requested entry that references the new request.
func RequestReplacement(l *Lot, actor Actor, in ReplacementInput, now time.Time) (ReplacementRequest, AuditEntry, error) {
	if !hasRole(actor.Role, RoleTrackWorker, RoleInspector) {
		return ReplacementRequest{}, AuditEntry{}, Errorf(KindForbidden, "role %q cannot request replacements", actor.Role)
	}
	in.Reason = Reason(strings.TrimSpace(string(in.Reason)))
	in.Description = strings.TrimSpace(in.Description)
	in.PartID = strings.TrimSpace(in.PartID)
	if err := checkRequired(in); err != nil {
		return ReplacementRequest{}, AuditEntry{}, err
	}
	if !in.Reason.Valid() {
		return ReplacementRequest{}, AuditEntry{}, Errorf(KindInvalidReason, "invalid replacement reason %q", in.Reason)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return ReplacementRequest{}, AuditEntry{}, Errorf(KindInvalidPriority, "invalid priority %q", in.Priority)
	}

	now = now.UTC()
	req := ReplacementRequest{
		ID:            NewID(),
		LotID:         l.ID,
		PartID:        in.PartID,
		RequestedBy:   actor.ID,
		RequesterName: actor.DisplayName,
		RequesterRole: actor.Role,
		Reason:        in.Reason,
		Description:   in.Description,
		Photos:        cleanList(in.Photos),
		Priority:      in.Priority,
		Status:        ReplacementPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	entry := l.Append(NewEntry(actor, fmt.Sprintf("replacement requested: %s", in.Reason), ReplacementRequested{
		RequestID: req.ID,
		Reason:    req.Reason,
		Priority:  req.Priority,
		PartID:    req.PartID,
	}), now)
	return req, entry, nil
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
