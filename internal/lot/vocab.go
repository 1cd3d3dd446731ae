package lot

// Status is the lot workflow state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
	StatusAccepted Status = "accepted"
	StatusHeld     Status = "held"
)

// Statuses lists every lot status in declaration order.
func Statuses() []Status {
	return []Status{StatusPending, StatusVerified, StatusRejected, StatusAccepted, StatusHeld}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected, StatusAccepted, StatusHeld:
		return true
	}
	return false
}

// Condition is an inspector's assessment of an installed lot.
type Condition string

const (
	ConditionGood    Condition = "good"
	ConditionWorn    Condition = "worn"
	ConditionReplace Condition = "replace"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionGood, ConditionWorn, ConditionReplace:
		return true
	}
	return false
}

// Reason explains why a replacement is requested.
type Reason string

const (
	ReasonDefective     Reason = "defective"
	ReasonDamaged       Reason = "damaged"
	ReasonWorn          Reason = "worn"
	ReasonExpired       Reason = "expired"
	ReasonIncorrectSpec Reason = "incorrect_spec"
	ReasonOther         Reason = "other"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonDefective, ReasonDamaged, ReasonWorn, ReasonExpired, ReasonIncorrectSpec, ReasonOther:
		return true
	}
	return false
}

// Priority orders replacement requests for reviewers.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Action tags audit entries. The set is closed; audit consumers match on
// these exact strings.
type Action string

const (
	ActionQRGenerated          Action = "qr_generated"
	ActionStatusUpdated        Action = "status_updated"
	ActionInstallationRecorded Action = "installation_recorded"
	ActionInspectionRecorded   Action = "inspection_recorded"
	ActionReplacementRequested Action = "replacement_requested"
)

func (a Action) Valid() bool {
	switch a {
	case ActionQRGenerated, ActionStatusUpdated, ActionInstallationRecorded, ActionInspectionRecorded, ActionReplacementRequested:
		return true
	}
	return false
}

// Role is the workflow capability an authenticated actor holds.
type Role string

const (
	RoleVendor      Role = "vendor"
	RoleDepotStaff  Role = "depot-staff"
	RoleTrackWorker Role = "track-worker"
	RoleInspector   Role = "inspector"
	RoleAdmin       Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleVendor, RoleDepotStaff, RoleTrackWorker, RoleInspector, RoleAdmin:
		return true
	}
	return false
}

// Actor is the resolved identity performing an operation. DisplayName is
// copied into every entry the actor produces and never re-read afterwards.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

func hasRole(role Role, allowed ...Role) bool {
	for _, r := range allowed {
		if role == r {
			return true
		}
	}
	return false
}
