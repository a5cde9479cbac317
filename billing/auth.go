package billing

// =============================================================================
// ACTORS - Caller identity supplied by the identity collaborator
// =============================================================================

type Role string

const (
	RoleTenant Role = "tenant"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	return r == RoleTenant || r == RoleAdmin || r == RoleSystem
}

// Actor is the authenticated caller of a ledger operation.
type Actor struct {
	ID   string
	Role Role
}

func TenantActor(id TenantID) Actor { return Actor{ID: string(id), Role: RoleTenant} }
func AdminActor(id string) Actor    { return Actor{ID: id, Role: RoleAdmin} }

// SystemActor runs background jobs such as the overdue sweep.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

type Action string

const (
	ActionCreateLease Action = "create leases"
	ActionEndLease    Action = "end leases"
	ActionSchedule    Action = "generate schedules"
	ActionReadLease   Action = "read this lease"
	ActionPay         Action = "pay this installment"
	ActionVerify      Action = "change verification status"
	ActionOverride    Action = "override verification"
	ActionCancel      Action = "cancel installments"
	ActionEditMeta    Action = "edit payment metadata"
	ActionSweep       Action = "run the overdue sweep"
	ActionReport      Action = "read revenue reports"
)

// authorize gates an action. lease is nil for actions that are not scoped to
// a lease.
func authorize(actor Actor, action Action, lease *Lease) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleSystem:
		switch action {
		case ActionSweep, ActionCreateLease, ActionSchedule, ActionReadLease, ActionReport:
			return nil
		}
	case RoleTenant:
		switch action {
		case ActionReadLease, ActionPay, ActionEditMeta:
			if lease != nil && string(lease.TenantID) == actor.ID {
				return nil
			}
		}
	}
	return &ForbiddenError{Actor: actor, Action: action}
}
