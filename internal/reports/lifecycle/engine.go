// Package lifecycle is the single authoritative state machine for report
// statuses. Every status write in the system goes through this table; no
// handler re-implements "what can follow what".
package lifecycle

import (
	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/platform/apperr"
)

// Error codes exposed to clients alongside the HTTP status.
const (
	CodeInvalidTransition   = "invalid_transition"
	CodeStaleStatus         = "stale_status"
	CodeNoAssigneeAvailable = "no_assignee_available"
)

// edge is one permitted move in the status graph together with the roles
// allowed to perform it.
type edge struct {
	to    domain.Status
	roles []domain.Role
}

var officerOnly = []domain.Role{domain.RoleOfficer}
var maintainers = []domain.Role{domain.RoleTechnician, domain.RoleExternalMaintainer}

// transitions is the full edge set. REJECTED and RESOLVED have no entries:
// they are terminal.
var transitions = map[domain.Status][]edge{
	domain.StatusPendingApproval: {
		{to: domain.StatusAssigned, roles: officerOnly},
		{to: domain.StatusRejected, roles: officerOnly},
	},
	domain.StatusAssigned: {
		{to: domain.StatusInProgress, roles: maintainers},
		{to: domain.StatusSuspended, roles: maintainers},
		{to: domain.StatusResolved, roles: maintainers},
	},
	domain.StatusInProgress: {
		{to: domain.StatusSuspended, roles: maintainers},
		{to: domain.StatusResolved, roles: maintainers},
	},
	domain.StatusSuspended: {
		{to: domain.StatusInProgress, roles: maintainers},
		{to: domain.StatusResolved, roles: maintainers},
	},
}

// TransitionDetails identifies a rejected transition for the acting role.
type TransitionDetails struct {
	Current   domain.Status `json:"current"`
	Requested domain.Status `json:"requested"`
	Role      domain.Role   `json:"role"`
}

// Check validates that the move from current to requested is in the status
// graph for the actor's role. It returns an invalid_transition error
// identifying current state, requested state, and actor role otherwise.
func Check(current, requested domain.Status, role domain.Role) error {
	for _, e := range transitions[current] {
		if e.to != requested {
			continue
		}
		for _, r := range e.roles {
			if r == role {
				return nil
			}
		}
	}

	return apperr.Conflict("transition not allowed").
		WithCode(CodeInvalidTransition).
		WithDetails(TransitionDetails{Current: current, Requested: requested, Role: role})
}

// CanTransition reports whether the move is permitted without constructing
// an error. Used by read paths that render available actions.
func CanTransition(current, requested domain.Status, role domain.Role) bool {
	return Check(current, requested, role) == nil
}

// NextStates lists the states reachable from current for the given role.
func NextStates(current domain.Status, role domain.Role) []domain.Status {
	var out []domain.Status
	for _, e := range transitions[current] {
		for _, r := range e.roles {
			if r == role {
				out = append(out, e.to)
				break
			}
		}
	}
	return out
}

// StaleStatus builds the conflict error returned when the report's status
// changed between the actor's read and the write. The caller should retry
// with fresh state.
func StaleStatus(observed domain.Status, role domain.Role) *apperr.Error {
	return apperr.Conflict("report status changed concurrently, retry with fresh state").
		WithCode(CodeStaleStatus).
		WithDetails(TransitionDetails{Current: observed, Requested: observed, Role: role})
}

// NoAssignee builds the business rule error returned when approval finds no
// registered technician for the report's category.
func NoAssignee(category domain.Category) *apperr.Error {
	return apperr.Unprocessable("no technician registered for category " + string(category)).
		WithCode(CodeNoAssigneeAvailable)
}
