// Package rbac holds the static role/permission matrix for band governance.
// Roles are defined purely by the set of permissions they carry; there is no
// inheritance, so the matrix stays auditable as a table.
package rbac

type Role string
type Permission string

const (
	RoleFounder      Role = "founder"
	RoleGovernor     Role = "governor"
	RoleSteward      Role = "steward"
	RoleMember       Role = "member"
	RoleVotingMember Role = "voting_member"
	RoleObserver     Role = "observer"
)

const (
	PermView             Permission = "view"
	PermComment          Permission = "comment"
	PermCreateProposals  Permission = "create_proposals"
	PermVoteProposals    Permission = "vote_proposals"
	PermVoteGovernance   Permission = "vote_governance"
	PermApproveProposals Permission = "approve_proposals"
	PermCreateProjects   Permission = "create_projects"
	PermCreateTasks      Permission = "create_tasks"
	PermTakeTasks        Permission = "take_tasks"
	PermManageMembers    Permission = "manage_members"
	PermManageSettings   Permission = "manage_settings"
)

// rolePermissions is the whole authorization model. Unknown roles are not in
// the map and therefore deny everything.
var rolePermissions = map[Role]map[Permission]struct{}{
	RoleFounder: permSet(
		PermView, PermComment, PermCreateProposals, PermVoteProposals,
		PermVoteGovernance, PermApproveProposals, PermCreateProjects,
		PermCreateTasks, PermTakeTasks, PermManageMembers, PermManageSettings,
	),
	RoleGovernor: permSet(
		PermView, PermComment, PermCreateProposals, PermVoteProposals,
		PermVoteGovernance, PermApproveProposals, PermCreateProjects,
		PermCreateTasks, PermTakeTasks,
	),
	RoleSteward: permSet(
		PermView, PermComment, PermCreateProposals, PermVoteProposals,
		PermApproveProposals, PermCreateProjects, PermCreateTasks, PermTakeTasks,
	),
	RoleMember: permSet(
		PermView, PermComment, PermCreateProposals, PermVoteProposals,
		PermCreateProjects, PermCreateTasks, PermTakeTasks,
	),
	RoleVotingMember: permSet(
		PermView, PermComment, PermVoteProposals, PermTakeTasks,
	),
	RoleObserver: permSet(
		PermView,
	),
}

// hierarchy orders roles from most to least capable, used by isAtLeast.
var hierarchy = []Role{RoleFounder, RoleGovernor, RoleSteward, RoleMember, RoleVotingMember, RoleObserver}

// allPermissions keeps a stable order for Permissions output.
var allPermissions = []Permission{
	PermView, PermComment, PermCreateProposals, PermVoteProposals,
	PermVoteGovernance, PermApproveProposals, PermCreateProjects,
	PermCreateTasks, PermTakeTasks, PermManageMembers, PermManageSettings,
}

func permSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// HasPermission reports whether role grants permission. Invalid roles always
// fail the check.
func HasPermission(role Role, permission Permission) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, granted := perms[permission]
	return granted
}

// CanAny reports whether role grants at least one of the given permissions.
func CanAny(role Role, permissions ...Permission) bool {
	for _, p := range permissions {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// CanAll reports whether role grants every one of the given permissions.
func CanAll(role Role, permissions ...Permission) bool {
	if _, ok := rolePermissions[role]; !ok {
		return false
	}
	for _, p := range permissions {
		if !HasPermission(role, p) {
			return false
		}
	}
	return true
}

// Permissions returns the permissions granted to role, in matrix order.
func Permissions(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(perms))
	for _, p := range allPermissions {
		if _, granted := perms[p]; granted {
			out = append(out, p)
		}
	}
	return out
}

func IsValidRole(role string) bool {
	_, ok := rolePermissions[Role(role)]
	return ok
}

// isAtLeast reports whether role sits at or above minimum in the role
// hierarchy. Unknown roles compare below everything.
func isAtLeast(role, minimum Role) bool {
	roleIdx, minIdx := -1, -1
	for i, r := range hierarchy {
		if r == role {
			roleIdx = i
		}
		if r == minimum {
			minIdx = i
		}
	}
	return roleIdx != -1 && minIdx != -1 && roleIdx <= minIdx
}

func RoleName(role Role) string {
	switch role {
	case RoleFounder:
		return "Founder"
	case RoleGovernor:
		return "Governor"
	case RoleSteward:
		return "Steward"
	case RoleMember:
		return "Member"
	case RoleVotingMember:
		return "Voting Member"
	case RoleObserver:
		return "Observer"
	default:
		return string(role)
	}
}
