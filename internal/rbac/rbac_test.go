package rbac

import "testing"

func TestHasPermissionMatrix(t *testing.T) {
	grants := map[Role][]Permission{
		RoleFounder: {
			PermView, PermComment, PermCreateProposals, PermVoteProposals,
			PermVoteGovernance, PermApproveProposals, PermCreateProjects,
			PermCreateTasks, PermTakeTasks, PermManageMembers, PermManageSettings,
		},
		RoleGovernor: {
			PermView, PermComment, PermCreateProposals, PermVoteProposals,
			PermVoteGovernance, PermApproveProposals, PermCreateProjects,
			PermCreateTasks, PermTakeTasks,
		},
		RoleSteward: {
			PermView, PermComment, PermCreateProposals, PermVoteProposals,
			PermApproveProposals, PermCreateProjects, PermCreateTasks, PermTakeTasks,
		},
		RoleMember: {
			PermView, PermComment, PermCreateProposals, PermVoteProposals,
			PermCreateProjects, PermCreateTasks, PermTakeTasks,
		},
		RoleVotingMember: {
			PermView, PermComment, PermVoteProposals, PermTakeTasks,
		},
		RoleObserver: {
			PermView,
		},
	}

	for role, granted := range grants {
		allow := make(map[Permission]bool, len(granted))
		for _, p := range granted {
			allow[p] = true
		}
		for _, p := range allPermissions {
			if got := HasPermission(role, p); got != allow[p] {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", role, p, got, allow[p])
			}
		}
	}
}

func TestInvalidRoleFailsClosed(t *testing.T) {
	for _, role := range []Role{"", "admin", "captain", "FOUNDER"} {
		for _, p := range allPermissions {
			if HasPermission(role, p) {
				t.Fatalf("HasPermission(%q, %q) = true for invalid role", role, p)
			}
		}
		if CanAny(role, PermView, PermComment) {
			t.Fatalf("CanAny(%q) = true for invalid role", role)
		}
		if CanAll(role, PermView) {
			t.Fatalf("CanAll(%q) = true for invalid role", role)
		}
		if IsValidRole(string(role)) {
			t.Fatalf("IsValidRole(%q) = true", role)
		}
	}
}

func TestCanAnyCanAll(t *testing.T) {
	cases := []struct {
		name  string
		role  Role
		perms []Permission
		any   bool
		all   bool
	}{
		{name: "steward approve or manage", role: RoleSteward, perms: []Permission{PermApproveProposals, PermManageMembers}, any: true, all: false},
		{name: "founder everything", role: RoleFounder, perms: []Permission{PermManageMembers, PermManageSettings}, any: true, all: true},
		{name: "observer beyond view", role: RoleObserver, perms: []Permission{PermComment, PermCreateProposals}, any: false, all: false},
		{name: "voting member vote", role: RoleVotingMember, perms: []Permission{PermVoteProposals}, any: true, all: true},
		{name: "member governance vote", role: RoleMember, perms: []Permission{PermVoteGovernance}, any: false, all: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanAny(tc.role, tc.perms...); got != tc.any {
				t.Fatalf("CanAny = %v, want %v", got, tc.any)
			}
			if got := CanAll(tc.role, tc.perms...); got != tc.all {
				t.Fatalf("CanAll = %v, want %v", got, tc.all)
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	if got := Permissions(RoleObserver); len(got) != 1 || got[0] != PermView {
		t.Fatalf("Permissions(observer) = %v, want [view]", got)
	}
	if got := Permissions(RoleFounder); len(got) != len(allPermissions) {
		t.Fatalf("Permissions(founder) has %d entries, want %d", len(got), len(allPermissions))
	}
	if got := Permissions("bogus"); got != nil {
		t.Fatalf("Permissions(bogus) = %v, want nil", got)
	}
}

func TestIsAtLeast(t *testing.T) {
	if !isAtLeast(RoleFounder, RoleObserver) {
		t.Fatal("founder should be at least observer")
	}
	if !isAtLeast(RoleSteward, RoleSteward) {
		t.Fatal("steward should be at least steward")
	}
	if isAtLeast(RoleVotingMember, RoleMember) {
		t.Fatal("voting_member should not be at least member")
	}
	if isAtLeast("bogus", RoleObserver) {
		t.Fatal("invalid role should never pass the hierarchy check")
	}
}
