package model

import "testing"

func TestRoleAtLeast(t *testing.T) {
	roles := []string{RoleUser, RoleManager, RoleAdmin}
	for i, role := range roles {
		for j, minimum := range roles {
			if got, want := RoleAtLeast(role, minimum), i >= j; got != want {
				t.Errorf("RoleAtLeast(%q, %q) = %v, want %v", role, minimum, got, want)
			}
		}
	}

	// Unknown roles never grant access.
	for _, c := range [][2]string{{"auditor", RoleUser}, {RoleAdmin, "auditor"}, {"", ""}} {
		if RoleAtLeast(c[0], c[1]) {
			t.Errorf("RoleAtLeast(%q, %q) = true", c[0], c[1])
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []string{RoleAdmin, RoleManager, RoleUser} {
		if !ValidRole(r) {
			t.Errorf("ValidRole(%q) = false", r)
		}
	}
	if ValidRole("Admin") || ValidRole("") {
		t.Error("ValidRole accepts unknown roles")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("1234567"); err == nil {
		t.Error("7 characters accepted")
	}
	if err := ValidatePassword("12345678"); err != nil {
		t.Errorf("8 characters rejected: %v", err)
	}
}
