package roles

import "testing"

func TestClaimEncoding(t *testing.T) {
	cases := []struct {
		a     Assignment
		claim string
	}{
		{Assignment{Role: RoleSuper}, "super"},
		{Assignment{Role: RoleMember}, "member"},
		{Assignment{Role: RoleChapterAdmin, Chapter: "wmde"}, "chapter_admin:wmde"},
	}
	for _, tc := range cases {
		if got := tc.a.Claim(); got != tc.claim {
			t.Fatalf("Claim(%+v) = %q, want %q", tc.a, got, tc.claim)
		}
		role, chapter := ParseClaim(tc.claim)
		if role != tc.a.Role || chapter != tc.a.Chapter {
			t.Fatalf("ParseClaim(%q) = (%q, %q)", tc.claim, role, chapter)
		}
	}
}

func TestGrants(t *testing.T) {
	cases := []struct {
		name    string
		a       Assignment
		cap     Capability
		chapter string
		want    bool
	}{
		{"super grants everything", Assignment{Role: RoleSuper}, CapManageRoles, "wmde", true},
		{"super grants global scope", Assignment{Role: RoleSuper}, CapManageRoles, "", true},
		{"chapter admin in own scope", Assignment{Role: RoleChapterAdmin, Chapter: "wmde"}, CapManageRoles, "wmde", true},
		{"chapter admin out of scope", Assignment{Role: RoleChapterAdmin, Chapter: "wmde"}, CapManageRoles, "wmfr", false},
		{"global chapter admin any scope", Assignment{Role: RoleChapterAdmin}, CapManageMembers, "wmfr", true},
		{"member cannot manage roles", Assignment{Role: RoleMember}, CapManageRoles, "", false},
		{"member views stats", Assignment{Role: RoleMember}, CapViewStats, "wmde", true},
		{"unknown role grants nothing", Assignment{Role: "intruder"}, CapViewStats, "", false},
	}
	for _, tc := range cases {
		if got := tc.a.Grants(tc.cap, tc.chapter); got != tc.want {
			t.Fatalf("%s: Grants = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestClaimsGrant(t *testing.T) {
	claims := []string{"member", "chapter_admin:wmde"}
	if !ClaimsGrant(claims, CapManageRoles, "wmde") {
		t.Fatalf("scoped admin claim should grant in its own chapter")
	}
	if ClaimsGrant(claims, CapManageRoles, "wmfr") {
		t.Fatalf("scoped admin claim granted outside its chapter")
	}
	if !ClaimsGrant([]string{"super"}, CapManageChapter, "anything") {
		t.Fatalf("super claim should grant everywhere")
	}
	if ClaimsGrant(nil, CapViewStats, "") {
		t.Fatalf("empty claims granted a capability")
	}
}

func TestKnownRole(t *testing.T) {
	for _, role := range []string{RoleSuper, RoleChapterAdmin, RoleMember} {
		if !KnownRole(role) {
			t.Fatalf("%s not known", role)
		}
	}
	if KnownRole("root") || KnownRole("") {
		t.Fatalf("unknown role accepted")
	}
}
