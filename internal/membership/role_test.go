package membership

import (
	"testing"

	"github.com/mylifebyai/mlbai/internal/models"
)

func ptr(s string) *string { return &s }

func TestDerive(t *testing.T) {
	p := NewPolicy([]string{"t1", " t2 ", ""}, "Boss@Example.com")

	cases := []struct {
		name    string
		tier    *string
		current models.Role
		email   string
		want    models.Role
	}{
		{"tester tier", ptr("t1"), models.RoleRegular, "fan@example.com", models.RoleTester},
		{"trimmed tester tier", ptr("t2"), models.RoleRegular, "", models.RoleTester},
		{"non tester tier", ptr("gold"), models.RoleRegular, "fan@example.com", models.RoleRegular},
		{"no tier", nil, models.RoleTester, "fan@example.com", models.RoleRegular},
		{"empty tier id is not a tester", ptr(""), models.RoleRegular, "", models.RoleRegular},
		{"admin sticky without tier", nil, models.RoleAdmin, "", models.RoleAdmin},
		{"admin sticky with tester tier", ptr("t1"), models.RoleAdmin, "x@y.z", models.RoleAdmin},
		{"primary admin email pin", nil, models.RoleRegular, "boss@example.com", models.RoleAdmin},
		{"primary admin pin beats tester", ptr("t1"), models.RoleTester, " BOSS@example.COM ", models.RoleAdmin},
		{"empty email never pins", nil, models.RoleRegular, "", models.RoleRegular},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Derive(tc.tier, tc.current, tc.email)
			if got != tc.want {
				t.Fatalf("Derive = %s, want %s", got, tc.want)
			}
			if again := p.Derive(tc.tier, tc.current, tc.email); again != got {
				t.Fatalf("Derive not deterministic: %s then %s", got, again)
			}
		})
	}
}

func TestDeriveNeverDowngradesAdmin(t *testing.T) {
	p := NewPolicy([]string{"t1"}, "boss@example.com")
	tiers := []*string{nil, ptr("t1"), ptr("gold"), ptr("")}
	emails := []string{"", "boss@example.com", "someone@else.com"}
	for _, tier := range tiers {
		for _, email := range emails {
			if got := p.Derive(tier, models.RoleAdmin, email); got != models.RoleAdmin {
				t.Fatalf("admin downgraded to %s (tier=%v email=%q)", got, tier, email)
			}
		}
	}
}

func TestNoPrimaryAdminConfigured(t *testing.T) {
	p := NewPolicy(nil, "")
	if p.IsPrimaryAdmin("") || p.IsPrimaryAdmin("anyone@example.com") {
		t.Fatal("empty primary admin must never match")
	}
	if got := p.Derive(nil, models.RoleRegular, ""); got != models.RoleRegular {
		t.Fatalf("got %s", got)
	}
}
