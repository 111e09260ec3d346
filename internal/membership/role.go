// Package membership holds the role policy shared by linking, unlinking and
// resync so every path derives the same role from the same inputs.
package membership

import (
	"strings"

	"github.com/mylifebyai/mlbai/internal/models"
)

type Policy struct {
	testerTiers       map[string]struct{}
	primaryAdminEmail string
}

func NewPolicy(testerTierIDs []string, primaryAdminEmail string) Policy {
	tiers := make(map[string]struct{}, len(testerTierIDs))
	for _, id := range testerTierIDs {
		if id = strings.TrimSpace(id); id != "" {
			tiers[id] = struct{}{}
		}
	}
	return Policy{
		testerTiers:       tiers,
		primaryAdminEmail: strings.TrimSpace(primaryAdminEmail),
	}
}

// Derive returns the target role. First match wins:
//  1. current role admin, or email equal to the primary admin (case-insensitive) → admin
//  2. tier in the tester set → tester
//  3. regular
//
// Admin is never downgraded here; only an explicit admin override can do that.
func (p Policy) Derive(tierID *string, current models.Role, email string) models.Role {
	if current == models.RoleAdmin || p.IsPrimaryAdmin(email) {
		return models.RoleAdmin
	}
	if tierID != nil {
		if _, ok := p.testerTiers[*tierID]; ok {
			return models.RoleTester
		}
	}
	return models.RoleRegular
}

// IsPrimaryAdmin reports whether email is the pinned admin. Empty on either
// side never matches.
func (p Policy) IsPrimaryAdmin(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" || p.primaryAdminEmail == "" {
		return false
	}
	return strings.EqualFold(email, p.primaryAdminEmail)
}
