package models

import "strings"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTester  Role = "tester"
	RoleRegular Role = "regular"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTester, RoleRegular:
		return true
	}
	return false
}

// ParseRole normalises a stored or user-supplied role. Unknown values map to
// RoleRegular with ok=false.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return RoleRegular, false
	}
	return r, true
}
