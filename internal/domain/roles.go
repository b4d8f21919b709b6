package domain

import (
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleCommercial Role = "COMMERCIAL"
	RoleDesigner   Role = "DESIGNER"
	RoleImprimeur  Role = "IMPRIMEUR"
	RoleLogistique Role = "LOGISTIQUE"
)

var Roles = []Role{RoleAdmin, RoleCommercial, RoleDesigner, RoleImprimeur, RoleLogistique}

// ParseRole accepts any casing of a known role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// StageRole is the role an assignee must hold for a task of type t.
func StageRole(t TaskType) Role {
	switch t {
	case TaskDesign:
		return RoleDesigner
	case TaskPrint:
		return RoleImprimeur
	case TaskDelivery:
		return RoleLogistique
	}
	return ""
}

// RoleSet is the set of roles held by one user.
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Any reports whether s holds at least one of roles.
func (s RoleSet) Any(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

func (s RoleSet) Strings() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return out
}
