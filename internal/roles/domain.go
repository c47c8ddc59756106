package roles

import (
	"sort"
	"strings"
)

// Role is a closed set of authorization roles.
type Role string

const (
	Colaborador Role = "COLABORADOR"
	RH          Role = "RH"
	Financeiro  Role = "FINANCEIRO"
)

// All lists every known role in display order.
func All() []Role {
	return []Role{Colaborador, RH, Financeiro}
}

// ParseRole maps a stored role name to a Role. Unknown names are rejected.
func ParseRole(name string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(name))) {
	case Colaborador:
		return Colaborador, true
	case RH:
		return RH, true
	case Financeiro:
		return Financeiro, true
	default:
		return "", false
	}
}

// Label returns the human-readable role name.
func (r Role) Label() string {
	switch r {
	case Colaborador:
		return "Colaborador"
	case RH:
		return "Recursos Humanos"
	case Financeiro:
		return "Financeiro"
	default:
		return string(r)
	}
}

func (r Role) bit() uint8 {
	switch r {
	case Colaborador:
		return 1 << 0
	case RH:
		return 1 << 1
	case Financeiro:
		return 1 << 2
	default:
		return 0
	}
}

// Set holds zero or more roles. The zero value is the empty set: no permissions.
type Set struct {
	bits uint8
}

// NewSet builds a set from roles, ignoring unknown values.
func NewSet(roles ...Role) Set {
	var s Set
	for _, r := range roles {
		s.bits |= r.bit()
	}
	return s
}

// Has reports whether role is held.
func (s Set) Has(role Role) bool {
	b := role.bit()
	return b != 0 && s.bits&b != 0
}

// HasAny reports whether at least one of roles is held.
func (s Set) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Empty reports whether no role is held.
func (s Set) Empty() bool {
	return s.bits == 0
}

// Slice returns held roles in display order.
func (s Set) Slice() []Role {
	out := make([]Role, 0, 3)
	for _, r := range All() {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Strings returns held role names sorted.
func (s Set) Strings() []string {
	out := make([]string, 0, 3)
	for _, r := range s.Slice() {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return out
}
