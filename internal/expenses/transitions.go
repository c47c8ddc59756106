package expenses

import (
	"github.com/odyssey-erp/reembolso/internal/audit"
	"github.com/odyssey-erp/reembolso/internal/roles"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Guard names the extra condition a transition must satisfy.
type Guard int

const (
	GuardNone Guard = iota
	// GuardPeriodReviewable requires the expense's period to be aberto, or
	// fechado with expenses still under review.
	GuardPeriodReviewable
	// GuardCeiling requires the ceiling allocation to be applied with the write.
	GuardCeiling
	// GuardMotivo requires a non-empty invalidation reason.
	GuardMotivo
)

// Rule is one row of the transition table.
type Rule struct {
	From   Status
	To     Status
	Roles  roles.Set
	Guard  Guard
	Action audit.Action
}

type edge struct {
	from, to Status
}

var transitionTable = map[edge]Rule{
	{StatusEnviado, StatusEmAnalise}: {
		From: StatusEnviado, To: StatusEmAnalise,
		Roles: roles.NewSet(roles.RH), Guard: GuardPeriodReviewable, Action: audit.ActionIniciarAnalise,
	},
	{StatusEmAnalise, StatusValido}: {
		From: StatusEmAnalise, To: StatusValido,
		Roles: roles.NewSet(roles.RH, roles.Financeiro), Guard: GuardCeiling, Action: audit.ActionAprovar,
	},
	{StatusEmAnalise, StatusInvalido}: {
		From: StatusEmAnalise, To: StatusInvalido,
		Roles: roles.NewSet(roles.RH, roles.Financeiro), Guard: GuardMotivo, Action: audit.ActionRejeitar,
	},
	{StatusEnviado, StatusInvalido}: {
		From: StatusEnviado, To: StatusInvalido,
		Roles: roles.NewSet(roles.RH, roles.Financeiro), Guard: GuardMotivo, Action: audit.ActionRejeitar,
	},
}

// LookupRule returns the rule for from→to. Pairs outside the table fail with a
// TransitionError.
func LookupRule(from, to Status) (Rule, error) {
	rule, ok := transitionTable[edge{from, to}]
	if !ok {
		return Rule{}, &shared.TransitionError{From: string(from), To: string(to)}
	}
	return rule, nil
}

// Allowed reports whether a holder of set may apply the rule.
func (r Rule) Allowed(set roles.Set) bool {
	return set.HasAny(r.Roles.Slice()...)
}

// Rules returns the transition table, in no particular order.
func Rules() []Rule {
	out := make([]Rule, 0, len(transitionTable))
	for _, r := range transitionTable {
		out = append(out, r)
	}
	return out
}

// AvailableTransitions lists targets a holder of set may move e to.
func AvailableTransitions(e Expense, set roles.Set) []Status {
	if e.Locked() {
		return nil
	}
	var out []Status
	for _, to := range []Status{StatusEmAnalise, StatusValido, StatusInvalido} {
		if rule, err := LookupRule(e.Status, to); err == nil && rule.Allowed(set) {
			out = append(out, to)
		}
	}
	return out
}
