package expenses

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Ceiling is the reimbursement limit of a group. ConsumedExternal is what was
// already consumed outside the group's expenses, for example by earlier payroll
// events. A zero-value Ceiling with Unlimited set places no cap.
type Ceiling struct {
	Limit            decimal.Decimal
	ConsumedExternal decimal.Decimal
	Unlimited        bool
}

// Allocation is the computed split for one group member.
type Allocation struct {
	ExpenseID      int64
	Considerado    decimal.Decimal
	NaoConsiderado decimal.Decimal
	Changed        bool
}

// Allocate distributes the ceiling across members in (CreatedAt, ID) order.
// Locked members keep their stored values and consume first. Every other member
// gets min(lancado, remaining) where remaining never drops below zero.
//
// Running Allocate over members whose values came from a previous Allocate with
// the same ceiling yields no changes.
func Allocate(members []Expense, c Ceiling) []Allocation {
	ordered := make([]Expense, len(members))
	copy(ordered, members)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	remaining := c.Limit.Sub(c.ConsumedExternal)
	for _, e := range ordered {
		if e.Locked() {
			remaining = remaining.Sub(e.ValorConsiderado)
		}
	}

	out := make([]Allocation, 0, len(ordered))
	for _, e := range ordered {
		if e.Locked() {
			out = append(out, Allocation{
				ExpenseID:      e.ID,
				Considerado:    e.ValorConsiderado,
				NaoConsiderado: e.ValorNaoConsiderado,
			})
			continue
		}
		considered := e.ValorLancado
		if !c.Unlimited {
			available := decimal.Max(remaining, decimal.Zero)
			considered = decimal.Min(e.ValorLancado, available)
			remaining = remaining.Sub(considered)
		}
		notConsidered := e.ValorLancado.Sub(considered)
		out = append(out, Allocation{
			ExpenseID:      e.ID,
			Considerado:    considered,
			NaoConsiderado: notConsidered,
			Changed: !e.CeilingApplied ||
				!e.ValorConsiderado.Equal(considered) ||
				!e.ValorNaoConsiderado.Equal(notConsidered),
		})
	}
	return out
}

// Apply copies an allocation onto e.
func (a Allocation) Apply(e Expense) Expense {
	e.ValorConsiderado = a.Considerado
	e.ValorNaoConsiderado = a.NaoConsiderado
	e.CeilingApplied = true
	return e
}
