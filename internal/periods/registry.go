package periods

import (
	"sort"
	"time"
)

// Lockable is implemented by records that may be frozen against edits.
type Lockable interface {
	EditLocked() bool
}

// SortByRecency orders periods newest first (CreatedAt desc, then ID desc). This is
// the ordering FindCurrent requires of its input.
func SortByRecency(list []CalendarPeriod) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

// FindCurrent returns the first period, in input order, whose accrual window
// [DataInicio 00:00, DataFinal 23:59:59.999999999] contains today. When none
// matches it falls back to the first element.
//
// Precondition: list is ordered by recency (see SortByRecency). The fallback is
// only meaningful under that ordering. The result is false only for an empty list.
func FindCurrent(list []CalendarPeriod, today time.Time) (CalendarPeriod, bool) {
	if len(list) == 0 {
		return CalendarPeriod{}, false
	}
	loc := today.Location()
	day := startOfDay(today, loc)
	for _, p := range list {
		if withinDays(day, p.DataInicio, p.DataFinal, loc) {
			return p, true
		}
	}
	return list[0], true
}

// CanSubmit reports whether p is open and now falls inside its submission window,
// both bounds inclusive at day granularity.
func CanSubmit(p CalendarPeriod, now time.Time) bool {
	if p.Status != StatusAberto {
		return false
	}
	return withinDays(now, p.AbreLancamento, p.FechaLancamento, now.Location())
}

// CanEdit applies the submission window and additionally refuses locked records.
func CanEdit(record Lockable, p CalendarPeriod, now time.Time) bool {
	if record != nil && record.EditLocked() {
		return false
	}
	return CanSubmit(p, now)
}

// InAccrualWindow reports whether t falls within the period's accrual dates.
func InAccrualWindow(p CalendarPeriod, t time.Time) bool {
	return withinDays(t, p.DataInicio, p.DataFinal, t.Location())
}

func withinDays(t, from, to time.Time, loc *time.Location) bool {
	start := startOfDay(from, loc)
	end := endOfDay(to, loc)
	return !t.Before(start) && !t.After(end)
}

// startOfDay rebuilds the calendar date of t at midnight in loc. Stored dates
// carry no meaningful zone, so only their Y/M/D components are used.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func endOfDay(t time.Time, loc *time.Location) time.Time {
	return startOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
