// Package identity reconciles the HR-recorded colaborador name with the display
// name the linked user account chose for itself.
package identity

import (
	"context"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Employee is a colaborador as recorded by HR. UserID is zero when no account
// is linked.
type Employee struct {
	ID     int64  `json:"employee_id"`
	Name   string `json:"hr_name"`
	UserID int64  `json:"user_id"`
}

// Account is the self-service side of an identity.
type Account struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"account_name"`
}

// NameInconsistency pairs the HR name with a diverging account name.
type NameInconsistency struct {
	EmployeeID  int64  `json:"employee_id"`
	UserID      int64  `json:"user_id"`
	HRName      string `json:"hr_name"`
	AccountName string `json:"account_name"`
}

// AccountLookup fetches the account linked to an employee.
type AccountLookup interface {
	Account(ctx context.Context, userID int64) (Account, error)
}

// AccountLookupFunc adapts a function to AccountLookup.
type AccountLookupFunc func(ctx context.Context, userID int64) (Account, error)

// Account implements AccountLookup.
func (f AccountLookupFunc) Account(ctx context.Context, userID int64) (Account, error) {
	return f(ctx, userID)
}

// DetectOptions bounds the lookups issued by Detect.
type DetectOptions struct {
	// Concurrency caps in-flight lookups. Values below one mean one.
	Concurrency int
	// Timeout bounds each lookup. Zero leaves only the parent deadline.
	Timeout time.Duration
}

// DefaultDetectOptions is used when configuration leaves the options empty.
var DefaultDetectOptions = DetectOptions{Concurrency: 8, Timeout: 2 * time.Second}

var folder = cases.Fold()

// NormalizeName trims, collapses inner whitespace, applies NFC and folds case.
func NormalizeName(name string) string {
	collapsed := strings.Join(strings.Fields(name), " ")
	return folder.String(norm.NFC.String(collapsed))
}

// SameName reports whether a and b are equal after NormalizeName.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}
