package periods

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Status enumerates calendar period states.
type Status string

const (
	StatusAberto  Status = "aberto"
	StatusFechado Status = "fechado"
)

// Label returns the display label for the status.
func (s Status) Label() string {
	switch s {
	case StatusAberto:
		return "Aberto"
	case StatusFechado:
		return "Fechado"
	default:
		return string(s)
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAberto, StatusFechado:
		return true
	default:
		return false
	}
}

// CalendarPeriod is an accrual window (DataInicio..DataFinal) with a submission
// window (AbreLancamento..FechaLancamento). Only the calendar date of each bound
// is significant.
type CalendarPeriod struct {
	ID              int64      `json:"id"`
	Periodo         string     `json:"periodo"`
	DataInicio      time.Time  `json:"data_inicio"`
	DataFinal       time.Time  `json:"data_final"`
	AbreLancamento  time.Time  `json:"abre_lancamento"`
	FechaLancamento time.Time  `json:"fecha_lancamento"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	ClosingRef      string     `json:"closing_ref,omitempty"`
}

// CreateInput captures validation rules for new periods.
type CreateInput struct {
	Periodo         string    `json:"periodo" validate:"required"`
	DataInicio      time.Time `json:"data_inicio" validate:"required"`
	DataFinal       time.Time `json:"data_final" validate:"required"`
	AbreLancamento  time.Time `json:"abre_lancamento" validate:"required"`
	FechaLancamento time.Time `json:"fecha_lancamento" validate:"required"`
}

// Validate ensures the create period input is coherent.
func (in CreateInput) Validate() error {
	if err := shared.ValidateStruct(in); err != nil {
		return err
	}
	if _, err := CanonicalLabel(in.Periodo); err != nil {
		return err
	}
	if startOfDay(in.DataInicio, time.UTC).After(startOfDay(in.DataFinal, time.UTC)) {
		return shared.Invalid("data_final", "must not precede data_inicio")
	}
	if startOfDay(in.AbreLancamento, time.UTC).After(startOfDay(in.FechaLancamento, time.UTC)) {
		return shared.Invalid("fecha_lancamento", "must not precede abre_lancamento")
	}
	return nil
}

// LockSummary reports what a closing consumed.
type LockSummary struct {
	Expenses         int             `json:"expenses"`
	TotalConsiderado decimal.Decimal `json:"total_considerado"`
}

// ClosingResult is returned by a successful closing.
type ClosingResult struct {
	Period     CalendarPeriod `json:"period"`
	ClosingRef string         `json:"closing_ref"`
	Locked     LockSummary    `json:"locked"`
}

var (
	labelSlash = regexp.MustCompile(`^(\d{1,2})/(\d{4})$`)
	labelDash  = regexp.MustCompile(`^(\d{4})-(\d{1,2})$`)
)

// CanonicalLabel normalizes a period label to MM/YYYY. YYYY-MM is accepted too.
func CanonicalLabel(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	var month, year string
	if m := labelSlash.FindStringSubmatch(raw); m != nil {
		month, year = m[1], m[2]
	} else if m := labelDash.FindStringSubmatch(raw); m != nil {
		year, month = m[1], m[2]
	} else {
		return "", shared.Invalid("periodo", "must be MM/YYYY")
	}
	mm, _ := strconv.Atoi(month)
	if mm < 1 || mm > 12 {
		return "", shared.Invalid("periodo", "month out of range")
	}
	return fmt.Sprintf("%02d/%s", mm, year), nil
}
