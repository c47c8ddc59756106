package expenses

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Status enumerates expense review states.
type Status string

const (
	StatusEnviado   Status = "enviado"
	StatusEmAnalise Status = "em_analise"
	StatusValido    Status = "valido"
	StatusInvalido  Status = "invalido"
)

// Label returns the display label for the status.
func (s Status) Label() string {
	switch s {
	case StatusEnviado:
		return "Enviado"
	case StatusEmAnalise:
		return "Em análise"
	case StatusValido:
		return "Válido"
	case StatusInvalido:
		return "Inválido"
	default:
		return string(s)
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusEnviado, StatusEmAnalise, StatusValido, StatusInvalido:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further review happens from s.
func (s Status) Terminal() bool {
	return s == StatusValido || s == StatusInvalido
}

// Origin identifies who incurred the expense.
type Origin string

const (
	OrigemProprio Origin = "proprio"
	OrigemConjuge Origin = "conjuge"
	OrigemFilhos  Origin = "filhos"
)

// Label returns the display label for the origin.
func (o Origin) Label() string {
	switch o {
	case OrigemProprio:
		return "Próprio"
	case OrigemConjuge:
		return "Cônjuge"
	case OrigemFilhos:
		return "Filhos"
	default:
		return string(o)
	}
}

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OrigemProprio, OrigemConjuge, OrigemFilhos:
		return true
	default:
		return false
	}
}

// Expense is a single reimbursement line item (lançamento).
type Expense struct {
	ID                   int64           `json:"id"`
	ColaboradorID        int64           `json:"colaborador_id"`
	PeriodoID            int64           `json:"periodo_id"`
	TipoDespesaID        int64           `json:"tipo_despesa_id"`
	Origem               Origin          `json:"origem"`
	ValorLancado         decimal.Decimal `json:"valor_lancado"`
	ValorConsiderado     decimal.Decimal `json:"valor_considerado"`
	ValorNaoConsiderado  decimal.Decimal `json:"valor_nao_considerado"`
	DescricaoFatoGerador string          `json:"descricao_fato_gerador"`
	Status               Status          `json:"status"`
	MotivoInvalidacao    string          `json:"motivo_invalidacao,omitempty"`
	CeilingApplied       bool            `json:"ceiling_applied"`
	LockedAt             *time.Time      `json:"locked_at,omitempty"`
	ClosingRef           string          `json:"closing_ref,omitempty"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Locked reports whether a closing consumed the expense.
func (e Expense) Locked() bool {
	return e.LockedAt != nil
}

// EditLocked implements periods.Lockable. Locked and terminal expenses are frozen.
func (e Expense) EditLocked() bool {
	return e.Locked() || e.Status.Terminal()
}

// Group returns the ceiling group the expense belongs to.
func (e Expense) Group() GroupKey {
	return GroupKey{
		ColaboradorID: e.ColaboradorID,
		PeriodoID:     e.PeriodoID,
		TipoDespesaID: e.TipoDespesaID,
		Origem:        e.Origem,
	}
}

// GroupKey identifies expenses sharing one ceiling.
type GroupKey struct {
	ColaboradorID int64
	PeriodoID     int64
	TipoDespesaID int64
	Origem        Origin
}

// Attachment is metadata about a receipt file. Bytes live elsewhere.
type Attachment struct {
	ID          int64     `json:"id"`
	ExpenseID   int64     `json:"expense_id"`
	FileName    string    `json:"file_name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// AttachmentInput describes attachment metadata supplied on submission.
type AttachmentInput struct {
	FileName    string `json:"file_name" validate:"required,max=255"`
	Size        int64  `json:"size" validate:"gt=0"`
	ContentType string `json:"content_type" validate:"required"`
}

// SubmitInput captures a new expense.
type SubmitInput struct {
	PeriodoID            int64             `json:"periodo_id" validate:"required,gt=0"`
	TipoDespesaID        int64             `json:"tipo_despesa_id" validate:"required,gt=0"`
	Origem               Origin            `json:"origem" validate:"required"`
	ValorLancado         decimal.Decimal   `json:"valor_lancado"`
	DescricaoFatoGerador string            `json:"descricao_fato_gerador" validate:"required,max=500"`
	Attachments          []AttachmentInput `json:"attachments" validate:"dive"`
}

// Validate checks tags and domain rules.
func (in SubmitInput) Validate() error {
	if err := shared.ValidateStruct(in); err != nil {
		return err
	}
	return validateValues(in.Origem, in.ValorLancado)
}

// UpdateInput replaces the editable fields of an enviado expense.
type UpdateInput struct {
	TipoDespesaID        int64           `json:"tipo_despesa_id" validate:"required,gt=0"`
	Origem               Origin          `json:"origem" validate:"required"`
	ValorLancado         decimal.Decimal `json:"valor_lancado"`
	DescricaoFatoGerador string          `json:"descricao_fato_gerador" validate:"required,max=500"`
	ExpectedVersion      *int64          `json:"expected_version,omitempty"`
}

// Validate checks tags and domain rules.
func (in UpdateInput) Validate() error {
	if err := shared.ValidateStruct(in); err != nil {
		return err
	}
	return validateValues(in.Origem, in.ValorLancado)
}

// TransitionInput requests a status change.
type TransitionInput struct {
	ExpenseID       int64  `json:"expense_id"`
	To              Status `json:"to"`
	Motivo          string `json:"motivo,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

func validateValues(origem Origin, valor decimal.Decimal) error {
	if !origem.Valid() {
		return shared.Invalid("origem", "unknown origin")
	}
	if !valor.IsPositive() {
		return shared.Invalid("valor_lancado", "must be positive")
	}
	if !valor.Equal(valor.Round(2)) {
		return shared.Invalid("valor_lancado", "at most two decimal places")
	}
	return nil
}
