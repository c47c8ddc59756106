package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Action enumerates audited operations.
type Action string

const (
	ActionCriar          Action = "criar"
	ActionAtualizar      Action = "atualizar"
	ActionExcluir        Action = "excluir"
	ActionAprovar        Action = "aprovar"
	ActionRejeitar       Action = "rejeitar"
	ActionIniciarAnalise Action = "iniciar_analise"
)

// Label returns the report label for the action.
func (a Action) Label() string {
	switch a {
	case ActionCriar:
		return "Criação"
	case ActionAtualizar:
		return "Atualização"
	case ActionExcluir:
		return "Exclusão"
	case ActionAprovar:
		return "Aprovação"
	case ActionRejeitar:
		return "Rejeição"
	case ActionIniciarAnalise:
		return "Início de análise"
	default:
		return string(a)
	}
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCriar, ActionAtualizar, ActionExcluir, ActionAprovar, ActionRejeitar, ActionIniciarAnalise:
		return true
	default:
		return false
	}
}

// EntityType enumerates audited entities.
type EntityType string

const (
	EntityLancamento  EntityType = "lancamento"
	EntityColaborador EntityType = "colaborador"
	EntityTipoDespesa EntityType = "tipo_despesa"
	EntityPeriodo     EntityType = "periodo"
	EntityEventoFolha EntityType = "evento_folha"
)

// Label returns the report label for the entity type.
func (e EntityType) Label() string {
	switch e {
	case EntityLancamento:
		return "Lançamento"
	case EntityColaborador:
		return "Colaborador"
	case EntityTipoDespesa:
		return "Tipo de despesa"
	case EntityPeriodo:
		return "Período"
	case EntityEventoFolha:
		return "Evento de folha"
	default:
		return string(e)
	}
}

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool {
	switch e {
	case EntityLancamento, EntityColaborador, EntityTipoDespesa, EntityPeriodo, EntityEventoFolha:
		return true
	default:
		return false
	}
}

// Entry is one immutable audit record. UserName is a snapshot taken when the
// entry was written and is never refreshed.
type Entry struct {
	ID                uuid.UUID      `json:"id"`
	CreatedAt         time.Time      `json:"created_at"`
	UserID            int64          `json:"user_id" validate:"required"`
	UserName          string         `json:"user_name"`
	Action            Action         `json:"action" validate:"required"`
	EntityType        EntityType     `json:"entity_type" validate:"required"`
	EntityID          string         `json:"entity_id" validate:"required"`
	EntityDescription string         `json:"entity_description,omitempty"`
	OldValues         map[string]any `json:"old_values,omitempty"`
	NewValues         map[string]any `json:"new_values,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Query limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Filter narrows a ledger query. Zero fields are ignored; set fields combine
// conjunctively.
type Filter struct {
	EntityType EntityType `json:"entity_type,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	UserID     int64      `json:"user_id,omitempty"`
	From       time.Time  `json:"from,omitempty"`
	To         time.Time  `json:"to,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

// Normalize clamps the limit and validates the enum and range.
func (f Filter) Normalize() (Filter, error) {
	if f.EntityType != "" && !f.EntityType.Valid() {
		return f, shared.Invalid("entity_type", "unknown entity type")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, shared.Invalid("from", "must not be after to")
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	return f, nil
}

// Report is a labeled projection of a query, carrying the filter that produced it.
type Report struct {
	Filter        Filter    `json:"filter"`
	GeneratedBy   int64     `json:"generated_by"`
	GeneratorName string    `json:"generator_name"`
	GeneratedAt   time.Time `json:"generated_at"`
	Entries       []Entry   `json:"entries"`
}
