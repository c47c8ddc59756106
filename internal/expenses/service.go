package expenses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/reembolso/internal/audit"
	"github.com/odyssey-erp/reembolso/internal/periods"
	"github.com/odyssey-erp/reembolso/internal/roles"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetExpense(ctx context.Context, id int64) (Expense, error)
	ListByPeriod(ctx context.Context, periodID, colaboradorID int64) ([]Expense, error)
	ListAttachments(ctx context.Context, expenseID int64) ([]Attachment, error)
}

// CeilingLookup returns the ceiling applicable to a group.
type CeilingLookup interface {
	Lookup(ctx context.Context, key GroupKey) (Ceiling, error)
}

// PeriodPort exposes the period checks the state machine depends on.
type PeriodPort interface {
	Get(ctx context.Context, id int64) (periods.CalendarPeriod, error)
	EnsureSubmittable(ctx context.Context, id int64) (periods.CalendarPeriod, error)
}

// AuditPort prepares entries written inside the expense transaction.
type AuditPort interface {
	Prepare(e audit.Entry) (audit.Entry, error)
	RecordFailure(e audit.Entry, err error)
}

// TransitionRecorder counts transition attempts by outcome.
type TransitionRecorder interface {
	ExpenseTransition(from, to, outcome string)
}

// Transition outcomes reported to the recorder.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Service orchestrates the expense lifecycle.
type Service struct {
	repo     RepositoryPort
	ceilings CeilingLookup
	periods  PeriodPort
	resolver roles.Resolver
	audit    AuditPort
	recorder TransitionRecorder
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration
	retry    shared.RetryPolicy
}

// NewService constructs the expense service.
func NewService(repo RepositoryPort, ceilings CeilingLookup, periodPort PeriodPort, resolver roles.Resolver, auditPort AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		ceilings: ceilings,
		periods:  periodPort,
		resolver: resolver,
		audit:    auditPort,
		logger:   logger,
		now:      time.Now,
		retry:    shared.DefaultRetryPolicy,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithTimeout bounds each persistence attempt.
func (s *Service) WithTimeout(d time.Duration) {
	s.timeout = d
}

// WithRetry sets the policy for transient persistence failures.
func (s *Service) WithRetry(policy shared.RetryPolicy) {
	s.retry = policy
}

// WithRecorder attaches a metrics sink for transitions.
func (s *Service) WithRecorder(r TransitionRecorder) {
	s.recorder = r
}

// Submit records a new expense in enviado for the calling colaborador.
func (s *Service) Submit(ctx context.Context, p shared.Principal, in SubmitInput) (Expense, error) {
	if !roles.CanSubmit(s.resolver.Resolve(ctx, p)) || p.ColaboradorID == 0 {
		return Expense{}, shared.ErrPermissionDenied
	}
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}
	if _, err := s.periods.EnsureSubmittable(ctx, in.PeriodoID); err != nil {
		return Expense{}, err
	}
	now := s.now().UTC()
	draft := Expense{
		ColaboradorID:        p.ColaboradorID,
		PeriodoID:            in.PeriodoID,
		TipoDespesaID:        in.TipoDespesaID,
		Origem:               in.Origem,
		ValorLancado:         in.ValorLancado,
		DescricaoFatoGerador: strings.TrimSpace(in.DescricaoFatoGerador),
		Status:               StatusEnviado,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	var created Expense
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			inserted, err := tx.InsertExpense(ctx, draft)
			if err != nil {
				return err
			}
			for _, a := range in.Attachments {
				if _, err := tx.InsertAttachment(ctx, Attachment{
					ExpenseID:   inserted.ID,
					FileName:    a.FileName,
					Size:        a.Size,
					ContentType: a.ContentType,
					CreatedAt:   now,
				}); err != nil {
					return err
				}
			}
			entry := expenseEntry(p, audit.ActionCriar, inserted)
			entry.NewValues = expenseValues(inserted)
			entry.Metadata = map[string]any{"attachments": len(in.Attachments)}
			if err := s.appendAudit(ctx, tx, entry); err != nil {
				return err
			}
			created = inserted
			return nil
		})
	})
	if err != nil {
		return Expense{}, shared.Unavailable("expenses: submit", err)
	}
	s.logger.Info("expense submitted",
		slog.Int64("expense_id", created.ID),
		slog.Int64("colaborador_id", created.ColaboradorID),
		slog.Int64("periodo_id", created.PeriodoID),
	)
	return created, nil
}

// Update replaces the editable fields of the caller's own enviado expense.
func (s *Service) Update(ctx context.Context, p shared.Principal, id int64, in UpdateInput) (Expense, error) {
	if !roles.CanSubmit(s.resolver.Resolve(ctx, p)) || p.ColaboradorID == 0 {
		return Expense{}, shared.ErrPermissionDenied
	}
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}
	var result Expense
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := s.loadEditable(ctx, tx, p, id, in.ExpectedVersion)
			if err != nil {
				return err
			}
			next := current
			next.TipoDespesaID = in.TipoDespesaID
			next.Origem = in.Origem
			next.ValorLancado = in.ValorLancado
			next.DescricaoFatoGerador = strings.TrimSpace(in.DescricaoFatoGerador)
			next.UpdatedAt = s.now().UTC()
			updated, err := tx.UpdateExpense(ctx, next, current.Version)
			if err != nil {
				return err
			}
			entry := expenseEntry(p, audit.ActionAtualizar, updated)
			entry.OldValues = expenseValues(current)
			entry.NewValues = expenseValues(updated)
			if err := s.appendAudit(ctx, tx, entry); err != nil {
				return err
			}
			result = updated
			return nil
		})
	})
	if err != nil {
		return Expense{}, shared.Unavailable("expenses: update", err)
	}
	return result, nil
}

// Delete removes the caller's own enviado expense while the period accepts edits.
func (s *Service) Delete(ctx context.Context, p shared.Principal, id int64, expectedVersion *int64) error {
	if !roles.CanSubmit(s.resolver.Resolve(ctx, p)) || p.ColaboradorID == 0 {
		return shared.ErrPermissionDenied
	}
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := s.loadEditable(ctx, tx, p, id, expectedVersion)
			if err != nil {
				return err
			}
			if err := tx.DeleteExpense(ctx, current.ID, current.Version); err != nil {
				return err
			}
			entry := expenseEntry(p, audit.ActionExcluir, current)
			entry.OldValues = expenseValues(current)
			return s.appendAudit(ctx, tx, entry)
		})
	})
	if err != nil {
		return shared.Unavailable("expenses: delete", err)
	}
	return nil
}

func (s *Service) loadEditable(ctx context.Context, tx TxRepository, p shared.Principal, id int64, expectedVersion *int64) (Expense, error) {
	current, err := tx.LoadExpense(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	if current.ColaboradorID != p.ColaboradorID {
		return Expense{}, shared.ErrPermissionDenied
	}
	if current.Status != StatusEnviado || current.Locked() {
		return Expense{}, fmt.Errorf("expenses: only enviado expenses are editable: %w",
			&shared.TransitionError{From: string(current.Status), To: string(StatusEnviado)})
	}
	if expectedVersion != nil && *expectedVersion != current.Version {
		return Expense{}, shared.ErrConflictingTransition
	}
	period, err := s.periods.Get(ctx, current.PeriodoID)
	if err != nil {
		return Expense{}, err
	}
	if !periods.CanEdit(current, period, s.now()) {
		return Expense{}, fmt.Errorf("expenses: %s: %w", period.Periodo, shared.ErrPeriodClosed)
	}
	return current, nil
}

// Transition moves an expense along the transition table. The status write,
// any ceiling recomputation and the audit entries commit together or not at all.
func (s *Service) Transition(ctx context.Context, p shared.Principal, in TransitionInput) (Expense, error) {
	set := s.resolver.Resolve(ctx, p)
	if !roles.CanStartAnalysis(set) && !roles.CanReview(set) {
		s.record("", in.To, OutcomeRejected)
		return Expense{}, shared.ErrPermissionDenied
	}
	if !in.To.Valid() {
		s.record("", in.To, OutcomeRejected)
		return Expense{}, shared.Invalid("to", "unknown status")
	}
	var (
		result Expense
		from   Status
	)
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.LoadExpense(ctx, in.ExpenseID)
			if err != nil {
				return err
			}
			from = current.Status
			rule, err := LookupRule(current.Status, in.To)
			if err != nil {
				return err
			}
			if current.Locked() {
				return &shared.TransitionError{From: string(current.Status), To: string(in.To)}
			}
			if !rule.Allowed(set) {
				return shared.ErrPermissionDenied
			}
			if in.ExpectedVersion != nil && *in.ExpectedVersion != current.Version {
				return shared.ErrConflictingTransition
			}

			next := current
			next.Status = rule.To
			next.UpdatedAt = s.now().UTC()
			var siblings []siblingChange
			switch rule.Guard {
			case GuardPeriodReviewable:
				period, err := s.periods.Get(ctx, current.PeriodoID)
				if err != nil {
					return err
				}
				switch period.Status {
				case periods.StatusAberto, periods.StatusFechado:
				default:
					return fmt.Errorf("expenses: %s: %w", period.Periodo, shared.ErrPeriodClosed)
				}
			case GuardMotivo:
				motivo := strings.TrimSpace(in.Motivo)
				if motivo == "" {
					return shared.Invalid("motivo", "required when invalidating")
				}
				next.MotivoInvalidacao = motivo
			case GuardCeiling:
				next, siblings, err = s.allocate(ctx, tx, next)
				if err != nil {
					return err
				}
			}

			updated, err := tx.UpdateExpense(ctx, next, current.Version)
			if err != nil {
				return err
			}
			entry := expenseEntry(p, rule.Action, updated)
			entry.OldValues = expenseValues(current)
			entry.NewValues = expenseValues(updated)
			if updated.MotivoInvalidacao != "" {
				entry.Metadata = map[string]any{"motivo": updated.MotivoInvalidacao}
			}
			if err := s.appendAudit(ctx, tx, entry); err != nil {
				return err
			}
			for _, change := range siblings {
				if err := s.writeRecompute(ctx, tx, p, change, updated.ID); err != nil {
					return err
				}
			}
			result = updated
			return nil
		})
	})
	s.record(from, in.To, outcomeOf(err))
	if err != nil {
		return Expense{}, shared.Unavailable("expenses: transition", err)
	}
	s.logger.Info("expense transitioned",
		slog.Int64("expense_id", result.ID),
		slog.String("from", string(from)),
		slog.String("to", string(result.Status)),
		slog.Int64("user_id", p.UserID),
	)
	return result, nil
}

type siblingChange struct {
	before Expense
	after  Expense
}

// allocate applies the group ceiling to target and returns the siblings whose
// stored values must change with it.
func (s *Service) allocate(ctx context.Context, tx TxRepository, target Expense) (Expense, []siblingChange, error) {
	if s.ceilings == nil {
		return Expense{}, nil, errors.New("expenses: ceiling lookup not configured")
	}
	ceiling, err := s.ceilings.Lookup(ctx, target.Group())
	if err != nil {
		return Expense{}, nil, shared.Unavailable("expenses: ceiling lookup", err)
	}
	group, err := tx.ListGroup(ctx, target.Group())
	if err != nil {
		return Expense{}, nil, err
	}
	byID := make(map[int64]Expense, len(group)+1)
	members := make([]Expense, 0, len(group)+1)
	for _, e := range group {
		if e.ID == target.ID || e.Status != StatusValido {
			continue
		}
		byID[e.ID] = e
		members = append(members, e)
	}
	members = append(members, target)

	var changes []siblingChange
	for _, a := range Allocate(members, ceiling) {
		if a.ExpenseID == target.ID {
			target = a.Apply(target)
			continue
		}
		if !a.Changed {
			continue
		}
		before := byID[a.ExpenseID]
		after := a.Apply(before)
		after.UpdatedAt = target.UpdatedAt
		changes = append(changes, siblingChange{before: before, after: after})
	}
	return target, changes, nil
}

func (s *Service) writeRecompute(ctx context.Context, tx TxRepository, p shared.Principal, change siblingChange, triggeredBy int64) error {
	updated, err := tx.UpdateExpense(ctx, change.after, change.before.Version)
	if err != nil {
		return err
	}
	entry := expenseEntry(p, audit.ActionAtualizar, updated)
	entry.OldValues = expenseValues(change.before)
	entry.NewValues = expenseValues(updated)
	entry.Metadata = map[string]any{
		"reason":       "ceiling_recompute",
		"triggered_by": triggeredBy,
	}
	return s.appendAudit(ctx, tx, entry)
}

// LockValidated freezes every unlocked valido expense of the period under
// closingRef. Already locked expenses are left untouched, so repeated calls are
// harmless. The summary covers all locked expenses of the period.
func (s *Service) LockValidated(ctx context.Context, p shared.Principal, periodID int64, closingRef string) (periods.LockSummary, error) {
	if !roles.CanClosePeriods(s.resolver.Resolve(ctx, p)) {
		return periods.LockSummary{}, shared.ErrPermissionDenied
	}
	if strings.TrimSpace(closingRef) == "" {
		return periods.LockSummary{}, shared.Invalid("closing_ref", "required")
	}
	var summary periods.LockSummary
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			pending, err := tx.ListValidatedUnlocked(ctx, periodID)
			if err != nil {
				return err
			}
			lockedAt := s.now().UTC()
			for _, e := range pending {
				next := e
				next.LockedAt = &lockedAt
				next.ClosingRef = closingRef
				next.UpdatedAt = lockedAt
				updated, err := tx.UpdateExpense(ctx, next, e.Version)
				if err != nil {
					return err
				}
				entry := expenseEntry(p, audit.ActionAtualizar, updated)
				entry.OldValues = map[string]any{"locked": false}
				entry.NewValues = map[string]any{"locked": true, "closing_ref": closingRef}
				entry.Metadata = map[string]any{"reason": "closing"}
				if err := s.appendAudit(ctx, tx, entry); err != nil {
					return err
				}
			}
			summary, err = tx.LockSummary(ctx, periodID)
			return err
		})
	})
	if err != nil {
		return periods.LockSummary{}, shared.Unavailable("expenses: lock validated", err)
	}
	return summary, nil
}

// Get returns an expense visible to p: reviewers see all, colaboradores their own.
func (s *Service) Get(ctx context.Context, p shared.Principal, id int64) (Expense, error) {
	set := s.resolver.Resolve(ctx, p)
	ctx, cancel := s.bound(ctx)
	defer cancel()
	e, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		return Expense{}, shared.Unavailable("expenses: get", err)
	}
	if !canView(set, p, e) {
		return Expense{}, shared.ErrPermissionDenied
	}
	return e, nil
}

// ListByPeriod lists the period's expenses visible to p.
func (s *Service) ListByPeriod(ctx context.Context, p shared.Principal, periodID int64) ([]Expense, error) {
	set := s.resolver.Resolve(ctx, p)
	var colaboradorID int64
	switch {
	case roles.CanReview(set) || roles.CanStartAnalysis(set):
	case roles.CanSubmit(set) && p.ColaboradorID != 0:
		colaboradorID = p.ColaboradorID
	default:
		return nil, shared.ErrPermissionDenied
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	list, err := s.repo.ListByPeriod(ctx, periodID, colaboradorID)
	if err != nil {
		return nil, shared.Unavailable("expenses: list", err)
	}
	return list, nil
}

// Attachments returns attachment metadata of an expense visible to p.
func (s *Service) Attachments(ctx context.Context, p shared.Principal, id int64) ([]Attachment, error) {
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	list, err := s.repo.ListAttachments(ctx, id)
	if err != nil {
		return nil, shared.Unavailable("expenses: attachments", err)
	}
	return list, nil
}

// HasAttachments reports whether the expense carries at least one attachment.
func (s *Service) HasAttachments(ctx context.Context, p shared.Principal, id int64) (bool, error) {
	list, err := s.Attachments(ctx, p, id)
	if err != nil {
		return false, err
	}
	return len(list) > 0, nil
}

func canView(set roles.Set, p shared.Principal, e Expense) bool {
	if roles.CanReview(set) || roles.CanStartAnalysis(set) {
		return true
	}
	return roles.CanSubmit(set) && p.ColaboradorID != 0 && p.ColaboradorID == e.ColaboradorID
}

func (s *Service) appendAudit(ctx context.Context, tx TxRepository, e audit.Entry) error {
	prepared, err := s.audit.Prepare(e)
	if err != nil {
		return err
	}
	if err := tx.AppendAudit(ctx, prepared); err != nil {
		s.audit.RecordFailure(prepared, err)
		return shared.Unavailable("expenses: audit append", err)
	}
	return nil
}

func (s *Service) withRetry(ctx context.Context, fn func(context.Context) error) error {
	return shared.Retry(ctx, s.retry, func(ctx context.Context) error {
		ctx, cancel := s.bound(ctx)
		defer cancel()
		return shared.Unavailable("expenses: tx", fn(ctx))
	})
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) record(from, to Status, outcome string) {
	if s.recorder == nil {
		return
	}
	s.recorder.ExpenseTransition(string(from), string(to), outcome)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, shared.ErrConflictingTransition):
		return OutcomeConflict
	case shared.IsDomainError(err):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

func expenseEntry(p shared.Principal, action audit.Action, e Expense) audit.Entry {
	return audit.Entry{
		UserID:            p.UserID,
		UserName:          p.Name,
		Action:            action,
		EntityType:        audit.EntityLancamento,
		EntityID:          strconv.FormatInt(e.ID, 10),
		EntityDescription: e.DescricaoFatoGerador,
	}
}

func expenseValues(e Expense) map[string]any {
	values := map[string]any{
		"status":                string(e.Status),
		"valor_lancado":         e.ValorLancado.StringFixed(2),
		"valor_considerado":     e.ValorConsiderado.StringFixed(2),
		"valor_nao_considerado": e.ValorNaoConsiderado.StringFixed(2),
		"tipo_despesa_id":       e.TipoDespesaID,
		"origem":                string(e.Origem),
	}
	if e.MotivoInvalidacao != "" {
		values["motivo_invalidacao"] = e.MotivoInvalidacao
	}
	return values
}
