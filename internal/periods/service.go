package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/reembolso/internal/audit"
	"github.com/odyssey-erp/reembolso/internal/roles"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context) ([]CalendarPeriod, error)
	Get(ctx context.Context, id int64) (CalendarPeriod, error)
}

// AuditPort prepares entries written inside the period transaction.
type AuditPort interface {
	Prepare(e audit.Entry) (audit.Entry, error)
	RecordFailure(e audit.Entry, err error)
}

// ExpenseLocker freezes the validated expenses of a period during a closing.
// Implementations must be idempotent.
type ExpenseLocker interface {
	LockValidated(ctx context.Context, p shared.Principal, periodID int64, closingRef string) (LockSummary, error)
}

const closingLockTTL = 2 * time.Minute

// Service manages calendar periods and closings.
type Service struct {
	repo     RepositoryPort
	resolver roles.Resolver
	audit    AuditPort
	locker   ExpenseLocker
	closing  shared.Locker
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration
	retry    shared.RetryPolicy
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, resolver roles.Resolver, auditPort AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		audit:    auditPort,
		logger:   logger,
		now:      time.Now,
		retry:    shared.DefaultRetryPolicy,
	}
}

// WithNow overrides the clock. The returned time's location defines "today".
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithTimeout bounds every repository call.
func (s *Service) WithTimeout(d time.Duration) {
	s.timeout = d
}

// WithRetry sets the policy for transient persistence failures.
func (s *Service) WithRetry(policy shared.RetryPolicy) {
	s.retry = policy
}

// WithClosingLock serialises closings of the same period across processes.
func (s *Service) WithClosingLock(l shared.Locker) {
	s.closing = l
}

// SetExpenseLocker wires the collaborator used by Close.
func (s *Service) SetExpenseLocker(locker ExpenseLocker) {
	s.locker = locker
}

// Now exposes the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// List returns all periods ordered by recency.
func (s *Service) List(ctx context.Context) ([]CalendarPeriod, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, shared.Unavailable("periods: list", err)
	}
	SortByRecency(list)
	return list, nil
}

// Get returns one period.
func (s *Service) Get(ctx context.Context, id int64) (CalendarPeriod, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return CalendarPeriod{}, shared.Unavailable("periods: get", err)
	}
	return p, nil
}

// Current returns the period whose accrual window contains today, falling back to
// the most recent one.
func (s *Service) Current(ctx context.Context) (CalendarPeriod, error) {
	list, err := s.List(ctx)
	if err != nil {
		return CalendarPeriod{}, err
	}
	p, ok := FindCurrent(list, s.now())
	if !ok {
		return CalendarPeriod{}, fmt.Errorf("periods: no period registered: %w", shared.ErrNotFound)
	}
	return p, nil
}

// EnsureSubmittable loads the period and fails with ErrPeriodClosed outside its
// submission window.
func (s *Service) EnsureSubmittable(ctx context.Context, periodID int64) (CalendarPeriod, error) {
	p, err := s.Get(ctx, periodID)
	if err != nil {
		return CalendarPeriod{}, err
	}
	if !CanSubmit(p, s.now()) {
		return p, fmt.Errorf("periods: %s: %w", p.Periodo, shared.ErrPeriodClosed)
	}
	return p, nil
}

// Create registers a new open period. Only RH may create periods.
func (s *Service) Create(ctx context.Context, principal shared.Principal, in CreateInput) (CalendarPeriod, error) {
	if !roles.CanManagePeriods(s.resolver.Resolve(ctx, principal)) {
		return CalendarPeriod{}, shared.ErrPermissionDenied
	}
	if err := in.Validate(); err != nil {
		return CalendarPeriod{}, err
	}
	label, err := CanonicalLabel(in.Periodo)
	if err != nil {
		return CalendarPeriod{}, err
	}
	period := CalendarPeriod{
		Periodo:         label,
		DataInicio:      dateOnly(in.DataInicio),
		DataFinal:       dateOnly(in.DataFinal),
		AbreLancamento:  dateOnly(in.AbreLancamento),
		FechaLancamento: dateOnly(in.FechaLancamento),
		Status:          StatusAberto,
		CreatedAt:       s.now().UTC(),
	}
	var created CalendarPeriod
	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			inserted, err := tx.InsertPeriod(ctx, period)
			if err != nil {
				return err
			}
			entry := audit.Entry{
				UserID:            principal.UserID,
				UserName:          principal.Name,
				Action:            audit.ActionCriar,
				EntityType:        audit.EntityPeriodo,
				EntityID:          strconv.FormatInt(inserted.ID, 10),
				EntityDescription: inserted.Periodo,
				NewValues:         periodValues(inserted),
			}
			if err := s.appendAudit(ctx, tx, entry); err != nil {
				return err
			}
			created = inserted
			return nil
		})
	})
	if err != nil {
		return CalendarPeriod{}, shared.Unavailable("periods: create", err)
	}
	s.logger.Info("period created", slog.Int64("period_id", created.ID), slog.String("periodo", created.Periodo))
	return created, nil
}

// reserveClosingRef returns the ref an earlier failed attempt stamped on the
// period, or stamps a new one. Expenses locked by any attempt then share the
// ref of the payroll event.
func (s *Service) reserveClosingRef(ctx context.Context, periodID int64) (string, error) {
	var ref string
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.LoadPeriodForUpdate(ctx, periodID)
			if err != nil {
				return err
			}
			if current.Status != StatusAberto {
				return &shared.TransitionError{From: string(current.Status), To: string(StatusFechado)}
			}
			if current.ClosingRef != "" {
				ref = current.ClosingRef
				return nil
			}
			ref = uuid.NewString()
			return tx.ReserveClosingRef(ctx, periodID, ref)
		})
	})
	if err != nil {
		return "", shared.Unavailable("periods: reserve closing", err)
	}
	return ref, nil
}

// Close runs a closing: validated expenses are locked into a payroll event and
// the period becomes fechado. Locking is idempotent, so a failed closing can be
// retried safely.
func (s *Service) Close(ctx context.Context, principal shared.Principal, periodID int64) (ClosingResult, error) {
	if !roles.CanClosePeriods(s.resolver.Resolve(ctx, principal)) {
		return ClosingResult{}, shared.ErrPermissionDenied
	}
	if s.locker == nil {
		return ClosingResult{}, errors.New("periods: expense locker not configured")
	}
	if s.closing != nil {
		release, err := s.closing.Acquire(ctx, shared.ClosingLockKey(periodID), closingLockTTL)
		if err != nil {
			return ClosingResult{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release closing lock", slog.Int64("period_id", periodID), slog.Any("error", err))
			}
		}()
	}
	ref, err := s.reserveClosingRef(ctx, periodID)
	if err != nil {
		return ClosingResult{}, err
	}
	summary, err := s.locker.LockValidated(ctx, principal, periodID, ref)
	if err != nil {
		return ClosingResult{}, err
	}

	closedAt := s.now().UTC()
	var closed CalendarPeriod
	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.LoadPeriodForUpdate(ctx, periodID)
			if err != nil {
				return err
			}
			if current.Status != StatusAberto {
				return shared.ErrConflictingTransition
			}
			if err := tx.MarkClosed(ctx, periodID, closedAt, ref); err != nil {
				return err
			}
			next := current
			next.Status = StatusFechado
			next.ClosedAt = &closedAt
			next.ClosingRef = ref

			update := audit.Entry{
				UserID:            principal.UserID,
				UserName:          principal.Name,
				Action:            audit.ActionAtualizar,
				EntityType:        audit.EntityPeriodo,
				EntityID:          strconv.FormatInt(periodID, 10),
				EntityDescription: current.Periodo,
				OldValues:         map[string]any{"status": string(current.Status)},
				NewValues:         map[string]any{"status": string(StatusFechado), "closing_ref": ref},
			}
			if err := s.appendAudit(ctx, tx, update); err != nil {
				return err
			}
			event := audit.Entry{
				UserID:            principal.UserID,
				UserName:          principal.Name,
				Action:            audit.ActionCriar,
				EntityType:        audit.EntityEventoFolha,
				EntityID:          ref,
				EntityDescription: "Fechamento " + current.Periodo,
				NewValues: map[string]any{
					"periodo_id":        periodID,
					"periodo":           current.Periodo,
					"lancamentos":       summary.Expenses,
					"total_considerado": summary.TotalConsiderado.StringFixed(2),
				},
			}
			if err := s.appendAudit(ctx, tx, event); err != nil {
				return err
			}
			closed = next
			return nil
		})
	})
	if err != nil {
		return ClosingResult{}, shared.Unavailable("periods: close", err)
	}
	s.logger.Info("period closed",
		slog.Int64("period_id", periodID),
		slog.String("closing_ref", ref),
		slog.Int("expenses", summary.Expenses),
	)
	return ClosingResult{Period: closed, ClosingRef: ref, Locked: summary}, nil
}

func (s *Service) appendAudit(ctx context.Context, tx TxRepository, e audit.Entry) error {
	prepared, err := s.audit.Prepare(e)
	if err != nil {
		return err
	}
	if err := tx.AppendAudit(ctx, prepared); err != nil {
		s.audit.RecordFailure(prepared, err)
		return shared.Unavailable("periods: audit append", err)
	}
	return nil
}

func (s *Service) withRetry(ctx context.Context, fn func(context.Context) error) error {
	return shared.Retry(ctx, s.retry, func(ctx context.Context) error {
		ctx, cancel := s.bound(ctx)
		defer cancel()
		return shared.Unavailable("periods: tx", fn(ctx))
	})
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func periodValues(p CalendarPeriod) map[string]any {
	return map[string]any{
		"periodo":          p.Periodo,
		"data_inicio":      p.DataInicio.Format("2006-01-02"),
		"data_final":       p.DataFinal.Format("2006-01-02"),
		"abre_lancamento":  p.AbreLancamento.Format("2006-01-02"),
		"fecha_lancamento": p.FechaLancamento.Format("2006-01-02"),
		"status":           string(p.Status),
	}
}

func dateOnly(t time.Time) time.Time {
	return startOfDay(t, time.UTC)
}
