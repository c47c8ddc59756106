package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Store persists entries. Implementations only ever insert and select.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	Select(ctx context.Context, f Filter) ([]Entry, error)
}

// FailureRecorder counts audit appends that could not be persisted.
type FailureRecorder interface {
	AuditAppendFailed(entity EntityType)
}

// Ledger is the append-only audit trail.
type Ledger struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	retry    shared.RetryPolicy
	timeout  time.Duration
	failures FailureRecorder
}

// NewLedger constructs a Ledger on top of store.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		logger: logger,
		now:    time.Now,
		retry:  shared.DefaultRetryPolicy,
	}
}

// WithNow overrides the clock for deterministic tests.
func (l *Ledger) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// WithRetry sets the retry policy used by Append.
func (l *Ledger) WithRetry(policy shared.RetryPolicy) {
	l.retry = policy
}

// WithTimeout bounds every store call.
func (l *Ledger) WithTimeout(d time.Duration) {
	l.timeout = d
}

// WithFailureRecorder attaches a metrics sink for failed appends.
func (l *Ledger) WithFailureRecorder(r FailureRecorder) {
	l.failures = r
}

// Prepare validates e and stamps its id and timestamp. Callers that insert the
// entry inside their own transaction use this together with InsertEntry.
func (l *Ledger) Prepare(e Entry) (Entry, error) {
	if err := shared.ValidateStruct(e); err != nil {
		return Entry{}, err
	}
	if !e.Action.Valid() {
		return Entry{}, shared.Invalid("action", "unknown action")
	}
	if !e.EntityType.Valid() {
		return Entry{}, shared.Invalid("entity_type", "unknown entity type")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	return e, nil
}

// Append validates and persists e, retrying transient failures. Exhausted
// retries surface as ErrDependencyUnavailable.
func (l *Ledger) Append(ctx context.Context, e Entry) (Entry, error) {
	prepared, err := l.Prepare(e)
	if err != nil {
		return Entry{}, err
	}
	err = shared.Retry(ctx, l.retry, func(ctx context.Context) error {
		ctx, cancel := l.bound(ctx)
		defer cancel()
		return shared.Unavailable("audit: insert", l.store.Insert(ctx, prepared))
	})
	if err != nil {
		l.RecordFailure(prepared, err)
		return Entry{}, err
	}
	return prepared, nil
}

// RecordFailure logs and counts an entry that could not be persisted.
func (l *Ledger) RecordFailure(e Entry, err error) {
	l.logger.Error("audit_append_failed",
		slog.String("entity_type", string(e.EntityType)),
		slog.String("entity_id", e.EntityID),
		slog.String("action", string(e.Action)),
		slog.Int64("user_id", e.UserID),
		slog.Any("error", err),
	)
	if l.failures != nil {
		l.failures.AuditAppendFailed(e.EntityType)
	}
}

// Query returns entries matching f, newest first.
func (l *Ledger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("audit: store not configured")
	}
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}
	ctx, cancel := l.bound(ctx)
	defer cancel()
	entries, err := l.store.Select(ctx, f)
	if err != nil {
		return nil, shared.Unavailable("audit: query", err)
	}
	return entries, nil
}

// Report runs f and labels the result with the requesting principal.
func (l *Ledger) Report(ctx context.Context, p shared.Principal, f Filter) (Report, error) {
	f, err := f.Normalize()
	if err != nil {
		return Report{}, err
	}
	entries, err := l.Query(ctx, f)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Filter:        f,
		GeneratedBy:   p.UserID,
		GeneratorName: p.Name,
		GeneratedAt:   l.now().UTC(),
		Entries:       entries,
	}, nil
}

func (l *Ledger) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}
