package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

// EmployeeSource lists colaboradores with a linked account.
type EmployeeSource interface {
	LinkedEmployees(ctx context.Context) ([]Employee, error)
}

// RefreshResult summarizes one detection run.
type RefreshResult struct {
	Checked     int       `json:"checked"`
	Mismatches  int       `json:"mismatches"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Reconciler runs detection and answers display name questions from the
// stored result.
type Reconciler struct {
	employees EmployeeSource
	lookup    AccountLookup
	store     Store
	logger    *slog.Logger
	opts      DetectOptions
	timeout   time.Duration
	now       func() time.Time
}

// NewReconciler wires a Reconciler. A nil store selects a MemoryStore.
func NewReconciler(employees EmployeeSource, lookup AccountLookup, store Store, logger *slog.Logger) *Reconciler {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		employees: employees,
		lookup:    lookup,
		store:     store,
		logger:    logger,
		opts:      DefaultDetectOptions,
		now:       time.Now,
	}
}

// WithOptions overrides the detection bounds.
func (r *Reconciler) WithOptions(opts DetectOptions) {
	r.opts = opts
}

// WithTimeout bounds store and employee source calls.
func (r *Reconciler) WithTimeout(d time.Duration) {
	r.timeout = d
}

// WithNow overrides the clock for deterministic tests.
func (r *Reconciler) WithNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Refresh recomputes mismatches for every linked employee and replaces the
// stored result.
func (r *Reconciler) Refresh(ctx context.Context) (RefreshResult, error) {
	loadCtx, cancel := r.bound(ctx)
	employees, err := r.employees.LinkedEmployees(loadCtx)
	cancel()
	if err != nil {
		return RefreshResult{}, shared.Unavailable("identity: load employees", err)
	}

	found := Detect(ctx, employees, r.lookup, r.opts, r.logger)

	storeCtx, cancel := r.bound(ctx)
	defer cancel()
	if err := r.store.Replace(storeCtx, found); err != nil {
		return RefreshResult{}, shared.Unavailable("identity: store mismatches", err)
	}
	result := RefreshResult{Checked: len(employees), Mismatches: len(found), RefreshedAt: r.now().UTC()}
	r.logger.Info("identity refreshed",
		slog.Int("checked", result.Checked),
		slog.Int("mismatches", result.Mismatches),
	)
	return result, nil
}

// Inconsistencies returns the stored mismatches.
func (r *Reconciler) Inconsistencies(ctx context.Context) ([]NameInconsistency, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	list, err := r.store.List(ctx)
	if err != nil {
		return nil, shared.Unavailable("identity: list mismatches", err)
	}
	return list, nil
}

// ResolveDisplayName picks the name shown for employeeID. HR and Finance always
// see hrName. Other viewers see the account name when a mismatch is on file.
// Store failures fall back to hrName.
func (r *Reconciler) ResolveDisplayName(ctx context.Context, employeeID int64, hrName string, viewerIsHR bool) string {
	if viewerIsHR {
		return hrName
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	item, ok, err := r.store.Get(ctx, employeeID)
	if err != nil {
		r.logger.Warn("identity store lookup", slog.Int64("employee_id", employeeID), slog.Any("error", err))
		return hrName
	}
	if !ok || item.AccountName == "" {
		return hrName
	}
	return item.AccountName
}

func (r *Reconciler) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
