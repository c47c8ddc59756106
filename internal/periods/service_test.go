package periods

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/reembolso/internal/audit"
	"github.com/odyssey-erp/reembolso/internal/roles"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

type memoryPeriodRepo struct {
	periods   map[int64]CalendarPeriod
	entries   []audit.Entry
	nextID    int64
	failAudit bool
}

type memoryPeriodTx struct {
	repo    *memoryPeriodRepo
	periods map[int64]CalendarPeriod
	entries []audit.Entry
}

func newMemoryPeriodRepo() *memoryPeriodRepo {
	return &memoryPeriodRepo{periods: make(map[int64]CalendarPeriod)}
}

func (r *memoryPeriodRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryPeriodTx{repo: r, periods: make(map[int64]CalendarPeriod)}
	for id, p := range r.periods {
		tx.periods[id] = p
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.periods = tx.periods
	r.entries = append(r.entries, tx.entries...)
	return nil
}

func (r *memoryPeriodRepo) List(ctx context.Context) ([]CalendarPeriod, error) {
	list := make([]CalendarPeriod, 0, len(r.periods))
	for _, p := range r.periods {
		list = append(list, p)
	}
	return list, nil
}

func (r *memoryPeriodRepo) Get(ctx context.Context, id int64) (CalendarPeriod, error) {
	p, ok := r.periods[id]
	if !ok {
		return CalendarPeriod{}, shared.ErrNotFound
	}
	return p, nil
}

func (tx *memoryPeriodTx) InsertPeriod(ctx context.Context, p CalendarPeriod) (CalendarPeriod, error) {
	for _, existing := range tx.periods {
		if existing.Periodo == p.Periodo {
			return CalendarPeriod{}, shared.Invalid("periodo", "already registered")
		}
	}
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	tx.periods[p.ID] = p
	return p, nil
}

func (tx *memoryPeriodTx) LoadPeriodForUpdate(ctx context.Context, id int64) (CalendarPeriod, error) {
	p, ok := tx.periods[id]
	if !ok {
		return CalendarPeriod{}, shared.ErrNotFound
	}
	return p, nil
}

func (tx *memoryPeriodTx) ReserveClosingRef(ctx context.Context, id int64, ref string) error {
	p := tx.periods[id]
	if p.Status != StatusAberto || p.ClosingRef != "" {
		return shared.ErrConflictingTransition
	}
	p.ClosingRef = ref
	tx.periods[id] = p
	return nil
}

func (tx *memoryPeriodTx) MarkClosed(ctx context.Context, id int64, closedAt time.Time, ref string) error {
	p := tx.periods[id]
	if p.Status != StatusAberto {
		return shared.ErrConflictingTransition
	}
	p.Status = StatusFechado
	p.ClosedAt = &closedAt
	p.ClosingRef = ref
	tx.periods[id] = p
	return nil
}

func (tx *memoryPeriodTx) AppendAudit(ctx context.Context, e audit.Entry) error {
	if tx.repo.failAudit {
		return errors.New("audit_log unavailable")
	}
	tx.entries = append(tx.entries, e)
	return nil
}

type fixedResolver map[int64]roles.Set

func (f fixedResolver) Resolve(ctx context.Context, p shared.Principal) roles.Set {
	return f[p.UserID]
}

type stubLocker struct {
	calls   int
	refs    []string
	summary LockSummary
	err     error
}

func (s *stubLocker) LockValidated(ctx context.Context, p shared.Principal, periodID int64, ref string) (LockSummary, error) {
	s.calls++
	s.refs = append(s.refs, ref)
	return s.summary, s.err
}

var (
	rhUser  = shared.Principal{UserID: 1, Name: "Renata RH"}
	finUser = shared.Principal{UserID: 2, Name: "Fabio Financeiro"}
	colUser = shared.Principal{UserID: 3, Name: "Carlos", ColaboradorID: 30}
)

func newTestService(repo *memoryPeriodRepo, now time.Time) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := fixedResolver{
		rhUser.UserID:  roles.NewSet(roles.RH),
		finUser.UserID: roles.NewSet(roles.Financeiro),
		colUser.UserID: roles.NewSet(roles.Colaborador),
	}
	svc := NewService(repo, resolver, audit.NewLedger(nil, logger), logger)
	svc.WithNow(func() time.Time { return now })
	svc.WithRetry(shared.RetryPolicy{Attempts: 1})
	return svc
}

func januaryInput() CreateInput {
	return CreateInput{
		Periodo:         "1/2026",
		DataInicio:      day(2026, 1, 1),
		DataFinal:       day(2026, 1, 31),
		AbreLancamento:  day(2026, 1, 1),
		FechaLancamento: day(2026, 1, 5),
	}
}

func TestCreateRequiresRH(t *testing.T) {
	svc := newTestService(newMemoryPeriodRepo(), time.Date(2025, 12, 20, 9, 0, 0, 0, saoPaulo))
	_, err := svc.Create(context.Background(), finUser, januaryInput())
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	_, err = svc.Create(context.Background(), colUser, januaryInput())
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestCreateCanonicalizesAndAudits(t *testing.T) {
	repo := newMemoryPeriodRepo()
	svc := newTestService(repo, time.Date(2025, 12, 20, 9, 0, 0, 0, saoPaulo))

	p, err := svc.Create(context.Background(), rhUser, januaryInput())
	require.NoError(t, err)
	assert.Equal(t, "01/2026", p.Periodo)
	assert.Equal(t, StatusAberto, p.Status)

	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	assert.Equal(t, audit.ActionCriar, entry.Action)
	assert.Equal(t, audit.EntityPeriodo, entry.EntityType)
	assert.Equal(t, "1", entry.EntityID)
	assert.Equal(t, "Renata RH", entry.UserName)
}

func TestCreateRejectsInvertedWindows(t *testing.T) {
	svc := newTestService(newMemoryPeriodRepo(), time.Now())
	in := januaryInput()
	in.FechaLancamento = day(2025, 12, 31)
	_, err := svc.Create(context.Background(), rhUser, in)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "fecha_lancamento", verr.Field)

	in = januaryInput()
	in.DataFinal = day(2025, 12, 1)
	_, err = svc.Create(context.Background(), rhUser, in)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateAuditFailureRollsBack(t *testing.T) {
	repo := newMemoryPeriodRepo()
	repo.failAudit = true
	svc := newTestService(repo, time.Now())

	_, err := svc.Create(context.Background(), rhUser, januaryInput())
	require.ErrorIs(t, err, shared.ErrDependencyUnavailable)
	assert.Empty(t, repo.periods)
	assert.Empty(t, repo.entries)
}

func TestEnsureSubmittableOutsideWindow(t *testing.T) {
	repo := newMemoryPeriodRepo()
	svc := newTestService(repo, time.Date(2025, 12, 20, 9, 0, 0, 0, saoPaulo))
	p, err := svc.Create(context.Background(), rhUser, januaryInput())
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return time.Date(2026, 1, 10, 9, 0, 0, 0, saoPaulo) })
	_, err = svc.EnsureSubmittable(context.Background(), p.ID)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	svc.WithNow(func() time.Time { return time.Date(2026, 1, 5, 22, 0, 0, 0, saoPaulo) })
	_, err = svc.EnsureSubmittable(context.Background(), p.ID)
	require.NoError(t, err)

	_, err = svc.EnsureSubmittable(context.Background(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCurrentUsesClock(t *testing.T) {
	repo := newMemoryPeriodRepo()
	svc := newTestService(repo, time.Date(2025, 12, 20, 9, 0, 0, 0, saoPaulo))
	_, err := svc.Current(context.Background())
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Create(context.Background(), rhUser, januaryInput())
	require.NoError(t, err)
	svc.WithNow(func() time.Time { return time.Date(2025, 12, 20, 10, 0, 0, 0, saoPaulo) })
	feb := januaryInput()
	feb.Periodo = "02/2026"
	feb.DataInicio, feb.DataFinal = day(2026, 2, 1), day(2026, 2, 28)
	feb.AbreLancamento, feb.FechaLancamento = day(2026, 2, 1), day(2026, 2, 5)
	_, err = svc.Create(context.Background(), rhUser, feb)
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return time.Date(2026, 1, 15, 9, 0, 0, 0, saoPaulo) })
	got, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "01/2026", got.Periodo)

	svc.WithNow(func() time.Time { return time.Date(2026, 7, 1, 9, 0, 0, 0, saoPaulo) })
	got, err = svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "02/2026", got.Periodo)
}

func TestCloseLocksAndAudits(t *testing.T) {
	repo := newMemoryPeriodRepo()
	svc := newTestService(repo, time.Date(2025, 12, 20, 9, 0, 0, 0, saoPaulo))
	p, err := svc.Create(context.Background(), rhUser, januaryInput())
	require.NoError(t, err)

	locker := &stubLocker{summary: LockSummary{Expenses: 2, TotalConsiderado: decimal.RequireFromString("450.00")}}
	svc.SetExpenseLocker(locker)

	result, err := svc.Close(context.Background(), finUser, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFechado, result.Period.Status)
	assert.Equal(t, 1, locker.calls)
	assert.Equal(t, result.ClosingRef, locker.refs[0])
	assert.Equal(t, StatusFechado, repo.periods[p.ID].Status)

	require.Len(t, repo.entries, 3)
	update, event := repo.entries[1], repo.entries[2]
	assert.Equal(t, audit.ActionAtualizar, update.Action)
	assert.Equal(t, "fechado", update.NewValues["status"])
	assert.Equal(t, audit.EntityEventoFolha, event.EntityType)
	assert.Equal(t, result.ClosingRef, event.EntityID)
	assert.Equal(t, "450.00", event.NewValues["total_considerado"])

	_, err = svc.Close(context.Background(), rhUser, p.ID)
	var terr *shared.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "fechado", terr.From)
}

func TestCloseRequiresReviewer(t *testing.T) {
	repo := newMemoryPeriodRepo()
	svc := newTestService(repo, time.Now())
	svc.SetExpenseLocker(&stubLocker{})
	_, err := svc.Close(context.Background(), colUser, 1)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestCloseLockFailureLeavesPeriodOpen(t *testing.T) {
	repo := newMemoryPeriodRepo()
	svc := newTestService(repo, time.Now())
	p, err := svc.Create(context.Background(), rhUser, januaryInput())
	require.NoError(t, err)
	svc.SetExpenseLocker(&stubLocker{err: shared.Unavailable("lock", errors.New("boom"))})

	_, err = svc.Close(context.Background(), rhUser, p.ID)
	require.ErrorIs(t, err, shared.ErrDependencyUnavailable)
	assert.Equal(t, StatusAberto, repo.periods[p.ID].Status)
}

func TestRetriedCloseReusesClosingRef(t *testing.T) {
	repo := newMemoryPeriodRepo()
	svc := newTestService(repo, time.Now())
	p, err := svc.Create(context.Background(), rhUser, januaryInput())
	require.NoError(t, err)

	locker := &stubLocker{summary: LockSummary{Expenses: 1, TotalConsiderado: decimal.RequireFromString("80.00")}}
	svc.SetExpenseLocker(locker)
	repo.failAudit = true
	_, err = svc.Close(context.Background(), finUser, p.ID)
	require.ErrorIs(t, err, shared.ErrDependencyUnavailable)
	assert.Equal(t, StatusAberto, repo.periods[p.ID].Status)
	firstRef := repo.periods[p.ID].ClosingRef
	require.NotEmpty(t, firstRef)

	repo.failAudit = false
	result, err := svc.Close(context.Background(), finUser, p.ID)
	require.NoError(t, err)
	assert.Equal(t, firstRef, result.ClosingRef)
	assert.Equal(t, []string{firstRef, firstRef}, locker.refs)

	event := repo.entries[len(repo.entries)-1]
	assert.Equal(t, audit.EntityEventoFolha, event.EntityType)
	assert.Equal(t, firstRef, event.EntityID)
}

type stubClosingLock struct {
	held     map[string]bool
	released []string
}

func (l *stubClosingLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l.held[key] {
		return nil, shared.ErrConflictingTransition
	}
	l.held[key] = true
	return func(context.Context) error {
		delete(l.held, key)
		l.released = append(l.released, key)
		return nil
	}, nil
}

func TestCloseHonoursClosingLock(t *testing.T) {
	repo := newMemoryPeriodRepo()
	svc := newTestService(repo, time.Now())
	p, err := svc.Create(context.Background(), rhUser, januaryInput())
	require.NoError(t, err)
	locker := &stubLocker{}
	svc.SetExpenseLocker(locker)
	lock := &stubClosingLock{held: map[string]bool{shared.ClosingLockKey(p.ID): true}}
	svc.WithClosingLock(lock)

	_, err = svc.Close(context.Background(), rhUser, p.ID)
	require.ErrorIs(t, err, shared.ErrConflictingTransition)
	assert.Zero(t, locker.calls)
	assert.Equal(t, StatusAberto, repo.periods[p.ID].Status)

	delete(lock.held, shared.ClosingLockKey(p.ID))
	_, err = svc.Close(context.Background(), rhUser, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{shared.ClosingLockKey(p.ID)}, lock.released)
	assert.Empty(t, lock.held)
}
