package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/reembolso/internal/audit"
	"github.com/odyssey-erp/reembolso/internal/platform/db"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Repository persists calendar periods in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the writes performed inside a transaction.
type TxRepository interface {
	InsertPeriod(ctx context.Context, p CalendarPeriod) (CalendarPeriod, error)
	LoadPeriodForUpdate(ctx context.Context, id int64) (CalendarPeriod, error)
	ReserveClosingRef(ctx context.Context, id int64, closingRef string) error
	MarkClosed(ctx context.Context, id int64, closedAt time.Time, closingRef string) error
	AppendAudit(ctx context.Context, e audit.Entry) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("periods: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const periodColumns = `id, periodo, data_inicio, data_final, abre_lancamento, fecha_lancamento,
	status, created_at, closed_at, COALESCE(closing_ref, '')`

// List returns every period ordered by recency (created_at DESC, id DESC).
func (r *Repository) List(ctx context.Context) ([]CalendarPeriod, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM calendar_periods ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []CalendarPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// Get loads a single period.
func (r *Repository) Get(ctx context.Context, id int64) (CalendarPeriod, error) {
	return loadPeriod(ctx, r.pool, `SELECT `+periodColumns+` FROM calendar_periods WHERE id = $1`, id)
}

func (t *txRepo) InsertPeriod(ctx context.Context, p CalendarPeriod) (CalendarPeriod, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO calendar_periods
	(periodo, data_inicio, data_final, abre_lancamento, fecha_lancamento, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		p.Periodo, p.DataInicio, p.DataFinal, p.AbreLancamento, p.FechaLancamento, string(p.Status), p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return CalendarPeriod{}, shared.Invalid("periodo", "already registered")
		}
		return CalendarPeriod{}, err
	}
	return p, nil
}

func (t *txRepo) LoadPeriodForUpdate(ctx context.Context, id int64) (CalendarPeriod, error) {
	return loadPeriod(ctx, t.tx, `SELECT `+periodColumns+` FROM calendar_periods WHERE id = $1 FOR UPDATE`, id)
}

// ReserveClosingRef stamps the ref of an in-progress closing on an aberto period
// that has none yet.
func (t *txRepo) ReserveClosingRef(ctx context.Context, id int64, closingRef string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE calendar_periods SET closing_ref = $2
WHERE id = $1 AND status = $3 AND closing_ref IS NULL`, id, closingRef, string(StatusAberto))
	if err != nil {
		if db.IsSerializationFailure(err) {
			return shared.ErrConflictingTransition
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConflictingTransition
	}
	return nil
}

func (t *txRepo) MarkClosed(ctx context.Context, id int64, closedAt time.Time, closingRef string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE calendar_periods
SET status = $2, closed_at = $3, closing_ref = $4
WHERE id = $1 AND status = $5`, id, string(StatusFechado), closedAt, closingRef, string(StatusAberto))
	if err != nil {
		if db.IsSerializationFailure(err) {
			return shared.ErrConflictingTransition
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConflictingTransition
	}
	return nil
}

func (t *txRepo) AppendAudit(ctx context.Context, e audit.Entry) error {
	return audit.InsertEntry(ctx, t.tx, e)
}

func loadPeriod(ctx context.Context, q db.Querier, sql string, id int64) (CalendarPeriod, error) {
	p, err := scanPeriod(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CalendarPeriod{}, fmt.Errorf("periods: period %d: %w", id, shared.ErrNotFound)
		}
		return CalendarPeriod{}, err
	}
	return p, nil
}

func scanPeriod(row pgx.Row) (CalendarPeriod, error) {
	var (
		p      CalendarPeriod
		status string
	)
	err := row.Scan(&p.ID, &p.Periodo, &p.DataInicio, &p.DataFinal, &p.AbreLancamento, &p.FechaLancamento,
		&status, &p.CreatedAt, &p.ClosedAt, &p.ClosingRef)
	if err != nil {
		return CalendarPeriod{}, err
	}
	p.Status = Status(status)
	return p, nil
}
