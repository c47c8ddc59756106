package expenses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/reembolso/internal/audit"
	"github.com/odyssey-erp/reembolso/internal/periods"
	"github.com/odyssey-erp/reembolso/internal/platform/db"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LoadExpense(ctx context.Context, id int64) (Expense, error)
	InsertExpense(ctx context.Context, e Expense) (Expense, error)
	InsertAttachment(ctx context.Context, a Attachment) (Attachment, error)
	UpdateExpense(ctx context.Context, e Expense, expectedVersion int64) (Expense, error)
	DeleteExpense(ctx context.Context, id, expectedVersion int64) error
	ListGroup(ctx context.Context, key GroupKey) ([]Expense, error)
	ListValidatedUnlocked(ctx context.Context, periodID int64) ([]Expense, error)
	LockSummary(ctx context.Context, periodID int64) (periods.LockSummary, error)
	AppendAudit(ctx context.Context, e audit.Entry) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("expenses: %w", shared.ErrConflictingTransition)
	}
	return err
}

const expenseColumns = `id, colaborador_id, periodo_id, tipo_despesa_id, origem,
	valor_lancado::text, valor_considerado::text, valor_nao_considerado::text,
	descricao_fato_gerador, status, COALESCE(motivo_invalidacao, ''), ceiling_applied,
	locked_at, COALESCE(closing_ref, ''), version, created_at, updated_at`

// GetExpense loads one expense.
func (r *Repository) GetExpense(ctx context.Context, id int64) (Expense, error) {
	return loadExpense(ctx, r.pool, id)
}

// ListByPeriod lists the period's expenses. A non-zero colaboradorID narrows the
// result to that employee.
func (r *Repository) ListByPeriod(ctx context.Context, periodID, colaboradorID int64) ([]Expense, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+expenseColumns+`
FROM expenses
WHERE periodo_id = $1 AND ($2::bigint = 0 OR colaborador_id = $2)
ORDER BY created_at, id`, periodID, colaboradorID)
	if err != nil {
		return nil, err
	}
	return collectExpenses(rows)
}

// ListAttachments returns attachment metadata for an expense.
func (r *Repository) ListAttachments(ctx context.Context, expenseID int64) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, expense_id, file_name, size_bytes, content_type, created_at
FROM expense_attachments WHERE expense_id = $1 ORDER BY id`, expenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.ExpenseID, &a.FileName, &a.Size, &a.ContentType, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Lookup implements CeilingLookup from expense_ceilings and ceiling_consumptions.
// Groups without a configured ceiling are unlimited.
func (r *Repository) Lookup(ctx context.Context, key GroupKey) (Ceiling, error) {
	var limit, consumed string
	err := r.pool.QueryRow(ctx, `SELECT c.limite::text,
	COALESCE((SELECT SUM(cc.valor) FROM ceiling_consumptions cc
		WHERE cc.colaborador_id = $1 AND cc.periodo_id = $2
		  AND cc.tipo_despesa_id = $3 AND cc.origem = $4), 0)::text
FROM expense_ceilings c
WHERE c.tipo_despesa_id = $3 AND c.origem = $4`,
		key.ColaboradorID, key.PeriodoID, key.TipoDespesaID, string(key.Origem),
	).Scan(&limit, &consumed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ceiling{Unlimited: true}, nil
		}
		return Ceiling{}, err
	}
	c := Ceiling{}
	if c.Limit, err = decimal.NewFromString(limit); err != nil {
		return Ceiling{}, fmt.Errorf("expenses: parse ceiling: %w", err)
	}
	if c.ConsumedExternal, err = decimal.NewFromString(consumed); err != nil {
		return Ceiling{}, fmt.Errorf("expenses: parse consumption: %w", err)
	}
	return c, nil
}

func (t *txRepo) LoadExpense(ctx context.Context, id int64) (Expense, error) {
	return loadExpense(ctx, t.tx, id)
}

func (t *txRepo) InsertExpense(ctx context.Context, e Expense) (Expense, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO expenses
	(colaborador_id, periodo_id, tipo_despesa_id, origem, valor_lancado, valor_considerado,
	 valor_nao_considerado, descricao_fato_gerador, status, ceiling_applied, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, 1, $11, $11)
RETURNING id, version`,
		e.ColaboradorID, e.PeriodoID, e.TipoDespesaID, string(e.Origem),
		e.ValorLancado.String(), e.ValorConsiderado.String(), e.ValorNaoConsiderado.String(),
		e.DescricaoFatoGerador, string(e.Status), e.CeilingApplied, e.CreatedAt,
	).Scan(&e.ID, &e.Version)
	if err != nil {
		return Expense{}, err
	}
	e.UpdatedAt = e.CreatedAt
	return e, nil
}

func (t *txRepo) InsertAttachment(ctx context.Context, a Attachment) (Attachment, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO expense_attachments (expense_id, file_name, size_bytes, content_type, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.ExpenseID, a.FileName, a.Size, a.ContentType, a.CreatedAt,
	).Scan(&a.ID)
	return a, err
}

// UpdateExpense writes e only when the stored version still equals
// expectedVersion, bumping the version on success.
func (t *txRepo) UpdateExpense(ctx context.Context, e Expense, expectedVersion int64) (Expense, error) {
	err := t.tx.QueryRow(ctx, `UPDATE expenses SET
	tipo_despesa_id = $3, origem = $4,
	valor_lancado = $5::numeric, valor_considerado = $6::numeric, valor_nao_considerado = $7::numeric,
	descricao_fato_gerador = $8, status = $9, motivo_invalidacao = NULLIF($10, ''),
	ceiling_applied = $11, locked_at = $12, closing_ref = NULLIF($13, ''),
	version = version + 1, updated_at = $14
WHERE id = $1 AND version = $2
RETURNING version`,
		e.ID, expectedVersion, e.TipoDespesaID, string(e.Origem),
		e.ValorLancado.String(), e.ValorConsiderado.String(), e.ValorNaoConsiderado.String(),
		e.DescricaoFatoGerador, string(e.Status), e.MotivoInvalidacao,
		e.CeilingApplied, e.LockedAt, e.ClosingRef, e.UpdatedAt,
	).Scan(&e.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Expense{}, fmt.Errorf("expenses: expense %d: %w", e.ID, shared.ErrConflictingTransition)
		}
		if db.IsSerializationFailure(err) {
			return Expense{}, fmt.Errorf("expenses: expense %d: %w", e.ID, shared.ErrConflictingTransition)
		}
		return Expense{}, err
	}
	return e, nil
}

func (t *txRepo) DeleteExpense(ctx context.Context, id, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM expenses WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		if db.IsSerializationFailure(err) {
			return fmt.Errorf("expenses: expense %d: %w", id, shared.ErrConflictingTransition)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("expenses: expense %d: %w", id, shared.ErrConflictingTransition)
	}
	return nil
}

// ListGroup locks every expense of the ceiling group whatever its status, so
// two approvals in one group serialize on the same rows. Callers filter by
// status.
func (t *txRepo) ListGroup(ctx context.Context, key GroupKey) ([]Expense, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+expenseColumns+`
FROM expenses
WHERE colaborador_id = $1 AND periodo_id = $2 AND tipo_despesa_id = $3 AND origem = $4
ORDER BY created_at, id
FOR UPDATE`, key.ColaboradorID, key.PeriodoID, key.TipoDespesaID, string(key.Origem))
	if err != nil {
		return nil, err
	}
	return collectExpenses(rows)
}

func (t *txRepo) ListValidatedUnlocked(ctx context.Context, periodID int64) ([]Expense, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+expenseColumns+`
FROM expenses
WHERE periodo_id = $1 AND status = $2 AND locked_at IS NULL
ORDER BY created_at, id
FOR UPDATE`, periodID, string(StatusValido))
	if err != nil {
		return nil, err
	}
	return collectExpenses(rows)
}

func (t *txRepo) LockSummary(ctx context.Context, periodID int64) (periods.LockSummary, error) {
	var (
		count int
		total string
	)
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(valor_considerado), 0)::text
FROM expenses WHERE periodo_id = $1 AND status = $2 AND locked_at IS NOT NULL`,
		periodID, string(StatusValido)).Scan(&count, &total)
	if err != nil {
		return periods.LockSummary{}, err
	}
	sum, err := decimal.NewFromString(total)
	if err != nil {
		return periods.LockSummary{}, fmt.Errorf("expenses: parse total: %w", err)
	}
	return periods.LockSummary{Expenses: count, TotalConsiderado: sum}, nil
}

func (t *txRepo) AppendAudit(ctx context.Context, e audit.Entry) error {
	return audit.InsertEntry(ctx, t.tx, e)
}

func loadExpense(ctx context.Context, q db.Querier, id int64) (Expense, error) {
	e, err := scanExpense(q.QueryRow(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Expense{}, fmt.Errorf("expenses: expense %d: %w", id, shared.ErrNotFound)
		}
		return Expense{}, err
	}
	return e, nil
}

func collectExpenses(rows pgx.Rows) ([]Expense, error) {
	defer rows.Close()
	var out []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExpense(row pgx.Row) (Expense, error) {
	var (
		e                               Expense
		origem, status                  string
		lancado, considerado, naoConsid string
		lockedAt                        *time.Time
	)
	err := row.Scan(&e.ID, &e.ColaboradorID, &e.PeriodoID, &e.TipoDespesaID, &origem,
		&lancado, &considerado, &naoConsid,
		&e.DescricaoFatoGerador, &status, &e.MotivoInvalidacao, &e.CeilingApplied,
		&lockedAt, &e.ClosingRef, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Expense{}, err
	}
	e.Origem = Origin(origem)
	e.Status = Status(status)
	e.LockedAt = lockedAt
	if e.ValorLancado, err = decimal.NewFromString(lancado); err != nil {
		return Expense{}, err
	}
	if e.ValorConsiderado, err = decimal.NewFromString(considerado); err != nil {
		return Expense{}, err
	}
	if e.ValorNaoConsiderado, err = decimal.NewFromString(naoConsid); err != nil {
		return Expense{}, err
	}
	return e, nil
}
