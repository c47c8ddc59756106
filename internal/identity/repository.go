package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Repository reads colaboradores and user accounts from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LinkedEmployees returns every colaborador that has a user account.
func (r *Repository) LinkedEmployees(ctx context.Context) ([]Employee, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, nome, user_id FROM colaboradores
WHERE user_id IS NOT NULL
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Employee
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.UserID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Account implements AccountLookup against the users table.
func (r *Repository) Account(ctx context.Context, userID int64) (Account, error) {
	a := Account{UserID: userID}
	err := r.pool.QueryRow(ctx, `SELECT display_name FROM users WHERE id = $1`, userID).Scan(&a.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// EmployeeName returns the HR-recorded name of a colaborador.
func (r *Repository) EmployeeName(ctx context.Context, employeeID int64) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT nome FROM colaboradores WHERE id = $1`, employeeID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", err
	}
	return name, nil
}
