package roles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Repository provides PostgreSQL backed role lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Roles returns the role names granted to userID. Unknown names are skipped.
func (r *Repository) Roles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.name FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if role, ok := ParseRole(name); ok {
			out = append(out, role)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Principal loads the account name and linked colaborador for userID.
func (r *Repository) Principal(ctx context.Context, userID int64) (shared.Principal, error) {
	p := shared.Principal{UserID: userID}
	err := r.pool.QueryRow(ctx, `SELECT u.display_name, COALESCE(c.id, 0)
FROM users u LEFT JOIN colaboradores c ON c.user_id = u.id
WHERE u.id = $1`, userID).Scan(&p.Name, &p.ColaboradorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.Principal{}, shared.ErrNotFound
		}
		return shared.Principal{}, err
	}
	return p, nil
}
