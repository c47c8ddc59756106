package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/reembolso/internal/platform/db"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository stores entries in the audit_log table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertEntrySQL = `
INSERT INTO audit_log (id, created_at, user_id, user_name, action, entity_type, entity_id,
	entity_description, old_values, new_values, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)`

// InsertEntry writes a prepared entry using q, typically a transaction owned by
// the caller. Every failure is returned, a duplicate id included, since the
// failed statement has already aborted the caller's transaction.
func InsertEntry(ctx context.Context, q Execer, e Entry) error {
	oldValues, err := marshalValues(e.OldValues)
	if err != nil {
		return err
	}
	newValues, err := marshalValues(e.NewValues)
	if err != nil {
		return err
	}
	metadata, err := marshalValues(e.Metadata)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, insertEntrySQL,
		pgtype.UUID{Bytes: e.ID, Valid: true},
		e.CreatedAt,
		e.UserID,
		e.UserName,
		string(e.Action),
		string(e.EntityType),
		e.EntityID,
		e.EntityDescription,
		oldValues,
		newValues,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// Insert implements Store. Each call runs in its own implicit transaction, so a
// duplicate id only means a retried attempt already committed.
func (r *Repository) Insert(ctx context.Context, e Entry) error {
	return insertOnce(ctx, r.pool, e)
}

func insertOnce(ctx context.Context, q Execer, e Entry) error {
	err := InsertEntry(ctx, q, e)
	if db.IsUniqueViolation(err) {
		return nil
	}
	return err
}

const selectEntriesSQL = `
SELECT id, created_at, user_id, user_name, action, entity_type, entity_id,
	COALESCE(entity_description, ''), old_values, new_values, metadata
FROM audit_log
WHERE ($1::text IS NULL OR entity_type = $1)
  AND ($2::text IS NULL OR entity_id = $2)
  AND ($3::bigint IS NULL OR user_id = $3)
  AND ($4::timestamptz IS NULL OR created_at >= $4)
  AND ($5::timestamptz IS NULL OR created_at <= $5)
ORDER BY created_at DESC, id DESC
LIMIT $6`

// Select implements Store.
func (r *Repository) Select(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, selectEntriesSQL,
		optionalText(string(f.EntityType)),
		optionalText(f.EntityID),
		optionalInt8(f.UserID),
		toPgTime(f.From),
		toPgTime(f.To),
		f.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, f.Limit)
	for rows.Next() {
		var (
			e                     Entry
			id                    pgtype.UUID
			action, entity        string
			oldRaw, newRaw, mdRaw []byte
		)
		if err := rows.Scan(&id, &e.CreatedAt, &e.UserID, &e.UserName, &action, &entity, &e.EntityID,
			&e.EntityDescription, &oldRaw, &newRaw, &mdRaw); err != nil {
			return nil, err
		}
		e.ID = uuid.UUID(id.Bytes)
		e.Action = Action(action)
		e.EntityType = EntityType(entity)
		e.OldValues = unmarshalValues(oldRaw)
		e.NewValues = unmarshalValues(newRaw)
		e.Metadata = unmarshalValues(mdRaw)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func marshalValues(values map[string]any) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("audit: encode values: %w", err)
	}
	return raw, nil
}

func unmarshalValues(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var values map[string]any
	_ = json.Unmarshal(raw, &values)
	return values
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}

func optionalInt8(value int64) pgtype.Int8 {
	if value == 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: value, Valid: true}
}
