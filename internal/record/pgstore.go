package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed Store.
//
// Upsert runs its read-then-write inside one transaction holding a per-phone
// advisory lock, so concurrent observers of the same sender serialize on the
// database rather than in process. A row lock alone is not enough: there is
// no row to lock on first contact, and two first-time upserts would both
// read nothing and both insert.
type PGStore struct {
	pool *pgxpool.Pool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
    id         uuid PRIMARY KEY,
    phone      text NOT NULL UNIQUE,
    code       text NOT NULL,
    status     text NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now()
)`

// NewPGStore creates a Postgres store and ensures the schema exists.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool) (*PGStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("record: nil pool")
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("record: ensure schema: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Upsert(ctx context.Context, phone, code string) (Upsert, error) {
	if phone == "" {
		return Upsert{}, fmt.Errorf("record: empty phone")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Upsert{}, fmt.Errorf("record: begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	// Released automatically at commit or rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, phone); err != nil {
		return Upsert{}, fmt.Errorf("record: lock phone: %w", err)
	}

	var existing *Record
	var rec Record
	err = tx.QueryRow(ctx,
		`SELECT id, phone, code, status, updated_at FROM records WHERE phone = $1`,
		phone,
	).Scan(&rec.ID, &rec.Phone, &rec.Code, &rec.Status, &rec.UpdatedAt)
	switch {
	case err == nil:
		existing = &rec
	case errors.Is(err, pgx.ErrNoRows):
		existing = nil
	default:
		return Upsert{}, fmt.Errorf("record: read row: %w", err)
	}

	outcome := decide(existing, code)

	switch outcome {
	case OutcomeCreated:
		created := Record{
			ID:     uuid.New().String(),
			Phone:  phone,
			Code:   code,
			Status: StatusPending,
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO records (id, phone, code, status, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 RETURNING updated_at`,
			created.ID, created.Phone, created.Code, created.Status,
		).Scan(&created.UpdatedAt)
		if err != nil {
			return Upsert{}, fmt.Errorf("record: insert: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return Upsert{}, fmt.Errorf("record: commit insert: %w", err)
		}
		return Upsert{Record: created, Outcome: outcome}, nil

	case OutcomeUpdated, OutcomeReopened:
		var updatedAt time.Time
		err = tx.QueryRow(ctx,
			`UPDATE records
			 SET code = $2, status = $3, updated_at = GREATEST(now(), updated_at)
			 WHERE id = $1
			 RETURNING updated_at`,
			existing.ID, code, StatusPending,
		).Scan(&updatedAt)
		if err != nil {
			return Upsert{}, fmt.Errorf("record: update: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return Upsert{}, fmt.Errorf("record: commit update: %w", err)
		}
		updated := *existing
		updated.Code = code
		updated.Status = StatusPending
		updated.UpdatedAt = updatedAt
		return Upsert{Record: updated, Outcome: outcome}, nil

	default:
		// Skip outcomes hold the lock only long enough to decide.
		if err := tx.Commit(ctx); err != nil {
			return Upsert{}, fmt.Errorf("record: commit noop: %w", err)
		}
		return Upsert{Record: *existing, Outcome: outcome}, nil
	}
}

func (s *PGStore) GetByPhone(ctx context.Context, phone string) (*Record, error) {
	return s.get(ctx, `SELECT id, phone, code, status, updated_at FROM records WHERE phone = $1`, phone)
}

func (s *PGStore) GetByID(ctx context.Context, id string) (*Record, error) {
	return s.get(ctx, `SELECT id, phone, code, status, updated_at FROM records WHERE id = $1`, id)
}

func (s *PGStore) get(ctx context.Context, query, arg string) (*Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, query, arg).Scan(&rec.ID, &rec.Phone, &rec.Code, &rec.Status, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record: get: %w", err)
	}
	return &rec, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("record: invalid status %q", status)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET status = $2, updated_at = GREATEST(now(), updated_at) WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("record: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT id, phone, code, status, updated_at FROM records`
	args := []any{}
	if f.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, f.Status)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("record: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Phone, &rec.Code, &rec.Status, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("record: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record: iterate: %w", err)
	}
	return out, nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("record: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
