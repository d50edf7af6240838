package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	type         TEXT NOT NULL DEFAULT '',
	size         BIGINT NOT NULL DEFAULT 0,
	role         TEXT NOT NULL DEFAULT '',
	field        TEXT NOT NULL DEFAULT '',
	parent_type  TEXT NOT NULL DEFAULT '',
	related_type TEXT NOT NULL DEFAULT '',
	parent_id    TEXT NOT NULL DEFAULT '',
	content      BYTEA NOT NULL DEFAULT ''::bytea,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_attachments_parent_id ON attachments (parent_id) WHERE parent_id <> '';
`

// PostgresStore persists attachments in a single Postgres table, payload
// included. Payloads here are user uploads capped by the endpoint, not bulk
// blobs, so bytea keeps the store to one moving part.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore ensures the schema exists and returns the store.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensuring attachments schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec Record, content []byte) (Record, error) {
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO attachments (id, name, type, size, role, field, parent_type, related_type, parent_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.Name, rec.Type, rec.Size, rec.Role, rec.Field,
		rec.ParentType, rec.RelatedType, rec.ParentID, content, rec.CreatedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("creating attachment: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) AppendChunk(ctx context.Context, id string, offset int64, chunk []byte) (Record, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE attachments
		SET content = content || $2
		WHERE id = $1 AND octet_length(content) = $3`,
		id, chunk, offset,
	)
	if err != nil {
		return Record{}, fmt.Errorf("appending chunk: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing record from a stale offset.
		if _, err := s.Get(ctx, id); err != nil {
			return Record{}, err
		}
		return Record{}, ErrBadOffset
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, type, size, role, field, parent_type, related_type, parent_id, created_at
		FROM attachments WHERE id = $1`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("fetching attachment: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Content(ctx context.Context, id string) ([]byte, error) {
	var content []byte
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM attachments WHERE id = $1`, id,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching attachment content: %w", err)
	}
	return content, nil
}

func (s *PostgresStore) StoredBytes(ctx context.Context, id string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT octet_length(content) FROM attachments WHERE id = $1`, id,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("measuring attachment content: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListForRecord(ctx context.Context, recordID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, type, size, role, field, parent_type, related_type, parent_id, created_at
		FROM attachments
		WHERE parent_id = $1
		ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("listing attachments: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Type, &rec.Size, &rec.Role, &rec.Field,
		&rec.ParentType, &rec.RelatedType, &rec.ParentID, &rec.CreatedAt,
	)
	return rec, err
}
