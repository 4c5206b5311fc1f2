package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore keeps archived calls in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, pings and migrates, retrying the whole sequence
// with retry when it is non-nil.
func OpenPostgres(ctx context.Context, connStr string, retry Retrier) (*PostgresStore, error) {
	var db *sql.DB
	open := func(ctx context.Context) error {
		var err error
		db, err = sql.Open("pgx", connStr)
		if err != nil {
			return fmt.Errorf("archive open: %w", err)
		}
		if err = db.PingContext(ctx); err != nil {
			db.Close()
			return fmt.Errorf("archive ping: %w", err)
		}
		if err = migrate(ctx, db); err != nil {
			db.Close()
			return fmt.Errorf("archive migrate: %w", err)
		}
		return nil
	}

	var err error
	if retry != nil {
		err = retry.Execute(ctx, open)
	} else {
		err = open(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Save upserts rec.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if rec.Metadata == nil {
		meta = []byte("{}")
	}
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calls (call_id, archive_id, status, reason, intent, total_interactions, metadata, history, created_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (call_id) DO UPDATE SET
			archive_id = EXCLUDED.archive_id,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			intent = EXCLUDED.intent,
			total_interactions = EXCLUDED.total_interactions,
			metadata = EXCLUDED.metadata,
			history = EXCLUDED.history,
			ended_at = EXCLUDED.ended_at`,
		rec.CallID, rec.ID, rec.Status, rec.Reason, rec.Intent, rec.TotalInteractions,
		string(meta), string(history), rec.CreatedAt.UTC(), rec.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("archive save %s: %w", rec.CallID, err)
	}
	return nil
}

// Load returns the archived record for callID.
func (s *PostgresStore) Load(ctx context.Context, callID string) (Record, error) {
	var rec Record
	var meta, history []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT call_id, archive_id, status, reason, intent, total_interactions, metadata, history, created_at, ended_at
		FROM calls WHERE call_id = $1`, callID,
	).Scan(&rec.CallID, &rec.ID, &rec.Status, &rec.Reason, &rec.Intent, &rec.TotalInteractions,
		&meta, &history, &rec.CreatedAt, &rec.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s: %w", callID, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("archive load %s: %w", callID, err)
	}
	if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
		return Record{}, fmt.Errorf("decode metadata: %w", err)
	}
	if err := json.Unmarshal(history, &rec.History); err != nil {
		return Record{}, fmt.Errorf("decode history: %w", err)
	}
	return rec, nil
}

// Close closes the database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
