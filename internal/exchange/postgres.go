package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists exchange records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS message_logs (
			id BIGSERIAL PRIMARY KEY,
			user_query TEXT NOT NULL,
			refined_query TEXT NOT NULL,
			answer TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			logged_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_message_logs_conversation ON message_logs (conversation_id);`,
		`CREATE INDEX IF NOT EXISTS idx_message_logs_logged_at ON message_logs (logged_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Append commits one record in its own transaction. Postgres assigns id and
// timestamp inside the insert, so concurrent writers cannot race on either.
func (s *PostgresStore) Append(ctx context.Context, record Record) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, &PersistenceError{Op: "append exchange: begin", Err: err}
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO message_logs (user_query, refined_query, answer, conversation_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, logged_at`,
		record.UserQuery,
		record.RefinedQuery,
		record.Answer,
		record.ConversationID,
	)
	if err := row.Scan(&record.ID, &record.Timestamp); err != nil {
		rbErr := tx.Rollback(ctx)
		if rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return Record{}, &PersistenceError{Op: "append exchange", Err: err, RollbackErr: rbErr}
		}
		return Record{}, &PersistenceError{Op: "append exchange", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, &PersistenceError{Op: "append exchange: commit", Err: err}
	}
	return record, nil
}

func (s *PostgresStore) List(ctx context.Context, conversationID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, user_query, refined_query, answer, conversation_id, logged_at
		 FROM message_logs`
	args := []any{}
	if conversationID != "" {
		query += ` WHERE conversation_id = $1`
		args = append(args, conversationID)
	}
	query += fmt.Sprintf(` ORDER BY logged_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.UserQuery, &r.RefinedQuery, &r.Answer, &r.ConversationID, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan exchange row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchange rows: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) Count(ctx context.Context, conversationID string) (int64, error) {
	query := `SELECT count(*) FROM message_logs`
	args := []any{}
	if conversationID != "" {
		query += ` WHERE conversation_id = $1`
		args = append(args, conversationID)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count exchanges: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
