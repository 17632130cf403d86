// Package store persists the client session in a local SQLite database so
// session identity and open tabs survive restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
	"github.com/codeready-toolchain/pipewatch/pkg/session/store/migrations"
)

// Store is the SQLite-backed session persistence.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the session database at dbPath and runs
// pending migrations. logger may be nil.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrations.Up(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Debug("Session store initialized", "path", dbPath)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// LoadSession returns the persisted session. The second return is false when
// no session has been saved yet.
func (s *Store) LoadSession(ctx context.Context) (models.Session, bool, error) {
	var (
		session   models.Session
		updatedAt int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, active_tab, updated_at FROM session ORDER BY updated_at DESC LIMIT 1`)
	if err := row.Scan(&session.ID, &session.ActiveTab, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return models.Session{}, false, nil
		}
		return models.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	session.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	rows, err := s.db.QueryContext(ctx,
		`SELECT ticket_key, pipeline_id, position FROM tabs WHERE session_id = ? ORDER BY position`,
		session.ID)
	if err != nil {
		return models.Session{}, false, fmt.Errorf("load tabs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tab models.Tab
		if err := rows.Scan(&tab.TicketKey, &tab.PipelineID, &tab.Position); err != nil {
			return models.Session{}, false, fmt.Errorf("scan tab: %w", err)
		}
		session.Tabs = append(session.Tabs, tab)
	}
	if err := rows.Err(); err != nil {
		return models.Session{}, false, fmt.Errorf("iterate tabs: %w", err)
	}
	return session, true, nil
}

// SaveSession replaces the persisted session and its tabs atomically.
func (s *Store) SaveSession(ctx context.Context, session models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Single-session store: any previous session rows are superseded.
	if _, err := tx.ExecContext(ctx, `DELETE FROM session WHERE id != ?`, session.ID); err != nil {
		return fmt.Errorf("clear stale sessions: %w", err)
	}

	updatedAt := session.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO session (id, active_tab, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET active_tab = excluded.active_tab, updated_at = excluded.updated_at`,
		session.ID, session.ActiveTab, updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tabs WHERE session_id = ?`, session.ID); err != nil {
		return fmt.Errorf("clear tabs: %w", err)
	}
	for _, tab := range session.Tabs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tabs (session_id, ticket_key, pipeline_id, position) VALUES (?, ?, ?, ?)`,
			session.ID, tab.TicketKey, tab.PipelineID, tab.Position)
		if err != nil {
			return fmt.Errorf("save tab %s: %w", tab.TicketKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}
