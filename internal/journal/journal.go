package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bridgekit/claude-mcp/internal/logger"
)

var log = logger.ForComponent("journal")

// Entry is one completed tool invocation.
type Entry struct {
	ID         string
	Tool       string
	Model      string
	Attempts   int
	ExitStatus int
	Duration   time.Duration
	Outcome    string
	Error      string
	CreatedAt  time.Time
}

// Outcomes recorded per invocation.
const (
	OutcomeSuccess   = "success"
	OutcomeExecError = "execution_error"
	OutcomeJSONError = "validation_error"
)

// Store persists one row per tool invocation for diagnostics. Failures to
// record are logged and swallowed; the journal never affects the protocol.
type Store struct {
	db *sql.DB
}

func Open(dbPath string, retentionDays int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	if retentionDays > 0 {
		store.prune(retentionDays)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS invocations (
		id TEXT PRIMARY KEY,
		tool TEXT NOT NULL,
		model TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		exit_status INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_invocations_created ON invocations(created_at);
	CREATE INDEX IF NOT EXISTS idx_invocations_tool ON invocations(tool);
	`

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) prune(retentionDays int) {
	cutoff := fmt.Sprintf("-%d days", retentionDays)
	result, err := s.db.Exec(`DELETE FROM invocations WHERE created_at < datetime('now', ?)`, cutoff)
	if err != nil {
		log.Warn("journal prune failed", "error", err)
		return
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		log.Info("pruned journal entries", "rows", rows, "retention_days", retentionDays)
	}
}

// Record inserts one invocation row.
func (s *Store) Record(e Entry) {
	_, err := s.db.Exec(
		`INSERT INTO invocations (id, tool, model, attempts, exit_status, duration_ms, outcome, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Tool, e.Model, e.Attempts, e.ExitStatus, e.Duration.Milliseconds(), e.Outcome, e.Error,
	)
	if err != nil {
		log.Warn("failed to record invocation", "id", e.ID, "error", err)
	}
}

// Recent returns up to n invocations, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}

	rows, err := s.db.Query(
		`SELECT id, tool, model, attempts, exit_status, duration_ms, outcome, COALESCE(error, ''), created_at
		 FROM invocations ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.Tool, &e.Model, &e.Attempts, &e.ExitStatus,
			&durationMS, &e.Outcome, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
