// Package journal provides a local SQLite audit trail of bridge activity:
// prompts sent, turn outcomes, and permission decisions. It is write-only
// telemetry for debugging; nothing is ever read back to restore session
// state. Storage: ~/.clawlink/state/bridge.db.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record kinds.
const (
	KindPrompt     = "prompt"
	KindTurn       = "turn"
	KindPermission = "permission"
	KindConnection = "connection"
)

// Config controls journal location and retention.
type Config struct {
	Dir        string // default ~/.clawlink/state
	MaxAgeDays int    // 0 disables age cleanup
	MaxRecords int    // 0 disables row-count cleanup
}

// Record is one journal row.
type Record struct {
	ID         int64
	At         time.Time
	Kind       string
	SessionKey string
	RunID      string
	Detail     string
}

// Journal is the SQLite-backed audit log. A nil *Journal is a no-op, so
// callers need no enabled checks.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".clawlink", "state")
	}
	return filepath.Join(home, ".clawlink", "state")
}

// Open creates or opens the journal database and applies retention.
func Open(cfg Config, logger *slog.Logger) (*Journal, error) {
	if cfg.Dir == "" {
		cfg.Dir = defaultDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, "bridge.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS bridge_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	at          INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	session_key TEXT NOT NULL DEFAULT '',
	run_id      TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_bridge_log_at ON bridge_log(at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	j := &Journal{db: db, cfg: cfg, logger: logger.With("component", "journal")}
	j.cleanup()
	return j, nil
}

// record inserts one row. Journal failures are logged, never propagated:
// telemetry must not break the bridge.
func (j *Journal) record(kind, sessionKey, runID, detail string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		`INSERT INTO bridge_log (at, kind, session_key, run_id, detail) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), kind, sessionKey, runID, detail,
	)
	if err != nil {
		j.logger.Warn("journal write failed", "kind", kind, "error", err)
	}
}

// RecordPrompt logs a prompt submission.
func (j *Journal) RecordPrompt(sessionKey, runID, text string) {
	j.record(KindPrompt, sessionKey, runID, text)
}

// RecordTurn logs a turn outcome (idle, error, cancelled).
func (j *Journal) RecordTurn(sessionKey, status, detail string) {
	d := status
	if detail != "" {
		d = status + ": " + detail
	}
	j.record(KindTurn, sessionKey, "", d)
}

// RecordPermission logs a permission decision.
func (j *Journal) RecordPermission(id string, approved bool) {
	j.record(KindPermission, "", "", fmt.Sprintf("%s approved=%t", id, approved))
}

// RecordConnection logs connection lifecycle transitions.
func (j *Journal) RecordConnection(detail string) {
	j.record(KindConnection, "", "", detail)
}

// Recent returns the newest records, newest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	if j == nil {
		return nil, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, at, kind, session_key, run_id, detail FROM bridge_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var at int64
		if err := rows.Scan(&r.ID, &at, &r.Kind, &r.SessionKey, &r.RunID, &r.Detail); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// cleanup applies age and row-count retention.
func (j *Journal) cleanup() {
	if j.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -j.cfg.MaxAgeDays).UnixMilli()
		if _, err := j.db.Exec(`DELETE FROM bridge_log WHERE at < ?`, cutoff); err != nil {
			j.logger.Warn("journal age cleanup failed", "error", err)
		}
	}
	if j.cfg.MaxRecords > 0 {
		_, err := j.db.Exec(
			`DELETE FROM bridge_log WHERE id NOT IN (SELECT id FROM bridge_log ORDER BY id DESC LIMIT ?)`,
			j.cfg.MaxRecords,
		)
		if err != nil {
			j.logger.Warn("journal size cleanup failed", "error", err)
		}
	}
}

// Close closes the database. Safe on nil.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}
