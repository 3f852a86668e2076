package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// AuditEntry records one handled request
type AuditEntry struct {
	ID          int64         `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	UserID      string        `json:"user_id"`
	Intent      string        `json:"intent"`
	Fingerprint string        `json:"fingerprint"`
	ExecutionID string        `json:"execution_id,omitempty"`
	Success     bool          `json:"success"`
	Cached      bool          `json:"cached"`
	Cost        float64       `json:"cost"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// AuditFilter narrows an audit query
type AuditFilter struct {
	UserID    string
	Intent    string
	Success   *bool
	StartTime *time.Time
	Limit     int
}

// SQLiteAuditLog persists the request audit trail
type SQLiteAuditLog struct {
	db *sql.DB
}

// NewSQLiteAuditLog opens (and if needed creates) the audit database
func NewSQLiteAuditLog(dbPath string) (*SQLiteAuditLog, error) {
	dbPath = expandPath(dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	log := &SQLiteAuditLog{db: db}
	if err := log.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	return log, nil
}

func (l *SQLiteAuditLog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS request_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		user_id TEXT NOT NULL,
		intent TEXT,
		fingerprint TEXT,
		execution_id TEXT,
		success BOOLEAN,
		cached BOOLEAN,
		cost REAL,
		duration_ms INTEGER,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_request_timestamp ON request_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_request_user ON request_log(user_id);
	CREATE INDEX IF NOT EXISTS idx_request_intent ON request_log(intent);
	`

	_, err := l.db.Exec(schema)
	return err
}

// Log appends one entry to the audit trail
func (l *SQLiteAuditLog) Log(ctx context.Context, entry *AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	query := `
		INSERT INTO request_log (
			timestamp, user_id, intent, fingerprint, execution_id,
			success, cached, cost, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := l.db.ExecContext(ctx, query,
		entry.Timestamp,
		entry.UserID,
		entry.Intent,
		entry.Fingerprint,
		entry.ExecutionID,
		entry.Success,
		entry.Cached,
		entry.Cost,
		entry.Duration.Milliseconds(),
		entry.Error,
	)
	return err
}

// Query retrieves audit entries matching the filter, newest first
func (l *SQLiteAuditLog) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error) {
	if filter == nil {
		filter = &AuditFilter{}
	}

	query := "SELECT id, timestamp, user_id, intent, fingerprint, execution_id, success, cached, cost, duration_ms, error FROM request_log WHERE 1=1"
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Intent != "" {
		query += " AND intent = ?"
		args = append(args, filter.Intent)
	}
	if filter.Success != nil {
		query += " AND success = ?"
		args = append(args, *filter.Success)
	}
	if filter.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.StartTime)
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var durationMs int64
		if err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.UserID,
			&entry.Intent,
			&entry.Fingerprint,
			&entry.ExecutionID,
			&entry.Success,
			&entry.Cached,
			&entry.Cost,
			&durationMs,
			&entry.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// IntentCounts aggregates request volume by intent since the given time
func (l *SQLiteAuditLog) IntentCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT intent, COUNT(*) FROM request_log WHERE timestamp >= ? GROUP BY intent", since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate audit log: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var intent string
		var count int
		if err := rows.Scan(&intent, &count); err != nil {
			return nil, fmt.Errorf("failed to scan audit count: %w", err)
		}
		counts[intent] = count
	}
	return counts, rows.Err()
}

// Close releases the database
func (l *SQLiteAuditLog) Close() error {
	return l.db.Close()
}
