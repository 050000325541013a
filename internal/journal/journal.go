// Package journal records every send attempt in a local SQLite database.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Status is the outcome of a send attempt.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
	StatusDryRun Status = "dry-run"
)

// Entry is one journaled send attempt.
type Entry struct {
	ID         string
	MessageID  string
	Provider   string
	Sender     string
	Recipients []string
	Subject    string
	Status     Status
	Reason     string
	Error      string
	SizeBytes  int64
	CreatedAt  time.Time
}

type row struct {
	Seq        int64     `db:"seq"`
	ID         string    `db:"id"`
	MessageID  string    `db:"message_id"`
	Provider   string    `db:"provider"`
	Sender     string    `db:"sender"`
	Recipients string    `db:"recipients"`
	Subject    string    `db:"subject"`
	Status     string    `db:"status"`
	Reason     string    `db:"reason"`
	Error      string    `db:"error"`
	SizeBytes  int64     `db:"size_bytes"`
	CreatedAt  time.Time `db:"created_at"`
}

// Journal is a SQLite-backed send log.
type Journal struct {
	db *sqlx.DB
}

// Open opens (or creates) the journal database at path, enables WAL mode and
// applies pending migrations.
func Open(path string) (*Journal, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	j := &Journal{db: db}
	if err := j.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// SchemaVersion returns the highest applied migration.
func (j *Journal) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := j.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func (j *Journal) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := j.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		if err := j.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := j.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Record stores e. An empty ID is replaced with a new UUID and a zero
// CreatedAt with the current time. The stored entry is returned.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	recipients, err := json.Marshal(e.Recipients)
	if err != nil {
		return Entry{}, fmt.Errorf("marshaling recipients: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO sends (
			id, message_id, provider, sender, recipients, subject,
			status, reason, error, size_bytes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MessageID, e.Provider, e.Sender, string(recipients), e.Subject,
		string(e.Status), e.Reason, e.Error, e.SizeBytes, e.CreatedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("recording send %s: %w", e.ID, err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []row
	err := j.db.SelectContext(ctx, &rows, `
		SELECT seq, id, message_id, provider, sender, recipients, subject,
		       status, reason, error, size_bytes, created_at
		FROM sends ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sends: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ByMessageID returns every attempt recorded for a Message-ID, oldest first.
func (j *Journal) ByMessageID(ctx context.Context, messageID string) ([]Entry, error) {
	var rows []row
	err := j.db.SelectContext(ctx, &rows, `
		SELECT seq, id, message_id, provider, sender, recipients, subject,
		       status, reason, error, size_bytes, created_at
		FROM sends WHERE message_id = ? ORDER BY seq`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying sends for %s: %w", messageID, err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r row) entry() (Entry, error) {
	e := Entry{
		ID:        r.ID,
		MessageID: r.MessageID,
		Provider:  r.Provider,
		Sender:    r.Sender,
		Subject:   r.Subject,
		Status:    Status(r.Status),
		Reason:    r.Reason,
		Error:     r.Error,
		SizeBytes: r.SizeBytes,
		CreatedAt: r.CreatedAt,
	}
	if r.Recipients != "" {
		if err := json.Unmarshal([]byte(r.Recipients), &e.Recipients); err != nil {
			return Entry{}, fmt.Errorf("unmarshaling recipients for %s: %w", r.ID, err)
		}
	}
	return e, nil
}
