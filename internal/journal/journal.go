// Package journal records finished and failed downloads in SQLite so they
// can be reviewed after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/s0up4200/motrix-go/internal/syncer"
	"github.com/s0up4200/motrix-go/internal/task"
)

type Entry struct {
	ID           int64
	GID          string
	Name         string
	Status       task.Status
	ErrorCode    string
	ErrorMessage string
	Length       int64
	Dir          string
	At           time.Time
}

type Journal struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens or creates the journal at path. ":memory:" gives a throwaway
// database for tests.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, log: log.With().Str("component", "journal").Logger()}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  gid TEXT NOT NULL,
  name TEXT NOT NULL,
  status TEXT NOT NULL,
  error_code TEXT,
  error_message TEXT,
  length INTEGER NOT NULL DEFAULT 0,
  dir TEXT,
  at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_at ON events(at);
`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events(gid,name,status,error_code,error_message,length,dir,at) VALUES(?,?,?,?,?,?,?,?)`,
		e.GID, e.Name, string(e.Status), e.ErrorCode, e.ErrorMessage, e.Length, e.Dir, e.At.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id,gid,name,status,error_code,error_message,length,dir,at FROM events ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			status  string
			code    sql.NullString
			message sql.NullString
			dir     sql.NullString
			at      int64
		)
		if err := rows.Scan(&e.ID, &e.GID, &e.Name, &status, &code, &message, &e.Length, &dir, &at); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Status = task.Status(status)
		e.ErrorCode = code.String
		e.ErrorMessage = message.String
		e.Dir = dir.String
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// HandleTerminal makes the journal a syncer.EventHandler.
func (j *Journal) HandleTerminal(ctx context.Context, ev syncer.TerminalEvent) {
	e := Entry{
		GID:          ev.GID,
		Name:         ev.Name,
		Status:       ev.Status,
		ErrorCode:    ev.ErrorCode,
		ErrorMessage: ev.ErrorMessage,
		At:           ev.At,
	}
	if ev.Task != nil {
		e.Length = ev.Task.TotalLength
		e.Dir = ev.Task.Dir
	}
	if err := j.Record(ctx, e); err != nil {
		j.log.Error().Err(err).Str("gid", ev.GID).Msg("failed to journal download event")
	}
}

var _ syncer.EventHandler = (*Journal)(nil)
