package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Dialect selects placeholder and column types for SQLSink.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLSink appends events to a deploy_history table and reads them back.
// The schema is created when missing.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL opens db with driver and prepares the schema for dialect.
func OpenSQL(driver, dsn string, dialect Dialect) (*SQLSink, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite {
		// one connection: :memory: databases are per-connection and sqlite
		// serializes writers anyway
		db.SetMaxOpenConns(1)
	}
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	var stmts []string
	switch s.dialect {
	case DialectSQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS deploy_history(
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				occurred_at TEXT NOT NULL,
				event TEXT NOT NULL,
				port INTEGER NOT NULL,
				pid INTEGER NOT NULL,
				previous_pid INTEGER NOT NULL,
				command TEXT NOT NULL,
				revision TEXT NOT NULL,
				error TEXT NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_deploy_history_port ON deploy_history(port);`,
		}
	case DialectPostgres:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS deploy_history(
				id BIGSERIAL PRIMARY KEY,
				occurred_at TIMESTAMPTZ NOT NULL,
				event TEXT NOT NULL,
				port INTEGER NOT NULL,
				pid INTEGER NOT NULL,
				previous_pid INTEGER NOT NULL,
				command TEXT NOT NULL,
				revision TEXT NOT NULL,
				error TEXT NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_deploy_history_port ON deploy_history(port);`,
		}
	default:
		return fmt.Errorf("unsupported SQL dialect %q", s.dialect)
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create history schema: %w", err)
		}
	}
	return nil
}

// bind rewrites ? placeholders to $N for postgres.
func (s *SQLSink) bind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	rec := e.Record
	var occurred any = e.OccurredAt.UTC()
	if s.dialect == DialectSQLite {
		occurred = e.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO deploy_history(occurred_at, event, port, pid, previous_pid, command, revision, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`),
		occurred, string(e.Type), rec.Port, rec.PID, rec.PreviousPID, rec.Command, rec.Revision, rec.Error)
	return err
}

func (s *SQLSink) List(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT occurred_at, event, port, pid, previous_pid, command, revision, error
		FROM deploy_history ORDER BY id DESC LIMIT ?;`), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			typ string
			ts  string
			at  time.Time
		)
		dest := []any{&at, &typ, &e.Record.Port, &e.Record.PID, &e.Record.PreviousPID, &e.Record.Command, &e.Record.Revision, &e.Record.Error}
		if s.dialect == DialectSQLite {
			dest[0] = &ts
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if s.dialect == DialectSQLite {
			at, _ = time.Parse(time.RFC3339Nano, ts)
		}
		e.Type = EventType(typ)
		e.OccurredAt = at
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
