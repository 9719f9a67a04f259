package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/redeployr/internal/history"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "deploy_history"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds connection settings for the ClickHouse native protocol.
type Config struct {
	Addr     string // host:port of the native interface
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends events to ClickHouse using the official client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(cfg Config) (*Sink, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", cfg.Table)
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: cfg.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		occurred_at DateTime64(6),
		event String,
		port Int32,
		pid Int32,
		previous_pid Int32,
		command String,
		revision String,
		error String
	) ENGINE = MergeTree()
	ORDER BY (port, occurred_at)`)
	if err != nil {
		return fmt.Errorf("create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	err := s.conn.Exec(ctx,
		`INSERT INTO `+s.table+` (occurred_at, event, port, pid, previous_pid, command, revision, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OccurredAt.UTC(),
		string(e.Type),
		int32(rec.Port),
		int32(rec.PID),
		int32(rec.PreviousPID),
		rec.Command,
		rec.Revision,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) List(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx,
		`SELECT occurred_at, event, port, pid, previous_pid, command, revision, error FROM `+s.table+` ORDER BY occurred_at DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query ClickHouse history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e                   history.Event
			typ                 string
			port, pid, previous int32
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &port, &pid, &previous, &e.Record.Command, &e.Record.Revision, &e.Record.Error); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.Record.Port, e.Record.PID, e.Record.PreviousPID = int(port), int(pid), int(previous)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
