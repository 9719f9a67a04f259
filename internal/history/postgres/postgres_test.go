package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/redeployr/internal/history"
)

func TestNewRejectsEmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	start := history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{Port: 5000, PID: 4242, PreviousPID: 1234, Command: "python3 app.py", Revision: "abc123"},
	}
	if err := sink.Send(ctx, start); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}
	got, err := sink.List(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(got) != 1 || got[0].Record.PID != 4242 || got[0].Record.Revision != "abc123" {
		t.Fatalf("unexpected history %+v", got)
	}
}
