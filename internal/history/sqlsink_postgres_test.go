package history

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSQLSinkPostgres_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pg, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	sink, err := NewSQLSinkFromDSN(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if sink.Dialect() != "postgres" {
		t.Fatalf("dialect = %q", sink.Dialect())
	}

	base := time.Now().UTC().Truncate(time.Microsecond)
	if err := sink.Send(ctx, Event{Type: EventStart, OccurredAt: base, PID: 10, Host: "pg"}); err != nil {
		t.Fatalf("send start: %v", err)
	}
	if err := sink.Send(ctx, Event{Type: EventStop, OccurredAt: base.Add(time.Second), PID: 10, Host: "pg"}); err != nil {
		t.Fatalf("send stop: %v", err)
	}

	evs, err := sink.List(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != EventStop {
		t.Fatalf("unexpected events: %+v", evs)
	}
}
