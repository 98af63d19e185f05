package audit

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestLogWritesRowWithoutMetadata_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var exists bool
	if err := db.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'audit_logs')",
	).Scan(&exists); err != nil || !exists {
		t.Skip("missing tables; run scripts/schema.sql")
	}

	ctx := context.Background()
	repo := NewRepository(db)

	entry := Entry{
		Actor:        "operator-1",
		Role:         "operator",
		Action:       "incident.acknowledge",
		ResourceType: "incident",
		ResourceID:   "inc-audit-pg",
		Device:       "pump-audit-pg",
		IP:           "127.0.0.1",
	}
	_, _ = db.ExecContext(ctx, "DELETE FROM audit_logs WHERE resource_id = $1", entry.ResourceID)

	if err := repo.Log(ctx, entry); err != nil {
		t.Fatalf("log entry without metadata: %v", err)
	}

	var metadata string
	row := db.QueryRowContext(ctx,
		"SELECT metadata FROM audit_logs WHERE resource_id = $1 AND action = $2",
		entry.ResourceID, entry.Action)
	if err := row.Scan(&metadata); err != nil {
		t.Fatalf("audit row not written: %v", err)
	}
	if metadata != "{}" {
		t.Fatalf("metadata = %q, want {}", metadata)
	}
}
