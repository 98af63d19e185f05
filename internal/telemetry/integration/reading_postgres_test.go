package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	telemetry "pumpwatch/internal/telemetry/domain"
	readingrepo "pumpwatch/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestReadingRepository_Postgres(t *testing.T) {
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
	err = db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = 'readings'
)`).Scan(&exists)
	if err != nil || !exists {
		t.Skip("missing readings table; run scripts/schema.sql")
	}

	ctx := context.Background()
	device := "pump-it-readings"
	_, _ = db.ExecContext(ctx, "DELETE FROM readings WHERE device = $1", device)

	repo := readingrepo.NewReadingRepository(db)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	readings := []telemetry.Reading{
		{Device: device, Metric: telemetry.MetricCurrentA, TS: base, Value: 8.2},
		{Device: device, Metric: telemetry.MetricCurrentA, TS: base.Add(time.Minute), Value: 8.4},
		{Device: device, Metric: telemetry.MetricPressurePSI, TS: base.Add(time.Minute), Value: 41.0},
	}
	if err := repo.InsertReadings(ctx, readings); err != nil {
		t.Fatalf("insert readings: %v", err)
	}

	// Upsert on the same key must not duplicate.
	if err := repo.InsertReadings(ctx, readings[:1]); err != nil {
		t.Fatalf("reinsert readings: %v", err)
	}

	seen, err := repo.LastSeen(ctx)
	if err != nil {
		t.Fatalf("last seen: %v", err)
	}
	if got := seen[device]; !got.Equal(base.Add(time.Minute)) {
		t.Fatalf("last seen = %v, want %v", got, base.Add(time.Minute))
	}

	latest, err := repo.LatestByDevice(ctx)
	if err != nil {
		t.Fatalf("latest by device: %v", err)
	}
	found := false
	for _, reading := range latest {
		if reading.Device == device {
			found = true
			if !reading.TS.Equal(base.Add(time.Minute)) {
				t.Fatalf("latest ts = %v, want %v", reading.TS, base.Add(time.Minute))
			}
		}
	}
	if !found {
		t.Fatalf("device %s missing from latest readings", device)
	}
}
