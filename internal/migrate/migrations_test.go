package migrate_test

import (
	"context"
	"path/filepath"
	"testing"

	"troops/internal/db"
	"troops/internal/migrate"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.Open(filepath.Join(t.TempDir(), "reports.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := migrate.Migrate(ctx, conn); err != nil {
			t.Fatalf("migrate %d: %v", i, err)
		}
	}
	v, err := migrate.Version(ctx, conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != migrate.Latest() || v == 0 {
		t.Fatalf("version = %d, latest = %d", v, migrate.Latest())
	}
	if _, err := conn.ExecContext(ctx, `SELECT count(*) FROM report_values`); err != nil {
		t.Fatalf("report_values missing: %v", err)
	}
}
