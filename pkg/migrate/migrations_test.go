package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := fs.Glob(EmbeddedFS(), "*_"+suffix+".sql")
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration found", suffix)
	}
	data, err := fs.ReadFile(EmbeddedFS(), matches[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	return string(data)
}

func TestOrderRefundsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "create_order_refunds")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS order_refunds",
		"ux_order_refunds_brand_order ON order_refunds (brand_id, order_id)",
		"CHECK (refund_amount >= 0)",
		"ux_refund_events_brand_refund ON refund_events (brand_id, refund_id)",
		"DROP TABLE IF EXISTS order_refunds",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestDailyMetricsMigrationIsUniquePerDay(t *testing.T) {
	content := readMigration(t, "create_daily_metrics")
	for _, sub := range []string{
		"ux_daily_metrics_brand_date ON daily_metrics (brand_id, metric_date)",
		"ad_spend numeric(14,2) NULL",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestEmbeddedMigrationsValidate(t *testing.T) {
	if err := ValidateFS(EmbeddedFS()); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
}

func TestValidateFSRejectsBadFiles(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name":     {"create.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")}},
		"missing down": {"20240101000000_x.sql": {Data: []byte("-- +goose Up\n")}},
		"duplicate": {
			"20240101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"20240101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
	}
	for name, fsys := range cases {
		if err := ValidateFS(fsys); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Ad Spend Index!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(filepath.Base(path), "_add_ad_spend_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read created migration: %v", err)
	}
	if !strings.Contains(string(data), "-- +goose Up") {
		t.Fatalf("missing goose header")
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("validate created dir: %v", err)
	}
	if _, err := CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatalf("expected error for empty sanitized name")
	}
}
