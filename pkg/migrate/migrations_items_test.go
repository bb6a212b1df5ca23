package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestItemsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_items.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no items migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS items",
		"CHECK (status IN ('available', 'reserved', 'sold'))",
		"CHECK (status <> 'reserved' OR reservation_session_id IS NOT NULL)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_items_sku",
		"DROP TABLE IF EXISTS items",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOrdersMigrationEnforcesUniqueness(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_orders.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no orders migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_day_seq ON orders (day_prefix, day_seq)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_provider_session ON orders (provider_session_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_order_items_item ON order_items (item_id)",
		"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestPrintQueueMigrationEnforcesClaimProtocol(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_print_queue.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no print queue migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CHECK (status IN ('pending', 'downloading', 'ready', 'printing', 'printed', 'failed'))",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_print_queue_jobs_shipment ON print_queue_jobs (shipment_type, shipment_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_print_agents_name",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
