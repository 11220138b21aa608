package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/coursepay-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one %s migration, found %d", suffix, len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.Validate("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestEnrollmentsMigrationEnforcesOnePerPayment(t *testing.T) {
	assertContains(t, readMigration(t, "create_enrollments"), []string{
		"CREATE TABLE IF NOT EXISTS enrollments",
		"CREATE UNIQUE INDEX IF NOT EXISTS enrollments_payment_id_key ON enrollments (payment_id)",
		"FOREIGN KEY (payment_id) REFERENCES payments(id)",
		"CHECK (status IN ('pending', 'active', 'completed', 'cancelled'))",
		"DROP TABLE IF EXISTS enrollments",
	})
}

func TestPaymentsMigrationConstrainsStatus(t *testing.T) {
	assertContains(t, readMigration(t, "create_payments"), []string{
		"CREATE TABLE IF NOT EXISTS payments",
		"amount numeric(14,2) NOT NULL",
		"CHECK (status IN ('pending', 'completed', 'failed', 'refunded'))",
		"payments_gateway_reference_key",
		"DROP TABLE IF EXISTS payments",
	})
}

func TestOutboxMigrationMatchesDedupIndex(t *testing.T) {
	assertContains(t, readMigration(t, "create_outbox_events"), []string{
		"ux_outbox_events_event_aggregate",
		"WHERE published_at IS NULL",
	})
}
