package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mirae-labs/sajuflow-backend/pkg/migrate"
)

func TestInitMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_init_schema.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no init migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS users",
		"CREATE TABLE IF NOT EXISTS subscriptions",
		"CREATE TABLE IF NOT EXISTS analyses",
		"CONSTRAINT subscriptions_user_id_key UNIQUE (user_id)",
		"CHECK (remaining_tries >= 0)",
		"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS subscriptions",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}
