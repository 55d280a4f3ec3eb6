package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations(t *testing.T) {
	files := fstest.MapFS{
		"002_safety.sql":   {Data: []byte("CREATE TABLE medication_error_log (id UUID);")},
		"001_pharmacy.sql": {Data: []byte("CREATE TABLE drug (id UUID);")},
		"003_refill.sql":   {Data: []byte("CREATE TABLE prescription_refill (id UUID);")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, want := range []int{1, 2, 3} {
		if migrations[i].Version != want {
			t.Errorf("migration %d: expected version %d, got %d", i, want, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_pharmacy.sql" {
		t.Errorf("expected 001_pharmacy.sql first, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE drug (id UUID);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsNonMigrationFiles(t *testing.T) {
	files := fstest.MapFS{
		"001_pharmacy.sql":  {Data: []byte("SELECT 1;")},
		"README.md":         {Data: []byte("docs")},
		"seed.sql":          {Data: []byte("SELECT 2;")},
		"draft_changes.sql": {Data: []byte("SELECT 3;")},
		"sub/004_x.sql":     {Data: []byte("SELECT 4;")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, files).LoadMigrations(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestPending(t *testing.T) {
	migrations := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}
	applied := map[int]time.Time{1: time.Now(), 3: time.Now()}

	got := pending(migrations, applied)
	if len(got) != 1 || got[0].Version != 2 {
		t.Errorf("expected only version 2 pending, got %+v", got)
	}
}
