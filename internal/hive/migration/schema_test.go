package migration

import (
	"database/sql"
	"testing"
)

func TestMigrations_VersionsAreSequentialAndSorted(t *testing.T) {
	migs := Migrations()
	if len(migs) == 0 {
		t.Fatal("expected at least one migration")
	}
	for i, m := range migs {
		want := i + 1
		if m.Version != want {
			t.Fatalf("migration %d: expected version %d, got %d", i, want, m.Version)
		}
		if m.Up == nil {
			t.Fatalf("migration %d (%s): Up is nil", i, m.Description)
		}
		if m.Description == "" {
			t.Fatalf("migration %d: missing description", i)
		}
	}
}

func TestNewRunner_SortsByVersion(t *testing.T) {
	noop := func(tx *sql.Tx) error { return nil }
	r := NewRunner([]Migration{
		{Version: 2, Description: "second", Up: noop},
		{Version: 1, Description: "first", Up: noop},
	}, nil)
	if r.migrations[0].Version != 1 || r.migrations[1].Version != 2 {
		t.Fatalf("expected sorted order, got %+v", r.migrations)
	}
}
