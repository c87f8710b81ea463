//go:build integration
// +build integration

// Exercises the store layer against a real Postgres database. Run with:
// go test ./internal/hive/store/ -tags=integration -v
// Set HIVE_TEST_DATABASE_URL to a scratch database; schema is migrated
// fresh before each test.
package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/datasektionen/hive-sub000/internal/hive/migration"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("HIVE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HIVE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	st, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)

	db := sql.OpenDB(stdlib.GetPoolConnector(st.Pool()))
	defer db.Close()
	if err := migration.NewRunner(migration.Migrations(), nil).Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestGroup_InsertGetUpdateDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		g := Group{ID: "eng", Domain: "example.org", NameEN: "Engineering"}
		if err := st.InsertGroup(ctx, tx, g); err != nil {
			return err
		}
		// The duplicate insert runs inside a savepoint: a failed statement
		// would otherwise abort tx and every query after it.
		sp, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		if err := st.InsertGroup(ctx, sp, g); err == nil {
			t.Fatal("expected a unique violation inserting a duplicate (id, domain)")
		}
		if err := sp.Rollback(ctx); err != nil {
			return err
		}

		got, err := st.GetGroup(ctx, tx, "eng", "example.org")
		if err != nil {
			return err
		}
		if got == nil || got.NameEN != "Engineering" {
			t.Fatalf("got %+v", got)
		}

		g.NameEN = "Platform Engineering"
		updated, err := st.UpdateGroup(ctx, tx, g)
		if err != nil {
			return err
		}
		if !updated {
			t.Fatal("expected UpdateGroup to report a row updated")
		}

		deleted, err := st.DeleteGroup(ctx, tx, "eng", "example.org")
		if err != nil {
			return err
		}
		if !deleted {
			t.Fatal("expected DeleteGroup to report a row deleted")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestEffectiveGroupsOn_TraversesSubgroupEdges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, g := range []Group{
			{ID: "child", Domain: "example.org"},
			{ID: "parent", Domain: "example.org"},
		} {
			if err := st.InsertGroup(ctx, tx, g); err != nil {
				return err
			}
		}
		if err := st.InsertSubgroupEdge(ctx, tx, "parent", "example.org", "child", "example.org", true); err != nil {
			return err
		}
		from := now.AddDate(-1, 0, 0)
		until := now.AddDate(1, 0, 0)
		return st.InsertDirectMembership(ctx, tx, uuid.NewString(), "alice", "child", "example.org", from, until, true)
	})
	if err != nil {
		t.Fatalf("seed tx: %v", err)
	}

	eff, err := st.EffectiveGroupsOn(ctx, st, "alice", now)
	if err != nil {
		t.Fatalf("EffectiveGroupsOn: %v", err)
	}

	var sawChild, sawParent bool
	for _, e := range eff {
		switch e.Group.ID {
		case "child":
			sawChild = true
		case "parent":
			sawParent = true
			if !e.Manager {
				t.Fatal("expected manager=true to propagate through a manager subgroup edge")
			}
		}
	}
	if !sawChild || !sawParent {
		t.Fatalf("expected both child and parent in effective groups, got %+v", eff)
	}
}

func TestCountCurrentRootManagers_ExcludesGivenUUID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	from := now.AddDate(-1, 0, 0)
	until := now.AddDate(1, 0, 0)

	var id string
	err := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := st.InsertGroup(ctx, tx, Group{ID: "root", Domain: "hive.internal"}); err != nil {
			return err
		}
		id = uuid.NewString()
		return st.InsertDirectMembership(ctx, tx, id, "alice", "root", "hive.internal", from, until, true)
	})
	if err != nil {
		t.Fatalf("seed tx: %v", err)
	}

	n, err := st.CountCurrentRootManagers(ctx, st, "root", "hive.internal", now, "")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d, want 1", n)
	}

	n, err = st.CountCurrentRootManagers(ctx, st, "root", "hive.internal", now, id)
	if err != nil {
		t.Fatalf("count excluding self: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d, want 0 when excluding the only manager", n)
	}
}
