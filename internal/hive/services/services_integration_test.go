//go:build integration
// +build integration

// Exercises the services layer against a real Postgres database. Run with:
// go test ./internal/hive/services/ -tags=integration -v
// Set HIVE_TEST_DATABASE_URL to a scratch database; schema is migrated
// fresh before each test.
package services

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/datasektionen/hive-sub000/internal/hive/migration"
	"github.com/datasektionen/hive-sub000/internal/hive/store"
)

func newTestServices(t *testing.T) *Services {
	t.Helper()
	dsn := os.Getenv("HIVE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HIVE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	st, err := store.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)

	db := sql.OpenDB(stdlib.GetPoolConnector(st.Pool()))
	defer db.Close()
	if err := migration.NewRunner(migration.Migrations(), nil).Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return New(st)
}

// grantRoot makes username a current manager of the root group and hands
// the root group every hive permission used below, mirroring the one-time
// manual bootstrap a fresh deployment needs before anyone can act through
// the services layer at all.
func grantRoot(t *testing.T, svc *Services, username string) {
	t.Helper()
	ctx := context.Background()
	err := svc.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := svc.Store.UpsertSystem(ctx, tx, HiveSystemID, "hive"); err != nil {
			return err
		}
		if err := svc.Store.InsertGroup(ctx, tx, store.Group{ID: RootGroupID, Domain: RootGroupDomain, NameEN: "Root"}); err != nil {
			return err
		}
		from := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		until := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
		if err := svc.Store.InsertDirectMembership(ctx, tx, NewUUID(), username, RootGroupID, RootGroupDomain, from, until, true); err != nil {
			return err
		}

		// manage-perms and manage-tags are scoped permissions here (granted
		// with a wildcard scope so the root group can act on any system);
		// manage-groups and manage-systems are unscoped, matching their
		// Unscoped() probes in CreateGroup/CreateSystem.
		scoped := map[string]bool{PermManagePerms: true, PermManageTags: true}
		for _, perm := range []string{PermManageGroups, PermManageSystems, PermManagePerms, PermManageTags} {
			if err := svc.Store.InsertPermissionDef(ctx, tx, store.PermissionDef{SystemID: HiveSystemID, PermID: perm, HasScope: scoped[perm]}); err != nil {
				return err
			}
			a := store.PermissionAssignment{UUID: NewUUID(), SystemID: HiveSystemID, PermID: perm, GroupID: RootGroupID, GroupDomain: RootGroupDomain}
			if scoped[perm] {
				wildcard := "*"
				a.Scope = &wildcard
			}
			if err := svc.Store.InsertPermissionAssignment(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("grantRoot: %v", err)
	}
}

func TestBootstrapRootManagerIfEmpty(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	if err := svc.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := svc.Store.UpsertSystem(ctx, tx, HiveSystemID, "hive"); err != nil {
			return err
		}
		return svc.Store.InsertGroup(ctx, tx, store.Group{ID: RootGroupID, Domain: RootGroupDomain, NameEN: "Root"})
	}); err != nil {
		t.Fatalf("seed root group: %v", err)
	}

	if err := svc.BootstrapRootManagerIfEmpty(ctx, "alice"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	n, err := svc.Store.CountCurrentRootManagers(ctx, svc.Store, RootGroupID, RootGroupDomain, svc.now(), "")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one root manager after bootstrap, got %d", n)
	}

	// A second login (by anyone) must not grant a second manager.
	if err := svc.BootstrapRootManagerIfEmpty(ctx, "bob"); err != nil {
		t.Fatalf("second bootstrap call: %v", err)
	}
	n, err = svc.Store.CountCurrentRootManagers(ctx, svc.Store, RootGroupID, RootGroupDomain, svc.now(), "")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected bootstrap to be a no-op once the root group has a manager, got %d managers", n)
	}
}

func TestCreateGroup_DuplicateKeyRejected(t *testing.T) {
	svc := newTestServices(t)
	grantRoot(t, svc, "alice")
	ctx := context.Background()
	caller := Caller{Username: "alice"}

	in := GroupInput{ID: "eng", Domain: "hive.internal", NameEN: "Engineering"}
	if err := svc.CreateGroup(ctx, caller, in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := svc.CreateGroup(ctx, caller, in); err == nil {
		t.Fatal("expected a duplicate group.key.duplicate error")
	}
}

func TestDeleteGroup_InternalDomainRefused(t *testing.T) {
	svc := newTestServices(t)
	grantRoot(t, svc, "alice")
	ctx := context.Background()
	caller := Caller{Username: "alice"}

	if err := svc.DeleteGroup(ctx, caller, RootGroupID, RootGroupDomain); err == nil {
		t.Fatal("expected a self-preservation refusal deleting a group in the internal domain")
	}
}

func TestCreatePermission_ThenDuplicateRejected(t *testing.T) {
	svc := newTestServices(t)
	grantRoot(t, svc, "alice")
	ctx := context.Background()
	caller := Caller{Username: "alice"}

	if err := svc.CreateSystem(ctx, caller, "demo", "demo system"); err != nil {
		t.Fatalf("create system: %v", err)
	}

	in := PermissionDefInput{SystemID: "demo", PermID: "read-widgets"}
	if err := svc.CreatePermission(ctx, caller, in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := svc.CreatePermission(ctx, caller, in); err == nil {
		t.Fatal("expected a permission.id.duplicate-in-system error")
	}
}

func TestDeletePermission_HiveSystemRefused(t *testing.T) {
	svc := newTestServices(t)
	grantRoot(t, svc, "alice")
	ctx := context.Background()
	caller := Caller{Username: "alice"}

	if err := svc.DeletePermission(ctx, caller, HiveSystemID, PermManageGroups); err == nil {
		t.Fatal("expected a self-preservation refusal touching a hive-system permission")
	}
}

func TestCreateTag_ThenDelete(t *testing.T) {
	svc := newTestServices(t)
	grantRoot(t, svc, "alice")
	ctx := context.Background()
	caller := Caller{Username: "alice"}

	if err := svc.CreateSystem(ctx, caller, "demo2", "demo system 2"); err != nil {
		t.Fatalf("create system: %v", err)
	}

	in := TagDefInput{SystemID: "demo2", TagID: "beta-tester", SupportsUsers: true}
	if err := svc.CreateTag(ctx, caller, in); err != nil {
		t.Fatalf("create tag: %v", err)
	}
	if err := svc.DeleteTag(ctx, caller, "demo2", "beta-tester"); err != nil {
		t.Fatalf("delete tag: %v", err)
	}
	if err := svc.DeleteTag(ctx, caller, "demo2", "beta-tester"); err == nil {
		t.Fatal("expected tag.unknown deleting an already-deleted tag")
	}
}
