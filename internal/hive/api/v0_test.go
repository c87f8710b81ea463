package api

import (
	"reflect"
	"testing"

	"github.com/datasektionen/hive-sub000/internal/hive/scope"
)

func TestV0PermKeys_UnscopedAndScoped(t *testing.T) {
	wildcard := scope.Wildcard()
	held := []scope.HeldPermission{
		scope.Unscoped("read-logs"),
		scope.Scoped("manage-groups", wildcard),
	}
	got := v0PermKeys(held)
	want := []string{"manage-groups:*", "read-logs"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestV0Check_SplitsOnFirstColonOnly(t *testing.T) {
	// "p:x:y:z" must parse as perm id "p" with scope "x:y:z", not split
	// repeatedly — boundary scenario 2 of the testable properties.
	if id, sc := splitPermKey("p"); id != "p" || sc != "" {
		t.Fatalf("unscoped key: got permID=%q scope=%q", id, sc)
	}
	permID, rest := splitPermKey("p:x:y:z")
	if permID != "p" || rest != "x:y:z" {
		t.Fatalf("got permID=%q rest=%q", permID, rest)
	}
}
