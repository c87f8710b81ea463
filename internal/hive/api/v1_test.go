package api

import (
	"testing"

	"github.com/datasektionen/hive-sub000/internal/hive/resolver"
)

func TestTaggedUserRow_ImplementsIdentifiable(t *testing.T) {
	var _ resolver.Identifiable = &taggedUserRow{}

	row := taggedUserRow{User: "alice"}
	if row.Username() != "alice" {
		t.Fatalf("got %q, want alice", row.Username())
	}
	row.SetDisplayName("Alice Andersson")
	if row.DisplayName != "Alice Andersson" {
		t.Fatalf("got %q", row.DisplayName)
	}
}

func TestTaggedUserRows_AsIdentifiable_SharesBackingArray(t *testing.T) {
	rows := taggedUserRows{{User: "alice"}, {User: "bob"}}
	ids := rows.asIdentifiable()
	ids[0].SetDisplayName("Alice Andersson")
	if rows[0].DisplayName != "Alice Andersson" {
		t.Fatalf("expected mutation through the interface to reach the backing slice, got %q", rows[0].DisplayName)
	}
}
