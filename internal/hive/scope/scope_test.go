package scope

import "testing"

func TestDominates(t *testing.T) {
	contentA := "a"
	contentB := "b"

	tests := []struct {
		name     string
		held     Scope
		required Scope
		want     bool
	}{
		{"wildcard dominates concrete", Wildcard(), Concrete("sys-a"), true},
		{"wildcard dominates domain", Wildcard(), Domain("kth.se"), true},
		{"concrete equals concrete", Concrete("sys-a"), Concrete("sys-a"), true},
		{"concrete mismatch", Concrete("sys-a"), Concrete("sys-b"), false},
		{"concrete does not dominate wildcard", Concrete("sys-a"), Wildcard(), false},
		{"domain equals domain", Domain("kth.se"), Domain("kth.se"), true},
		{"domain mismatch", Domain("kth.se"), Domain("chalmers.se"), false},
		{"tag equal, no content", Tag("staff", nil), Tag("staff", nil), true},
		{"tag equal with content", Tag("staff", &contentA), Tag("staff", &contentA), true},
		{"tag content mismatch", Tag("staff", &contentA), Tag("staff", &contentB), false},
		{"tag content presence mismatch", Tag("staff", nil), Tag("staff", &contentA), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.held.Dominates(tt.required); got != tt.want {
				t.Errorf("Dominates(%s, %s) = %v, want %v", tt.held, tt.required, got, tt.want)
			}
		})
	}
}

func TestParseAndString(t *testing.T) {
	tests := []struct {
		raw string
	}{
		{"*"},
		{"@kth.se"},
		{"#hive:staff"},
		{"#hive:staff:chapter-board"},
		{"sys-a"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			s, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got := s.String(); got != tt.raw {
				t.Errorf("round-trip: Parse(%q).String() = %q", tt.raw, got)
			}
		})
	}
}

func TestParse_TagScopeStripsHivePrefixNotFirstColon(t *testing.T) {
	s, err := Parse("#hive:staff")
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", "#hive:staff", err)
	}
	if got := s.TagID(); got != "staff" {
		t.Errorf("TagID() = %q, want %q", got, "staff")
	}
	if s.Content() != nil {
		t.Errorf("Content() = %q, want nil", *s.Content())
	}
}

func TestParse_TagScopeMissingHivePrefix(t *testing.T) {
	if _, err := Parse("#staff"); err == nil {
		t.Fatal("expected Parse to reject a tag scope missing the hive: prefix")
	}
}

func TestSatisfies(t *testing.T) {
	wc := Wildcard()
	tests := []struct {
		name     string
		held     HeldPermission
		required HeldPermission
		want     bool
	}{
		{"unscoped self", Unscoped("view-logs"), Unscoped("view-logs"), true},
		{"unscoped, required scoped", Unscoped("view-logs"), Scoped("view-logs", Concrete("x")), false},
		{"scoped wildcard satisfies concrete", Scoped("manage-system", wc), Scoped("manage-system", Concrete("sys-a")), true},
		{"different perm id", Scoped("manage-system", wc), Scoped("manage-perms", Concrete("sys-a")), false},
		{"concrete held, required unscoped", Scoped("manage-system", Concrete("sys-a")), Unscoped("manage-system"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Satisfies(tt.held, tt.required); got != tt.want {
				t.Errorf("Satisfies() = %v, want %v", got, tt.want)
			}
		})
	}
}
