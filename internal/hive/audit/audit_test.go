package audit

import "testing"

func TestFieldDiff_OnlyChangedFieldsAppear(t *testing.T) {
	before := map[string]any{"name_en": "Old Name", "name_sv": "Gammalt Namn"}
	after := map[string]any{"name_en": "New Name", "name_sv": "Gammalt Namn"}

	d := FieldDiff(before, after)

	if _, ok := d.New["name_sv"]; ok {
		t.Error("unchanged field name_sv should not appear in New")
	}
	if got := d.New["name_en"]; got != "New Name" {
		t.Errorf("New[name_en] = %v, want New Name", got)
	}
	if got := d.Old["name_en"]; got != "Old Name" {
		t.Errorf("Old[name_en] = %v, want Old Name", got)
	}
}

func TestFieldDiff_NoChangesYieldsEmptyDetails(t *testing.T) {
	same := map[string]any{"a": 1}
	d := FieldDiff(same, same)
	if d.Old != nil || d.New != nil {
		t.Errorf("expected empty Details for no-op diff, got %+v", d)
	}
}
