package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNew_UniqueAndParseable(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = true
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("not a UUID: %s", id)
		}
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("run_", Default)
	id := gen()
	if !strings.HasPrefix(id, "run_") {
		t.Errorf("got %q", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "run_")); err != nil {
		t.Errorf("suffix not a UUID: %s", id)
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	// WHY: Run-log rows are ordered by ID; v7 embeds a timestamp.
	gen := UUIDv7()
	a, b := gen(), gen()
	if !(a < b) {
		t.Errorf("expected %s < %s", a, b)
	}
}
