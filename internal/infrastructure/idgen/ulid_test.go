package idgen

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestULIDGenerator(t *testing.T) {
	g := NewULIDGenerator()

	first := g.Generate()
	second := g.Generate()

	if first == second {
		t.Fatalf("expected unique ids, got %s twice", first)
	}
	if _, err := ulid.Parse(first); err != nil {
		t.Fatalf("expected a valid ULID, got %q: %v", first, err)
	}
	if second < first {
		t.Fatalf("expected monotonically sortable ids, got %s after %s", second, first)
	}
}
