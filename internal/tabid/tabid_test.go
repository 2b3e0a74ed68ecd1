package tabid

import (
	"strings"
	"testing"
)

func TestCurrent_StableForProcessLifetime(t *testing.T) {
	first := Current()
	if first == "" {
		t.Fatalf("Current() = %q; want non-empty", first)
	}
	for i := 0; i < 5; i++ {
		if got := Current(); got != first {
			t.Fatalf("Current() = %q; want stable %q", got, first)
		}
	}
}

func TestGenerate_Format(t *testing.T) {
	id := generate()
	if !strings.HasPrefix(id, "tab-") {
		t.Fatalf("generate() = %q; want tab- prefix", id)
	}
	if generate() == generate() {
		t.Fatalf("generate() produced duplicate identities")
	}
}
