package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix(PrefixTransaction)
	if !strings.HasPrefix(id, "txn_") {
		t.Fatalf("expected txn_ prefix, got %s", id)
	}
	if len(id) != len("txn_")+32 {
		t.Errorf("unexpected length %d for %s", len(id), id)
	}
	if !Valid(PrefixTransaction, id) {
		t.Errorf("Valid rejected generated id %s", id)
	}
	if Valid(PrefixSession, id) {
		t.Error("Valid accepted id with wrong prefix")
	}
}

func TestUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix(PrefixEvent)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestHex(t *testing.T) {
	if got := Hex(8); len(got) != 16 {
		t.Errorf("Hex(8) length = %d, want 16", len(got))
	}
}
