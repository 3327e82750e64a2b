package xid

import "testing"

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := New("rh")
		if !Valid("rh", id) {
			t.Fatalf("expected valid rh id, got %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}

	if Valid("audit", New("rh")) {
		t.Fatalf("expected prefix mismatch to be invalid")
	}
	if Valid("rh", "rh-not-a-uuid") {
		t.Fatalf("expected malformed suffix to be invalid")
	}
}
