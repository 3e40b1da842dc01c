package canon

import "testing"

func TestKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2025-09-01T12:00:00Z", "2025-09-01T12:00:00"},
		{"  2025-09-01T12:00:00Z  ", "2025-09-01T12:00:00"},
		{"2025-09-01T12:00:00.123456789Z", "2025-09-01T12:00:00.123"},
		{"2025-09-01T12:00:00.1Z", "2025-09-01T12:00:00.1"},
		{"2025-09-01T12:00:00", "2025-09-01T12:00:00"},
		{"not-a-date", "not-a-date"},
	}
	for _, c := range cases {
		if got := Key(c.in); got != c.want {
			t.Errorf("Key(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestKeyIdempotent(t *testing.T) {
	// Canonicalizing an already-canonical key must be a fixed point
	// (spec.md §8 idempotence invariant, applied at the key level).
	in := "2025-09-01T12:00:00.123456Z"
	once := Key(in)
	twice := Key(once)
	if once != twice {
		t.Fatalf("Key is not idempotent: %q vs %q", once, twice)
	}
}
