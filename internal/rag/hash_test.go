package rag

import "testing"

func TestContentHash(t *testing.T) {
	t.Parallel()
	a := ContentHash("https://s.com/pages/a", "hello")
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64", len(a))
	}
	if a != ContentHash("https://s.com/pages/a", "hello") {
		t.Error("hash is not deterministic")
	}
	if a == ContentHash("https://s.com/pages/b", "hello") {
		t.Error("same text on different pages must hash differently")
	}
	if a == ContentHash("https://s.com/pages/a", "hello!") {
		t.Error("different text must hash differently")
	}
	// The separator keeps "ab"+"c" and "a"+"bc" apart.
	if ContentHash("ab", "c") == ContentHash("a", "bc") {
		t.Error("url/content boundary is ambiguous")
	}
}

func TestContentHash_KnownValue(t *testing.T) {
	t.Parallel()
	const want = "4c484ebea8931a69bed1fba92ef995e17b5d2dd06aac5c9eff5fd24fd812d152"
	if got := ContentHash("https://s.com/pages/a", "hello"); got != want {
		t.Errorf("ContentHash = %s, want %s", got, want)
	}
}

func TestPointID_DeterministicUUID(t *testing.T) {
	t.Parallel()
	h := ContentHash("https://s.com/pages/a", "hello")
	id := PointID(h)
	if id != PointID(h) {
		t.Error("point ID is not deterministic")
	}
	if len(id) != 36 {
		t.Errorf("point ID %q is not a UUID", id)
	}
	if id == PointID(ContentHash("https://s.com/pages/a", "bye")) {
		t.Error("distinct hashes mapped to the same point")
	}
}
