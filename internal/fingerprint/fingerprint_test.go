package fingerprint

import "testing"

func TestSumDeterministic(t *testing.T) {
	a := Sum("週報の出し方を教えてください")
	b := Sum("週報の出し方を教えてください")
	if a == "" || a != b {
		t.Fatalf("expected stable fingerprint, got %q and %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
}

func TestSumDistinguishesContent(t *testing.T) {
	if Sum("how do i reset my password") == Sum("how do i reset my token") {
		t.Fatalf("different content must not collide")
	}
}

func TestSumEmpty(t *testing.T) {
	if Sum("") != "" {
		t.Fatalf("empty input must yield empty fingerprint")
	}
}
