package domain

import (
	"regexp"
	"testing"
	"time"
)

func TestNewOrderIDFormat(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	pattern := regexp.MustCompile(`^ORD-20260314-[A-Z0-9]{4}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		id := NewOrderID(now)
		if !pattern.MatchString(id) {
			t.Fatalf("order id %q does not match expected format", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("expected random suffixes, got %d distinct ids", len(seen))
	}
}

func TestManualRefRoundTrip(t *testing.T) {
	ref := NewManualRef()
	if !IsManualRef(ref) {
		t.Fatalf("synthesized ref %q not recognized as manual", ref)
	}
	if IsManualRef("gid://shopify/Order/12345") {
		t.Fatalf("commerce ref misclassified as manual")
	}
}

func TestStatusTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusPending:    false,
		StatusProcessing: false,
		StatusSucceeded:  true,
		StatusFailed:     true,
	}
	for s, want := range cases {
		if got := s.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", s, got, want)
		}
	}
	if Status("QUEUED").Valid() {
		t.Fatalf("unknown status reported valid")
	}
}
