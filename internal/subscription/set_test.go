package subscription

import "testing"

func TestAddIsIdempotent(t *testing.T) {
	s := New()
	first := s.Add("BTCUSDT")
	second := s.Add("BTCUSDT")

	if !first {
		t.Fatal("expected first add to report true")
	}
	if second {
		t.Fatal("expected second add to report false")
	}
	if len(s.Symbols()) != 1 {
		t.Fatalf("expected a single membership, got %d", len(s.Symbols()))
	}
}

func TestContains(t *testing.T) {
	s := New()
	if s.Contains("BTCUSDT") {
		t.Fatal("expected no membership before add")
	}
	s.Add("BTCUSDT")
	if !s.Contains("BTCUSDT") {
		t.Fatal("expected membership after add")
	}
}

func TestSymbolsSnapshotIndependence(t *testing.T) {
	s := New()
	s.Add("BTCUSDT")
	snap := s.Symbols()
	s.Add("ETHUSDT")

	if len(snap) != 1 {
		t.Fatalf("snapshot must not observe later adds, got %d entries", len(snap))
	}
}
