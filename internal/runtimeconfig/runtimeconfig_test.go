package runtimeconfig

import "testing"

func TestStore_DefaultsWhenEmpty(t *testing.T) {
	s := New(nil)

	if got := s.String("missing", "fallback"); got != "fallback" {
		t.Errorf("expected fallback string, got %q", got)
	}
	if got := s.Int("missing", 42); got != 42 {
		t.Errorf("expected fallback int 42, got %d", got)
	}
	if got := s.Uint64("missing", 7); got != 7 {
		t.Errorf("expected fallback uint64 7, got %d", got)
	}
	if got := s.Bool("missing", true); got != true {
		t.Errorf("expected fallback bool true, got %v", got)
	}
}

func TestStore_ReadsPopulatedEntries(t *testing.T) {
	s := New(nil)
	s.entries["bloom_fp_rate"] = Entry{Key: "bloom_fp_rate", Value: "0.001"}
	s.entries["max_retries"] = Entry{Key: "max_retries", Value: "5"}
	s.entries["feature_enabled"] = Entry{Key: "feature_enabled", Value: "true"}

	if got := s.String("bloom_fp_rate", ""); got != "0.001" {
		t.Errorf("expected 0.001, got %q", got)
	}
	if got := s.Int("max_retries", 0); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
	if got := s.Bool("feature_enabled", false); got != true {
		t.Errorf("expected true, got %v", got)
	}
}

func TestStore_UnparseableValueFallsBackToDefault(t *testing.T) {
	s := New(nil)
	s.entries["bad_int"] = Entry{Key: "bad_int", Value: "not-a-number"}

	if got := s.Int("bad_int", 99); got != 99 {
		t.Errorf("expected fallback 99 for unparseable value, got %d", got)
	}
}
