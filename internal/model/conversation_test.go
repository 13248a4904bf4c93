package model

import (
	"errors"
	"testing"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("b2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if lvl != LevelB2 {
		t.Errorf("expected B2, got %s", lvl)
	}

	if _, err := ParseLevel("D1"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := ParseLevel(""); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for empty level, got %v", err)
	}
}

func TestMatchTopics(t *testing.T) {
	got := MatchTopics("My FAMILY loves travel and good food", DefaultTopics)
	want := []string{"family", "travel", "food"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if topics := MatchTopics("nothing relevant here", DefaultTopics); len(topics) != 0 {
		t.Errorf("expected no topics, got %v", topics)
	}
}
