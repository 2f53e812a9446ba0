package main

import (
	"testing"

	"github.com/0mdb/robot-buddy/internal/transport"
)

func TestLastMoodNameDefaultsToNeutral(t *testing.T) {
	f := newFaceAdapter(transport.New(transport.Config{}, nil), nil)
	if got := f.LastMoodName(); got != "neutral" {
		t.Fatalf("expected default mood neutral, got %q", got)
	}
}

func TestLastMoodNameTracksSetMood(t *testing.T) {
	f := newFaceAdapter(transport.New(transport.Config{}, nil), nil)
	f.SetMood("excited", 0.8)
	if got := f.LastMoodName(); got != "excited" {
		t.Fatalf("expected excited, got %q", got)
	}
}

func TestSetMoodIgnoresUnknownEmotion(t *testing.T) {
	f := newFaceAdapter(transport.New(transport.Config{}, nil), nil)
	f.SetMood("excited", 0.8)
	f.SetMood("not-a-real-emotion", 0.5)
	if got := f.LastMoodName(); got != "excited" {
		t.Fatalf("expected unknown emotion to leave prior mood untouched, got %q", got)
	}
}
