package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/msageha/refinery/internal/model"
)

func TestStatsFile_MissingFileYieldsZeroCounters(t *testing.T) {
	sf := NewStatsFile(filepath.Join(t.TempDir(), "stats.yml"))

	counters, err := sf.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if counters != (model.SessionCounters{}) {
		t.Errorf("expected zero counters, got %+v", counters)
	}
}

func TestStatsFile_SaveLoadRoundTrip(t *testing.T) {
	sf := NewStatsFile(filepath.Join(t.TempDir(), "stats.yml"))

	in := model.SessionCounters{
		TotalSubmissions:        42,
		TotalAcceptances:        21,
		TotalRejections:         21,
		CleanupReviewsPerformed: 3,
		RemovalsProposed:        2,
		RemovalsExecuted:        1,
	}
	if err := sf.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := sf.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestStatsFile_SaveCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	sf := NewStatsFile(filepath.Join(dir, "nested", "stats.yml"))

	if err := sf.Save(model.SessionCounters{TotalSubmissions: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested", "stats.yml")); err != nil {
		t.Errorf("stats file not created: %v", err)
	}
}
