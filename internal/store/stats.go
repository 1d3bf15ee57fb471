package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/msageha/refinery/internal/fsio"
	"github.com/msageha/refinery/internal/model"
)

// StatsFile persists SessionCounters across restarts. Writes are atomic;
// a failed write leaves the in-memory counters authoritative for the
// running process.
type StatsFile struct {
	path string
}

func NewStatsFile(path string) *StatsFile {
	return &StatsFile{path: path}
}

// Load reads persisted counters. A missing file yields zero counters and
// no error.
func (sf *StatsFile) Load() (model.SessionCounters, error) {
	var counters model.SessionCounters
	err := fsio.ReadYAML(sf.path, &counters)
	if os.IsNotExist(err) {
		return counters, nil
	}
	if err != nil {
		return counters, fmt.Errorf("load stats: %w", err)
	}
	return counters, nil
}

// Save writes counters atomically.
func (sf *StatsFile) Save(counters model.SessionCounters) error {
	if err := os.MkdirAll(filepath.Dir(sf.path), 0755); err != nil {
		return fmt.Errorf("create stats dir: %w", err)
	}
	if err := fsio.AtomicWriteYAML(sf.path, counters); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}
