package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/glennswest/leafroute/pkg/fabric/protocol"
)

// Record is what the Store persists: the last report and the plan it was
// computed from.
type Record struct {
	Report *RunResult     `yaml:"report"`
	Plan   *protocol.Plan `yaml:"plan,omitempty"`
}

// Store keeps the last run in memory and mirrors it to a YAML file when a
// path is set.
type Store struct {
	mu   sync.RWMutex
	path string
	data Record
}

// NewStore returns a Store writing to path. An empty path keeps the record
// in memory only.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the record left by a previous process. A missing file is not
// an error.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var rec Record
	if err := yaml.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("parsing run report: %w", err)
	}

	s.mu.Lock()
	s.data = rec
	s.mu.Unlock()
	return nil
}

// Save records a finished run and writes it out.
func (s *Store) Save(res *RunResult, plan *protocol.Plan) error {
	s.mu.Lock()
	s.data = Record{Report: res, Plan: plan}
	s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	raw, err := yaml.Marshal(&s.data)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling run report: %w", err)
	}

	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		return fmt.Errorf("writing run report to %s: %w", s.path, err)
	}
	return nil
}

// Last returns the last report, or nil before the first run.
func (s *Store) Last() *RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Report
}

// Plan returns the plan of the last run, or nil.
func (s *Store) Plan() *protocol.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Plan
}
