package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	sweepFile = "sweep.json"
)

// SweepState is the persisted position of the consolidation sweep. Sweeps
// page through the store by cursor; persisting the cursor lets a restarted
// process resume without rescanning from the beginning.
type SweepState struct {
	// Cursor is the store cursor the next sweep batch starts after.
	// Empty means the scan starts (or wrapped) at the beginning.
	Cursor string `json:"cursor"`

	// UpdatedAt is when the cursor was last advanced.
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadSweepState loads the sweep state from a target .engram/sweep.json.
// Returns nil, nil if no state exists (a fresh scan).
// If overrideDir is non-empty, it is used instead of the default location.
func (m *Manager) LoadSweepState(overrideDir string) (*SweepState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, sweepFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sweep state: %w", err)
	}

	state := &SweepState{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing sweep state: %w", err)
	}

	return state, nil
}

// SaveSweepState persists the sweep state to a target .engram/sweep.json.
func (m *Manager) SaveSweepState(state *SweepState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil sweep state")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sweep state: %w", err)
	}

	path := filepath.Join(dir, sweepFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing sweep state: %w", err)
	}

	return nil
}

// ClearSweepState removes the sweep state file so the next sweep starts a
// fresh scan. Returns nil if the file doesn't exist (already cleared).
func (m *Manager) ClearSweepState(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, sweepFile)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing sweep state: %w", err)
	}

	return nil
}
