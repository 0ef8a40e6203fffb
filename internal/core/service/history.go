package service

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robynrox/evse-controller/internal/core/domain"
)

const (
	DefaultHistoryCapacity  = 300
	DefaultMinWriteInterval = 10 * time.Second

	halfHourSeconds = 1800
)

// HistoryRing keeps the most recent samples, oldest evicted first.
type HistoryRing struct {
	capacity int
	entries  []domain.HistoryEntry
}

func NewHistoryRing(capacity int) *HistoryRing {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &HistoryRing{capacity: capacity}
}

func (r *HistoryRing) Append(e domain.HistoryEntry) {
	if len(r.entries) == r.capacity {
		copy(r.entries, r.entries[1:])
		r.entries[len(r.entries)-1] = e
		return
	}
	r.entries = append(r.entries, e)
}

func (r *HistoryRing) Len() int {
	return len(r.entries)
}

// Snapshot returns a copy in chronological order.
func (r *HistoryRing) Snapshot() []domain.HistoryEntry {
	out := make([]domain.HistoryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// PowerSnapshot is the subset of a power sample kept across restarts
// for the half-hourly energy accounting.
type PowerSnapshot struct {
	UnixTime           int64   `json:"unix_time"`
	GridImportedJoules float64 `json:"grid_imported_joules"`
	GridExportedJoules float64 `json:"grid_exported_joules"`
	EvseImportedJoules float64 `json:"evse_imported_joules"`
	EvseExportedJoules float64 `json:"evse_exported_joules"`
}

// PersistentState is the durable controller state. Unknown JSON fields
// are ignored and missing fields keep their defaults, so older state
// files stay loadable.
type PersistentState struct {
	LastKnownSoC     int                   `json:"last_known_soc"`
	LastSoCTimestamp int64                 `json:"last_soc_timestamp"`
	LastPowerState   *PowerSnapshot        `json:"last_power_state,omitempty"`
	History          []domain.HistoryEntry `json:"history,omitempty"`
}

func DefaultPersistentState() PersistentState {
	return PersistentState{
		LastKnownSoC: domain.BatterySoCUnknown,
	}
}

// StateStore persists PersistentState as JSON, writing at most once
// per MinWriteInterval unless forced.
type StateStore struct {
	Path             string
	MinWriteInterval time.Duration
	Now              func() time.Time

	lastWrite time.Time
}

func NewStateStore(path string) *StateStore {
	return &StateStore{
		Path:             path,
		MinWriteInterval: DefaultMinWriteInterval,
		Now:              time.Now,
	}
}

// Load reads the state file, merging its contents over the defaults. A
// missing file is not an error.
func (s *StateStore) Load() (PersistentState, error) {
	state := DefaultPersistentState()
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return state, nil
		}
		return state, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		// a corrupt state file falls back to defaults
		return DefaultPersistentState(), nil
	}
	return state, nil
}

// Save writes the state if the throttle interval has passed or force
// is set. Returns true when a write happened.
func (s *StateStore) Save(state PersistentState, force bool) (bool, error) {
	now := s.Now()
	if !force && now.Sub(s.lastWrite) < s.MinWriteInterval {
		return false, nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return false, err
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return false, err
	}
	s.lastWrite = now
	return true, nil
}

// NextHalfHourBoundary returns the first half-hour boundary strictly
// after the given unix time.
func NextHalfHourBoundary(unix int64) int64 {
	return (unix + 1 + halfHourSeconds - 1) / halfHourSeconds * halfHourSeconds
}

// EnergyReport is the per-period energy accounting derived from the
// cumulative joule accumulators of two samples.
type EnergyReport struct {
	GridImportedWh float64
	GridExportedWh float64
	EvseImportedWh float64
	EvseExportedWh float64
}

// EnergyDelta computes watt-hours moved between two snapshots.
func EnergyDelta(from PowerSnapshot, to domain.PowerSample) EnergyReport {
	return EnergyReport{
		GridImportedWh: (to.GridImportedJoules - from.GridImportedJoules) / 3600,
		GridExportedWh: (to.GridExportedJoules - from.GridExportedJoules) / 3600,
		EvseImportedWh: (to.EvseImportedJoules - from.EvseImportedJoules) / 3600,
		EvseExportedWh: (to.EvseExportedJoules - from.EvseExportedJoules) / 3600,
	}
}

// SnapshotOf extracts the persisted subset of a sample.
func SnapshotOf(s domain.PowerSample) PowerSnapshot {
	return PowerSnapshot{
		UnixTime:           s.UnixTime,
		GridImportedJoules: s.GridImportedJoules,
		GridExportedJoules: s.GridExportedJoules,
		EvseImportedJoules: s.EvseImportedJoules,
		EvseExportedJoules: s.EvseExportedJoules,
	}
}
