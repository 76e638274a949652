// Package state persists the daemon's record of which process backs which
// instance. The snapshot is a JSON file replaced atomically after every
// reconciliation pass and re-validated against the process table on startup.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/proxyworld/pkg/process"
	"github.com/cuemby/proxyworld/pkg/types"
	"github.com/google/uuid"
)

// FileName is the snapshot file inside the data directory
const FileName = "state.json"

// InstanceRecord is what the daemon knows about one running instance
type InstanceRecord struct {
	Name      string              `json:"name,omitempty"`
	Process   process.Identity    `json:"process"`
	Config    *types.EngineConfig `json:"config"`
	AppliedAt time.Time           `json:"appliedAt"`
}

// RuntimeState maps instance ids to their records. The key set is exactly the
// set of instances believed to be running.
type RuntimeState map[uuid.UUID]InstanceRecord

// IDs returns the instance ids in a stable order
func (s RuntimeState) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Clone returns a shallow copy; records themselves are never mutated
func (s RuntimeState) Clone() RuntimeState {
	out := make(RuntimeState, len(s))
	for id, rec := range s {
		out[id] = rec
	}
	return out
}

type snapshot struct {
	Version   int          `json:"version"`
	SavedAt   time.Time    `json:"savedAt"`
	Instances RuntimeState `json:"instances"`
}

const snapshotVersion = 1

// Load reads the snapshot at path. A missing file is an empty state. An
// unreadable or corrupt file also yields an empty state, together with the
// error so the caller can log it.
func Load(path string) (RuntimeState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return RuntimeState{}, nil
	}
	if err != nil {
		return RuntimeState{}, fmt.Errorf("failed to read state: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return RuntimeState{}, fmt.Errorf("failed to parse state: %w", err)
	}
	if snap.Version != snapshotVersion {
		return RuntimeState{}, fmt.Errorf("unsupported state version %d", snap.Version)
	}
	if snap.Instances == nil {
		snap.Instances = RuntimeState{}
	}
	return snap.Instances, nil
}

// Save writes s to path through a temporary file and rename
func Save(path string, s RuntimeState) error {
	if s == nil {
		s = RuntimeState{}
	}
	data, err := json.MarshalIndent(snapshot{
		Version:   snapshotVersion,
		SavedAt:   time.Now().UTC(),
		Instances: s,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace state: %w", err)
	}
	return nil
}
