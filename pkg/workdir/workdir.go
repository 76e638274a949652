package workdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

const (
	// InstancesDir is the directory under the data dir holding instance dirs
	InstancesDir = "instances"

	ConfigFileName = "config.yaml"
	LogFileName    = "engine.log"
	GeoDBFileName  = "Country.mmdb"
)

// Manager owns the per-instance working directories
type Manager struct {
	basePath string
	geoDB    string
}

// New creates the instances directory under dataDir. geoDB, when set, is
// linked into every prepared instance directory.
func New(dataDir, geoDB string) (*Manager, error) {
	basePath := filepath.Join(dataDir, InstancesDir)
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create instances directory: %w", err)
	}
	if geoDB != "" {
		abs, err := filepath.Abs(geoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve geo database path: %w", err)
		}
		geoDB = abs
	}
	return &Manager{basePath: basePath, geoDB: geoDB}, nil
}

// Path returns the working directory of an instance
func (m *Manager) Path(id uuid.UUID) string {
	return filepath.Join(m.basePath, id.String())
}

// ConfigPath returns the engine config file of an instance
func (m *Manager) ConfigPath(id uuid.UUID) string {
	return filepath.Join(m.Path(id), ConfigFileName)
}

// LogPath returns the engine log file of an instance
func (m *Manager) LogPath(id uuid.UUID) string {
	return filepath.Join(m.Path(id), LogFileName)
}

// Prepare creates the instance directory, writes config and links the geo
// database. It is safe to call on an existing directory.
func (m *Manager) Prepare(id uuid.UUID, config []byte) error {
	dir := m.Path(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create instance directory: %w", err)
	}
	if err := m.WriteConfig(id, config); err != nil {
		return err
	}
	if m.geoDB != "" {
		if err := m.linkGeoDB(dir); err != nil {
			return err
		}
	}
	return nil
}

// WriteConfig replaces the config file through a temporary file and rename so
// the engine never reads a partial document
func (m *Manager) WriteConfig(id uuid.UUID, config []byte) error {
	dir := m.Path(id)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(config); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.ConfigPath(id)); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

func (m *Manager) linkGeoDB(dir string) error {
	link := filepath.Join(dir, GeoDBFileName)
	if target, err := os.Readlink(link); err == nil {
		if target == m.geoDB {
			return nil
		}
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("failed to replace geo database link: %w", err)
		}
	} else if _, statErr := os.Lstat(link); statErr == nil {
		// a regular file placed by the engine itself is left alone
		return nil
	}
	if err := os.Symlink(m.geoDB, link); err != nil {
		return fmt.Errorf("failed to link geo database: %w", err)
	}
	return nil
}

// Remove deletes an instance directory
func (m *Manager) Remove(id uuid.UUID) error {
	dir := m.Path(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete instance directory: %w", err)
	}
	return nil
}

// List returns the ids of every instance directory on disk
func (m *Manager) List() ([]uuid.UUID, error) {
	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list instance directories: %w", err)
	}
	var ids []uuid.UUID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := uuid.Parse(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}
