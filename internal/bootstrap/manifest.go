package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const ManifestFileName = ".install.yaml"

// Manifest describes a completed install inside the packages directory.
type Manifest struct {
	Requirement string    `yaml:"requirement"`
	Strategy    string    `yaml:"strategy"`
	Runtime     string    `yaml:"runtime"`
	InstalledAt time.Time `yaml:"installed_at"`
}

var ErrNotInstalled = errors.New("dependency is not installed")

func writeManifest(dir string, m Manifest) error {
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("failed to encode install manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write install manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest from a packages directory. It returns
// ErrNotInstalled when no bootstrap has completed there.
func ReadManifest(packagesDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(packagesDir, ManifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInstalled
		}
		return nil, fmt.Errorf("failed to read install manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse install manifest: %w", err)
	}
	return &m, nil
}
