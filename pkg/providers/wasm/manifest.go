package wasm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the optional YAML file next to a module, named <module>.yaml.
type Manifest struct {
	// Description is shown when providers are listed.
	Description string `yaml:"description"`

	// MemoryLimitPages overrides the host memory limit (64KiB pages).
	MemoryLimitPages uint32 `yaml:"memory_limit_pages,omitempty"`

	// Checksum is the hex SHA-256 digest the module must match.
	Checksum string `yaml:"checksum,omitempty"`
}

// LoadManifest reads the manifest at path. A missing file yields an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML %s: %w", path, err)
	}
	return &m, nil
}

// VerifyChecksum verifies the module against the manifest checksum, if one is set.
func (m *Manifest) VerifyChecksum(module []byte) error {
	if m.Checksum == "" {
		return nil
	}

	hash := sha256.Sum256(module)
	actual := hex.EncodeToString(hash[:])
	if actual != m.Checksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", m.Checksum, actual)
	}
	return nil
}
