package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/resgen/pkg/telemetry"
)

// DefaultPath is the settings file used when none is given.
const DefaultPath = "resgen.yaml"

//go:embed schema.cue
var settingsSchema string

// ErrNoFile is returned by Read when the settings file does not exist.
var ErrNoFile = errors.New("settings file does not exist")

// Manager loads the settings file. Files ending in .cue are evaluated
// against the #Settings schema; anything else is read as YAML.
type Manager struct {
	path   string
	logger *telemetry.Logger

	// mu serializes file regeneration.
	mu sync.Mutex
}

// NewManager creates a manager for the settings file at path.
func NewManager(path string, logger *telemetry.Logger) *Manager {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Manager{
		path:   path,
		logger: logger.NewComponentLogger("config"),
	}
}

// Path returns the settings file path.
func (m *Manager) Path() string {
	return m.path
}

// Load returns the current settings and never fails. A missing or
// unparsable file is replaced by the defaults. Settings that parse but fail
// validation are reported and the defaults are used without touching the file.
func (m *Manager) Load() *Settings {
	settings, err := m.Read()
	if err == nil {
		return settings
	}

	var invalid *ValidationError
	if errors.As(err, &invalid) {
		m.logger.WithError(err).Warnf("Invalid settings in %s, using defaults", m.path)
		return Defaults()
	}

	if errors.Is(err, ErrNoFile) {
		m.logger.Infof("Settings file %s not found, creating defaults", m.path)
	} else {
		m.logger.WithError(err).Warnf("Failed to load settings from %s, regenerating defaults", m.path)
	}
	if err := m.Regenerate(); err != nil {
		m.logger.WithError(err).Error("Failed to regenerate settings file")
	}
	return Defaults()
}

// Read loads and validates the settings file without any fallback.
func (m *Manager) Read() (*Settings, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", m.path, ErrNoFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings *Settings
	if isCUE(m.path) {
		settings, err = parseCUE(m.path, data)
	} else {
		settings, err = parseYAML(m.path, data)
	}
	if err != nil {
		return nil, err
	}

	if err := settings.Validate(); err != nil {
		return nil, &ValidationError{Path: m.path, Err: err}
	}
	return settings, nil
}

// Regenerate overwrites the settings file with the defaults.
func (m *Manager) Regenerate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := Marshal(m.path, Defaults())
	if err != nil {
		return err
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	m.logger.Infof("Wrote default settings to %s", m.path)
	return nil
}

// Marshal encodes settings in the format implied by path. CUE files are
// written as JSON, which is valid CUE.
func Marshal(path string, settings *Settings) ([]byte, error) {
	if isCUE(path) {
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode settings: %w", err)
		}
		return append(data, '\n'), nil
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return data, nil
}

// ValidationError reports settings that parsed but did not validate.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func isCUE(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".cue")
}

// parseYAML decodes data over the defaults so omitted keys keep their default.
func parseYAML(path string, data []byte) (*Settings, error) {
	settings := Defaults()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings YAML %s: %w", path, err)
	}
	return settings, nil
}

// parseCUE unifies data with the #Settings schema, which supplies defaults
// and rejects unknown fields.
func parseCUE(path string, data []byte) (*Settings, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(settingsSchema, cue.Filename("schema.cue"))
	if schema.Err() != nil {
		return nil, fmt.Errorf("failed to compile settings schema: %w", schema.Err())
	}
	def := schema.LookupPath(cue.ParsePath("#Settings"))

	val := ctx.CompileBytes(data, cue.Filename(path))
	if val.Err() != nil {
		return nil, fmt.Errorf("failed to parse settings CUE %s: %w", path, val.Err())
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}

	var settings Settings
	if err := unified.Decode(&settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings %s: %w", path, err)
	}
	return &settings, nil
}
