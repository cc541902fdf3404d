package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/resgen/pkg/logsink"
)

// Settings is the resgen settings file.
type Settings struct {
	// OutputPath is the directory providers write their artifacts into.
	OutputPath string `json:"output_path" yaml:"output_path" validate:"required"`

	// LogGeneration enables persisting the log of each operation.
	LogGeneration bool `json:"log_generation" yaml:"log_generation"`

	// LogFile is the file name the operation log is saved under.
	LogFile string `json:"log_file" yaml:"log_file" validate:"required"`

	// LogDir is the local directory LogFile is written to.
	LogDir string `json:"log_dir" yaml:"log_dir" validate:"required"`

	// ScriptDirs are searched in order for Starlark providers.
	ScriptDirs []string `json:"script_dirs" yaml:"script_dirs" validate:"dive,required"`

	// WasmDirs are searched in order for WebAssembly providers.
	WasmDirs []string `json:"wasm_dirs" yaml:"wasm_dirs" validate:"dive,required"`

	// PolicyPath is an optional Rego file gating provider runs.
	PolicyPath string `json:"policy_path,omitempty" yaml:"policy_path,omitempty"`

	// HistoryPath is the SQLite run history database. Empty disables history.
	HistoryPath string `json:"history_path,omitempty" yaml:"history_path,omitempty"`

	// RemoteLog additionally copies persisted logs to a host over SFTP.
	RemoteLog *RemoteLog `json:"remote_log,omitempty" yaml:"remote_log,omitempty" validate:"omitempty"`
}

// RemoteLog describes the SFTP destination of persisted logs.
type RemoteLog struct {
	Host       string `json:"host" yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User       string `json:"user" yaml:"user" validate:"required"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	KeyPath    string `json:"key_path,omitempty" yaml:"key_path,omitempty"`
	KnownHosts string `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`
	Dir        string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// KeyPassphrase decrypts KeyPath when the key is encrypted.
	KeyPassphrase string `json:"key_passphrase,omitempty" yaml:"key_passphrase,omitempty" validate:"excluded_without=KeyPath"`
}

// SFTPConfig converts the settings into a logsink.SFTPConfig.
func (r *RemoteLog) SFTPConfig() logsink.SFTPConfig {
	dir := r.Dir
	if dir == "" {
		dir = "."
	}
	return logsink.SFTPConfig{
		Host:           r.Host,
		Port:           r.Port,
		User:           r.User,
		Password:       r.Password,
		KeyPath:        r.KeyPath,
		KeyPassphrase:  r.KeyPassphrase,
		KnownHostsPath: r.KnownHosts,
		Dir:            dir,
		Timeout:        30 * time.Second,
	}
}

// Defaults returns the settings used when no valid file is available.
func Defaults() *Settings {
	return &Settings{
		OutputPath:    "generated",
		LogGeneration: false,
		LogFile:       "resgen.log",
		LogDir:        ".",
		ScriptDirs:    []string{filepath.Join("providers", "scripts")},
		WasmDirs:      []string{filepath.Join("providers", "wasm")},
		HistoryPath:   filepath.Join(".resgen", "history.db"),
	}
}

// LogPath returns the full path of the local log file.
func (s *Settings) LogPath() string {
	return filepath.Join(s.LogDir, s.LogFile)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings against their struct constraints.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if filepath.Base(s.LogFile) != s.LogFile {
		return fmt.Errorf("invalid settings: log_file %q must be a file name", s.LogFile)
	}
	if s.RemoteLog != nil && s.RemoteLog.Password == "" && s.RemoteLog.KeyPath == "" {
		return fmt.Errorf("invalid settings: remote_log requires password or key_path")
	}
	return nil
}
