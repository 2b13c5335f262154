// Package config loads named provider settings from YAML.
//
// Config file locations (priority order):
//  1. $POLYORM_CONFIG
//  2. ./polyorm.yaml
//  3. $XDG_CONFIG_HOME/polyorm/config.yaml
//  4. ~/.config/polyorm/config.yaml
//
// Connection strings may reference the environment as ${VAR}. After parsing,
// POLYORM_PROVIDER selects the default entry, POLYORM_LOG_LEVEL replaces the
// log level and POLYORM_<NAME>_DSN replaces the connection string of entry
// NAME (upper-cased, '-' mapped to '_').
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	orm "github.com/medatechnology/polyorm"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "POLYORM_CONFIG"
	EnvProvider     = "POLYORM_PROVIDER"
	EnvLogLevel     = "POLYORM_LOG_LEVEL"
	ConfigFileName  = "polyorm.yaml"
	ConfigDirName   = "polyorm"
	DefaultProvider = "sqlite"
)

var (
	ErrNoProviders     = errors.New("config: no providers configured")
	ErrUnknownProvider = errors.New("config: unknown provider entry")
)

// ProviderSettings names one connection. Provider is the registry name of the
// implementation; Name is how callers refer to this entry.
type ProviderSettings struct {
	Name             string `yaml:"name"`
	Provider         string `yaml:"provider"`
	ConnectionString string `yaml:"connection_string"`
}

type Settings struct {
	DefaultProvider string             `yaml:"default_provider"`
	LogLevel        string             `yaml:"log_level"`
	Providers       []ProviderSettings `yaml:"providers"`
}

// DefaultSettings is a single private in-memory sqlite database.
func DefaultSettings() *Settings {
	return &Settings{
		DefaultProvider: DefaultProvider,
		LogLevel:        orm.LogLevelInfo.String(),
		Providers:       []ProviderSettings{{Name: DefaultProvider, Provider: DefaultProvider}},
	}
}

// Load finds and loads the config file, or returns defaults if none found.
// The second result is the path that was read.
func Load() (*Settings, string, error) {
	path := FindConfigPath()
	if path == "" {
		s := DefaultSettings()
		s.applyEnv(os.LookupEnv)
		return s, "", s.Validate()
	}
	return LoadFromPath(path)
}

func LoadFromPath(path string) (*Settings, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}
	s, err := Parse(data)
	return s, path, err
}

// Parse expands ${VAR} references, decodes data, applies environment
// overrides and validates the result.
func Parse(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &s); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	s.applyEnv(os.LookupEnv)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save writes the settings to path as YAML.
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate fills defaults and reports the first inconsistency.
func (s *Settings) Validate() error {
	if len(s.Providers) == 0 {
		return ErrNoProviders
	}
	if s.LogLevel == "" {
		s.LogLevel = orm.LogLevelInfo.String()
	}
	if _, err := orm.ParseLogLevel(s.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	seen := make(map[string]bool, len(s.Providers))
	for i := range s.Providers {
		p := &s.Providers[i]
		if p.Provider == "" {
			p.Provider = p.Name
		}
		if p.Name == "" {
			p.Name = p.Provider
		}
		if p.Name == "" {
			return fmt.Errorf("config: providers[%d] has neither name nor provider", i)
		}
		key := strings.ToLower(p.Name)
		if seen[key] {
			return fmt.Errorf("config: duplicate provider entry %q", p.Name)
		}
		seen[key] = true
	}

	if s.DefaultProvider == "" {
		s.DefaultProvider = s.Providers[0].Name
	}
	if _, ok := s.Lookup(s.DefaultProvider); !ok {
		return fmt.Errorf("%w: default %q", ErrUnknownProvider, s.DefaultProvider)
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (s *Settings) Level() orm.LogLevel {
	l, _ := orm.ParseLogLevel(s.LogLevel)
	return l
}

// Lookup finds an entry by name, case-insensitively. An empty name selects
// the default entry.
func (s *Settings) Lookup(name string) (ProviderSettings, bool) {
	if name == "" {
		name = s.DefaultProvider
	}
	for _, p := range s.Providers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ProviderSettings{}, false
}

// Open creates the entry called name (or the default) through reg.
func Open[P any](ctx context.Context, s *Settings, reg *orm.Registry[P], name string) (P, error) {
	entry, ok := s.Lookup(name)
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return reg.Create(ctx, entry.Provider, entry.ConnectionString)
}

// EnvName is the variable that overrides the connection string of entry name.
func EnvName(name string) string {
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_")
	return "POLYORM_" + strings.ToUpper(r.Replace(name)) + "_DSN"
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvProvider); ok && v != "" {
		s.DefaultProvider = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		s.LogLevel = v
	}
	for i := range s.Providers {
		name := s.Providers[i].Name
		if name == "" {
			name = s.Providers[i].Provider
		}
		if v, ok := lookup(EnvName(name)); ok {
			s.Providers[i].ConnectionString = v
		}
	}
}

// FindConfigPath returns the first existing config file, or "".
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" && fileExists(path) {
		return path
	}
	if fileExists(ConfigFileName) {
		if abs, err := filepath.Abs(ConfigFileName); err == nil {
			return abs
		}
		return ConfigFileName
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if path := filepath.Join(xdg, ConfigDirName, "config.yaml"); fileExists(path) {
			return path
		}
	}
	if home := os.Getenv("HOME"); home != "" {
		if path := filepath.Join(home, ".config", ConfigDirName, "config.yaml"); fileExists(path) {
			return path
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
