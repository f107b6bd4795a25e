// Package settings persists the user-adjustable daemon configuration.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTCPListenPort     = 19803
	DefaultRefreshPeriod     = 1 // minutes
	DefaultResolverCacheSize = 3
)

// Settings are the recognized persistent options.
type Settings struct {
	TCPListenPort      int `yaml:"tcp_listen_port"`
	RefreshTimerPeriod int `yaml:"refresh_timer_period"`
	ResolverCacheSize  int `yaml:"resolver_cache_size"`
}

func Defaults() Settings {
	return Settings{
		TCPListenPort:      DefaultTCPListenPort,
		RefreshTimerPeriod: DefaultRefreshPeriod,
		ResolverCacheSize:  DefaultResolverCacheSize,
	}
}

// Validate rejects values the daemon cannot act on.
func (s Settings) Validate() error {
	var errs []error
	if s.TCPListenPort <= 0 || s.TCPListenPort > 65535 {
		errs = append(errs, fmt.Errorf("tcp_listen_port %d out of range", s.TCPListenPort))
	}
	if s.RefreshTimerPeriod < 0 {
		errs = append(errs, fmt.Errorf("refresh_timer_period %d is negative", s.RefreshTimerPeriod))
	}
	if s.ResolverCacheSize < 0 {
		errs = append(errs, fmt.Errorf("resolver_cache_size %d is negative", s.ResolverCacheSize))
	}
	return errors.Join(errs...)
}

// Store reads and writes Settings as YAML at a fixed path.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the stored settings. A missing file yields Defaults. Keys
// absent from the file keep their default values.
func (s *Store) Load() (Settings, error) {
	out := Defaults()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("reading settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return Defaults(), fmt.Errorf("parsing %s: %w", s.path, err)
	}
	if err := out.Validate(); err != nil {
		return Defaults(), fmt.Errorf("invalid settings in %s: %w", s.path, err)
	}
	return out, nil
}

// Save writes settings atomically (temp file + rename).
func (s *Store) Save(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	return WriteFileAtomic(s.path, data, 0644)
}

// WriteFileAtomic writes data to a temporary file in the target directory and
// renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
