package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the configuration file looked up in the base directory.
const DefaultFileName = "configs.yml"

// File is the on-disk recorder configuration.
type File struct {
	DebugLog bool `yaml:"debug_log"`
	FileLog  bool `yaml:"file_log"`

	// Interval is the live-status polling period in seconds.
	Interval float64 `yaml:"interval"`

	// Users lists the room URL keys to watch.
	Users []string `yaml:"users"`

	OutputDir    string  `yaml:"output_dir"`
	ListenAddr   string  `yaml:"listen_addr"`
	APIBaseURL   string  `yaml:"api_base_url"`
	APIRateLimit float64 `yaml:"api_rate_limit"`

	// Unordered is "drop" or "side-file"; see capture.UnorderedPolicy.
	Unordered     string `yaml:"unordered"`
	MaxDownloads  int    `yaml:"max_downloads"`
	GapRetryLimit int    `yaml:"gap_retry_limit"`
}

// Default returns the configuration written when no file exists.
func Default() *File {
	return &File{
		Interval:     20,
		Users:        []string{},
		OutputDir:    "video",
		ListenAddr:   ":8080",
		APIBaseURL:   "https://www.showroom-live.com",
		APIRateLimit: 5,

		Unordered:     "drop",
		MaxDownloads:  8,
		GapRetryLimit: 3,
	}
}

// PollInterval returns Interval as a time.Duration.
func (f *File) PollInterval() time.Duration {
	return time.Duration(f.Interval * float64(time.Second))
}

// Validate reports the first invalid field.
func (f *File) Validate() error {
	if f.Interval <= 0 {
		return errors.New("config: interval must be positive")
	}
	if f.OutputDir == "" {
		return errors.New("config: output_dir must not be empty")
	}
	if f.APIRateLimit < 0 {
		return errors.New("config: api_rate_limit cannot be negative")
	}
	switch f.Unordered {
	case "", "drop", "side-file":
	default:
		return fmt.Errorf("config: unordered must be drop or side-file, got %q", f.Unordered)
	}
	if f.MaxDownloads < 0 || f.GapRetryLimit < 0 {
		return errors.New("config: max_downloads and gap_retry_limit cannot be negative")
	}
	return nil
}

// LoadFile reads the YAML configuration at path. When the file does not
// exist a default one is written atomically and returned. Fields missing
// from the file keep their default values.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := WriteFile(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteFile writes cfg to path with fsync and atomic rename.
func WriteFile(path string, cfg *File) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides file values with LISTEN_ADDR, OUTPUT_DIR and
// DEBUG_LOG when they are set.
func (f *File) ApplyEnv() {
	f.ListenAddr = GetEnv("LISTEN_ADDR", f.ListenAddr)
	f.OutputDir = GetEnv("OUTPUT_DIR", f.OutputDir)
	f.DebugLog = GetEnvBool("DEBUG_LOG", f.DebugLog)
}
