package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"showroom-recorder/internal/capture"
	"showroom-recorder/internal/platform/config"
	"showroom-recorder/internal/platform/httpclient"
	"showroom-recorder/internal/platform/logger"
	"showroom-recorder/internal/platform/metrics"
)

type globalFlags struct {
	configPath string
	baseDir    string
	logLevel   string
	logFormat  string
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.File
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) baseDir() string {
	if dir := strings.TrimSpace(c.flags.baseDir); dir != "" {
		return dir
	}
	return config.GetEnv("RECORDER_BASE_DIR", ".")
}

func (c *commandContext) configPath() string {
	if p := strings.TrimSpace(c.flags.configPath); p != "" {
		return p
	}
	return filepath.Join(c.baseDir(), config.DefaultFileName)
}

// ensureConfig loads .env, then the YAML file (creating it when absent),
// then applies environment overrides.
func (c *commandContext) ensureConfig() (*config.File, error) {
	c.configOnce.Do(func() {
		_ = config.Load(filepath.Join(c.baseDir(), ".env"))

		cfg, err := config.LoadFile(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logLevel(cfg *config.File) string {
	if c.flags.logLevel != "" {
		return c.flags.logLevel
	}
	if cfg != nil && cfg.DebugLog {
		return "debug"
	}
	return config.GetEnv("LOG_LEVEL", "info")
}

func (c *commandContext) logFormat() string {
	if c.flags.logFormat != "" {
		return c.flags.logFormat
	}
	return config.GetEnv("LOG_FORMAT", "json")
}

// newLogger returns the process logger. With file_log enabled records are
// also appended to <base>/logs.
func (c *commandContext) newLogger(cfg *config.File) (*slog.Logger, io.Closer, error) {
	level, format := c.logLevel(cfg), c.logFormat()
	if cfg != nil && cfg.FileLog {
		return logger.NewWithFile(level, format, filepath.Join(c.baseDir(), "logs"))
	}
	return logger.New(level, format), nopCloser{}, nil
}

func (c *commandContext) outputDir(cfg *config.File) string {
	if filepath.IsAbs(cfg.OutputDir) {
		return cfg.OutputDir
	}
	return filepath.Join(c.baseDir(), cfg.OutputDir)
}

// sessionFactory builds capture sessions sharing one HTTP client.
func (c *commandContext) sessionFactory(cfg *config.File, log *slog.Logger, met *metrics.Metrics) func(owner, manifestURL string) (*capture.Session, error) {
	client := httpclient.New(nil)
	dir := c.outputDir(cfg)
	policy, _ := capture.ParseUnorderedPolicy(cfg.Unordered)

	return func(owner, manifestURL string) (*capture.Session, error) {
		s, err := capture.New(capture.Options{
			Owner:                  owner,
			ManifestURL:            manifestURL,
			OutputDir:              dir,
			Client:                 client,
			Logger:                 log,
			Metrics:                met,
			Unordered:              policy,
			MaxConcurrentDownloads: cfg.MaxDownloads,
			GapRetryLimit:          cfg.GapRetryLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("new session for %s: %w", owner, err)
		}
		return s, nil
	}
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
