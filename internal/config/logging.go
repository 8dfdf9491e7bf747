package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// LoggingConfig configures the process logger. Console and File inherit
// Level and Format unless they set their own.
type LoggingConfig struct {
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"`
	Dir      string         `yaml:"dir"`
	Rotation RotationConfig `yaml:"rotation"`
	Console  SinkConfig     `yaml:"console"`
	File     SinkConfig     `yaml:"file"`
}

// RotationConfig is handed to lumberjack as is.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxBackups int  `yaml:"max_backups"` // files
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`
}

// SinkConfig configures one log output.
type SinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// SlogLevel returns the sink level; unknown names log at info.
func (s SinkConfig) SlogLevel() slog.Level {
	lvl, err := parseLevel(s.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// IsJSON reports whether the sink writes JSON records.
func (s SinkConfig) IsJSON() bool {
	return strings.EqualFold(s.Format, FormatJSON)
}

// unset is true for a section absent from the YAML.
func (s SinkConfig) unset() bool {
	return s == SinkConfig{}
}

func (s *SinkConfig) inherit(level, format string) {
	if s.unset() {
		s.Enabled = true
	}
	if s.Level == "" {
		s.Level = level
	}
	if s.Format == "" {
		s.Format = format
	}
}

func (s SinkConfig) validate(name string) error {
	if !s.Enabled {
		return nil
	}
	if _, err := parseLevel(s.Level); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := checkFormat(s.Format); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// DefaultLoggingConfig logs text at info to stdout and to files under logs/.
func DefaultLoggingConfig() LoggingConfig {
	cfg := LoggingConfig{
		Rotation: RotationConfig{Compress: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

func (c *LoggingConfig) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatText
	}
	if c.Dir == "" {
		c.Dir = "logs"
	}
	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = 100
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = 10
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = 30
	}
	c.Console.inherit(c.Level, c.Format)
	c.File.inherit(c.Level, c.Format)
}

// ApplyEnvOverrides lets NODESTREAM_LOG_LEVEL force every sink's level.
func (c *LoggingConfig) ApplyEnvOverrides() {
	if val := os.Getenv("NODESTREAM_LOG_LEVEL"); val != "" {
		c.Level = val
		c.Console.Level = val
		c.File.Level = val
	}
}

// ResolvePaths anchors a relative Dir at the parent of configDir. A Dir
// starting with ".." is taken relative to configDir itself.
func (c *LoggingConfig) ResolvePaths(configDir string) {
	if c.Dir == "" || filepath.IsAbs(c.Dir) {
		return
	}
	base := filepath.Dir(configDir)
	if strings.HasPrefix(c.Dir, "..") {
		base = configDir
	}
	c.Dir = filepath.Clean(filepath.Join(base, c.Dir))
}

func (c *LoggingConfig) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	if err := checkFormat(c.Format); err != nil {
		return err
	}
	if c.Dir == "" {
		return fmt.Errorf("log directory cannot be empty")
	}
	if err := c.Console.validate("console"); err != nil {
		return err
	}
	return c.File.validate("file")
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q: must be debug, info, warn or error", name)
}

func checkFormat(format string) error {
	switch strings.ToLower(format) {
	case FormatText, FormatJSON:
		return nil
	}
	return fmt.Errorf("invalid log format %q: must be text or json", format)
}
