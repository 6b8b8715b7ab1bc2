package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LoadedFiles []string `json:"-" yaml:"-"` // Track all files loaded for this config
	Include     []string `json:"include" yaml:"include"`
	Debug       bool     `json:"debug" yaml:"debug"`
	HotReload   bool     `json:"hotReload" yaml:"hotReload"`

	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`

	// MaxLineBytes caps the length of a single request line. Zero means the
	// server default.
	MaxLineBytes int `json:"maxLineBytes" yaml:"maxLineBytes"`

	// IdleTimeout closes a connection that stays silent for this long.
	// Zero disables the timeout.
	IdleTimeout Duration `json:"idleTimeout" yaml:"idleTimeout"`

	Loggers []LoggerConfig `json:"loggers" yaml:"loggers"`
	Plugins PluginsConfig  `json:"plugins" yaml:"plugins"`
	Session SessionConfig  `json:"session" yaml:"session"`
	Metrics MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type LoggerConfig struct {
	Stdout     bool   `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	Level      string `json:"level" yaml:"level"`
	Source     bool   `json:"source" yaml:"source"`
	HideTime   bool   `json:"hideTime,omitempty" yaml:"hideTime,omitempty"`
	TimeFormat string `json:"timeFormat,omitempty" yaml:"timeFormat,omitempty"`
}

type PluginsConfig struct {
	Dir   string `json:"dir" yaml:"dir"`
	Watch bool   `json:"watch" yaml:"watch"`
}

type SessionConfig struct {
	// Backend selects the session store implementation: "redis" or "memory".
	// Empty defaults to "redis" when Addr is set, "memory" otherwise.
	Backend     string   `json:"backend" yaml:"backend"`
	Addr        string   `json:"addr" yaml:"addr"`
	Password    string   `json:"password" yaml:"password"`
	DB          int      `json:"db" yaml:"db"`
	DialTimeout Duration `json:"dialTimeout" yaml:"dialTimeout"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Duration accepts "30s" style strings in both JSON and YAML documents.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Load(filename string) (*Config, error) {
	cfg := &Config{
		LoadedFiles: []string{},
	}

	// Keep track of processed files to avoid include loops
	processed := make(map[string]bool)

	if err := loadRecursive(filename, cfg, processed); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadRecursive(filename string, cfg *Config, processed map[string]bool) error {
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return err
	}

	if processed[absPath] {
		return nil // Already processed
	}
	processed[absPath] = true
	cfg.LoadedFiles = append(cfg.LoadedFiles, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}

	// Expand environment variables in the document
	expandedData := []byte(os.ExpandEnv(string(data)))

	// Unmarshal into a temporary struct to load includes first
	var tempCfg struct {
		Include []string `json:"include" yaml:"include"`
	}
	if err := unmarshal(absPath, expandedData, &tempCfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	baseDir := filepath.Dir(absPath)
	for _, includePath := range tempCfg.Include {
		// Resolve relative paths relative to the current config file
		fullPath := includePath
		if !filepath.IsAbs(includePath) {
			fullPath = filepath.Join(baseDir, includePath)
		}

		if err := loadRecursive(fullPath, cfg, processed); err != nil {
			return fmt.Errorf("failed to load included config %s: %w", fullPath, err)
		}
	}

	// Now apply the current file's configuration over the accumulated config
	if err := unmarshal(absPath, expandedData, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	return nil
}

// unmarshal picks the decoder by file extension. The canonical config
// document is JSON; YAML is accepted for hand-maintained files.
func unmarshal(path string, data []byte, v interface{}) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(data, v)
	default:
		return yaml.Unmarshal(data, v)
	}
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range 0-65535", c.Port)
	}
	if c.MaxLineBytes < 0 {
		return fmt.Errorf("config: maxLineBytes must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("config: metrics.addr is required when metrics are enabled")
	}
	return nil
}
