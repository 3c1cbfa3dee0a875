// Package pmcconfig loads pmcd's two configuration files, config.toml and
// servers.toml, grounded on the teacher's internal/config viper+mapstructure
// decode pattern, generalised from the teacher's discriminated-union
// process entries to this daemon's flatter schema (spec §6).
package pmcconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the decoded contents of config.toml.
type Config struct {
	Shell   string        `mapstructure:"shell"`
	LogDir  string        `mapstructure:"log_dir"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Restart RestartConfig `mapstructure:"restart"`
	History HistoryConfig `mapstructure:"history"`
}

type DaemonConfig struct {
	Port  int    `mapstructure:"port"`
	Bind  string `mapstructure:"bind"`
	Token string `mapstructure:"token"`
}

type MetricsConfig struct {
	IntervalMS int `mapstructure:"interval_ms"`
}

type RestartConfig struct {
	BaseMS   int `mapstructure:"base_ms"`
	CapMS    int `mapstructure:"cap_ms"`
	WindowMS int `mapstructure:"window_ms"`
}

// HistoryConfig configures the optional lifecycle history sink (DOMAIN
// STACK addition; absent from spec.md's own config layout).
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// Defaults mirrors spec §6's documented defaults.
func Defaults() Config {
	return Config{
		Shell:  "/bin/sh",
		Daemon: DaemonConfig{Port: 7777, Bind: "127.0.0.1"},
		Metrics: MetricsConfig{
			IntervalMS: 1000,
		},
		Restart: RestartConfig{BaseMS: 1000, CapMS: 30000, WindowMS: 60000},
	}
}

// Load reads configPath (a TOML file) and merges it over Defaults() with
// dario.cat/mergo, so an absent key never produces a zero value that
// breaks the rest of the system (e.g. daemon.port == 0).
func Load(configPath string) (Config, error) {
	cfg := Defaults()
	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg.LogDir = filepath.Join(filepath.Dir(configPath), "logs")
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var loaded Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &loaded,
	})
	if err != nil {
		return Config{}, fmt.Errorf("build config decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := mergo.Merge(&cfg, loaded, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("merge config with defaults: %w", err)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(filepath.Dir(configPath), "logs")
	}
	return cfg, nil
}

// ServerEntry is one remote pmcd registered in servers.toml.
type ServerEntry struct {
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Default bool   `mapstructure:"default"`
}

type serversFile struct {
	Servers []ServerEntry `mapstructure:"servers"`
}

// LoadServers reads servers.toml. A missing file yields an empty list, not
// an error, since a fresh install has no remotes registered yet.
func LoadServers(path string) ([]ServerEntry, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read servers file: %w", err)
	}
	var sf serversFile
	if err := v.Unmarshal(&sf); err != nil {
		return nil, fmt.Errorf("decode servers file: %w", err)
	}
	return sf.Servers, nil
}

// DefaultServer returns the entry marked default, or the first entry if
// none is marked, or false if entries is empty.
func DefaultServer(entries []ServerEntry) (ServerEntry, bool) {
	for _, e := range entries {
		if e.Default {
			return e, true
		}
	}
	if len(entries) > 0 {
		return entries[0], true
	}
	return ServerEntry{}, false
}
