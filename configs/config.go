// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package configs contains the application configuration: its defaults,
// the TOML or YAML file loader and the environment overrides.
package configs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/komkom/toml"
	"gopkg.in/yaml.v3"

	"codeberg.org/readeck/savecomplete/pkg/archiver"
)

// EnvPrefix is the prefix of every environment variable overriding
// a configuration value.
const EnvPrefix = "SAVECOMPLETE_"

var (
	logLevels  = []string{"error", "warn", "info", "debug", "trace"}
	logFormats = []string{"console", "json"}
)

// Config is the application configuration.
type Config struct {
	Archive Archive `json:"archive" yaml:"archive" envPrefix:"ARCHIVE_"`
	HTTP    HTTP    `json:"http"    yaml:"http"    envPrefix:"HTTP_"`
	Log     Log     `json:"log"     yaml:"log"     envPrefix:"LOG_"`
	History History `json:"history" yaml:"history" envPrefix:"HISTORY_"`
}

// Archive holds the archive job options.
type Archive struct {
	SaveIframes    bool   `json:"save_iframes"    yaml:"save_iframes"    env:"SAVE_IFRAMES"`
	SaveObjects    bool   `json:"save_objects"    yaml:"save_objects"    env:"SAVE_OBJECTS"`
	RewriteLinks   bool   `json:"rewrite_links"   yaml:"rewrite_links"   env:"REWRITE_LINKS"`
	Concurrency    int    `json:"concurrency"     yaml:"concurrency"     env:"CONCURRENCY"`
	FolderSuffix   string `json:"folder_suffix"   yaml:"folder_suffix"   env:"FOLDER_SUFFIX"`
	DefaultCharset string `json:"default_charset" yaml:"default_charset" env:"DEFAULT_CHARSET"`
	WriteCharset   string `json:"write_charset"   yaml:"write_charset"   env:"WRITE_CHARSET"`
}

// HTTP holds the HTTP client options.
type HTTP struct {
	Timeout   Duration          `json:"timeout"    yaml:"timeout"    env:"TIMEOUT"`
	UserAgent string            `json:"user_agent" yaml:"user_agent" env:"USER_AGENT"`
	Headers   map[string]string `json:"headers"    yaml:"headers"    env:"HEADERS"`
	DeniedIPs []string          `json:"denied_ips" yaml:"denied_ips" env:"DENIED_IPS"`
}

// Log holds the logger options.
type Log struct {
	Level  string `json:"level"  yaml:"level"  env:"LEVEL"`
	Format string `json:"format" yaml:"format" env:"FORMAT"`
}

// History holds the job history options.
type History struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Path    string `json:"path"    yaml:"path"    env:"PATH"`
}

// Duration is a [time.Duration] read and written as a string
// like "1m30s".
type Duration time.Duration

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the default configuration.
func Default() *Config {
	opts := archiver.DefaultOptions()
	return &Config{
		Archive: Archive{
			Concurrency:    opts.Concurrency,
			FolderSuffix:   opts.FolderSuffix,
			DefaultCharset: opts.DefaultCharset,
			WriteCharset:   opts.WriteCharset,
		},
		HTTP: HTTP{
			Timeout: Duration(30 * time.Second),
			Headers: map[string]string{},
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
		History: History{
			Path: defaultHistoryPath(),
		},
	}
}

func defaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "savecomplete", "history.db")
}

// Load returns the default configuration, updated with the content of
// the file at path (when not empty) and the environment variables.
// The file format is given by its extension: ".toml", ".yaml" or ".yml".
// Unknown keys are an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	fd, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fd.Close() //nolint:errcheck

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := json.NewDecoder(toml.New(fd))
		dec.DisallowUnknownFields()
		err = dec.Decode(c)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(fd)
		dec.KnownFields(true)
		err = dec.Decode(c)
	default:
		return fmt.Errorf("unknown configuration format %q", filepath.Ext(path))
	}

	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	var errs []error

	if c.Archive.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("archive.concurrency must be at least 1 (%d)", c.Archive.Concurrency))
	}
	if c.Archive.FolderSuffix == "" {
		errs = append(errs, errors.New("archive.folder_suffix is empty"))
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, errors.New("http.timeout is negative"))
	}
	for _, s := range c.HTTP.DeniedIPs {
		if _, _, err := net.ParseCIDR(s); err != nil {
			errs = append(errs, fmt.Errorf("http.denied_ips: %w", err))
		}
	}
	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is not one of %s", c.Log.Level, strings.Join(logLevels, ", ")))
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format %q is not one of %s", c.Log.Format, strings.Join(logFormats, ", ")))
	}
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, errors.New("history.path is empty"))
	}

	return errors.Join(errs...)
}

// ArchiveOptions returns the archive job options.
func (c *Config) ArchiveOptions() archiver.Options {
	return archiver.Options{
		SaveIframes:    c.Archive.SaveIframes,
		SaveObjects:    c.Archive.SaveObjects,
		RewriteLinks:   c.Archive.RewriteLinks,
		Concurrency:    c.Archive.Concurrency,
		FolderSuffix:   c.Archive.FolderSuffix,
		DefaultCharset: c.Archive.DefaultCharset,
		WriteCharset:   c.Archive.WriteCharset,
	}
}

// DeniedNetworks returns the parsed http.denied_ips values.
// Invalid values are ignored, [Config.Validate] reports them.
func (c *Config) DeniedNetworks() []*net.IPNet {
	res := []*net.IPNet{}
	for _, s := range c.HTTP.DeniedIPs {
		if _, n, err := net.ParseCIDR(s); err == nil {
			res = append(res, n)
		}
	}
	return res
}
