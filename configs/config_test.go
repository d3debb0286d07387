// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

package configs_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeberg.org/readeck/savecomplete/configs"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		assert := require.New(t)

		cfg, err := configs.Load("")
		assert.NoError(err)
		assert.Equal(4, cfg.Archive.Concurrency)
		assert.Equal("_files", cfg.Archive.FolderSuffix)
		assert.Equal("ISO-8859-1", cfg.Archive.DefaultCharset)
		assert.Equal("UTF-8", cfg.Archive.WriteCharset)
		assert.Equal(configs.Duration(30*time.Second), cfg.HTTP.Timeout)
		assert.Equal("info", cfg.Log.Level)
		assert.False(cfg.History.Enabled)
		assert.NotEmpty(cfg.History.Path)
	})

	t.Run("toml", func(t *testing.T) {
		assert := require.New(t)

		path := writeFile(t, "config.toml", `
[archive]
save_iframes = true
concurrency = 8
folder_suffix = "-assets"

[http]
timeout = "1m30s"
user_agent = "test/1.0"
denied_ips = ["10.0.0.0/8"]

[http.headers]
Accept-Language = "fr"

[log]
level = "debug"
`)
		cfg, err := configs.Load(path)
		assert.NoError(err)
		assert.True(cfg.Archive.SaveIframes)
		assert.False(cfg.Archive.SaveObjects)
		assert.Equal(8, cfg.Archive.Concurrency)
		assert.Equal("-assets", cfg.Archive.FolderSuffix)
		assert.Equal("ISO-8859-1", cfg.Archive.DefaultCharset)
		assert.Equal(configs.Duration(90*time.Second), cfg.HTTP.Timeout)
		assert.Equal("test/1.0", cfg.HTTP.UserAgent)
		assert.Equal(map[string]string{"Accept-Language": "fr"}, cfg.HTTP.Headers)
		assert.Len(cfg.DeniedNetworks(), 1)
		assert.Equal("debug", cfg.Log.Level)

		opts := cfg.ArchiveOptions()
		assert.True(opts.SaveIframes)
		assert.Equal(8, opts.Concurrency)
		assert.Equal("-assets", opts.FolderSuffix)
	})

	t.Run("yaml", func(t *testing.T) {
		assert := require.New(t)

		path := writeFile(t, "config.yaml", `
archive:
  save_objects: true
  rewrite_links: true
http:
  timeout: 5s
history:
  enabled: true
  path: /tmp/h.db
`)
		cfg, err := configs.Load(path)
		assert.NoError(err)
		assert.True(cfg.Archive.SaveObjects)
		assert.True(cfg.Archive.RewriteLinks)
		assert.Equal(configs.Duration(5*time.Second), cfg.HTTP.Timeout)
		assert.True(cfg.History.Enabled)
		assert.Equal("/tmp/h.db", cfg.History.Path)
	})

	t.Run("unknown keys", func(t *testing.T) {
		assert := require.New(t)

		_, err := configs.Load(writeFile(t, "config.toml", "[archive]\nthreads = 2\n"))
		assert.ErrorContains(err, "threads")

		_, err = configs.Load(writeFile(t, "config.yml", "archive:\n  threads: 2\n"))
		assert.ErrorContains(err, "threads")

		_, err = configs.Load(writeFile(t, "config.ini", "threads=2"))
		assert.ErrorContains(err, `unknown configuration format ".ini"`)

		_, err = configs.Load(filepath.Join(t.TempDir(), "missing.toml"))
		assert.ErrorIs(err, os.ErrNotExist)
	})

	t.Run("environment", func(t *testing.T) {
		assert := require.New(t)

		t.Setenv("SAVECOMPLETE_ARCHIVE_CONCURRENCY", "2")
		t.Setenv("SAVECOMPLETE_ARCHIVE_SAVE_IFRAMES", "true")
		t.Setenv("SAVECOMPLETE_HTTP_TIMEOUT", "10s")
		t.Setenv("SAVECOMPLETE_LOG_FORMAT", "json")

		path := writeFile(t, "config.toml", "[archive]\nconcurrency = 8\n")
		cfg, err := configs.Load(path)
		assert.NoError(err)
		assert.Equal(2, cfg.Archive.Concurrency)
		assert.True(cfg.Archive.SaveIframes)
		assert.Equal(configs.Duration(10*time.Second), cfg.HTTP.Timeout)
		assert.Equal("json", cfg.Log.Format)
	})

	t.Run("validation", func(t *testing.T) {
		assert := require.New(t)

		path := writeFile(t, "config.toml", `
[archive]
concurrency = 0
folder_suffix = ""

[http]
denied_ips = ["nope"]

[log]
level = "loud"
format = "xml"
`)
		_, err := configs.Load(path)
		assert.ErrorContains(err, "archive.concurrency must be at least 1 (0)")
		assert.ErrorContains(err, "archive.folder_suffix is empty")
		assert.ErrorContains(err, "http.denied_ips")
		assert.ErrorContains(err, `log.level "loud"`)
		assert.ErrorContains(err, `log.format "xml"`)
	})
}

func TestDuration(t *testing.T) {
	assert := require.New(t)

	var v struct {
		D configs.Duration `json:"d"`
	}
	assert.NoError(json.Unmarshal([]byte(`{"d":"2m"}`), &v))
	assert.Equal(configs.Duration(2*time.Minute), v.D)

	data, err := json.Marshal(v)
	assert.NoError(err)
	assert.JSONEq(`{"d":"2m0s"}`, string(data))

	assert.Error(json.Unmarshal([]byte(`{"d":"soon"}`), &v))
}
