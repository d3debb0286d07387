// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codeberg.org/readeck/savecomplete/configs"
	"codeberg.org/readeck/savecomplete/internal/history"
)

func TestWriteConfig(t *testing.T) {
	cfg := configs.Default()

	t.Run("json", func(t *testing.T) {
		assert := require.New(t)
		buf := new(bytes.Buffer)
		assert.NoError(writeConfig(buf, cfg, "json"))
		assert.Contains(buf.String(), `"concurrency": 4`)
		assert.Contains(buf.String(), `"timeout": "30s"`)
	})

	t.Run("yaml", func(t *testing.T) {
		assert := require.New(t)
		buf := new(bytes.Buffer)
		assert.NoError(writeConfig(buf, cfg, "yaml"))
		assert.Contains(buf.String(), "concurrency: 4\n")
		assert.Contains(buf.String(), "timeout: 30s\n")
	})

	t.Run("unknown", func(t *testing.T) {
		require.EqualError(t, writeConfig(new(bytes.Buffer), cfg, "xml"), `unknown format "xml"`)
	})
}

func TestPrintHistory(t *testing.T) {
	ctx := context.Background()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Add(ctx, &history.Entry{
		UID:     "job-1",
		Created: created,
		URL:     "http://example.com/a.html",
		File:    "a.html",
		State:   "finished",
		Status:  "failure",
		Errors:  history.Strings{"download failed for http://example.com/x.png: not found"},
	}))

	t.Run("list", func(t *testing.T) {
		assert := require.New(t)
		buf := new(bytes.Buffer)
		assert.NoError(printHistory(ctx, buf, store, 10))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		assert.Len(lines, 2)
		assert.True(strings.HasPrefix(lines[0], "DATE"))
		assert.Equal(
			[]string{"failure", "1", "http://example.com/a.html", "job-1"},
			strings.Fields(lines[1])[2:],
		)
	})

	t.Run("entry", func(t *testing.T) {
		assert := require.New(t)
		buf := new(bytes.Buffer)
		assert.NoError(printEntry(ctx, buf, store, "job-1"))
		assert.Contains(buf.String(), `"uid": "job-1"`)
		assert.Contains(buf.String(), "x.png: not found")
	})

	t.Run("not found", func(t *testing.T) {
		err := printEntry(ctx, new(bytes.Buffer), store, "nope")
		require.ErrorIs(t, err, history.ErrNotFound)
	})
}
