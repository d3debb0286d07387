// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

package app

import (
	"io"
	"log/slog"
	"os"

	. "github.com/phsym/console-slog" //nolint:revive,staticcheck
	"golang.org/x/term"

	"codeberg.org/readeck/savecomplete/configs"
)

const levelTrace = slog.LevelDebug - 10

var logLevels = map[string]slog.Level{
	"error": slog.LevelError,
	"warn":  slog.LevelWarn,
	"info":  slog.LevelInfo,
	"debug": slog.LevelDebug,
	"trace": levelTrace,
}

// newLogger returns the application logger. The console handler uses
// colors when w is a terminal.
func newLogger(cfg configs.Log, w io.Writer) *slog.Logger {
	level := logLevels[cfg.Level]

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceLevel,
		}))
	}

	theme := stdLogTheme
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		theme = devLogTheme
	}

	return slog.New(NewHandler(w, &HandlerOptions{
		Level:      level,
		Theme:      theme,
		NoColor:    theme == stdLogTheme,
		TimeFormat: "15:04:05.000",
	}))
}

// replaceLevel names the trace level.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if l, ok := a.Value.Any().(slog.Level); ok && l < slog.LevelDebug {
			return slog.String(slog.LevelKey, "TRACE")
		}
	}
	return a
}

type consoleTheme struct {
	timestamp      ANSIMod
	source         ANSIMod
	message        ANSIMod
	messageDebug   ANSIMod
	attrKey        ANSIMod
	attrValue      ANSIMod
	attrValueError ANSIMod
	levelError     ANSIMod
	levelWarn      ANSIMod
	levelInfo      ANSIMod
	levelDebug     ANSIMod
}

func (t consoleTheme) Name() string            { return "" }
func (t consoleTheme) Timestamp() ANSIMod      { return t.timestamp }
func (t consoleTheme) Source() ANSIMod         { return t.source }
func (t consoleTheme) Message() ANSIMod        { return t.message }
func (t consoleTheme) MessageDebug() ANSIMod   { return t.messageDebug }
func (t consoleTheme) AttrKey() ANSIMod        { return t.attrKey }
func (t consoleTheme) AttrValue() ANSIMod      { return t.attrValue }
func (t consoleTheme) AttrValueError() ANSIMod { return t.attrValueError }
func (t consoleTheme) LevelError() ANSIMod     { return t.levelError }
func (t consoleTheme) LevelWarn() ANSIMod      { return t.levelWarn }
func (t consoleTheme) LevelInfo() ANSIMod      { return t.levelInfo }
func (t consoleTheme) LevelDebug() ANSIMod     { return t.levelDebug }
func (t consoleTheme) Level(level slog.Level) ANSIMod {
	switch {
	case level >= slog.LevelError:
		return t.LevelError()
	case level >= slog.LevelWarn:
		return t.LevelWarn()
	case level >= slog.LevelInfo:
		return t.LevelInfo()
	default:
		return t.LevelDebug()
	}
}

var stdLogTheme = consoleTheme{}

var devLogTheme = consoleTheme{
	timestamp:      ToANSICode(BrightBlack),
	source:         ToANSICode(Bold, BrightBlack),
	message:        ToANSICode(Bold),
	messageDebug:   ToANSICode(),
	attrKey:        ToANSICode(Cyan),
	attrValue:      ToANSICode(Faint),
	attrValueError: ToANSICode(Bold, Red),
	levelError:     ToANSICode(Bold, Red),
	levelWarn:      ToANSICode(Bold, Yellow),
	levelInfo:      ToANSICode(Bold, Green),
	levelDebug:     ToANSICode(Bold, BrightMagenta),
}
