// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package app is the savecomplete command line application.
package app

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cristalhq/acmd"

	"codeberg.org/readeck/savecomplete/configs"
)

// Version is the application version, set at build time.
var Version = "dev"

var commands = []acmd.Command{}

const (
	bold        = "\033[1m"
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// appFlags are the flags every command accepts.
type appFlags struct {
	*flag.FlagSet
	configFile string
	logLevel   string
}

// Flags returns a new [flag.FlagSet] with the common flags.
func (f *appFlags) Flags() *flag.FlagSet {
	f.FlagSet = flag.NewFlagSet("", flag.ContinueOnError)
	f.StringVar(&f.configFile, "config", "", "configuration file (.toml, .yaml)")
	f.StringVar(&f.logLevel, "log-level", "", "log level (error, warn, info, debug, trace)")
	return f.FlagSet
}

// parse parses the arguments. It returns false when the command
// must stop, after printing its help.
func (f *appFlags) parse(args []string) (bool, error) {
	if err := f.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// loadConfig loads the configuration and sets the default logger.
func (f *appFlags) loadConfig() (*configs.Config, error) {
	cfg, err := configs.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = strings.ToLower(f.logLevel)
		if err = cfg.Validate(); err != nil {
			return nil, err
		}
	}

	slog.SetDefault(newLogger(cfg.Log, os.Stderr))
	return cfg, nil
}

// stringsFlag is a flag that can be repeated.
type stringsFlag []string

func (s *stringsFlag) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringsFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s%sERROR%s %s: %s\n", bold, colorRed, colorReset, msg, err) //nolint:errcheck
	os.Exit(1)
}

// Run runs the command line application.
func Run() error {
	r := acmd.RunnerOf(commands, acmd.Config{
		AppName:        "savecomplete",
		AppDescription: "Save a web page with all its resources",
		Version:        Version,
	})

	return r.Run()
}

// Main runs the application and exits on error.
func Main() {
	if err := Run(); err != nil {
		fatal("savecomplete", err)
	}
}
