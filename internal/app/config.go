// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cristalhq/acmd"
	"gopkg.in/yaml.v3"

	"codeberg.org/readeck/savecomplete/configs"
)

func init() {
	commands = append(commands, acmd.Command{
		Name:        "config",
		Description: "Print the effective configuration",
		ExecFunc:    runConfig,
	})
}

func runConfig(_ context.Context, args []string) error {
	var format string

	var flags appFlags
	fs := flags.Flags()
	fs.StringVar(&format, "format", "json", "output format (json, yaml)")

	if ok, err := flags.parse(args); !ok {
		return err
	}

	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	return writeConfig(os.Stdout, cfg, format)
}

func writeConfig(w io.Writer, cfg *configs.Config, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q", format)
}
