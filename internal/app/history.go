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
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cristalhq/acmd"

	"codeberg.org/readeck/savecomplete/internal/history"
)

func init() {
	commands = append(commands, acmd.Command{
		Name:        "history",
		Description: "List the saved pages or show one job's diagnostics",
		ExecFunc:    runHistory,
	})
}

func runHistory(ctx context.Context, args []string) error {
	var limit int
	var prune time.Duration

	var flags appFlags
	fs := flags.Flags()
	// nolint: errcheck
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: history [arguments...] [UID]")
		fmt.Fprintln(fs.Output(), "  UID")
		fmt.Fprintln(fs.Output(), "    \tjob identifier, prints its diagnostics")
		fs.PrintDefaults()
	}
	fs.IntVar(&limit, "n", 20, "number of entries (0 for all)")
	fs.DurationVar(&prune, "prune", 0, "remove the entries older than this duration")

	if ok, err := flags.parse(args); !ok {
		return err
	}

	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	if prune > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-prune))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d entries removed\n", n) //nolint:errcheck
		return nil
	}

	if uid := strings.TrimSpace(fs.Arg(0)); uid != "" {
		return printEntry(ctx, os.Stdout, store, uid)
	}
	return printHistory(ctx, os.Stdout, store, limit)
}

func printEntry(ctx context.Context, w io.Writer, store *history.Store, uid string) error {
	e, err := store.Get(ctx, uid)
	if err != nil {
		return fmt.Errorf("job %s: %w", uid, err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

func printHistory(ctx context.Context, w io.Writer, store *history.Store, limit int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSTATUS\tERRORS\tURL\tUID") //nolint:errcheck

	for e, err := range store.List(ctx, limit) {
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", //nolint:errcheck
			e.Created.Local().Format(time.DateTime), e.Status, e.ErrorCount, e.URL, e.UID,
		)
	}
	return tw.Flush()
}
