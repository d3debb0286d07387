// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/cristalhq/acmd"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"codeberg.org/readeck/savecomplete/configs"
	"codeberg.org/readeck/savecomplete/internal/history"
	"codeberg.org/readeck/savecomplete/internal/httpclient"
	"codeberg.org/readeck/savecomplete/pkg/archiver"
)

var (
	rxHTMLExt      = regexp.MustCompile(`(?i)\.x?html?$`)
	rxIllegalChars = regexp.MustCompile(` *[:*?|<>"/\\]+ *`)

	errIllegalProtocol = errors.New("illegal protocol")
)

func init() {
	commands = append(commands, acmd.Command{
		Name:        "save",
		Description: "Save a web page and all its resources",
		ExecFunc:    runSave,
	})
}

type saveFlags struct {
	appFlags
	iframes      bool
	objects      bool
	rewriteLinks bool
	concurrency  int
	data         string
	metricsFile  string
	headers      stringsFlag
}

func runSave(ctx context.Context, args []string) error {
	var flags saveFlags
	fs := flags.Flags()
	// nolint: errcheck
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: save [arguments...] URL [FILE]")
		fmt.Fprintln(fs.Output(), "  URL")
		fmt.Fprintln(fs.Output(), "    \tpage address")
		fmt.Fprintln(fs.Output(), "  FILE")
		fmt.Fprintln(fs.Output(), "    \tdestination file (default: from the page address)")
		fs.PrintDefaults()
	}
	fs.BoolVar(&flags.iframes, "iframes", false, "save iframe documents")
	fs.BoolVar(&flags.objects, "objects", false, "save embed and object resources")
	fs.BoolVar(&flags.rewriteLinks, "rewrite-links", false, "rewrite the page links to absolute URLs")
	fs.IntVar(&flags.concurrency, "concurrency", 0, "maximum number of downloads in flight")
	fs.StringVar(&flags.data, "data", "", "form encoded data, the page is requested with POST")
	fs.StringVar(&flags.metricsFile, "metrics", "", "write the job metrics to this file")
	fs.Var(&flags.headers, "header", "extra request header \"Name: value\" (repeatable)")

	if ok, err := flags.parse(args); !ok {
		return err
	}

	src := strings.TrimSpace(fs.Arg(0))
	if src == "" {
		return errors.New("page URL is required")
	}

	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iframes":
			cfg.Archive.SaveIframes = flags.iframes
		case "objects":
			cfg.Archive.SaveObjects = flags.objects
		case "rewrite-links":
			cfg.Archive.RewriteLinks = flags.rewriteLinks
		case "concurrency":
			cfg.Archive.Concurrency = flags.concurrency
		}
	})
	if cfg.HTTP.Headers == nil {
		cfg.HTTP.Headers = map[string]string{}
	}
	for _, h := range flags.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q", h)
		}
		cfg.HTTP.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	if err = cfg.Validate(); err != nil {
		return err
	}

	cmd := &saveCommand{
		cfg:         cfg,
		client:      newHTTPClient(cfg, slog.Default()),
		log:         slog.Default(),
		out:         os.Stdout,
		metricsFile: flags.metricsFile,
	}

	res, err := cmd.run(ctx, src, strings.TrimSpace(fs.Arg(1)), []byte(flags.data))
	if err != nil {
		return err
	}
	if res.status != archiver.StatusSuccess {
		return fmt.Errorf("%d error(s) while saving %s", len(res.report.Errors), src)
	}
	return nil
}

// newHTTPClient returns the client loading pages and fetching resources.
// Its cache serves the bodies the page loader already received.
func newHTTPClient(cfg *configs.Config, log *slog.Logger) *http.Client {
	return httpclient.NewCacheClient(nil,
		httpclient.WithTimeout(time.Duration(cfg.HTTP.Timeout)),
		httpclient.WithUserAgent(cfg.HTTP.UserAgent),
		httpclient.WithHeaders(cfg.HTTP.Headers),
		httpclient.WithDeniedIPs(cfg.DeniedNetworks()),
		httpclient.WithLogger(log),
	)
}

type saveCommand struct {
	cfg         *configs.Config
	client      *http.Client
	log         *slog.Logger
	out         io.Writer
	metricsFile string
}

type saveResult struct {
	job    *archiver.Job
	status archiver.Status
	report *archiver.Report
}

// run loads the page at uri and saves it into dest. An empty dest is
// replaced by a name built from the page address.
// A canceled ctx cancels the running job.
func (c *saveCommand) run(ctx context.Context, uri, dest string, postData []byte) (*saveResult, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w %s://", errIllegalProtocol, u.Scheme)
	}

	c.printf("%sloading%s %s...\n", colorYellow, colorReset, uri)
	doc, err := archiver.LoadDocument(ctx, c.client, uri, archiver.LoadOptions{
		PostData: postData,
		Logger:   c.log,
		OnFetch: func(uri string, header http.Header, body []byte) {
			httpclient.AddToCache(c.client, uri, header, body)
		},
	})
	if err != nil {
		return nil, err
	}

	if dest == "" {
		dest = defaultFileName(doc.URL, doc.Title())
	}

	var store *history.Store
	if c.cfg.History.Enabled {
		if store, err = history.Open(c.cfg.History.Path); err != nil {
			return nil, err
		}
		defer store.Close() //nolint:errcheck
	}

	reg := prometheus.NewRegistry()
	saver := archiver.New(
		archiver.WithClient(c.client),
		archiver.WithLogger(c.log),
		archiver.WithMetrics(archiver.NewMetrics(reg)),
		archiver.WithObserver(newProgressPrinter(c.out)),
		archiver.WithOptions(c.cfg.ArchiveOptions()),
	)

	res := &saveResult{}
	job, err := saver.NewJob(doc, dest, func(job *archiver.Job, status archiver.Status, report *archiver.Report) {
		res.status = status
		res.report = report
		if store == nil {
			return
		}
		if err := store.Add(context.Background(), history.NewEntry(job, status, report)); err != nil {
			c.log.Error("cannot record job", slog.Any("err", err))
		}
	})
	if err != nil {
		return nil, err
	}
	res.job = job

	go func() {
		select {
		case <-ctx.Done():
			job.Cancel("interrupted")
		case <-job.Done():
		}
	}()

	if err = job.Run(context.Background()); err != nil {
		return nil, err
	}

	if c.metricsFile != "" {
		if err = prometheus.WriteToTextfile(c.metricsFile, reg); err != nil {
			return nil, err
		}
	}

	c.printSummary(res)
	return res, nil
}

func (c *saveCommand) printf(format string, a ...any) {
	fmt.Fprintf(c.out, format, a...) //nolint:errcheck
}

func (c *saveCommand) printSummary(res *saveResult) {
	if res.status == archiver.StatusSuccess {
		c.printf("%s%s%s%s saved in %s\n", bold, colorGreen, res.job.File(), colorReset,
			res.report.Timers.Process.Finish.Sub(res.report.Timers.Extract.Start).Round(time.Millisecond))
		return
	}

	c.printf("%s%s%s%s saved with %d error(s):\n", bold, colorRed, res.job.File(), colorReset, len(res.report.Errors))
	for _, e := range res.report.Errors {
		c.printf("  - %s\n", e)
	}
}

// defaultFileName returns a file name for a page: the last segment of its
// path with an .html extension or, when the path ends with a slash,
// the page title.
func defaultFileName(u *url.URL, title string) string {
	name := path.Base(u.Path)
	if strings.HasSuffix(u.Path, "/") || u.Path == "" {
		name = strings.TrimSpace(title)
		if name == "" {
			name = "index"
		}
		name += ".html"
	} else if !rxHTMLExt.MatchString(name) {
		name += ".html"
	}

	name = rxIllegalChars.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// progressPrinter is an [archiver.Observer] writing the job progress.
// On a terminal, the download progress is updated in place.
type progressPrinter struct {
	w   io.Writer
	tty bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	p := &progressPrinter{w: w}
	if f, ok := w.(*os.File); ok {
		p.tty = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *progressPrinter) StateChanged(_ *archiver.Job, state archiver.State) {
	switch state {
	case archiver.StateDownloading, archiver.StateProcessing:
		fmt.Fprintf(p.w, "  - %s...\n", state) //nolint:errcheck
	case archiver.StateCanceled, archiver.StateFailed:
		fmt.Fprintf(p.w, "  - %s%s%s\n", colorRed, state, colorReset) //nolint:errcheck
	}
}

func (p *progressPrinter) Progress(_ *archiver.Job, done, total int) {
	switch {
	case p.tty && done < total:
		fmt.Fprintf(p.w, "\r    %d/%d", done, total) //nolint:errcheck
	case p.tty:
		fmt.Fprintf(p.w, "\r    %d/%d\n", done, total) //nolint:errcheck
	case done == total:
		fmt.Fprintf(p.w, "    %d/%d\n", done, total) //nolint:errcheck
	}
}
