// SPDX-FileCopyrightText: © 2020 Radhi Fadlillah
// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

// Package archiver saves a complete web page: the document and every resource
// it references (images, scripts, stylesheets and their imports, frames,
// embedded objects). Resources are written to a folder next to the document
// and the references in the document and its stylesheets are rewritten to
// point to the local copies.
package archiver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
)

const levelTrace = slog.LevelDebug - 10

var nullLogger = slog.New(slog.DiscardHandler)

var rxFileExt = regexp.MustCompile(`\.\w*$`)

// Options are the options of an archive job.
type Options struct {
	// SaveIframes enables the download of iframe documents.
	SaveIframes bool

	// SaveObjects enables the download of embed and object resources.
	SaveObjects bool

	// RewriteLinks rewrites the document's links to absolute URLs.
	RewriteLinks bool

	// Concurrency is the maximum number of fetches in flight.
	Concurrency int

	// FolderSuffix is appended to the output file stem to name
	// the resource folder.
	FolderSuffix string

	// DefaultCharset decodes text without a known charset.
	DefaultCharset string

	// WriteCharset encodes text without a recorded charset.
	WriteCharset string
}

// DefaultOptions returns the default [Options].
func DefaultOptions() Options {
	return Options{
		Concurrency:    4,
		FolderSuffix:   "_files",
		DefaultCharset: DefaultCharset,
		WriteCharset:   DefaultWriteCharset,
	}
}

func (o Options) validate() error {
	var errs []error
	if o.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("invalid concurrency %d", o.Concurrency))
	}
	if o.FolderSuffix == "" {
		errs = append(errs, errors.New("empty folder suffix"))
	}
	if _, name := lookupEncoding(o.DefaultCharset); name == "" {
		errs = append(errs, fmt.Errorf("unknown charset %q", o.DefaultCharset))
	}
	if _, name := lookupEncoding(o.WriteCharset); name == "" {
		errs = append(errs, fmt.Errorf("unknown charset %q", o.WriteCharset))
	}
	return errors.Join(errs...)
}

// Observer receives the job state changes and the download progress.
// Its methods are called from the goroutine running the job.
type Observer interface {
	StateChanged(job *Job, state State)
	Progress(job *Job, done, total int)
}

// Saver holds the services shared by archive jobs.
type Saver struct {
	transport Transport
	persister Persister
	logger    *slog.Logger
	metrics   *Metrics
	observer  Observer
	options   Options
}

// Option is a function that can set a [Saver] options.
type Option func(s *Saver)

// WithTransport sets the [Transport] fetching resources.
func WithTransport(t Transport) Option {
	return func(s *Saver) {
		s.transport = t
	}
}

// WithClient sets an [HTTPTransport] using the given client.
func WithClient(client *http.Client) Option {
	return func(s *Saver) {
		s.transport = NewHTTPTransport(client)
	}
}

// WithPersister sets the [Persister] writing non text resources.
func WithPersister(p Persister) Option {
	return func(s *Saver) {
		s.persister = p
	}
}

// WithLogger sets the [Saver]'s logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Saver) {
		s.logger = logger
	}
}

// WithMetrics sets the [Metrics] the jobs report to.
func WithMetrics(m *Metrics) Option {
	return func(s *Saver) {
		s.metrics = m
	}
}

// WithObserver sets an [Observer] on every job.
func WithObserver(o Observer) Option {
	return func(s *Saver) {
		s.observer = o
	}
}

// WithOptions sets the job [Options].
func WithOptions(o Options) Option {
	return func(s *Saver) {
		s.options = o
	}
}

// WithConcurrency sets the maximum number of fetches in flight in a job.
func WithConcurrency(v int) Option {
	return func(s *Saver) {
		s.options.Concurrency = v
	}
}

// New creates a new [Saver].
func New(options ...Option) *Saver {
	s := &Saver{
		options: DefaultOptions(),
	}

	for _, fn := range options {
		fn(s)
	}

	if s.transport == nil {
		s.transport = NewHTTPTransport(http.DefaultClient)
	}
	if s.persister == nil {
		s.persister = CopyPersister{}
	}
	if s.logger == nil {
		s.logger = nullLogger
	}
	if s.options.DefaultCharset == "" {
		s.options.DefaultCharset = DefaultCharset
	}
	if s.options.WriteCharset == "" {
		s.options.WriteCharset = DefaultWriteCharset
	}

	return s
}

// Options returns the saver's job options.
func (s *Saver) Options() Options {
	return s.options
}

// NewJob returns a new [Job] saving doc into file. Resources are saved in
// a folder next to file. The callback is called once, when the job ends.
func (s *Saver) NewJob(doc *Document, file string, callback Callback) (*Job, error) {
	if doc == nil || doc.Root == nil || doc.URL == nil {
		return nil, errNoDocument
	}
	if file == "" {
		return nil, errors.New("no output file")
	}
	if err := s.options.validate(); err != nil {
		return nil, err
	}

	return newJob(s, doc, file, callback), nil
}

// FolderPath returns the resource folder of an output file: the file path
// without its extension, followed by suffix.
func FolderPath(file, suffix string) string {
	dir, name := filepath.Split(file)
	return filepath.Join(dir, rxFileExt.ReplaceAllString(name, "")+suffix)
}
