// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is an archive job state.
type State uint8

const (
	// StateCreated is the state of a job that did not run yet.
	StateCreated State = iota
	// StateExtracting is the reference extraction phase.
	StateExtracting
	// StateDownloading is the download phase.
	StateDownloading
	// StateProcessing is the rewrite and write phase.
	StateProcessing
	// StateFinished is the state of a job that went through all its phases.
	StateFinished
	// StateFailed is the state of a job whose extraction failed.
	StateFailed
	// StateCanceled is the state of a canceled job.
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateExtracting:
		return "extracting"
	case StateDownloading:
		return "downloading"
	case StateProcessing:
		return "processing"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateCanceled:
		return "canceled"
	}
	return "unknown"
}

// Done returns true for the final states.
func (s State) Done() bool {
	return s >= StateFinished
}

// Status is the outcome of a job, given to its [Callback].
type Status string

const (
	// StatusSuccess is the status of a job without any error.
	StatusSuccess Status = "success"
	// StatusFailure is the status of a job with at least one error.
	StatusFailure Status = "failure"
)

// Span is the start and finish time of a job phase.
type Span struct {
	Start  time.Time `json:"start"`
	Finish time.Time `json:"finish"`
}

// Duration returns the span duration.
func (s *Span) Duration() time.Duration {
	if s == nil || s.Finish.IsZero() {
		return 0
	}
	return s.Finish.Sub(s.Start)
}

// Timers are the phase spans of a job. A phase that did not start is nil.
type Timers struct {
	Extract  *Span `json:"extract"`
	Download *Span `json:"download"`
	Process  *Span `json:"process"`
}

// Report is the job diagnostics given to the [Callback].
type Report struct {
	Errors []string `json:"errors"`
	Timers Timers   `json:"timers"`

	errs []error
}

// Err returns all the job's errors joined together, or nil.
func (r *Report) Err() error {
	return errors.Join(r.errs...)
}

// Callback is called once, when a job ends.
type Callback func(job *Job, status Status, report *Report)

// Job is an archive job. It saves one document and its resources.
type Job struct {
	id       string
	saver    *Saver
	doc      *Document
	file     string
	dir      string
	options  Options
	callback Callback
	log      *slog.Logger

	mu           sync.Mutex
	state        State
	started      bool
	cancel       context.CancelFunc
	canceled     bool
	cancelReason string
	done         chan struct{}

	refs      []*Reference
	downloads []*Download
	errs      []error
	timers    Timers
}

func newJob(s *Saver, doc *Document, file string, callback Callback) *Job {
	id := uuid.New().String()
	return &Job{
		id:       id,
		saver:    s,
		doc:      doc,
		file:     file,
		dir:      FolderPath(file, s.options.FolderSuffix),
		options:  s.options,
		callback: callback,
		log: s.logger.With(
			slog.String("job", id),
			slog.Any("url", URLLogValue(doc.URL.String())),
		),
		state: StateCreated,
		done:  make(chan struct{}),
	}
}

// ID returns the job's unique identifier.
func (j *Job) ID() string {
	return j.id
}

// Document returns the job's document.
func (j *Job) Document() *Document {
	return j.doc
}

// File returns the output file path.
func (j *Job) File() string {
	return j.file
}

// Dir returns the resource folder path.
func (j *Job) Dir() string {
	return j.dir
}

// State returns the job's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done returns a channel that's closed when the job ended.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Run runs the job and returns when it ended, after the callback
// was called. The job's outcome is given to the callback; Run only
// returns an error when the job already ran.
func (j *Job) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return ErrAlreadyRun
	}
	j.started = true
	ctx, j.cancel = context.WithCancel(ctx)
	canceled := j.canceled
	j.mu.Unlock()

	defer j.cancel()
	if canceled {
		j.cancel()
	}

	j.log.Info("archive job started", slog.String("file", j.file))

	// Extraction
	j.setState(StateExtracting)
	j.timers.Extract = &Span{Start: time.Now()}
	refs, err := j.extract()
	j.timers.Extract.Finish = time.Now()
	if err != nil {
		j.addError(err)
		j.finish(StateFailed)
		return nil
	}
	j.refs = refs

	if ctx.Err() != nil {
		j.finishCanceled(ctx)
		return nil
	}

	// Downloads
	j.setState(StateDownloading)
	j.timers.Download = &Span{Start: time.Now()}
	s := &scheduler{
		transport:      j.saver.transport,
		limit:          int64(j.options.Concurrency),
		defaultCharset: j.options.DefaultCharset,
		log:            j.log,
		metrics:        j.saver.metrics,
		progress: func(done, total int) {
			if j.saver.observer != nil {
				j.saver.observer.Progress(j, done, total)
			}
		},
	}
	j.downloads = s.run(ctx, refs, j.doc)
	j.timers.Download.Finish = time.Now()

	if ctx.Err() != nil {
		j.finishCanceled(ctx)
		return nil
	}

	// Processing
	j.setState(StateProcessing)
	j.timers.Process = &Span{Start: time.Now()}
	newEngine(j).run(ctx, j.downloads)
	j.timers.Process.Finish = time.Now()

	if ctx.Err() != nil {
		j.finishCanceled(ctx)
		return nil
	}

	j.finish(StateFinished)
	return nil
}

// Cancel cancels the job. In flight fetches are interrupted, the job records
// a cancellation error and ends. A rewrite or a write that started is not
// interrupted. It has no effect on a job that ended.
func (j *Job) Cancel(reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Done() || j.canceled {
		return
	}
	j.canceled = true
	j.cancelReason = reason
	if j.cancel != nil {
		j.cancel()
	}
}

// extract returns the job's reference list, the document reference first.
// It creates an empty resource folder.
func (j *Job) extract() (refs []*Reference, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrExtract, r)
		}
	}()

	if err = os.RemoveAll(j.dir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtract, err)
	}
	if err = os.MkdirAll(j.dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtract, err)
	}
	if err = os.MkdirAll(filepath.Dir(j.file), 0o750); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtract, err)
	}

	ex := &Extractor{
		SaveIframes: j.options.SaveIframes,
		SaveObjects: j.options.SaveObjects,
		Logger:      j.log,
	}
	if refs, err = ex.References(j.doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtract, err)
	}

	j.log.Debug("references extracted", slog.Int("count", len(refs)))
	return refs, nil
}

func (j *Job) setState(state State) {
	j.mu.Lock()
	j.state = state
	j.mu.Unlock()

	if j.saver.observer != nil {
		j.saver.observer.StateChanged(j, state)
	}
}

func (j *Job) addError(err error) {
	j.log.Warn("archive error", slog.Any("err", err))
	j.errs = append(j.errs, err)
}

func (j *Job) finishCanceled(ctx context.Context) {
	j.mu.Lock()
	canceled, reason := j.canceled, j.cancelReason
	j.mu.Unlock()

	switch {
	case !canceled:
		j.addError(fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx)))
	case reason != "":
		j.addError(fmt.Errorf("%w: %s", ErrCanceled, reason))
	default:
		j.addError(ErrCanceled)
	}
	j.finish(StateCanceled)
}

// finish ends the job: it stamps the last open phase, calls the callback
// and releases the references and downloads.
func (j *Job) finish(state State) {
	now := time.Now()
	for _, s := range []*Span{j.timers.Extract, j.timers.Download, j.timers.Process} {
		if s != nil && s.Finish.IsZero() {
			s.Finish = now
		}
	}

	status := StatusSuccess
	if len(j.errs) > 0 {
		status = StatusFailure
	}

	report := &Report{
		Errors: make([]string, len(j.errs)),
		Timers: j.timers,
		errs:   j.errs,
	}
	for i, err := range j.errs {
		report.Errors[i] = err.Error()
	}

	m := j.saver.metrics
	m.phase("extract", j.timers.Extract)
	m.phase("download", j.timers.Download)
	m.phase("process", j.timers.Process)
	m.finished(status)

	j.setState(state)
	j.log.Info("archive job ended",
		slog.String("state", state.String()),
		slog.String("status", string(status)),
		slog.Int("errors", len(j.errs)),
	)

	if j.callback != nil {
		j.callback(j, status, report)
	}

	j.refs = nil
	j.downloads = nil
	close(j.done)
}
