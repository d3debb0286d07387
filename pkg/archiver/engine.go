// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
)

// engine rewrites and writes the downloads of a job, one at a time,
// in reference order.
type engine struct {
	doc       *Document
	file      string
	folder    string
	alloc     *Allocator
	persister Persister
	options   Options
	refs      []*Reference
	log       *slog.Logger

	// fail records a non fatal error on the job.
	fail func(error)

	targets     map[string]*Download
	allocFailed map[string]struct{}
}

func newEngine(j *Job) *engine {
	return &engine{
		doc:         j.doc,
		file:        j.file,
		folder:      filepath.Base(j.dir),
		alloc:       NewAllocator(j.dir),
		persister:   j.saver.persister,
		options:     j.options,
		refs:        j.refs,
		log:         j.log,
		fail:        j.addError,
		allocFailed: make(map[string]struct{}),
	}
}

// run processes the downloads. It stops between two downloads
// when ctx is done.
func (e *engine) run(ctx context.Context, downloads []*Download) {
	e.targets = make(map[string]*Download, len(downloads))
	for _, d := range downloads {
		if d.Reference.Context == ContextIndex {
			continue
		}
		e.targets[d.Reference.Key()] = d
	}

	for _, d := range downloads {
		if ctx.Err() != nil {
			return
		}
		e.process(ctx, d)
		d.release()
	}
}

func (e *engine) process(ctx context.Context, d *Download) {
	ref := d.Reference
	log := e.log.With(slog.Any("url", URLLogValue(ref.Key())))

	if d.Failed {
		e.fail(fmt.Errorf("%w: %s: %w", ErrFetch, ref.Key(), d.Err))
		return
	}

	if ref.Context == ContextIndex {
		if err := e.saveIndex(d); err != nil {
			e.fail(fmt.Errorf("%w: %s: couldn't save %s: %w", ErrPersist, ref.Key(), e.file, err))
		}
		return
	}

	if d.ContentType == "" {
		e.fail(fmt.Errorf("%w: %s: %w", ErrPersist, ref.Key(), ErrMissingContentType))
		return
	}

	name, ok := e.allocate(d.Reference, d.ContentType)
	if !ok {
		return
	}
	dest := filepath.Join(e.alloc.Dir(), name)

	var err error
	switch {
	case isHTMLType(d.ContentType):
		payload := e.rewrite(string(d.Content), ScopeBase, HTMLRewriters, "")
		err = writeText(dest, payload, e.writeCharset(d))
	case d.ContentType == "text/css":
		payload := e.rewrite(string(d.Content), ScopeExtCSS, CSSRewriters, "")
		err = writeText(dest, payload, e.writeCharset(d))
	case isTextType(d.ContentType):
		err = writeText(dest, string(d.Content), e.writeCharset(d))
	default:
		err = <-e.persister.Persist(ctx, d, dest)
	}

	if err != nil {
		e.fail(fmt.Errorf("%w: %s: couldn't save %s: %w", ErrPersist, ref.Key(), name, err))
		return
	}

	log.LogAttrs(ctx, slog.LevelDebug, "save resource",
		slog.String("name", name),
		slog.String("content-type", d.ContentType),
	)
}

// saveIndex writes the main document. It marks the document source,
// comments out <base> elements and rewrites the document references to
// the output folder.
func (e *engine) saveIndex(d *Download) error {
	payload := markSource(string(d.Content), e.doc.URL.String())
	payload = commentBase(payload)
	payload = e.rewrite(payload, ScopeBase, HTMLRewriters, url.PathEscape(e.folder)+"/")

	if e.options.RewriteLinks {
		payload = absoluteLinks(payload, e.doc.BaseURL())
	}

	e.log.LogAttrs(context.Background(), slog.LevelDebug, "save document", slog.String("file", e.file))
	return writeText(e.file, payload, e.writeCharset(d))
}

// rewrite replaces, in payload, every reference of the given scope that
// has a local copy.
func (e *engine) rewrite(payload string, scope OriginScope, set RewriteSet, prefix string) string {
	for _, ref := range e.refs {
		if ref.Raw == "" || ref.Context == ContextIndex || ref.Scope != scope {
			continue
		}
		rw, ok := set[ref.Context]
		if !ok {
			continue
		}

		target, ok := e.targets[ref.Key()]
		if !ok || target.Failed || target.ContentType == "" {
			continue
		}

		name, ok := e.allocate(target.Reference, target.ContentType)
		if !ok {
			continue
		}
		payload = rw.Rewrite(payload, ref.Raw, prefix+url.PathEscape(name)+ref.Fragment())
	}
	return payload
}

// allocate returns the target's file name. An allocation error is
// recorded once per target.
func (e *engine) allocate(ref *Reference, contentType string) (string, bool) {
	name, err := e.alloc.Allocate(ref, contentType)
	if err == nil {
		return name, true
	}

	if _, ok := e.allocFailed[ref.Key()]; !ok {
		e.allocFailed[ref.Key()] = struct{}{}
		e.fail(fmt.Errorf("%w: %s: %w", ErrPersist, ref.Key(), err))
	}
	return "", false
}

func (e *engine) writeCharset(d *Download) string {
	if d.Charset != "" {
		return d.Charset
	}
	return e.options.WriteCharset
}
