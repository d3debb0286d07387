// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// Download is the fetch record of a unique reference.
type Download struct {
	Reference *Reference

	// Content is the decoded text of text resources, or the raw
	// bytes of other resources.
	Content []byte

	ContentType string
	Charset     string
	Failed      bool
	Err         error
}

// release drops the download's content once it's persisted.
func (d *Download) release() {
	d.Content = nil
}

// scheduler fetches the unique references of a job with a bounded number
// of fetches in flight.
type scheduler struct {
	transport      Transport
	limit          int64
	defaultCharset string
	log            *slog.Logger
	metrics        *Metrics

	// progress is called after every completed fetch, from the
	// scheduler's goroutine.
	progress func(done, total int)
}

// run fetches every non duplicate reference and returns their download
// records in reference order. Fetches start in reference order; they may
// complete in any order. It returns when every started fetch is done.
// No new fetch starts after ctx is done.
func (s *scheduler) run(ctx context.Context, refs []*Reference, doc *Document) []*Download {
	total := 0
	for _, ref := range refs {
		if !ref.Duplicate {
			total++
		}
	}

	sem := semaphore.NewWeighted(max(s.limit, 1))
	results := make(chan *Download, total)
	downloads := make([]*Download, 0, total)
	completed := 0

	done := func(_ *Download) {
		completed++
		if s.progress != nil {
			s.progress(completed, total)
		}
	}

	for _, ref := range refs {
		if ref.Duplicate {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		d := &Download{Reference: ref}
		downloads = append(downloads, d)
		go func() {
			s.fetch(ctx, d, doc)
			sem.Release(1)
			results <- d
		}()

		// Report the fetches that completed meanwhile.
	drain:
		for {
			select {
			case d := <-results:
				done(d)
			default:
				break drain
			}
		}
	}

	for completed < len(downloads) {
		done(<-results)
	}

	return downloads
}

// fetch runs one fetch and records its outcome on the download.
// Text content is decoded with, in order, the known charset,
// the transport charset and the default one.
func (s *scheduler) fetch(ctx context.Context, d *Download, doc *Document) {
	ref := d.Reference
	log := s.log.With(slog.Any("url", URLLogValue(ref.Key())))

	req := &FetchRequest{URL: ref.Key()}
	if ref.Context == ContextIndex {
		d.Charset = doc.Charset
		req.Body = doc.PostData
	} else if doc.URL != nil {
		req.Referrer = doc.URL.String()
	}

	log.LogAttrs(ctx, levelTrace, "fetch", slog.String("context", ref.Context.String()))
	rsp, err := s.transport.Fetch(ctx, req)
	if err != nil {
		d.Failed = true
		d.Err = err
		s.metrics.fetched(false, 0)
		log.LogAttrs(ctx, slog.LevelWarn, "failed to fetch resource", slog.Any("err", err))
		return
	}

	d.ContentType = rsp.ContentType

	if ref.Context != ContextIndex && !isTextType(rsp.ContentType) {
		d.Content = rsp.Body
		d.Charset = rsp.Charset
		s.metrics.fetched(true, len(rsp.Body))
		return
	}

	known := d.Charset
	if known == "" {
		known = rsp.Charset
	}
	text, used, err := decodeText(rsp.Body, known, s.defaultCharset)
	if err != nil {
		d.Failed = true
		d.Err = err
		s.metrics.fetched(false, 0)
		log.LogAttrs(ctx, slog.LevelWarn, "could not decode resource",
			slog.String("charset", used),
			slog.Any("err", err),
		)
		return
	}

	d.Content = []byte(text)
	d.Charset = used
	s.metrics.fetched(true, len(rsp.Body))
	log.LogAttrs(ctx, slog.LevelDebug, "resource fetched",
		slog.String("content-type", d.ContentType),
		slog.String("charset", d.Charset),
		slog.Int("size", len(d.Content)),
	)
}
