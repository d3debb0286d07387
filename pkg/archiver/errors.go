// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import "errors"

var (
	// ErrExtract is returned when the reference extraction fails.
	// It is the only fatal error of a job.
	ErrExtract = errors.New("extraction failed")

	// ErrFetch is recorded for every download that failed.
	ErrFetch = errors.New("download failed for uri")

	// ErrPersist is recorded when a resource or the main document
	// could not be written.
	ErrPersist = errors.New("error persisting uri")

	// ErrCanceled is recorded when a job is canceled.
	ErrCanceled = errors.New("download canceled by user")

	// ErrAlreadyRun is returned when running a job a second time.
	ErrAlreadyRun = errors.New("job already started")

	// ErrUnsupportedType is returned by the document loader when
	// the content is not an HTML document.
	ErrUnsupportedType = errors.New("unsupported content type")

	// ErrMissingContentType is recorded when a download has no known
	// content type.
	ErrMissingContentType = errors.New("missing content type")

	// ErrBodyTooLarge is returned when a response body exceeds
	// the size limit.
	ErrBodyTooLarge = errors.New("response body too large")

	errNoDocument = errors.New("no document")
)
