// SPDX-FileCopyrightText: © 2020 Radhi Fadlillah
// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
)

// Persister writes the resources that are not rewritten. Persist runs
// out of band; the returned channel receives the outcome, then is closed.
type Persister interface {
	Persist(ctx context.Context, d *Download, dest string) <-chan error
}

// PersisterFunc is a function implementing [Persister].
type PersisterFunc func(ctx context.Context, d *Download, dest string) <-chan error

// Persist implements [Persister].
func (f PersisterFunc) Persist(ctx context.Context, d *Download, dest string) <-chan error {
	return f(ctx, d, dest)
}

// CopyPersister is a [Persister] copying a download's content
// to a file.
type CopyPersister struct{}

// Persist implements [Persister]. A copy that started is not interrupted
// by the context.
func (CopyPersister) Persist(_ context.Context, d *Download, dest string) <-chan error {
	res := make(chan error, 1)
	r := bytes.NewReader(d.Content)

	go func() {
		defer close(res)
		res <- copyFile(r, dest)
	}()

	return res
}

func copyFile(r io.Reader, dest string) (err error) {
	if err = os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}

	w, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(w, r)
	return err
}

// writeText writes a text file with the given charset.
func writeText(dest, text, charset string) error {
	data, err := encodeText(text, charset)
	if err != nil {
		return err
	}
	return copyFile(bytes.NewReader(data), dest)
}
