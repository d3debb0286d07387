// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	unnamedFile  = "unnamed"
	maxNameBytes = 200
	maxUnique    = 10000
)

var errNoUniqueName = errors.New("no unique name available")

// Allocator assigns a file name in the output folder to every unique
// reference target. A name is claimed by creating an empty placeholder
// file, so two targets never share a name. Names are kept for the
// lifetime of the allocator.
type Allocator struct {
	sync.Mutex
	dir   string
	names map[string]string
}

// NewAllocator returns an [Allocator] for a folder.
func NewAllocator(dir string) *Allocator {
	return &Allocator{
		dir:   dir,
		names: make(map[string]string),
	}
}

// Dir returns the allocator's folder.
func (a *Allocator) Dir() string {
	return a.dir
}

// Allocate returns the file name of the reference target. The first call
// for a target claims a name, the next ones return the same name.
// The content type gives an extension to names without one.
func (a *Allocator) Allocate(ref *Reference, contentType string) (string, error) {
	key := ref.Key()
	if key == "" {
		return "", fmt.Errorf("cannot allocate a name for %q", ref.Raw)
	}

	a.Lock()
	defer a.Unlock()

	if name, ok := a.names[key]; ok {
		return name, nil
	}

	if err := os.MkdirAll(a.dir, 0o750); err != nil {
		return "", err
	}

	name, err := createUnique(a.dir, candidateName(ref, contentType))
	if err != nil {
		return "", err
	}

	a.names[key] = name
	return name, nil
}

// candidateName returns the last path segment of the reference target,
// without its query. Characters that are not allowed in file names are
// replaced.
func candidateName(ref *Reference, contentType string) string {
	p := ref.URL.Path
	name := sanitizeFileName(p[strings.LastIndex(p, "/")+1:])
	if name == "" {
		name = unnamedFile
	}

	if path.Ext(name) == "" && contentType != "" {
		if ext := GetExtension(contentType); ext != ".bin" {
			name += ext
		}
	}
	return name
}

func sanitizeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case strings.ContainsRune(`\/:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, " .")

	if len(name) > maxNameBytes {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		stem := name[:maxNameBytes-len(ext)]
		for !utf8.ValidString(stem) {
			stem = stem[:len(stem)-1]
		}
		name = stem + ext
	}
	return name
}

// createUnique creates an empty file named after name in dir. When the name
// is taken, it tries name-1, name-2... (before the extension) and returns
// the name of the file it created.
func createUnique(dir, name string) (string, error) {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := range maxUnique {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}

		fd, err := os.OpenFile(filepath.Join(dir, candidate), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return candidate, fd.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}

	return "", fmt.Errorf("%w: %s", errNoUniqueName, name)
}
