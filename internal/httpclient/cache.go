// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

package httpclient

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// CacheTransport is a [Transport] serving GET and HEAD requests from
// bodies the application already received.
// The page loader stores the document and its stylesheets so the archive
// job does not fetch them a second time.
type CacheTransport struct {
	*Transport

	mu        sync.RWMutex
	entries   map[string]*cacheResource
	checkFunc func(*http.Request) bool
	hits      int
}

type cacheResource struct {
	header http.Header
	body   []byte
}

func cacheKey(uri string) string {
	uri, _, _ = strings.Cut(uri, "#")
	return uri
}

// RoundTrip implements [http.RoundTripper].
func (t *CacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	entry := t.getEntry(req)
	if entry == nil {
		return t.Transport.RoundTrip(req)
	}

	t.Log().Debug("cache hit", slog.String("url", req.URL.String()))

	rsp := &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     entry.header.Clone(),
		Request:    req,
		Body:       http.NoBody,
	}
	if req.Method == http.MethodGet {
		rsp.Body = io.NopCloser(bytes.NewReader(entry.body))
		rsp.ContentLength = int64(len(entry.body))
	}

	return rsp, nil
}

func (t *CacheTransport) addEntry(uri string, header http.Header, body []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[cacheKey(uri)] = &cacheResource{
		header: header.Clone(),
		body:   bytes.Clone(body),
	}
}

func (t *CacheTransport) hasEntry(uri string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.entries[cacheKey(uri)]
	return ok
}

// getEntry returns the entry of a GET or HEAD request, when the
// transport's check function accepts it.
func (t *CacheTransport) getEntry(req *http.Request) *cacheResource {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[cacheKey(req.URL.String())]
	if !ok {
		return nil
	}
	if t.checkFunc != nil && !t.checkFunc(req) {
		return nil
	}

	t.hits++
	return entry
}

// NewCacheClient returns a new [http.Client] with a [CacheTransport] round tripper.
// The "check" function, when not nil, can exclude a request from the cache.
func NewCacheClient(check func(*http.Request) bool, options ...Option) *http.Client {
	client := New(options...)
	client.Transport = &CacheTransport{
		Transport: client.Transport.(*Transport),
		entries:   map[string]*cacheResource{},
		checkFunc: check,
	}

	return client
}

// AddToCache adds a response to an [http.Client] cache.
// It does nothing when the client's transport is not a [CacheTransport].
func AddToCache(client *http.Client, uri string, header http.Header, body []byte) {
	if t, ok := client.Transport.(*CacheTransport); ok {
		t.addEntry(uri, header, body)
	}
}

// IsInCache returns true if a URL exists in an [http.Client] cache.
func IsInCache(client *http.Client, uri string) bool {
	if t, ok := client.Transport.(*CacheTransport); ok {
		return t.hasEntry(uri)
	}
	return false
}

// CacheHits returns the number of requests an [http.Client] cache served.
func CacheHits(client *http.Client) int {
	if t, ok := client.Transport.(*CacheTransport); ok {
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.hits
	}
	return 0
}
