// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver_test

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"codeberg.org/readeck/savecomplete/pkg/archiver"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

// contentResponder returns a responder with a content type.
func contentResponder(status int, contentType, body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		rsp := httpmock.NewStringResponse(status, body)
		if contentType != "" {
			rsp.Header.Set("Content-Type", contentType)
		}
		rsp.Request = req
		return rsp, nil
	}
}

func TestHTTPTransport(t *testing.T) {
	mt := httpmock.NewMockTransport()
	client := &http.Client{Transport: mt}
	tr := archiver.NewHTTPTransport(client)

	mt.RegisterResponder("GET", "http://example.com/s.css",
		contentResponder(200, "text/css; charset=windows-1252", ".x{}"))
	mt.RegisterResponder("GET", "http://example.com/b.png",
		httpmock.NewBytesResponder(200, pngHeader))
	mt.RegisterResponder("GET", "http://example.com/404.png",
		contentResponder(404, "text/html", "not found"))
	mt.RegisterResponder("GET", "http://example.com/error",
		httpmock.NewErrorResponder(io.ErrUnexpectedEOF))
	mt.RegisterResponder("GET", "http://example.com/meta.html",
		contentResponder(200, "text/html", `<html><head><meta charset="iso-8859-15"></head></html>`))
	mt.RegisterResponder("GET", "http://example.com/latin.css",
		contentResponder(200, "text/css", `@charset "iso-8859-15"; .x{background:url(cafe.png)}`))
	mt.RegisterResponder("GET", "http://example.com/plain.css",
		contentResponder(200, "text/css", `.x{}`))
	mt.RegisterResponder("GET", "http://example.com/large.bin",
		func(req *http.Request) (*http.Response, error) {
			rsp := httpmock.NewBytesResponse(200, nil)
			rsp.Body = io.NopCloser(io.LimitReader(zeroReader{}, 64<<20+1))
			return rsp, nil
		})
	mt.RegisterResponder("POST", "http://example.com/form",
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			return contentResponder(200, "text/html; charset=utf-8",
				req.Header.Get("Content-Type")+"|"+string(body))(req)
		})
	mt.RegisterResponder("GET", "http://example.com/ref",
		func(req *http.Request) (*http.Response, error) {
			return contentResponder(200, "text/plain", req.Header.Get("Referer"))(req)
		})

	t.Run("content type and charset", func(t *testing.T) {
		assert := require.New(t)

		rsp, err := tr.Fetch(context.Background(), &archiver.FetchRequest{URL: "http://example.com/s.css#frag"})
		assert.NoError(err)
		assert.Equal("text/css", rsp.ContentType)
		assert.Equal("windows-1252", rsp.Charset)
		assert.Equal(".x{}", string(rsp.Body))
	})

	t.Run("sniffing", func(t *testing.T) {
		assert := require.New(t)

		rsp, err := tr.Fetch(context.Background(), &archiver.FetchRequest{URL: "http://example.com/b.png"})
		assert.NoError(err)
		assert.Equal("image/png", rsp.ContentType)
		assert.Equal(pngHeader, rsp.Body)
	})

	t.Run("meta charset", func(t *testing.T) {
		assert := require.New(t)

		rsp, err := tr.Fetch(context.Background(), &archiver.FetchRequest{URL: "http://example.com/meta.html"})
		assert.NoError(err)
		assert.Equal("text/html", rsp.ContentType)
		assert.Equal("iso-8859-15", rsp.Charset)
	})

	t.Run("stylesheet charset", func(t *testing.T) {
		assert := require.New(t)

		rsp, err := tr.Fetch(context.Background(), &archiver.FetchRequest{URL: "http://example.com/latin.css"})
		assert.NoError(err)
		assert.Equal("text/css", rsp.ContentType)
		assert.Equal("iso-8859-15", rsp.Charset)

		rsp, err = tr.Fetch(context.Background(), &archiver.FetchRequest{URL: "http://example.com/plain.css"})
		assert.NoError(err)
		assert.Equal("UTF-8", rsp.Charset)
	})

	t.Run("body too large", func(t *testing.T) {
		assert := require.New(t)

		_, err := tr.Fetch(context.Background(), &archiver.FetchRequest{URL: "http://example.com/large.bin"})
		assert.ErrorIs(err, archiver.ErrBodyTooLarge)
	})

	t.Run("status error", func(t *testing.T) {
		assert := require.New(t)

		_, err := tr.Fetch(context.Background(), &archiver.FetchRequest{URL: "http://example.com/404.png"})
		assert.ErrorContains(err, "invalid response status (404)")
	})

	t.Run("transport error", func(t *testing.T) {
		assert := require.New(t)

		_, err := tr.Fetch(context.Background(), &archiver.FetchRequest{URL: "http://example.com/error"})
		assert.ErrorIs(err, io.ErrUnexpectedEOF)
	})

	t.Run("post", func(t *testing.T) {
		assert := require.New(t)

		rsp, err := tr.Fetch(context.Background(), &archiver.FetchRequest{
			URL:  "http://example.com/form",
			Body: []byte("q=test&page=2"),
		})
		assert.NoError(err)
		assert.Equal("application/x-www-form-urlencoded|q=test&page=2", string(rsp.Body))
		assert.Equal("utf-8", rsp.Charset)
	})

	t.Run("referrer", func(t *testing.T) {
		assert := require.New(t)

		rsp, err := tr.Fetch(context.Background(), &archiver.FetchRequest{
			URL:      "http://example.com/ref",
			Referrer: "http://example.com/p.html",
		})
		assert.NoError(err)
		assert.Equal("http://example.com/p.html", string(rsp.Body))
	})

	t.Run("data uri", func(t *testing.T) {
		tests := []struct {
			uri         string
			contentType string
			body        string
		}{
			{"data:text/plain,hello%20world", "text/plain", "hello world"},
			{"data:text/css;base64,Lnh7fQ==", "text/css", ".x{}"},
			{"data:,abc", "text/plain", "abc"},
		}

		for _, test := range tests {
			t.Run(test.uri, func(t *testing.T) {
				assert := require.New(t)

				rsp, err := tr.Fetch(context.Background(), &archiver.FetchRequest{URL: test.uri})
				assert.NoError(err)
				assert.Equal(test.contentType, rsp.ContentType)
				assert.Equal(test.body, string(rsp.Body))
			})
		}
	})
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
