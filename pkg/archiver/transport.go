// SPDX-FileCopyrightText: © 2020 Radhi Fadlillah
// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/gabriel-vasile/mimetype"
)

// FetchRequest is a request sent to a [Transport].
type FetchRequest struct {
	// URL is the resource URL. Its fragment is ignored.
	URL string

	// Referrer is sent as the Referer header, when set.
	Referrer string

	// Body is a form encoded body. When set, the resource is requested
	// with a POST request.
	Body []byte
}

// FetchResponse is a fetched resource.
type FetchResponse struct {
	Body        []byte
	ContentType string
	Charset     string
}

// Transport fetches resources.
type Transport interface {
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
}

// TransportFunc is a function implementing [Transport].
type TransportFunc func(ctx context.Context, req *FetchRequest) (*FetchResponse, error)

// Fetch implements [Transport].
func (f TransportFunc) Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error) {
	return f(ctx, req)
}

// HTTPTransport is a [Transport] using an [http.Client].
// It also serves "data:" URLs.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport returns an [HTTPTransport]. When client is nil, it uses
// [http.DefaultClient].
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client}
}

// Fetch implements [Transport].
// Any response with a status outside the 2xx range is an error. When the
// response has no content type, or a generic binary one, the content type
// is detected from the content.
func (t *HTTPTransport) Fetch(ctx context.Context, fr *FetchRequest) (*FetchResponse, error) {
	var rsp *http.Response
	var err error

	uri := requestURI(fr.URL)

	if strings.HasPrefix(uri, "data:") {
		if rsp, err = loadDataURI(uri); err != nil {
			return nil, err
		}
	} else {
		method := http.MethodGet
		var body io.Reader
		if len(fr.Body) > 0 {
			method = http.MethodPost
			body = bytes.NewReader(fr.Body)
		}

		req, err := http.NewRequestWithContext(ctx, method, uri, body)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		if fr.Referrer != "" {
			req.Header.Set("Referer", fr.Referrer)
		}

		if rsp, err = t.client.Do(req); err != nil {
			return nil, err
		}
	}
	defer rsp.Body.Close() //nolint:errcheck

	if rsp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("invalid response status (%d)", rsp.StatusCode)
	}

	data, err := readBody(rsp.Body)
	if err != nil {
		return nil, err
	}

	contentType, cs := mediaType(rsp.Header.Get("Content-Type"))

	// Try to detect binary or unspecified types
	if contentType == "" ||
		strings.EqualFold(contentType, "binary/octet-stream") ||
		strings.EqualFold(contentType, "application/octet-stream") {
		var sniffed string
		contentType, sniffed = mediaType(mimetype.Detect(data).String())
		if cs == "" {
			cs = sniffed
		}
	}

	if cs == "" && contentType == "text/css" {
		cs = stylesheetCharset(data)
	}
	if cs == "" && isHTMLType(contentType) {
		// windows-1252 is the prescan default, when nothing was found.
		if _, name, _ := charset.DetermineEncoding(data, contentType); name != "windows-1252" {
			cs = name
		}
	}

	return &FetchResponse{
		Body:        data,
		ContentType: contentType,
		Charset:     cs,
	}, nil
}
