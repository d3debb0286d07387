// SPDX-FileCopyrightText: © 2020 Radhi Fadlillah
// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var errInvalidBase64URI = errors.New("invalid base64 URI")

var rxStyleURL = regexp.MustCompile(`(?i)^url\((.*)\)$`)

var commonTypes = map[string]string{
	"application/javascript":        ".js",
	"application/json":              ".json",
	"application/ogg":               ".ogx",
	"application/pdf":               ".pdf",
	"application/rtf":               ".rtf",
	"application/vnd.ms-fontobject": ".eot",
	"application/wasm":              ".wasm",
	"application/x-javascript":      ".js",
	"application/x-shockwave-flash": ".swf",
	"application/xhtml+xml":         ".xhtml",
	"application/xml":               ".xml",
	"audio/aac":                     ".aac",
	"audio/midi":                    ".midi",
	"audio/x-midi":                  ".midi",
	"audio/mpeg":                    ".mp3",
	"audio/ogg":                     ".oga",
	"audio/opus":                    ".opus",
	"audio/wav":                     ".wav",
	"audio/webm":                    ".weba",
	"font/otf":                      ".otf",
	"font/ttf":                      ".ttf",
	"font/woff":                     ".woff",
	"font/woff2":                    ".woff2",
	"image/avif":                    ".avif",
	"image/bmp":                     ".bmp",
	"image/gif":                     ".gif",
	"image/jpeg":                    ".jpg",
	"image/png":                     ".png",
	"image/svg+xml":                 ".svg",
	"image/tiff":                    ".tiff",
	"image/vnd.microsoft.icon":      ".ico",
	"image/webp":                    ".webp",
	"image/x-icon":                  ".ico",
	"text/calendar":                 ".ics",
	"text/css":                      ".css",
	"text/csv":                      ".csv",
	"text/html":                     ".html",
	"text/javascript":               ".js",
	"text/plain":                    ".txt",
	"text/xml":                      ".xml",
	"video/mp2t":                    ".ts",
	"video/mp4":                     ".mp4",
	"video/mpeg":                    ".mpeg",
	"video/ogg":                     ".ogv",
	"video/webm":                    ".webm",
	"video/x-msvideo":               ".avi",
}

// scriptTypes are the non text/* types written as text.
var scriptTypes = map[string]struct{}{
	"application/javascript":   {},
	"application/x-javascript": {},
	"application/ecmascript":   {},
	"application/x-ecmascript": {},
}

// URLLogValue is a [slog.LogValuer] for URLs.
// It truncates the string when there too long (ie. data: URLs).
type URLLogValue string

// LogValue implements [slog.LogValuer].
func (s URLLogValue) LogValue() slog.Value {
	if len(s) > 256 {
		return slog.StringValue(string(s)[0:40] + "..." + string(s)[len(s)-40:])
	}

	return slog.StringValue(string(s))
}

type nodeLogValue struct {
	node *html.Node
}

// NodeLogValue is an [slog.LogValuer] for an [*html.Node].
// Its LogValue method renders and truncate the node as HTML.
func NodeLogValue(n *html.Node) slog.LogValuer {
	return &nodeLogValue{n}
}

func (n *nodeLogValue) LogValue() slog.Value {
	switch n.node.Type {
	case html.TextNode:
		return slog.StringValue(n.node.Data)
	case html.CommentNode:
		return slog.StringValue("<!--" + n.node.Data + "-->")
	}

	var tagPreview strings.Builder
	tagPreview.WriteString("<")
	tagPreview.WriteString(n.node.Data)

	hasOtherAttributes := false
	for _, attr := range n.node.Attr {
		switch strings.ToLower(attr.Key) {
		case "id", "class", "rel", "name", "type":
			fmt.Fprintf(&tagPreview, ` %s=%q`, attr.Key, attr.Val)
		case "src", "href", "data", "background":
			val := attr.Val
			if strings.HasPrefix(val, "data:") {
				if v, _, ok := strings.Cut(val, ","); ok {
					val = v + ",***"
				}
			}
			fmt.Fprintf(&tagPreview, ` %s=%q`, attr.Key, val)
		default:
			hasOtherAttributes = true
		}
	}
	if hasOtherAttributes {
		tagPreview.WriteString(" ...")
	}

	if n.node.FirstChild == nil {
		tagPreview.WriteString("/")
	}
	tagPreview.WriteString(">")
	return slog.StringValue(tagPreview.String())
}

// GetExtension returns an extension for a given mime type. It defaults
// to .bin when none was found.
func GetExtension(mimeType string) string {
	t, _, _ := strings.Cut(mimeType, ";")
	t = strings.TrimSpace(strings.ToLower(t))
	if ext, ok := commonTypes[t]; ok {
		return ext
	}
	if ext, _ := mime.ExtensionsByType(t); len(ext) > 0 {
		return ext[0]
	}
	return ".bin"
}

// isHTMLType returns true for the content types rewritten as HTML documents.
func isHTMLType(contentType string) bool {
	return contentType == "text/html" || contentType == "application/xhtml+xml"
}

// isTextType returns true for the content types that are decoded
// and written as text.
func isTextType(contentType string) bool {
	if strings.HasPrefix(contentType, "text/") || isHTMLType(contentType) {
		return true
	}
	_, ok := scriptTypes[contentType]
	return ok
}

// mediaType returns the lower case media type of a Content-Type value
// and its charset parameter.
func mediaType(value string) (string, string) {
	t, params, err := mime.ParseMediaType(value)
	if err != nil {
		t, _, _ = strings.Cut(value, ";")
		return strings.ToLower(strings.TrimSpace(t)), ""
	}
	return t, params["charset"]
}

// readBody reads a response body up to the size limit. A body larger
// than the limit is an error, not a truncated resource.
func readBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("%w (over %d bytes)", ErrBodyTooLarge, maxBodySize)
	}
	return data, nil
}

func requestURI(s string) (uri string) {
	uri, _, _ = strings.Cut(s, "#")
	return
}

// sanitizeStyleURL sanitizes the URL in CSS by removing `url()`,
// quotation marks.
func sanitizeStyleURL(uri string) string {
	cssURL := rxStyleURL.ReplaceAllString(uri, "$1")
	cssURL = strings.TrimSpace(cssURL)

	if strings.HasPrefix(cssURL, `"`) {
		return strings.TrimSpace(strings.Trim(cssURL, `"`))
	}

	if strings.HasPrefix(cssURL, `'`) {
		return strings.TrimSpace(strings.Trim(cssURL, `'`))
	}

	return strings.TrimSpace(cssURL)
}

// loadDataURI returns an [http.Response] from a "data:" URI.
// If the URI defines a "base64" encoding, it's decoded using
// [base64.StdEncoding]. The result response has always a status 200,
// a content-type header and an [io.NopCloser] body that wraps
// a buffer with the content.
func loadDataURI(uri string) (*http.Response, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, errInvalidBase64URI
	}

	prefix, data, found := strings.Cut(uri, ",")
	if !found {
		return nil, errInvalidBase64URI
	}
	prefix = strings.TrimSpace(prefix)
	data = strings.TrimSpace(data)
	contentType := strings.TrimSuffix(strings.TrimPrefix(prefix, "data:"), ";base64")

	var res *bytes.Buffer
	var err error

	if !strings.HasSuffix(prefix, ";base64") {
		p, _ := url.PathUnescape(data)
		res = bytes.NewBufferString(p)
	} else {
		res = new(bytes.Buffer)
		dec := base64.NewDecoder(base64.StdEncoding, bytes.NewBufferString(data))
		_, err = io.Copy(res, dec)
		if err != nil {
			return nil, err
		}
	}

	return &http.Response{
		StatusCode:    http.StatusOK,
		ContentLength: int64(res.Len()),
		Header: http.Header{
			"Content-Type": {contentType},
		},
		Body:    io.NopCloser(res),
		Request: &http.Request{},
	}, nil
}
