// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"

	"github.com/go-shiori/dom"
)

const (
	maxImportDepth = 8
	maxBodySize    = 64 << 20
)

// Document is a loaded HTML document with its stylesheets.
type Document struct {
	// URL is the document location, after redirects.
	URL *url.URL

	// Root is the parsed document tree.
	Root *html.Node

	// Charset is the character set the document was decoded with.
	Charset string

	// Stylesheets are the document stylesheets, in document order.
	Stylesheets []*Stylesheet

	// PostData is the form encoded body the document was requested with.
	PostData []byte
}

// NewDocument returns a [Document] from its parts.
func NewDocument(root *html.Node, uri *url.URL, charset string, sheets ...*Stylesheet) *Document {
	return &Document{
		URL:         uri,
		Root:        root,
		Charset:     charset,
		Stylesheets: sheets,
	}
}

// BaseURL returns the URL the document's references resolve against.
// That's the first <base href> value, when present, or the document URL.
func (d *Document) BaseURL() *url.URL {
	if d.Root == nil || d.URL == nil {
		return d.URL
	}

	node := dom.QuerySelector(d.Root, "base[href]")
	if node == nil {
		return d.URL
	}

	href := strings.TrimSpace(dom.GetAttribute(node, "href"))
	u, err := url.Parse(href)
	if href == "" || err != nil {
		return d.URL
	}
	return d.URL.ResolveReference(u)
}

// Title returns the document's title text.
func (d *Document) Title() string {
	if d.Root == nil {
		return ""
	}
	nodes := dom.GetElementsByTagName(d.Root, "title")
	if len(nodes) == 0 {
		return ""
	}
	return strings.TrimSpace(dom.TextContent(nodes[0]))
}

// LoadOptions are the options of [LoadDocument].
type LoadOptions struct {
	// PostData is a form encoded body. When set, the document is
	// requested with a POST request.
	PostData []byte

	// Logger receives the loader messages.
	Logger *slog.Logger

	// OnFetch is called with every document or stylesheet body
	// the loader receives.
	OnFetch func(uri string, header http.Header, body []byte)
}

// LoadDocument fetches and parses an HTML document and loads its stylesheets.
// The linked stylesheets and their imports are fetched, failed ones are kept
// empty.
func LoadDocument(ctx context.Context, client *http.Client, uri string, options LoadOptions) (*Document, error) {
	if client == nil {
		client = http.DefaultClient
	}
	log := options.Logger
	if log == nil {
		log = nullLogger
	}

	method := http.MethodGet
	var body io.Reader
	if len(options.PostData) > 0 {
		method = http.MethodPost
		body = bytes.NewReader(options.PostData)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURI(uri), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	rsp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close() //nolint:errcheck

	if rsp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("invalid response status (%d)", rsp.StatusCode)
	}

	contentType, _ := mediaType(rsp.Header.Get("Content-Type"))
	if contentType != "" && !isHTMLType(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	raw, err := readBody(rsp.Body)
	if err != nil {
		return nil, err
	}

	docURL := req.URL
	if rsp.Request != nil && rsp.Request.URL != nil {
		docURL = rsp.Request.URL
	}
	if options.OnFetch != nil && method == http.MethodGet {
		options.OnFetch(docURL.String(), rsp.Header, raw)
	}

	enc, name, _ := charset.DetermineEncoding(raw, rsp.Header.Get("Content-Type"))
	text, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, err
	}

	root, err := html.Parse(bytes.NewReader(text))
	if err != nil {
		return nil, err
	}

	doc := NewDocument(root, docURL, name)
	doc.PostData = options.PostData

	loader := &sheetLoader{client: client, log: log, onFetch: options.OnFetch}
	if doc.Stylesheets, err = loader.documentSheets(ctx, doc); err != nil {
		return nil, err
	}

	log.LogAttrs(ctx, slog.LevelDebug, "document loaded",
		slog.Any("url", URLLogValue(docURL.String())),
		slog.String("charset", name),
		slog.Int("stylesheets", len(doc.Stylesheets)),
	)
	return doc, nil
}

type sheetLoader struct {
	client  *http.Client
	log     *slog.Logger
	onFetch func(string, http.Header, []byte)
}

// documentSheets returns the <style> and <link rel="stylesheet"> stylesheets
// in document order. Linked stylesheets are loaded concurrently.
func (l *sheetLoader) documentSheets(ctx context.Context, doc *Document) ([]*Stylesheet, error) {
	base := doc.BaseURL()
	nodes := dom.QuerySelectorAll(doc.Root, "style, link[rel][href]")
	sheets := make([]*Stylesheet, 0, len(nodes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, node := range nodes {
		if dom.TagName(node) == "style" {
			sheets = append(sheets, l.parse(ctx, dom.TextContent(node), base, nil))
			continue
		}

		if !slices.Contains(strings.Fields(strings.ToLower(dom.GetAttribute(node, "rel"))), "stylesheet") {
			continue
		}
		href := strings.TrimSpace(dom.GetAttribute(node, "href"))
		if href == "" {
			continue
		}

		sheet := &Stylesheet{Href: href, URL: resolveURL(href, base)}
		sheets = append(sheets, sheet)
		if sheet.URL == nil {
			continue
		}

		g.Go(func() error {
			l.load(ctx, sheet, []string{sheet.URL.String()})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sheets, nil
}

// load fetches and parses a stylesheet, then loads its imports.
// A failed stylesheet is kept without rules.
func (l *sheetLoader) load(ctx context.Context, sheet *Stylesheet, ancestors []string) {
	log := l.log.With(slog.Any("url", URLLogValue(sheet.URL.String())))

	text, err := l.fetch(ctx, sheet.URL.String())
	if err != nil {
		log.LogAttrs(ctx, slog.LevelWarn, "could not load stylesheet", slog.Any("err", err))
		return
	}

	parsed := l.parse(ctx, text, sheet.URL, ancestors)
	sheet.Rules = parsed.Rules
}

// parse parses a stylesheet and loads its imports, unless they are already
// in the import chain or the chain is too deep.
func (l *sheetLoader) parse(ctx context.Context, text string, base *url.URL, ancestors []string) *Stylesheet {
	sheet, err := ParseStylesheet(text, base)
	if err != nil {
		l.log.LogAttrs(ctx, slog.LevelDebug, "stylesheet parsed with fallback",
			slog.Any("url", URLLogValue(base.String())),
			slog.Any("err", err),
		)
	}

	if len(ancestors) >= maxImportDepth {
		return sheet
	}

	for _, rule := range sheet.Imports() {
		u := resolveURL(rule.Href, base)
		if u == nil || slices.Contains(ancestors, u.String()) {
			continue
		}
		rule.Sheet = &Stylesheet{URL: u}
		l.load(ctx, rule.Sheet, append(slices.Clone(ancestors), u.String()))
	}

	return sheet
}

// fetch returns a stylesheet text. It's decoded using the header charset,
// the @charset rule or UTF-8.
func (l *sheetLoader) fetch(ctx context.Context, uri string) (string, error) {
	var rsp *http.Response
	var err error

	uri = requestURI(uri)
	if strings.HasPrefix(uri, "data:") {
		rsp, err = loadDataURI(uri)
	} else {
		var req *http.Request
		if req, err = http.NewRequestWithContext(ctx, http.MethodGet, uri, nil); err != nil {
			return "", err
		}
		rsp, err = l.client.Do(req)
	}
	if err != nil {
		return "", err
	}
	defer rsp.Body.Close() //nolint:errcheck

	if rsp.StatusCode/100 != 2 {
		return "", fmt.Errorf("invalid response status (%d)", rsp.StatusCode)
	}

	raw, err := readBody(rsp.Body)
	if err != nil {
		return "", err
	}
	if l.onFetch != nil && !strings.HasPrefix(uri, "data:") {
		l.onFetch(uri, rsp.Header, raw)
	}

	_, label := mediaType(rsp.Header.Get("Content-Type"))
	if label == "" {
		label = stylesheetCharset(raw)
	}

	text, _, err := decodeText(raw, label, "UTF-8")
	return text, err
}
