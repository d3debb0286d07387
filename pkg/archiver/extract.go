// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/go-shiori/dom"
	"golang.org/x/net/html"
)

var (
	rxConditionalComment = regexp.MustCompile(`^\[if[^\]]+\]>`)
	rxCommentLink        = regexp.MustCompile(`(?i)<link[^>]+href=(?:"([^"']*)"|'([^"']*)')`)
	rxCommentScript      = regexp.MustCompile(`(?i)<script[^>]+src=(?:"([^"']*)"|'([^"']*)')`)
)

// attributeRules are the queries of the always extracted attributes.
var attributeRules = []struct {
	expr string
	attr string
}{
	{"//*[@background]", "background"},
	{"//img[@src]", "src"},
	{"//input[@type='image'][@src]", "src"},
	{"//script[@src]", "src"},
}

// Extractor finds the resource references of a document.
type Extractor struct {
	SaveIframes bool
	SaveObjects bool
	Logger      *slog.Logger
}

// References returns the deduplicated references of a document, preceded
// by the document's own reference.
func (ex *Extractor) References(doc *Document) ([]*Reference, error) {
	refs, err := ex.Extract(doc)
	if err != nil {
		return nil, err
	}

	index := NewReference(doc.URL.String(), doc.URL, ContextIndex, ScopeBase)
	return append([]*Reference{index}, Dedupe(refs)...), nil
}

// Extract returns the references of a document and its stylesheets,
// in extraction order and without deduplication.
func (ex *Extractor) Extract(doc *Document) ([]*Reference, error) {
	if doc == nil || doc.Root == nil || doc.URL == nil {
		return nil, errNoDocument
	}

	x := &extraction{
		base: doc.BaseURL(),
		log:  ex.Logger,
	}
	if x.log == nil {
		x.log = nullLogger
	}

	for _, rule := range attributeRules {
		if err := x.attributes(doc.Root, rule.expr, rule.attr); err != nil {
			return nil, err
		}
	}

	if ex.SaveIframes {
		if err := x.attributes(doc.Root, "//iframe[@src]", "src"); err != nil {
			return nil, err
		}
	}

	if ex.SaveObjects {
		if err := x.attributes(doc.Root, "//embed[@src]", "src"); err != nil {
			return nil, err
		}
		if err := x.objects(doc.Root); err != nil {
			return nil, err
		}
	}

	if err := x.styleAttributes(doc.Root); err != nil {
		return nil, err
	}

	for _, sheet := range doc.Stylesheets {
		x.stylesheet(sheet)
	}

	if err := x.conditionalComments(doc.Root); err != nil {
		return nil, err
	}

	return x.refs, nil
}

type extraction struct {
	base *url.URL
	log  *slog.Logger
	refs []*Reference
}

func (x *extraction) add(raw string, base *url.URL, ctx ExtractionContext, scope OriginScope) {
	ref := NewReference(raw, base, ctx, scope)
	x.log.LogAttrs(context.Background(), levelTrace, "reference", slog.Any("ref", ref))
	x.refs = append(x.refs, ref)
}

func (x *extraction) attributes(root *html.Node, expr, attr string) error {
	nodes, err := htmlquery.QueryAll(root, expr)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		x.add(dom.GetAttribute(node, attr), x.base, ContextAttribute, ScopeBase)
	}
	return nil
}

// objects extracts the data attribute of <object> elements and the value
// of their first param named "movie" or "src".
func (x *extraction) objects(root *html.Node) error {
	nodes, err := htmlquery.QueryAll(root, "//object")
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if data := dom.GetAttribute(node, "data"); data != "" {
			x.add(data, x.base, ContextAttribute, ScopeBase)
		}

		params, err := htmlquery.QueryAll(node, "param")
		if err != nil {
			return err
		}
		for _, param := range params {
			switch strings.ToLower(dom.GetAttribute(param, "name")) {
			case "movie", "src":
				x.add(dom.GetAttribute(param, "value"), x.base, ContextAttribute, ScopeBase)
			default:
				continue
			}
			break
		}
	}
	return nil
}

func (x *extraction) styleAttributes(root *html.Node) error {
	nodes, err := htmlquery.QueryAll(root, "//*[@style]")
	if err != nil {
		return err
	}
	for _, node := range nodes {
		for _, raw := range cssURLs(dom.GetAttribute(node, "style")) {
			x.add(raw, x.base, ContextCSS, ScopeBase)
		}
	}
	return nil
}

// stylesheet extracts a document stylesheet. A linked stylesheet gives
// a reference to itself and its content is in the external scope.
func (x *extraction) stylesheet(sheet *Stylesheet) {
	base := sheet.URL
	if base == nil {
		base = x.base
	}

	if sheet.Href != "" {
		x.add(sheet.Href, x.base, ContextAttribute, ScopeBase)
		if sheet.URL != nil {
			x.rules(sheet.Rules, base, ScopeExtCSS)
		}
		return
	}

	x.rules(sheet.Rules, base, ScopeBase)
}

func (x *extraction) rules(rules []*Rule, base *url.URL, scope OriginScope) {
	for _, rule := range rules {
		switch rule.Kind {
		case RuleImport:
			x.add(rule.Href, base, ContextImport, scope)
			if rule.Sheet != nil && rule.Sheet.URL != nil {
				x.rules(rule.Sheet.Rules, rule.Sheet.URL, ScopeExtCSS)
			}
		case RuleStyle:
			for _, raw := range cssURLs(rule.Text) {
				x.add(raw, base, ContextCSS, scope)
			}
		case RuleMedia:
			x.rules(rule.Rules, base, scope)
		}
	}
}

// conditionalComments extracts the stylesheets and scripts of IE
// conditional comments.
func (x *extraction) conditionalComments(root *html.Node) error {
	nodes, err := htmlquery.QueryAll(root, "//comment()")
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if !rxConditionalComment.MatchString(node.Data) {
			continue
		}
		for _, rx := range []*regexp.Regexp{rxCommentLink, rxCommentScript} {
			for _, m := range rx.FindAllStringSubmatch(node.Data, -1) {
				raw := m[1] + m[2]
				if raw == "" {
					continue
				}
				x.log.LogAttrs(context.Background(), levelTrace, "conditional comment", slog.Any("node", NodeLogValue(node)))
				x.add(raw, x.base, ContextAttribute, ScopeBase)
			}
		}
	}
	return nil
}
