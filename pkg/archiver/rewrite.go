// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"net/url"
	"regexp"
	"strings"
)

// Rewriter replaces the occurrences of a literal reference in a text
// payload, in one syntactic context.
type Rewriter interface {
	Rewrite(payload, raw, replacement string) string
}

// RewriterFunc is a function implementing [Rewriter].
type RewriterFunc func(payload, raw, replacement string) string

// Rewrite implements [Rewriter].
func (f RewriterFunc) Rewrite(payload, raw, replacement string) string {
	return f(payload, raw, replacement)
}

// RewriteSet maps extraction contexts to the rewriter that applies
// to a payload type.
type RewriteSet map[ExtractionContext]Rewriter

var (
	// AttributeRewriter rewrites quoted attribute values in HTML tags.
	AttributeRewriter = RewriterFunc(rewriteAttribute)

	// InlineCSSRewriter rewrites url() values in style attributes
	// and <style> elements.
	InlineCSSRewriter = RewriterFunc(rewriteInlineCSS)

	// InlineImportRewriter rewrites @import rules in <style> elements.
	InlineImportRewriter = RewriterFunc(rewriteInlineImport)

	// CSSRewriter rewrites url() values in a stylesheet.
	CSSRewriter = RewriterFunc(rewriteCSS)

	// ImportRewriter rewrites @import rules in a stylesheet.
	ImportRewriter = RewriterFunc(rewriteImport)
)

// HTMLRewriters is the [RewriteSet] of HTML documents.
var HTMLRewriters = RewriteSet{
	ContextAttribute: AttributeRewriter,
	ContextCSS:       InlineCSSRewriter,
	ContextImport:    InlineImportRewriter,
}

// CSSRewriters is the [RewriteSet] of stylesheets.
var CSSRewriters = RewriteSet{
	ContextCSS:    CSSRewriter,
	ContextImport: ImportRewriter,
}

var (
	rxTag         = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	rxStyleBlock  = regexp.MustCompile(`(?is)(<style[^>]*>)(.*?)(</style\s*>)`)
	rxStyleAttr   = regexp.MustCompile(`(?i)(\sstyle\s*=\s*)("[^"]*"|'[^']*')`)
	rxHTMLTag     = regexp.MustCompile(`(?i)<html[^>]*>`)
	rxBaseTag     = regexp.MustCompile(`(?i)<base[^>]*>`)
	rxAnchorQuote = regexp.MustCompile(`(?i)(<a\s[^>]*?href\s*=\s*)("[^"']+"|'[^"']+')`)
)

// literal is a set of patterns matching a literal value in its context.
// Every pattern has two groups surrounding the value.
type literal []*regexp.Regexp

func (l literal) replace(s, replacement string) string {
	tpl := "${1}" + strings.ReplaceAll(replacement, "$", "$$") + "${2}"
	for _, rx := range l {
		s = rx.ReplaceAllString(s, tpl)
	}
	return s
}

func attributeLiteral(raw string) literal {
	q := regexp.QuoteMeta(raw)
	return literal{
		regexp.MustCompile(`(=\s*"\s*)` + q + `(\s*")`),
		regexp.MustCompile(`(=\s*'\s*)` + q + `(\s*')`),
	}
}

func urlLiteral(raw string) literal {
	q := regexp.QuoteMeta(raw)
	return literal{
		regexp.MustCompile(`((?i:url)\(\s*"\s*)` + q + `(\s*"\s*\))`),
		regexp.MustCompile(`((?i:url)\(\s*'\s*)` + q + `(\s*'\s*\))`),
		regexp.MustCompile(`((?i:url)\(\s*)` + q + `(\s*\))`),
	}
}

func importLiteral(raw string) literal {
	q := regexp.QuoteMeta(raw)
	return literal{
		regexp.MustCompile(`((?i:@import)\s*"\s*)` + q + `(\s*")`),
		regexp.MustCompile(`((?i:@import)\s*'\s*)` + q + `(\s*')`),
		regexp.MustCompile(`((?i:@import)\s+(?i:url)\(\s*["']?\s*)` + q + `(\s*["']?\s*\))`),
	}
}

// rewriteAttribute replaces the attribute values equal to raw,
// in every tag. The HTML escaped form of raw is replaced as well.
func rewriteAttribute(payload, raw, replacement string) string {
	lits := []literal{attributeLiteral(raw)}
	if escaped := strings.ReplaceAll(raw, "&", "&amp;"); escaped != raw {
		lits = append(lits, attributeLiteral(escaped))
	}

	return rxTag.ReplaceAllStringFunc(payload, func(tag string) string {
		for _, l := range lits {
			tag = l.replace(tag, replacement)
		}
		return tag
	})
}

func rewriteInlineCSS(payload, raw, replacement string) string {
	l := urlLiteral(raw)

	payload = rxTag.ReplaceAllStringFunc(payload, func(tag string) string {
		return replaceSubmatch(rxStyleAttr, tag, 2, func(value string) string {
			return l.replace(value, replacement)
		})
	})

	return replaceSubmatch(rxStyleBlock, payload, 2, func(block string) string {
		return l.replace(block, replacement)
	})
}

func rewriteInlineImport(payload, raw, replacement string) string {
	l := importLiteral(raw)
	return replaceSubmatch(rxStyleBlock, payload, 2, func(block string) string {
		return l.replace(block, replacement)
	})
}

func rewriteCSS(payload, raw, replacement string) string {
	return urlLiteral(raw).replace(payload, replacement)
}

func rewriteImport(payload, raw, replacement string) string {
	return importLiteral(raw).replace(payload, replacement)
}

// replaceSubmatch replaces, in every match of rx, the group n
// with the result of fn.
func replaceSubmatch(rx *regexp.Regexp, s string, n int, fn func(string) string) string {
	matches := rx.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	b := new(strings.Builder)
	last := 0
	for _, m := range matches {
		start, end := m[2*n], m[2*n+1]
		if start < 0 {
			continue
		}
		b.WriteString(s[last:start])
		b.WriteString(fn(s[start:end]))
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}

// markSource inserts a comment with the document source URL after
// the <html> tag, or at the beginning of the document.
func markSource(payload, source string) string {
	comment := "<!-- Source is " + strings.ReplaceAll(source, "--", "%2D%2D") + " -->"

	loc := rxHTMLTag.FindStringIndex(payload)
	if loc == nil {
		return comment + "\n" + payload
	}
	return payload[:loc[1]] + comment + payload[loc[1]:]
}

// commentBase comments out the <base> elements.
func commentBase(payload string) string {
	return rxBaseTag.ReplaceAllString(payload, "<!--$0-->")
}

// absoluteLinks resolves every http(s) or relative anchor href against base.
// Fragment only links and other schemes are left untouched.
func absoluteLinks(payload string, base *url.URL) string {
	return rxAnchorQuote.ReplaceAllStringFunc(payload, func(m string) string {
		return replaceSubmatch(rxAnchorQuote, m, 2, func(quoted string) string {
			q := quoted[:1]
			href := quoted[1 : len(quoted)-1]
			if strings.HasPrefix(strings.TrimSpace(href), "#") {
				return quoted
			}

			u, err := url.Parse(strings.TrimSpace(href))
			if err != nil {
				return quoted
			}
			if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
				return quoted
			}
			return q + base.ResolveReference(u).String() + q
		})
	})
}
