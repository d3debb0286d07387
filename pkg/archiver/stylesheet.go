// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"net/url"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"github.com/tdewolff/parse/v2"
	cssLexer "github.com/tdewolff/parse/v2/css"
)

// RuleKind is the kind of a stylesheet [Rule].
type RuleKind uint8

const (
	// RuleStyle is a rule carrying declarations.
	RuleStyle RuleKind = iota + 1

	// RuleImport is an @import rule.
	RuleImport

	// RuleMedia is a grouping rule (@media, @supports...) with nested rules.
	RuleMedia
)

// Rule is a stylesheet rule.
type Rule struct {
	Kind RuleKind

	// Text is the declaration text of a style rule.
	Text string

	// Href is the raw target of an import rule.
	Href string

	// Sheet is the imported stylesheet, when it was loaded.
	Sheet *Stylesheet

	// Rules are the nested rules of a grouping rule.
	Rules []*Rule
}

// Stylesheet is a parsed stylesheet, either from a <style> element, a linked
// file or an import rule.
type Stylesheet struct {
	// Href is the raw href attribute of the owner <link> element.
	// It's empty for inline stylesheets and imported ones.
	Href string

	// URL is the stylesheet location, used as base for its own references.
	URL *url.URL

	Rules []*Rule
}

// ParseStylesheet parses a CSS text into a [Stylesheet]. Imported stylesheets
// are not loaded.
// When the parser fails, it falls back to a token scan that keeps the imports
// and the url() values of the whole text in a flat list, and returns
// the parser error alongside the result.
func ParseStylesheet(text string, uri *url.URL) (*Stylesheet, error) {
	sheet := &Stylesheet{URL: uri}

	parsed, err := parser.Parse(text)
	if err != nil {
		sheet.Rules = scanRules(text)
		return sheet, err
	}

	sheet.Rules = convertRules(parsed.Rules)
	return sheet, nil
}

// Imports returns every import rule of the stylesheet, including the ones
// in grouping rules.
func (s *Stylesheet) Imports() []*Rule {
	res := []*Rule{}
	var walk func([]*Rule)
	walk = func(rules []*Rule) {
		for _, r := range rules {
			switch r.Kind {
			case RuleImport:
				res = append(res, r)
			case RuleMedia:
				walk(r.Rules)
			}
		}
	}
	walk(s.Rules)
	return res
}

func convertRules(rules []*css.Rule) []*Rule {
	res := []*Rule{}
	for _, r := range rules {
		switch {
		case r.Kind == css.QualifiedRule:
			res = append(res, &Rule{Kind: RuleStyle, Text: declarationText(r.Declarations)})
		case strings.EqualFold(r.Name, "@import"):
			if href := importHref(r.Prelude); href != "" {
				res = append(res, &Rule{Kind: RuleImport, Href: href})
			}
		case len(r.Rules) > 0 || r.EmbedsRules():
			res = append(res, &Rule{Kind: RuleMedia, Rules: convertRules(r.Rules)})
		case len(r.Declarations) > 0:
			// @font-face, @page
			res = append(res, &Rule{Kind: RuleStyle, Text: declarationText(r.Declarations)})
		}
	}
	return res
}

func declarationText(decls []*css.Declaration) string {
	b := new(strings.Builder)
	for i, d := range decls {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(d.Property)
		b.WriteString(": ")
		b.WriteString(d.Value)
		if d.Important {
			b.WriteString(" !important")
		}
		b.WriteString(";")
	}
	return b.String()
}

// importHref returns the target of an @import prelude, either a string or
// a url() token.
func importHref(prelude string) string {
	lexer := cssLexer.NewLexer(parse.NewInputString(prelude))
	for {
		tt, data := lexer.Next()
		switch tt {
		case cssLexer.ErrorToken:
			return ""
		case cssLexer.WhitespaceToken, cssLexer.CommentToken:
			continue
		case cssLexer.StringToken:
			return unquote(string(data))
		case cssLexer.URLToken:
			return sanitizeStyleURL(string(data))
		case cssLexer.FunctionToken:
			if strings.EqualFold(string(data), "url(") {
				return functionURL(lexer)
			}
			return ""
		default:
			return ""
		}
	}
}

// scanRules is the fallback of [ParseStylesheet]. It returns the import
// rules it finds and a single style rule holding the url() values of
// the text.
func scanRules(text string) []*Rule {
	res := []*Rule{}
	urls := []string{}

	lexer := cssLexer.NewLexer(parse.NewInputString(text))
	for {
		tt, data := lexer.Next()
		if tt == cssLexer.ErrorToken {
			break
		}

		if tt == cssLexer.AtKeywordToken && strings.EqualFold(string(data), "@import") {
			prelude := new(strings.Builder)
			for {
				tt, data = lexer.Next()
				if tt == cssLexer.ErrorToken || tt == cssLexer.SemicolonToken {
					break
				}
				prelude.Write(data)
			}
			if href := importHref(prelude.String()); href != "" {
				res = append(res, &Rule{Kind: RuleImport, Href: href})
			}
			continue
		}

		switch {
		case tt == cssLexer.URLToken:
			urls = append(urls, string(data))
		case tt == cssLexer.FunctionToken && strings.EqualFold(string(data), "url("):
			if u := functionURL(lexer); u != "" {
				urls = append(urls, `url("`+u+`")`)
			}
		}
	}

	if len(urls) > 0 {
		res = append(res, &Rule{Kind: RuleStyle, Text: strings.Join(urls, " ")})
	}
	return res
}

// cssURLs returns the url() values of a CSS text, in order.
// Fragment only values (SVG filters or gradients) are skipped.
func cssURLs(text string) []string {
	res := []string{}
	lexer := cssLexer.NewLexer(parse.NewInputString(text))
	for {
		tt, data := lexer.Next()
		if tt == cssLexer.ErrorToken {
			break
		}

		var u string
		switch {
		case tt == cssLexer.URLToken:
			u = sanitizeStyleURL(string(data))
		case tt == cssLexer.FunctionToken && strings.EqualFold(string(data), "url("):
			u = functionURL(lexer)
		default:
			continue
		}

		if u == "" || strings.HasPrefix(u, "#") {
			continue
		}
		res = append(res, u)
	}
	return res
}

// functionURL returns the string argument of a url( function token,
// when the quoted value is surrounded by spaces.
func functionURL(lexer *cssLexer.Lexer) string {
	for {
		tt, data := lexer.Next()
		switch tt {
		case cssLexer.WhitespaceToken:
			continue
		case cssLexer.StringToken:
			return unquote(string(data))
		}
		return ""
	}
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}
