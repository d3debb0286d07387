// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"codeberg.org/readeck/savecomplete/pkg/archiver"
)

func parseDocument(t *testing.T, uri, src string, sheets ...*archiver.Stylesheet) *archiver.Document {
	t.Helper()
	root, err := html.Parse(strings.NewReader(src))
	require.NoError(t, err)
	return archiver.NewDocument(root, mustParse(uri), "utf-8", sheets...)
}

func parseSheet(t *testing.T, href, uri, text string) *archiver.Stylesheet {
	t.Helper()
	sheet, err := archiver.ParseStylesheet(text, mustParse(uri))
	require.NoError(t, err)
	sheet.Href = href
	return sheet
}

func TestExtractor(t *testing.T) {
	t.Run("simple page", func(t *testing.T) {
		assert := require.New(t)

		doc := parseDocument(t, "http://example.com/a/p.html",
			`<html><head><link rel="stylesheet" href="s.css"></head><body><img src="b.png"></body></html>`,
			parseSheet(t, "s.css", "http://example.com/a/s.css", `.x{background:url(b.png)}`),
		)

		ex := &archiver.Extractor{}
		refs, err := ex.References(doc)
		assert.NoError(err)
		assert.Equal([]refSummary{
			{"http://example.com/a/p.html", "http://example.com/a/p.html", archiver.ContextIndex, archiver.ScopeBase, false},
			{"b.png", "http://example.com/a/b.png", archiver.ContextAttribute, archiver.ScopeBase, false},
			{"b.png", "http://example.com/a/b.png", archiver.ContextCSS, archiver.ScopeExtCSS, true},
			{"s.css", "http://example.com/a/s.css", archiver.ContextAttribute, archiver.ScopeBase, false},
		}, summarize(refs))
	})

	t.Run("extraction order", func(t *testing.T) {
		assert := require.New(t)

		doc := parseDocument(t, "http://example.com/",
			`<html><head>
			<script src="app.js"></script>
			<style>@import "inline-import.css"; .a{background:url(inline.png)}</style>
			<!--[if lt IE 9]><script src="html5shiv.js"></script><link rel="stylesheet" href='ie.css'><![endif]-->
			<!-- <img src="plain-comment.png"> -->
			</head>
			<body background="bg.jpg">
			<div style="background: url('style-attr.png')"></div>
			<img src="img.png">
			<input type="image" src="button.png">
			<input type="text" src="ignored.png">
			<iframe src="frame.html"></iframe>
			<embed src="movie.swf">
			<object data="object.swf"><param name="src" value="object-src.swf"></object>
			<object><param name="quality" value="high"><param name="movie" value="param.swf"><param name="src" value="second.swf"></object>
			</body></html>`,
			parseSheet(t, "", "http://example.com/", `@import "inline-import.css"; .a{background:url(inline.png)}`),
		)

		ex := &archiver.Extractor{}
		refs, err := ex.Extract(doc)
		assert.NoError(err)

		raws := []string{}
		for _, r := range refs {
			raws = append(raws, r.Raw)
		}
		assert.Equal([]string{
			"bg.jpg", "img.png", "button.png", "app.js",
			"style-attr.png",
			"inline-import.css", "inline.png",
			"ie.css", "html5shiv.js",
		}, raws)

		assert.Equal(archiver.ContextCSS, refs[4].Context)
		assert.Equal(archiver.ContextImport, refs[5].Context)
		assert.Equal(archiver.ScopeBase, refs[5].Scope)
		assert.Equal(archiver.ContextCSS, refs[6].Context)
		assert.Equal(archiver.ScopeBase, refs[6].Scope)

		ex = &archiver.Extractor{SaveIframes: true, SaveObjects: true}
		refs, err = ex.Extract(doc)
		assert.NoError(err)

		raws = []string{}
		for _, r := range refs {
			raws = append(raws, r.Raw)
		}
		assert.Equal([]string{
			"bg.jpg", "img.png", "button.png", "app.js",
			"frame.html", "movie.swf", "object.swf", "object-src.swf", "param.swf",
			"style-attr.png",
			"inline-import.css", "inline.png",
			"ie.css", "html5shiv.js",
		}, raws)
	})

	t.Run("imports", func(t *testing.T) {
		assert := require.New(t)

		main := parseSheet(t, "css/main.css", "http://example.com/css/main.css",
			`@import url(base.css); @media print { .p { background: url(print.png) } }`)
		imported := parseSheet(t, "", "http://example.com/css/base.css", `.b{background:url(../img/b.png)}`)
		main.Rules[0].Sheet = imported

		inline := parseSheet(t, "", "http://example.com/", `@import "css/extra.css";`)
		extra := parseSheet(t, "", "http://example.com/css/extra.css", `.e{background:url(e.png)}`)
		inline.Rules[0].Sheet = extra

		doc := parseDocument(t, "http://example.com/", `<html><head></head></html>`, main, inline)

		refs, err := (&archiver.Extractor{}).Extract(doc)
		assert.NoError(err)
		assert.Equal([]refSummary{
			{"css/main.css", "http://example.com/css/main.css", archiver.ContextAttribute, archiver.ScopeBase, false},
			{"base.css", "http://example.com/css/base.css", archiver.ContextImport, archiver.ScopeExtCSS, false},
			{"../img/b.png", "http://example.com/img/b.png", archiver.ContextCSS, archiver.ScopeExtCSS, false},
			{"print.png", "http://example.com/css/print.png", archiver.ContextCSS, archiver.ScopeExtCSS, false},
			{"css/extra.css", "http://example.com/css/extra.css", archiver.ContextImport, archiver.ScopeBase, false},
			{"e.png", "http://example.com/css/e.png", archiver.ContextCSS, archiver.ScopeExtCSS, false},
		}, summarize(refs))
	})

	t.Run("base element", func(t *testing.T) {
		assert := require.New(t)

		doc := parseDocument(t, "http://example.com/a/p.html",
			`<html><head><base href="http://cdn.example.net/assets/"></head><body><img src="b.png"></body></html>`)

		refs, err := (&archiver.Extractor{}).References(doc)
		assert.NoError(err)
		assert.Len(refs, 2)
		assert.Equal("http://example.com/a/p.html", refs[0].Key())
		assert.Equal("http://cdn.example.net/assets/b.png", refs[1].Key())
	})

	t.Run("index is unique and first", func(t *testing.T) {
		assert := require.New(t)

		doc := parseDocument(t, "http://example.com/p.html",
			`<html><body><iframe src="p.html"></iframe><img src="z.png"><img src="a.png"></body></html>`)

		refs, err := (&archiver.Extractor{SaveIframes: true}).References(doc)
		assert.NoError(err)

		indexes := 0
		for _, r := range refs {
			if r.Context == archiver.ContextIndex {
				indexes++
			}
		}
		assert.Equal(1, indexes)
		assert.Equal(archiver.ContextIndex, refs[0].Context)
		assert.Len(refs, 4)
	})

	t.Run("no document", func(t *testing.T) {
		assert := require.New(t)

		_, err := (&archiver.Extractor{}).Extract(&archiver.Document{})
		assert.Error(err)
	})
}
