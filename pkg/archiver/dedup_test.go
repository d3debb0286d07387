// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codeberg.org/readeck/savecomplete/pkg/archiver"
)

type refSummary struct {
	Raw       string
	Key       string
	Context   archiver.ExtractionContext
	Scope     archiver.OriginScope
	Duplicate bool
}

func summarize(refs []*archiver.Reference) []refSummary {
	res := make([]refSummary, len(refs))
	for i, r := range refs {
		res[i] = refSummary{r.Raw, r.Key(), r.Context, r.Scope, r.Duplicate}
	}
	return res
}

func TestDedupe(t *testing.T) {
	base := mustParse("http://example.com/a/p.html")
	css := mustParse("http://example.com/a/s.css")

	newRefs := func() []*archiver.Reference {
		return []*archiver.Reference{
			archiver.NewReference("s.css", base, archiver.ContextAttribute, archiver.ScopeBase),
			archiver.NewReference("b.png", base, archiver.ContextAttribute, archiver.ScopeBase),
			archiver.NewReference("", base, archiver.ContextAttribute, archiver.ScopeBase),
			archiver.NewReference("b.png", base, archiver.ContextAttribute, archiver.ScopeBase),
			archiver.NewReference("b.png", css, archiver.ContextCSS, archiver.ScopeExtCSS),
			archiver.NewReference("/a/b.png", base, archiver.ContextAttribute, archiver.ScopeBase),
			archiver.NewReference("b.png", base, archiver.ContextAttribute, archiver.ScopeBase),
			archiver.NewReference("#x", base, archiver.ContextAttribute, archiver.ScopeBase),
			archiver.NewReference("a.js", base, archiver.ContextAttribute, archiver.ScopeBase),
		}
	}

	t.Run("collapse", func(t *testing.T) {
		assert := require.New(t)

		refs := archiver.Dedupe(newRefs())
		assert.Equal([]refSummary{
			{"a.js", "http://example.com/a/a.js", archiver.ContextAttribute, archiver.ScopeBase, false},
			{"b.png", "http://example.com/a/b.png", archiver.ContextAttribute, archiver.ScopeBase, false},
			{"b.png", "http://example.com/a/b.png", archiver.ContextCSS, archiver.ScopeExtCSS, true},
			{"/a/b.png", "http://example.com/a/b.png", archiver.ContextAttribute, archiver.ScopeBase, true},
			{"s.css", "http://example.com/a/s.css", archiver.ContextAttribute, archiver.ScopeBase, false},
		}, summarize(refs))
	})

	t.Run("idempotent", func(t *testing.T) {
		assert := require.New(t)

		once := archiver.Dedupe(newRefs())
		expected := summarize(once)
		twice := archiver.Dedupe(once)

		assert.Equal(expected, summarize(twice))
		assert.Len(twice, len(once))
		for i := range once {
			assert.Same(once[i], twice[i])
		}
	})

	t.Run("empty", func(t *testing.T) {
		assert := require.New(t)
		assert.Empty(archiver.Dedupe(nil))
	})
}
