// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"log/slog"
	"net/url"
	"strings"
)

// ExtractionContext is the syntactic place where a reference was found.
type ExtractionContext uint8

const (
	// ContextAttribute is an HTML attribute value (src, href, background...).
	ContextAttribute ExtractionContext = iota + 1

	// ContextCSS is a url() value in a CSS declaration.
	ContextCSS

	// ContextImport is the target of an @import rule.
	ContextImport

	// ContextIndex is the main document itself.
	ContextIndex
)

func (c ExtractionContext) String() string {
	switch c {
	case ContextAttribute:
		return "attribute"
	case ContextCSS:
		return "css"
	case ContextImport:
		return "import"
	case ContextIndex:
		return "index"
	}
	return "unknown"
}

// OriginScope tells in which kind of payload a reference lives.
type OriginScope uint8

const (
	// ScopeBase is the main document, including its inline styles.
	ScopeBase OriginScope = iota + 1

	// ScopeExtCSS is an external (linked or imported) stylesheet.
	ScopeExtCSS
)

func (s OriginScope) String() string {
	switch s {
	case ScopeBase:
		return "base"
	case ScopeExtCSS:
		return "extcss"
	}
	return "unknown"
}

var fetchableSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"data":  {},
}

// Reference is one reference to a resource found in a document
// or in one of its stylesheets.
type Reference struct {
	// Raw is the reference text, exactly as it appears in the payload.
	Raw string

	// URL is the resolved URL. It is nil when the reference
	// could not be resolved to a fetchable URL.
	URL *url.URL

	Context   ExtractionContext
	Scope     OriginScope
	Duplicate bool
}

// NewReference returns a new [Reference], resolving raw against base.
func NewReference(raw string, base *url.URL, ctx ExtractionContext, scope OriginScope) *Reference {
	return &Reference{
		Raw:     raw,
		URL:     resolveURL(raw, base),
		Context: ctx,
		Scope:   scope,
	}
}

// resolveURL returns an absolute URL. A value that already starts with
// "http" is taken as is. Empty values, fragment only values and
// non fetchable schemes resolve to nil.
func resolveURL(raw string, base *url.URL) *url.URL {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "#") {
		return nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil
	}

	if !(strings.HasPrefix(s, "http") && u.IsAbs()) {
		if base == nil {
			return nil
		}
		u = base.ResolveReference(u)
	}

	if _, ok := fetchableSchemes[strings.ToLower(u.Scheme)]; !ok {
		return nil
	}
	return u
}

// Key returns the resolved URL without its fragment. It is the
// identity used for deduplication and fetching. It's empty when
// the reference is not resolved.
func (r *Reference) Key() string {
	if r.URL == nil {
		return ""
	}
	return requestURI(r.URL.String())
}

// Fragment returns the reference fragment, with its leading "#",
// or an empty string.
func (r *Reference) Fragment() string {
	if r.URL == nil || r.URL.Scheme == "data" {
		return ""
	}
	if f := r.URL.EscapedFragment(); f != "" {
		return "#" + f
	}
	return ""
}

// IsDupe returns true when both references resolve to the same target.
func (r *Reference) IsDupe(other *Reference) bool {
	k := r.Key()
	return k != "" && k == other.Key()
}

// IsExactDupe returns true when both references resolve to the same
// target and share their context, scope and raw text.
func (r *Reference) IsExactDupe(other *Reference) bool {
	return r.IsDupe(other) &&
		r.Context == other.Context &&
		r.Scope == other.Scope &&
		r.Raw == other.Raw
}

// String returns the reference's target URL.
func (r *Reference) String() string {
	if r.URL == nil {
		return r.Raw
	}
	return r.Key()
}

// LogValue implements [slog.LogValuer].
func (r *Reference) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("url", URLLogValue(r.String())),
		slog.String("context", r.Context.String()),
		slog.String("scope", r.Scope.String()),
	)
}
