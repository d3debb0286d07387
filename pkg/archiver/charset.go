// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: MIT

package archiver

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	// DefaultCharset is the charset used to read text without a known charset.
	DefaultCharset = "ISO-8859-1"

	// DefaultWriteCharset is the charset used to write text without a known charset.
	DefaultWriteCharset = "UTF-8"
)

var rxCSSCharset = regexp.MustCompile(`^@charset\s+["']([^"']+)["']\s*;`)

// stylesheetCharset returns the charset of a stylesheet without a charset
// in its Content-Type: the @charset rule when present, UTF-8 otherwise.
func stylesheetCharset(raw []byte) string {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if m := rxCSSCharset.FindSubmatch(raw); m != nil {
		return string(m[1])
	}
	return "UTF-8"
}

// lookupEncoding returns the encoding and its canonical name for a label.
// Latin-1 labels map to a strict ISO-8859-1 codec, so bytes read with it
// are written back unchanged. It returns a nil encoding for unknown labels.
func lookupEncoding(label string) (encoding.Encoding, string) {
	label = strings.ToLower(strings.TrimSpace(label))
	switch label {
	case "":
		return nil, ""
	case "iso-8859-1", "iso8859-1", "iso_8859-1", "latin1", "l1":
		return charmap.ISO8859_1, "ISO-8859-1"
	case "utf-8", "utf8":
		return nil, "UTF-8"
	}

	enc, name := charset.Lookup(label)
	if enc == nil {
		return nil, ""
	}
	if name == "utf-8" {
		return nil, "UTF-8"
	}
	return enc, name
}

// decodeText decodes raw bytes using the label charset, or the fallback one
// when the label is empty or unknown. It returns the text and the name of
// the charset it used.
func decodeText(raw []byte, label, fallback string) (string, string, error) {
	enc, name := lookupEncoding(label)
	if name == "" {
		enc, name = lookupEncoding(fallback)
	}
	if name == "" {
		enc, name = nil, "UTF-8"
	}

	// A nil encoding is UTF-8, kept as is.
	if enc == nil {
		return string(raw), name, nil
	}

	b, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", name, err
	}
	return string(b), name, nil
}

// encodeText encodes a text with the label charset. Characters the charset
// cannot represent are replaced.
func encodeText(text, label string) ([]byte, error) {
	enc, _ := lookupEncoding(label)
	if enc == nil {
		return []byte(text), nil
	}
	return encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(text))
}
