// SPDX-FileCopyrightText: 2025 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bootconfig

import (
	"strings"
	"unicode"
)

// Pair is a single key value pair. Value is empty for bare keys.
type Pair struct {
	Key   string
	Value string
}

// Pairs is an ordered list of key value pairs.
type Pairs []Pair

// Get returns the value of the last pair with the given key.
func (p Pairs) Get(key string) (string, bool) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i].Key == key {
			return p[i].Value, true
		}
	}

	return "", false
}

// ParseCmdline splits a kernel command line into pairs.
//
// Tokens are separated by white space, except inside double quotes, so
// key="a value" is a single pair. Unterminated quotes extend to the end of
// the input.
func ParseCmdline(s string) Pairs {
	var (
		pairs  Pairs
		token  strings.Builder
		quoted bool
	)

	flush := func() {
		if pair, ok := splitPair(token.String()); ok {
			pairs = append(pairs, pair)
		}

		token.Reset()
	}

	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted

			token.WriteRune(r)
		case !quoted && unicode.IsSpace(r):
			flush()
		default:
			token.WriteRune(r)
		}
	}

	flush()

	return pairs
}

// ParseBootconfig splits a boot config blob into pairs. Every line is one
// "key = value" pair with optional white space around the separator and
// optional quotes around the value.
func ParseBootconfig(s string) Pairs {
	var pairs Pairs

	for line := range strings.Lines(s) {
		if pair, ok := splitPair(line); ok {
			pairs = append(pairs, pair)
		}
	}

	return pairs
}

// ParseProps parses a key=value property file. Lines starting with "#" are
// comments.
func ParseProps(s string) Pairs {
	var pairs Pairs

	for _, pair := range ParseBootconfig(s) {
		if !strings.HasPrefix(pair.Key, "#") {
			pairs = append(pairs, pair)
		}
	}

	return pairs
}

func splitPair(token string) (Pair, bool) {
	key, value, _ := strings.Cut(token, "=")

	key = strings.TrimSpace(key)
	if key == "" {
		return Pair{}, false
	}

	return Pair{Key: key, Value: unquote(strings.TrimSpace(value))}, true
}

// unquote returns the content of the first quoted section, if v starts with
// a quote.
func unquote(v string) string {
	rest, found := strings.CutPrefix(v, "\"")
	if !found {
		return v
	}

	if end := strings.IndexByte(rest, '"'); end >= 0 {
		return rest[:end]
	}

	return rest
}
