// pattern.go: invalidation patterns and key families
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package xanthos

import (
	"regexp"
	"strings"
)

// RegexpPrefix marks an invalidation pattern as a regular expression.
const RegexpPrefix = "re:"

// regexpMeta are the characters rejected outside "re:" patterns. '.' is
// left out because it is common in plain keys.
const regexpMeta = `^$\+()[]{}|`

// Pattern selects cache keys for invalidation.
//
// Syntax accepted by CompilePattern:
//   - "re:<expr>" is a Go regular expression, unanchored
//   - a pattern containing '*' or '?' is a glob anchored to the whole key
//   - anything else matches exactly one key
//
// Outside "re:" patterns the characters ^ $ \ + ( ) [ ] { } | are rejected,
// so a regular expression passed without the prefix fails loudly instead of
// matching nothing.
//
// A glob of the exact form "family:*" is resolved through the family index
// instead of scanning live keys.
type Pattern struct {
	raw    string
	exact  string
	family string
	re     *regexp.Regexp
}

// CompilePattern parses pattern. An invalid regular expression yields an
// XANTHOS_INVALID_PATTERN error.
func CompilePattern(pattern string) (*Pattern, error) {
	p := &Pattern{raw: pattern}

	if expr, ok := strings.CutPrefix(pattern, RegexpPrefix); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, NewErrInvalidPattern(pattern, err)
		}
		p.re = re
		return p, nil
	}

	if strings.ContainsAny(pattern, regexpMeta) {
		return nil, NewErrBareRegexp(pattern)
	}

	if !strings.ContainsAny(pattern, "*?") {
		if pattern == "" {
			return nil, NewErrEmptyKey("CompilePattern")
		}
		p.exact = pattern
		return p, nil
	}

	if fam, ok := strings.CutSuffix(pattern, ":*"); ok && fam != "" && !strings.ContainsAny(fam, ":*?") {
		p.family = fam
	}
	p.re = regexp.MustCompile(globToRegexp(pattern))
	return p, nil
}

// MustCompilePattern is like CompilePattern but panics on error.
func MustCompilePattern(pattern string) *Pattern {
	p, err := CompilePattern(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source pattern.
func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether key is selected by the pattern.
func (p *Pattern) Match(key string) bool {
	if p.re == nil {
		return key == p.exact
	}
	return p.re.MatchString(key)
}

// Exact returns the single key matched by a wildcard-free pattern.
func (p *Pattern) Exact() (string, bool) {
	return p.exact, p.re == nil
}

// Family returns the family name when the pattern is "family:*".
func (p *Pattern) Family() (string, bool) {
	return p.family, p.family != ""
}

func globToRegexp(glob string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// KeyFamily returns the logical resource family of key: the text before the
// first ':'. Keys without a separator form their own family.
func KeyFamily(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
