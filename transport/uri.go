package transport

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Properties holds URI query parameters.
type Properties map[string]string

// String returns the value of key, or def when absent.
func (p Properties) String(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Bool returns key parsed as a boolean, or def when absent or malformed.
func (p Properties) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Int returns key parsed as an integer, or def when absent or malformed.
func (p Properties) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Int64 returns key parsed as a 64-bit integer, or def.
func (p Properties) Int64(key string, def int64) int64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// Float returns key parsed as a float, or def.
func (p Properties) Float(key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Duration returns key as a duration. Plain integers are milliseconds;
// Go duration strings such as "5s" are accepted too.
func (p Properties) Duration(key string, def time.Duration) time.Duration {
	v, ok := p[key]
	if !ok {
		return def
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

// Subset returns the entries whose key starts with prefix, with the
// prefix removed.
func (p Properties) Subset(prefix string) Properties {
	out := Properties{}
	for k, v := range p {
		if rest, ok := strings.CutPrefix(k, prefix); ok && rest != "" {
			out[rest] = v
		}
	}
	return out
}

// Without returns a copy of p minus the keys starting with any prefix.
func (p Properties) Without(prefixes ...string) Properties {
	out := Properties{}
	for k, v := range p {
		if !slices.ContainsFunc(prefixes, func(prefix string) bool { return strings.HasPrefix(k, prefix) }) {
			out[k] = v
		}
	}
	return out
}

// ParseQuery splits a "k1=v1&k2=v2" query into properties. Every option
// must have a value.
func ParseQuery(query string) (Properties, error) {
	props := Properties{}
	query = strings.TrimPrefix(query, "?")
	if query == "" {
		return props, nil
	}

	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: option %q has no value", ErrInvalidURI, pair)
		}
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidURI, err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidURI, err)
		}
		props[key] = value
	}
	return props, nil
}

// CreateQueryString renders props as a query string with keys in sorted
// order.
func CreateQueryString(props Properties) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(props[k]))
	}
	return b.String()
}

// CheckParenthesis reports whether every '(' in s is closed in order.
func CheckParenthesis(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// ReplaceEnv substitutes every ${NAME} in s with the value of the
// environment variable NAME.
func ReplaceEnv(s string) (string, error) {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated variable in %q", ErrInvalidURI, s)
		}
		end += start

		name := s[start+2 : end]
		value, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUndefinedVariable, name)
		}
		b.WriteString(s[:start])
		b.WriteString(value)
		s = s[end+1:]
	}
}

// ParseURI substitutes environment variables, parses raw and returns the
// URI with its query parameters.
func ParseURI(raw string) (*url.URL, Properties, error) {
	expanded, err := ReplaceEnv(raw)
	if err != nil {
		return nil, nil, err
	}
	u, err := url.Parse(expanded)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	if u.Scheme == "" {
		return nil, nil, fmt.Errorf("%w: missing scheme in %q", ErrInvalidURI, raw)
	}
	props, err := ParseQuery(u.RawQuery)
	if err != nil {
		return nil, nil, err
	}
	return u, props, nil
}

// CompositeData is a decomposed composite URI such as
// failover:(tcp://a:61616,tcp://b:61616)?randomize=false.
type CompositeData struct {
	Scheme     string
	Components []string
	Parameters Properties
	Path       string
	Fragment   string
}

// String rebuilds the composite URI.
func (c *CompositeData) String() string {
	var b strings.Builder
	b.WriteString(c.Scheme)
	b.WriteString(":(")
	b.WriteString(strings.Join(c.Components, ","))
	b.WriteByte(')')
	if c.Path != "" {
		b.WriteByte('/')
		b.WriteString(c.Path)
	}
	if len(c.Parameters) > 0 {
		b.WriteByte('?')
		b.WriteString(CreateQueryString(c.Parameters))
	}
	if c.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(c.Fragment)
	}
	return b.String()
}

func splitScheme(raw string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok || scheme == "" {
		return "", "", fmt.Errorf("%w: missing scheme in %q", ErrInvalidURI, raw)
	}
	if strings.ContainsAny(scheme, "()/,?#") {
		return "", "", fmt.Errorf("%w: malformed scheme in %q", ErrInvalidURI, raw)
	}
	return scheme, strings.TrimPrefix(rest, "//"), nil
}

// IsComposite reports whether raw lists its components in parentheses.
func IsComposite(raw string) bool {
	_, rest, err := splitScheme(raw)
	return err == nil && strings.HasPrefix(rest, "(")
}

// ParseComposite decomposes a composite URI. Without parentheses the
// whole remainder is a comma separated component list and carries no
// shared parameters.
func ParseComposite(raw string) (*CompositeData, error) {
	expanded, err := ReplaceEnv(raw)
	if err != nil {
		return nil, err
	}
	if !CheckParenthesis(expanded) {
		return nil, fmt.Errorf("%w: unbalanced parentheses in %q", ErrInvalidURI, raw)
	}

	scheme, rest, err := splitScheme(expanded)
	if err != nil {
		return nil, err
	}
	data := &CompositeData{Scheme: scheme, Parameters: Properties{}}

	if !strings.HasPrefix(rest, "(") {
		data.Components = splitComponents(rest)
		return data, nil
	}

	closing := matchingParen(rest)
	inner, tail := rest[1:closing], rest[closing+1:]
	data.Components = splitComponents(inner)

	if before, fragment, ok := strings.Cut(tail, "#"); ok {
		data.Fragment = fragment
		tail = before
	}
	path, query, _ := strings.Cut(tail, "?")
	data.Path = strings.TrimPrefix(path, "/")

	params, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	data.Parameters = params
	return data, nil
}

func matchingParen(s string) int {
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(s) - 1
}

// splitComponents splits on commas outside nested parentheses.
func splitComponents(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				if part := strings.TrimSpace(s[start:i]); part != "" {
					out = append(out, part)
				}
				start = i + 1
			}
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		out = append(out, part)
	}
	return out
}
