package registry

import (
	"fmt"
	"net/url"
	"strings"
)

// Template is a parsed resource URI pattern.
//
// A pattern is a URI whose path segments may be placeholders. "{name}" must
// fill a whole segment and captures exactly one non-empty segment.
// "{name*}" may only be the last segment and captures the non-empty remainder,
// slashes included. Without a trailing "{name*}" the URI must have exactly as
// many segments as the pattern. Captured values are percent-decoded.
//
//	greeting://{name}   matches greeting://Ada        (name=Ada)
//	greeting://{name}   rejects greeting://Ada/extra
//	file://{path*}      matches file://a/b.txt        (path=a/b.txt)
type Template struct {
	pattern  string
	scheme   string
	segments []segment
	names    []string
	rest     bool
}

type segment struct {
	literal string
	param   string
}

func (s segment) isParam() bool { return s.param != "" }

// ParseTemplate parses pattern. A pattern without placeholders is valid and
// matches only itself.
func ParseTemplate(pattern string) (*Template, error) {
	scheme, path, ok := strings.Cut(pattern, "://")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("pattern %q has no scheme", pattern)
	}

	t := &Template{pattern: pattern, scheme: scheme}
	parts := strings.Split(path, "/")
	seen := make(map[string]bool)
	for i, part := range parts {
		if !strings.ContainsAny(part, "{}") {
			t.segments = append(t.segments, segment{literal: part})
			continue
		}
		if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") || strings.Count(part, "{") != 1 || strings.Count(part, "}") != 1 {
			return nil, fmt.Errorf("pattern %q: placeholder must fill a whole segment, got %q", pattern, part)
		}

		name := part[1 : len(part)-1]
		if strings.HasSuffix(name, "*") {
			if i != len(parts)-1 {
				return nil, fmt.Errorf("pattern %q: %s must be the last segment", pattern, part)
			}
			name = strings.TrimSuffix(name, "*")
			t.rest = true
		}
		if !validParamName(name) {
			return nil, fmt.Errorf("pattern %q: invalid placeholder name %q", pattern, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("pattern %q: placeholder %q used twice", pattern, name)
		}
		seen[name] = true

		t.segments = append(t.segments, segment{param: name})
		t.names = append(t.names, name)
	}
	return t, nil
}

func validParamName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// Pattern returns the pattern the template was parsed from
func (t *Template) Pattern() string { return t.pattern }

// Params returns the placeholder names in order
func (t *Template) Params() []string { return t.names }

// IsStatic reports whether the pattern has no placeholders
func (t *Template) IsStatic() bool { return len(t.names) == 0 }

// Match reports whether uri matches and returns the captured values
func (t *Template) Match(uri string) (map[string]string, bool) {
	scheme, path, ok := strings.Cut(uri, "://")
	if !ok || scheme != t.scheme {
		return nil, false
	}

	parts := strings.Split(path, "/")
	if t.rest {
		if len(parts) < len(t.segments) {
			return nil, false
		}
	} else if len(parts) != len(t.segments) {
		return nil, false
	}

	params := make(map[string]string, len(t.names))
	for i, seg := range t.segments {
		if !seg.isParam() {
			if parts[i] != seg.literal {
				return nil, false
			}
			continue
		}

		raw := parts[i]
		if t.rest && i == len(t.segments)-1 {
			raw = strings.Join(parts[i:], "/")
		}
		if raw == "" {
			return nil, false
		}
		value, err := url.PathUnescape(raw)
		if err != nil {
			return nil, false
		}
		params[seg.param] = value
	}
	return params, true
}

// Expand fills the placeholders from params, escaping each value. It is the
// inverse of Match.
func (t *Template) Expand(params map[string]string) (string, error) {
	parts := make([]string, len(t.segments))
	for i, seg := range t.segments {
		if !seg.isParam() {
			parts[i] = seg.literal
			continue
		}
		value, ok := params[seg.param]
		if !ok || value == "" {
			return "", fmt.Errorf("missing value for %q", seg.param)
		}
		if t.rest && i == len(t.segments)-1 {
			sub := strings.Split(value, "/")
			for j := range sub {
				sub[j] = url.PathEscape(sub[j])
			}
			parts[i] = strings.Join(sub, "/")
			continue
		}
		parts[i] = url.PathEscape(value)
	}
	return t.scheme + "://" + strings.Join(parts, "/"), nil
}
