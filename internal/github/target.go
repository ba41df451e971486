package github

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type targetKind int

const (
	targetUnset targetKind = iota
	targetAbsolute
	targetRelative
)

// Target says where a request goes: either a full URL or a path resolved
// against the API base URL.
type Target struct {
	kind  targetKind
	value string
}

// Absolute targets a fully qualified URL, used as-is.
func Absolute(rawURL string) Target {
	return Target{kind: targetAbsolute, value: rawURL}
}

// RelativePath targets a path (with optional query) under the API base URL.
func RelativePath(segment string) Target {
	return Target{kind: targetRelative, value: segment}
}

// IsAbsolute reports whether the target bypasses the base URL.
func (t Target) IsAbsolute() bool {
	return t.kind == targetAbsolute
}

func (t Target) String() string {
	switch t.kind {
	case targetAbsolute:
		return "absolute(" + t.value + ")"
	case targetRelative:
		return "relative(" + t.value + ")"
	default:
		return "unset"
	}
}

// Resolve produces the request URL for the target.
func (t Target) Resolve(base *url.URL) (string, error) {
	switch t.kind {
	case targetAbsolute:
		u, err := url.Parse(t.value)
		if err != nil {
			return "", fmt.Errorf("parse absolute target: %w", err)
		}
		if !u.IsAbs() {
			return "", fmt.Errorf("absolute target %q has no scheme", t.value)
		}
		return u.String(), nil
	case targetRelative:
		if base == nil {
			return "", errors.New("relative target requires a base url")
		}
		ref, err := url.Parse(strings.TrimPrefix(t.value, "/"))
		if err != nil {
			return "", fmt.Errorf("parse relative target: %w", err)
		}
		return base.ResolveReference(ref).String(), nil
	default:
		return "", errors.New("request target is not set")
	}
}

// parseBaseURL ensures the base ends with a slash so relative targets nest under it.
func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("base url %q must be absolute", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}
