package github

import (
	"context"
	"fmt"
	"net/url"
)

// RawURL is where the raw contents of path at HEAD are served.
func (c *Client) RawURL(fullName, path string) string {
	ref := &url.URL{Path: trimName(fullName) + "/HEAD/" + path}
	return c.rawBase.ResolveReference(ref).String()
}

// Download fetches the raw contents of path at the default branch head.
func (c *Client) Download(ctx context.Context, fullName, path string) ([]byte, error) {
	target := Absolute(c.RawURL(fullName, path))
	body, err := Execute(ctx, c.retrier, func(ctx context.Context) ([]byte, error) {
		return c.getBytes(ctx, target)
	})
	if err != nil {
		return nil, fmt.Errorf("download %s from %s: %w", path, trimName(fullName), err)
	}
	return body, nil
}
