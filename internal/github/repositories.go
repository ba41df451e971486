package github

import (
	"context"
	"fmt"
	"strconv"
)

// RepositorySummary is one entry of the public repository listing.
type RepositorySummary struct {
	ID       uint64 `json:"id"`
	NodeID   string `json:"node_id"`
	FullName string `json:"full_name"`
	Fork     bool   `json:"fork"`
}

// ListRepositories returns the page of public repositories created after since.
// An empty page means the namespace is exhausted.
func (c *Client) ListRepositories(ctx context.Context, since uint64) ([]RepositorySummary, error) {
	target := RelativePath("repositories?since=" + strconv.FormatUint(since, 10))
	page, err := Execute(ctx, c.retrier, func(ctx context.Context) ([]RepositorySummary, error) {
		var page []RepositorySummary
		if err := c.getJSON(ctx, target, &page); err != nil {
			return nil, err
		}
		return page, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list repositories since %d: %w", since, err)
	}
	return page, nil
}
