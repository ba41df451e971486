package github

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// TreeNode is one entry of a repository's recursive file tree.
type TreeNode struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

type treeResponse struct {
	Tree      []TreeNode `json:"tree"`
	Truncated bool       `json:"truncated"`
}

// Tree lists every entry reachable from the default branch head.
func (c *Client) Tree(ctx context.Context, fullName string) ([]TreeNode, error) {
	name := trimName(fullName)
	target := RelativePath("repos/" + name + "/git/trees/HEAD?recursive=1")
	resp, err := Execute(ctx, c.retrier, func(ctx context.Context) (treeResponse, error) {
		var out treeResponse
		err := c.getJSON(ctx, target, &out)
		return out, err
	})
	if err != nil {
		return nil, fmt.Errorf("list tree of %s: %w", name, err)
	}
	if resp.Truncated {
		c.logger.Warn("Tree listing truncated", zap.String("repo", name), zap.Int("entries", len(resp.Tree)))
	}
	return resp.Tree, nil
}
