package github

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
)

// MaxQueryCost is the highest declared cost a batched detail query may have.
const MaxQueryCost = 1

// MaxBatchSize is the most node ids one detail query may carry.
const MaxBatchSize = 100

// ErrQueryTooExpensive reports a detail query whose declared cost exceeds MaxQueryCost.
var ErrQueryTooExpensive = errors.New("github: detail query exceeds the allowed cost")

// RepositoryDetail is what the batched detail query returns per repository.
type RepositoryDetail struct {
	NodeID   string
	FullName string
	// Languages is ordered by size, largest first.
	Languages []string
}

// HasLanguage reports whether lang appears in the language histogram.
func (d RepositoryDetail) HasLanguage(lang string) bool {
	for _, l := range d.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

type repositoryNode struct {
	Repository struct {
		ID            githubv4.ID
		NameWithOwner githubv4.String
		Languages     struct {
			Nodes []struct {
				Name githubv4.String
			}
		} `graphql:"languages(first: 100, orderBy: {field: SIZE, direction: DESC})"`
	} `graphql:"... on Repository"`
}

type detailQuery struct {
	Nodes     []repositoryNode `graphql:"nodes(ids: $ids)"`
	RateLimit struct {
		Cost githubv4.Int
	}
}

// LoadRepositories resolves node ids to repository details with one GraphQL
// query. Ids that resolve to nothing (deleted or non-repository nodes) are
// dropped from the result.
func (c *Client) LoadRepositories(ctx context.Context, nodeIDs []string) ([]RepositoryDetail, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	if len(nodeIDs) > MaxBatchSize {
		return nil, fmt.Errorf("load repositories: %d ids exceeds batch limit %d", len(nodeIDs), MaxBatchSize)
	}
	ids := make([]githubv4.ID, len(nodeIDs))
	for i, id := range nodeIDs {
		ids[i] = githubv4.ID(id)
	}

	q, err := Execute(ctx, c.retrier, func(ctx context.Context) (detailQuery, error) {
		var q detailQuery
		err := c.gql.Query(ctx, &q, map[string]any{"ids": ids})
		return q, c.classifyGraphQLError(err, len(nodeIDs))
	})
	if err != nil {
		return nil, fmt.Errorf("load %d repositories: %w", len(nodeIDs), err)
	}
	if cost := int(q.RateLimit.Cost); cost > MaxQueryCost {
		return nil, fmt.Errorf("%w: declared cost %d, limit %d", ErrQueryTooExpensive, cost, MaxQueryCost)
	}

	details := make([]RepositoryDetail, 0, len(q.Nodes))
	for _, node := range q.Nodes {
		repo := node.Repository
		id, _ := repo.ID.(string)
		if id == "" {
			continue
		}
		langs := make([]string, 0, len(repo.Languages.Nodes))
		for _, l := range repo.Languages.Nodes {
			langs = append(langs, string(l.Name))
		}
		details = append(details, RepositoryDetail{
			NodeID:    id,
			FullName:  string(repo.NameWithOwner),
			Languages: langs,
		})
	}
	return details, nil
}

// classifyGraphQLError sorts errors reported inside a 200 response. HTTP and
// transport failures arrive already classified by the transport.
func (c *Client) classifyGraphQLError(err error, batch int) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr
	}
	msg := err.Error()
	switch {
	case isRateLimitMessage(msg):
		return &APIError{Kind: KindRateLimited, Message: msg, URL: c.graphqlURL}
	case isUnresolvedNode(msg):
		// The response still carries data for every id that did resolve.
		c.logger.Debug("Detail query skipped unresolved nodes", zap.Int("batch", batch), zap.String("error", msg))
		return nil
	default:
		return &APIError{Kind: KindFatal, Message: msg, URL: c.graphqlURL, Err: err}
	}
}

func isUnresolvedNode(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "could not resolve to a node")
}
