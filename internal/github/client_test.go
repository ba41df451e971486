package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type requestLog struct {
	mu    sync.Mutex
	auth  []string
	paths []string
	ua    []string
}

func (l *requestLog) record(r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.auth = append(l.auth, r.Header.Get("Authorization"))
	l.paths = append(l.paths, r.URL.RequestURI())
	l.ua = append(l.ua, r.Header.Get("User-Agent"))
}

func (l *requestLog) Paths() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func (l *requestLog) Auth() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.auth...)
}

func newTestClient(t *testing.T, handler http.Handler, tokens ...string) (*Client, *requestLog, *sleepRecorder) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.record(r)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	if len(tokens) == 0 {
		tokens = []string{"tok-a", "tok-b"}
	}
	pool, err := NewPool(tokens)
	require.NoError(t, err)

	rec := &sleepRecorder{}
	client, err := New(Config{
		BaseURL:    srv.URL,
		GraphQLURL: srv.URL + "/graphql",
		RawBaseURL: srv.URL + "/raw",
		UserAgent:  "harvester-test",
		Timeout:    5 * time.Second,
		Cooldown:   time.Minute,
	}, pool, WithLogger(zap.NewNop()), WithSleep(rec.sleep))
	require.NoError(t, err)
	return client, log, rec
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestListRepositoriesSendsHeadersAndCursor(t *testing.T) {
	t.Parallel()

	client, log, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repositories", r.URL.Path)
		writeJSON(w, http.StatusOK, []RepositorySummary{
			{ID: 1001, NodeID: "R_1", FullName: "a/one"},
			{ID: 1002, NodeID: "R_2", FullName: "b/two", Fork: true},
		})
	}))

	page, err := client.ListRepositories(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(1002), page[1].ID)
	assert.True(t, page[1].Fork)

	assert.Equal(t, []string{"/repositories?since=1000"}, log.Paths())
	assert.Equal(t, []string{"token tok-a"}, log.Auth())
	assert.Equal(t, "harvester-test", log.ua[0])
}

func TestListRepositoriesRotatesOnRateLimit(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	client, log, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		switch n {
		case 1:
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": "slow down"})
		case 2:
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "API rate limit exceeded for user"})
		case 3:
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "You have triggered an abuse detection mechanism"})
		default:
			writeJSON(w, http.StatusOK, []RepositorySummary{})
		}
	}), "tok-a", "tok-b")

	page, err := client.ListRepositories(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Equal(t, []string{"token tok-a", "token tok-b", "token tok-a", "token tok-b"}, log.Auth())
	assert.Len(t, rec.calls, 1, "one wrap in three rotations over two credentials")
}

func TestClientDoesNotRetryFatalStatus(t *testing.T) {
	t.Parallel()

	client, log, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
	}))

	_, err := client.ListRepositories(context.Background(), 5)
	require.Error(t, err)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, KindFatal, apiErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "boom", apiErr.Message)
	assert.Len(t, log.Paths(), 1)
}

func TestClientTransportFailureIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	pool, err := NewPool([]string{"tok"})
	require.NoError(t, err)
	client, err := New(Config{BaseURL: base, GraphQLURL: base + "/graphql", RawBaseURL: base}, pool)
	require.NoError(t, err)

	_, err = client.ListRepositories(context.Background(), 0)
	require.Error(t, err)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, KindTransient, apiErr.Kind)
	assert.Equal(t, 0, pool.Index())
}

func TestTreeAndDownloadTargets(t *testing.T) {
	t.Parallel()

	client, log, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/repos/"):
			writeJSON(w, http.StatusOK, map[string]any{
				"tree": []TreeNode{{Path: "pom.xml", Type: "blob"}, {Path: "sub/pom.xml", Type: "blob"}},
			})
		case strings.HasPrefix(r.URL.Path, "/raw/") && strings.HasSuffix(r.URL.Path, "pom.xml"):
			_, _ = io.WriteString(w, "<project/>")
		default:
			http.NotFound(w, r)
		}
	}))

	tree, err := client.Tree(context.Background(), "owner/repo")
	require.NoError(t, err)
	require.Len(t, tree, 2)

	body, err := client.Download(context.Background(), "owner/repo", "sub/pom.xml")
	require.NoError(t, err)
	assert.Equal(t, "<project/>", string(body))

	_, err = client.Download(context.Background(), "owner/repo", "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	assert.Equal(t, []string{
		"/repos/owner/repo/git/trees/HEAD?recursive=1",
		"/raw/owner/repo/HEAD/sub/pom.xml",
		"/raw/owner/repo/HEAD/missing",
	}, log.Paths())
}

type graphqlRequest struct {
	Query     string `json:"query"`
	Variables struct {
		IDs []string `json:"ids"`
	} `json:"variables"`
}

func repositoryNodeJSON(id, name string, langs ...string) map[string]any {
	nodes := make([]map[string]string, 0, len(langs))
	for _, l := range langs {
		nodes = append(nodes, map[string]string{"name": l})
	}
	return map[string]any{
		"id":            id,
		"nameWithOwner": name,
		"languages":     map[string]any{"nodes": nodes},
	}
}

func TestLoadRepositoriesSingleQueryDropsMissingNodes(t *testing.T) {
	t.Parallel()

	var seen []graphqlRequest
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/graphql", r.URL.Path)
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"nodes": []any{
					repositoryNodeJSON("R_1", "a/one", "Java", "Shell"),
					nil,
					repositoryNodeJSON("R_3", "c/three", "Go"),
				},
				"rateLimit": map[string]any{"cost": 1},
			},
		})
	}))

	details, err := client.LoadRepositories(context.Background(), []string{"R_1", "R_2", "R_3"})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, []string{"R_1", "R_2", "R_3"}, seen[0].Variables.IDs)
	assert.Contains(t, seen[0].Query, "nodes(ids: $ids)")
	assert.Contains(t, seen[0].Query, "rateLimit{cost}")

	require.Len(t, details, 2)
	assert.Equal(t, "a/one", details[0].FullName)
	assert.True(t, details[0].HasLanguage("Java"))
	assert.False(t, details[1].HasLanguage("Java"))
}

func TestLoadRepositoriesRejectsExpensiveQuery(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"nodes":     []any{repositoryNodeJSON("R_1", "a/one", "Java")},
				"rateLimit": map[string]any{"cost": 2},
			},
		})
	}))

	_, err := client.LoadRepositories(context.Background(), []string{"R_1"})
	require.ErrorIs(t, err, ErrQueryTooExpensive)
}

func TestLoadRepositoriesGraphQLRateLimitRotates(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	client, log, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			writeJSON(w, http.StatusOK, map[string]any{
				"errors": []map[string]string{{"message": "API rate limit exceeded for user ID 1."}},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"nodes":     []any{repositoryNodeJSON("R_1", "a/one", "Java")},
				"rateLimit": map[string]any{"cost": 1},
			},
		})
	}))

	details, err := client.LoadRepositories(context.Background(), []string{"R_1"})
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, []string{"token tok-a", "token tok-b"}, log.Auth())
}

func TestLoadRepositoriesKeepsResolvedNodesOnPartialErrors(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"nodes":     []any{repositoryNodeJSON("R_1", "a/one", "Java"), nil},
				"rateLimit": map[string]any{"cost": 1},
			},
			"errors": []map[string]any{{
				"type":    "NOT_FOUND",
				"message": "Could not resolve to a node with the global id of 'R_gone'",
			}},
		})
	}))

	details, err := client.LoadRepositories(context.Background(), []string{"R_1", "R_gone"})
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "R_1", details[0].NodeID)
}

func TestLoadRepositoriesOtherGraphQLErrorsAreFatal(t *testing.T) {
	t.Parallel()

	client, log, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"errors": []map[string]string{{"message": "Something went wrong"}},
		})
	}))

	_, err := client.LoadRepositories(context.Background(), []string{"R_1"})
	require.Error(t, err)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, KindFatal, apiErr.Kind)
	assert.Len(t, log.Paths(), 1)
}

func TestLoadRepositoriesRejectsOversizedBatch(t *testing.T) {
	t.Parallel()

	client, log, _ := newTestClient(t, http.NotFoundHandler())
	ids := make([]string, MaxBatchSize+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("R_%d", i)
	}
	_, err := client.LoadRepositories(context.Background(), ids)
	require.Error(t, err)
	assert.Empty(t, log.Paths())
}

func TestRawURLEscapesPath(t *testing.T) {
	t.Parallel()

	client, _, _ := newTestClient(t, http.NotFoundHandler())
	raw := client.RawURL("owner/repo", "dir with space/pom.xml")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/raw/owner/repo/HEAD/dir with space/pom.xml", u.Path)
	assert.Contains(t, raw, "dir%20with%20space")
}
