package harvest

import (
	"context"
	"io"

	"github.com/JakeFAU/pom-harvester/internal/github"
	"github.com/JakeFAU/pom-harvester/internal/state"
)

// API is the subset of the GitHub client the harvester calls.
type API interface {
	LoadRepositories(ctx context.Context, nodeIDs []string) ([]github.RepositoryDetail, error)
	Tree(ctx context.Context, fullName string) ([]github.TreeNode, error)
	Download(ctx context.Context, fullName, path string) ([]byte, error)
}

// Ledger records which repositories have been fully processed.
type Ledger interface {
	Contains(id string) bool
	Append(id string) error
}

// ResultSink receives one record per harvested repository.
type ResultSink interface {
	Append(rec state.Record) error
}

// FileStore persists downloaded descriptors under a repository-scoped key.
type FileStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
}

// Mirror receives a copy of every descriptor written to the FileStore.
type Mirror interface {
	PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
}

// RecordMirror receives a copy of every result record.
type RecordMirror interface {
	Append(ctx context.Context, rec state.Record) error
}

// StopSignal reports whether a graceful stop was requested.
type StopSignal interface {
	Stopped() bool
}
