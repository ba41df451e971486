package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/pom-harvester/internal/github"
)

// Lister returns one page of the repository listing after since.
type Lister interface {
	ListRepositories(ctx context.Context, since uint64) ([]github.RepositorySummary, error)
}

// BatchHarvester processes one detail batch of node ids.
type BatchHarvester interface {
	HarvestBatch(ctx context.Context, nodeIDs []string) error
}

// CursorStore is the durable scan watermark.
type CursorStore interface {
	Load() uint64
	Save(id uint64) error
}

// StopSignal reports whether a graceful stop was requested.
type StopSignal interface {
	Stopped() bool
}

// Clock abstracts time so page pacing can be tested.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
