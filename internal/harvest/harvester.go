package harvest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pom-harvester/internal/github"
	"github.com/JakeFAU/pom-harvester/internal/hash/sha256"
	"github.com/JakeFAU/pom-harvester/internal/metrics"
	"github.com/JakeFAU/pom-harvester/internal/progress"
	"github.com/JakeFAU/pom-harvester/internal/state"
)

const descriptorContentType = "application/xml"

// Config controls what is harvested and how aggressively.
type Config struct {
	TargetFile             string
	TargetLanguage         string
	MaxConcurrentDownloads int
}

// Dependencies bundles the collaborators of a Harvester. Mirrors, RecordMirror
// and Reporter are optional.
type Dependencies struct {
	API          API
	Ledger       Ledger
	Results      ResultSink
	Files        FileStore
	Mirrors      []Mirror
	RecordMirror RecordMirror
	Reporter     *progress.Reporter
}

// Harvester fetches descriptor files for qualifying repositories.
type Harvester struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger
}

// New constructs a Harvester.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Harvester, error) {
	if strings.TrimSpace(cfg.TargetFile) == "" {
		return nil, errors.New("harvest: target file is required")
	}
	if strings.TrimSpace(cfg.TargetLanguage) == "" {
		return nil, errors.New("harvest: target language is required")
	}
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = 1
	}
	if deps.API == nil || deps.Ledger == nil || deps.Results == nil || deps.Files == nil {
		return nil, errors.New("harvest: api, ledger, results and file store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{cfg: cfg, deps: deps, logger: logger}, nil
}

// HarvestBatch resolves nodeIDs with a single detail query and harvests every
// repository written in the target language. Repositories that do not qualify
// are ledgered without a record. Only the detail query and durable ledger or
// result writes fail the batch; a failed repository is logged and left
// unledgered for a later run.
func (h *Harvester) HarvestBatch(ctx context.Context, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	start := time.Now()
	details, err := h.deps.API.LoadRepositories(ctx, nodeIDs)
	if err != nil {
		return fmt.Errorf("load batch of %d repositories: %w", len(nodeIDs), err)
	}
	for _, detail := range details {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("harvest batch: %w", err)
		}
		if h.deps.Ledger.Contains(detail.NodeID) {
			continue
		}
		if !detail.HasLanguage(h.cfg.TargetLanguage) {
			if err := h.deps.Ledger.Append(detail.NodeID); err != nil {
				return fmt.Errorf("ledger %s: %w", detail.FullName, err)
			}
			h.finish(detail, progress.ResultNoMatch, "")
			continue
		}
		if _, err := h.HarvestRepository(ctx, detail.NodeID, detail.FullName); err != nil {
			var durable *durableError
			if errors.As(err, &durable) {
				return err
			}
			if ctx.Err() != nil {
				return fmt.Errorf("harvest batch: %w", ctx.Err())
			}
			h.logger.Error("Repository harvest aborted",
				zap.String("repo", detail.FullName),
				zap.String("id", detail.NodeID),
				zap.Error(err))
			h.finish(detail, progress.ResultAborted, err.Error())
		}
	}
	h.deps.Reporter.Report(progress.Event{
		Stage: progress.StageBatchDone,
		Count: int64(len(nodeIDs)),
		Dur:   time.Since(start),
	})
	return nil
}

// HarvestRepository downloads every descriptor of fullName, then ledgers the
// repository and appends its record. found reports whether the tree held at
// least one descriptor.
func (h *Harvester) HarvestRepository(ctx context.Context, id, fullName string) (bool, error) {
	found, err := h.fetchDescriptors(ctx, id, fullName)
	if err != nil {
		return false, err
	}
	rec := state.Record{ID: id, Name: fullName, HasPom: found}
	if err := h.deps.Results.Append(rec); err != nil {
		return found, &durableError{err: fmt.Errorf("record %s: %w", fullName, err)}
	}
	if h.deps.RecordMirror != nil {
		if err := h.deps.RecordMirror.Append(ctx, rec); err != nil {
			h.logger.Warn("Record mirror failed", zap.String("repo", fullName), zap.Error(err))
		}
	}
	result := progress.ResultNoPom
	if found {
		result = progress.ResultHasPom
	}
	h.finish(github.RepositoryDetail{NodeID: id, FullName: fullName}, result, "")
	return found, nil
}

// Resume fetches descriptors for previously recorded repositories that are not
// in the ledger yet. It runs sequentially, checks stop before each repository
// and makes no network call for ledgered ids. Records are not rewritten; run
// Consolidate afterwards to reconcile has_pom.
func (h *Harvester) Resume(ctx context.Context, records []state.Record, stop StopSignal) error {
	skipped, attempted := 0, 0
	for _, rec := range records {
		if stop != nil && stop.Stopped() {
			h.logger.Info("Stop requested, ending resume", zap.Int("attempted", attempted))
			break
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		if h.deps.Ledger.Contains(rec.ID) {
			skipped++
			continue
		}
		attempted++
		found, err := h.fetchDescriptors(ctx, rec.ID, rec.Name)
		if err != nil {
			var durable *durableError
			if errors.As(err, &durable) {
				return err
			}
			if ctx.Err() != nil {
				return fmt.Errorf("resume: %w", ctx.Err())
			}
			h.logger.Error("Repository harvest aborted", zap.String("repo", rec.Name), zap.Error(err))
			h.finish(github.RepositoryDetail{NodeID: rec.ID, FullName: rec.Name}, progress.ResultAborted, err.Error())
			continue
		}
		result := progress.ResultNoPom
		if found {
			result = progress.ResultHasPom
		}
		h.finish(github.RepositoryDetail{NodeID: rec.ID, FullName: rec.Name}, result, "")
	}
	h.logger.Info("Resume finished", zap.Int("attempted", attempted), zap.Int("skipped", skipped))
	return nil
}

// fetchDescriptors walks the tree of fullName, downloads every match and
// ledgers the repository once all downloads settled. A tree listing that
// fails with an HTTP status is ledgered as having no descriptors.
func (h *Harvester) fetchDescriptors(ctx context.Context, id, fullName string) (bool, error) {
	tree, err := h.deps.API.Tree(ctx, fullName)
	if err != nil {
		if !github.IsHTTPStatus(err) {
			return false, err
		}
		h.logger.Warn("Tree listing failed, recording repository without descriptors",
			zap.String("repo", fullName), zap.Error(err))
		if err := h.deps.Ledger.Append(id); err != nil {
			return false, &durableError{err: fmt.Errorf("ledger %s: %w", fullName, err)}
		}
		return false, nil
	}

	var matches []string
	for _, node := range tree {
		if strings.HasSuffix(node.Path, h.cfg.TargetFile) {
			matches = append(matches, node.Path)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.MaxConcurrentDownloads)
	for _, path := range matches {
		g.Go(func() error {
			return h.fetchDescriptor(gctx, fullName, path)
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	if err := h.deps.Ledger.Append(id); err != nil {
		return false, &durableError{err: fmt.Errorf("ledger %s: %w", fullName, err)}
	}
	h.logger.Debug("Fetched descriptors", zap.String("repo", fullName), zap.Int("files", len(matches)))
	return len(matches) > 0, nil
}

func (h *Harvester) fetchDescriptor(ctx context.Context, fullName, path string) error {
	key := state.DescriptorKey(fullName, path)
	exists, err := h.deps.Files.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("stat %s: %w", key, err)
	}
	if exists {
		return nil
	}

	start := time.Now()
	body, err := h.deps.API.Download(ctx, fullName, path)
	if err != nil {
		if github.IsNotFound(err) {
			h.logger.Warn("Descriptor vanished before download",
				zap.String("repo", fullName), zap.String("path", path))
			return nil
		}
		return err
	}
	if _, err := h.deps.Files.PutObject(ctx, key, descriptorContentType, bytes.NewReader(body)); err != nil {
		return &durableError{err: fmt.Errorf("store %s: %w", key, err)}
	}
	for _, mirror := range h.deps.Mirrors {
		if _, err := mirror.PutObject(ctx, key, descriptorContentType, bytes.NewReader(body)); err != nil {
			h.logger.Warn("Descriptor mirror failed", zap.String("key", key), zap.Error(err))
		}
	}
	metrics.ObserveDescriptorFetched()
	h.deps.Reporter.Report(progress.Event{
		Stage: progress.StageFileFetched,
		Repo:  fullName,
		Path:  path,
		Bytes: int64(len(body)),
		Dur:   time.Since(start),
		Note:  sha256.Tagged(body),
	})
	return nil
}

func (h *Harvester) finish(detail github.RepositoryDetail, result progress.Result, note string) {
	metrics.ObserveRepositoryFinished(string(result))
	h.deps.Reporter.Report(progress.Event{
		Stage:  progress.StageRepoDone,
		Repo:   detail.FullName,
		RepoID: detail.NodeID,
		Result: result,
		Note:   note,
	})
}

// durableError marks a failed write to local crawl state, which ends the run.
type durableError struct {
	err error
}

func (e *durableError) Error() string { return e.err.Error() }

func (e *durableError) Unwrap() error { return e.err }
