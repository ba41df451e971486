// Package progress defines the event structures emitted by the crawl pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StagePageScanned Stage = "PAGE_SCANNED"
	StageBatchDone   Stage = "BATCH_DONE"
	StageRepoDone    Stage = "REPO_DONE"
	StageFileFetched Stage = "FILE_FETCHED"
)

func (s Stage) lifecycle() bool {
	return s == StageRunStart || s == StageRunDone || s == StageRunError
}

// Result labels a concluded repository.
type Result string

// Repository outcomes reported with StageRepoDone.
const (
	ResultHasPom  Result = "has_pom"
	ResultNoPom   Result = "no_pom"
	ResultNoMatch Result = "no_match"
	ResultNoTree  Result = "no_tree"
	ResultAborted Result = "aborted"
)

// Event captures a single component of crawl progress.
type Event struct {
	// RunID uniquely identifies a harvester run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Repo is the owner/name of the repository, when the event is about one.
	Repo string
	// RepoID is the node id of the repository.
	RepoID string
	// Path is the repository-relative file path for file events.
	Path string
	// Bytes carries the downloaded size for file events.
	Bytes int64
	// Count is the number of items a page or batch covered.
	Count int64
	// Cursor is the scan watermark after a page.
	Cursor uint64
	// Result classifies a concluded repository.
	Result Result
	// Dur captures latency for batches, files and whole runs.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StagePageScanned, StageBatchDone:
	case StageRepoDone:
		if e.Repo == "" {
			return errors.New("repo done requires repo")
		}
		if e.Result == "" {
			return errors.New("repo done requires result")
		}
	case StageFileFetched:
		if e.Repo == "" || e.Path == "" {
			return errors.New("file fetched requires repo and path")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Reporter stamps events with a run id and timestamp before emitting them.
// A nil Reporter, or one without an emitter, drops events.
type Reporter struct {
	emitter Emitter
	runID   [16]byte
	now     func() time.Time
}

// NewReporter wraps emitter for the given run.
func NewReporter(emitter Emitter, runID uuid.UUID) *Reporter {
	return &Reporter{
		emitter: emitter,
		runID:   UUIDToBytes(runID),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Report fills RunID and TS and forwards the event.
func (r *Reporter) Report(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	if evt.TS.IsZero() {
		evt.TS = r.now()
	}
	r.emitter.Emit(evt)
}
