package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pom-harvester/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StagePageScanned, Count: 100, Cursor: 1100},
		{RunID: runID, TS: now, Stage: progress.StageBatchDone, Count: 100, Dur: 3 * time.Second},
		{
			RunID: runID,
			TS:    now,
			Stage: progress.StageFileFetched,
			Repo:  "octo/widgets",
			Path:  "pom.xml",
			Bytes: 1024,
			Dur:   200 * time.Millisecond,
		},
		{RunID: runID, TS: now.Add(15 * time.Second), Stage: progress.StageRunDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesScanned))
	require.Equal(t, 100.0, testutil.ToFloat64(sink.reposListed))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.batches))
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.fileBytes), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fileDuration, "harvester_descriptor_download_seconds"))
}

func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
