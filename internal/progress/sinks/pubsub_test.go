package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/pom-harvester/internal/progress"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []*pubsub.Message
	err  error
}

func (c *capturePublisher) Publish(_ context.Context, msg *pubsub.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestPubSubSinkSkipsFileEvents(t *testing.T) {
	t.Parallel()

	pub := &capturePublisher{}
	sink := NewPubSubSink(pub)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()

	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageFileFetched, Repo: "octo/widgets", Path: "pom.xml"},
		{RunID: runID, TS: now, Stage: progress.StageRepoDone, Repo: "octo/widgets", Result: progress.ResultHasPom},
		{RunID: runID, TS: now, Stage: progress.StagePageScanned, Cursor: 1100, Count: 100},
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 2)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pub.msgs[0].Data, &decoded))
	assert.Equal(t, "REPO_DONE", decoded["stage"])
	assert.Equal(t, "octo/widgets", decoded["repo"])
	assert.Equal(t, "has_pom", decoded["result"])
	assert.Equal(t, "REPO_DONE", pub.msgs[0].Attributes["stage"])

	require.NoError(t, json.Unmarshal(pub.msgs[1].Data, &decoded))
	assert.InDelta(t, 1100.0, decoded["cursor"], 0)
}

func TestPubSubSinkSurfacesPublishError(t *testing.T) {
	t.Parallel()

	boom := errors.New("unavailable")
	sink := NewPubSubSink(&capturePublisher{err: boom})
	err := sink.Consume(context.Background(), []progress.Event{{
		RunID: progress.UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Stage: progress.StageRunDone,
	}})
	require.ErrorIs(t, err, boom)
}

func TestTopicPublisherAgainstFakeServer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)

	_, err = newTopicPublisher(ctx, client, "missing")
	require.Error(t, err)

	_, err = client.CreateTopic(ctx, "progress")
	require.NoError(t, err)
	pub, err := newTopicPublisher(ctx, client, "progress")
	require.NoError(t, err)

	sink := NewPubSubSink(pub)
	require.NoError(t, sink.Consume(ctx, []progress.Event{{
		RunID: progress.UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Stage: progress.StageRunStart,
	}}))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "RUN_START", msgs[0].Attributes["stage"])
	require.NoError(t, sink.Close(ctx))
}
