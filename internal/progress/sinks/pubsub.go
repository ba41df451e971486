package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/pom-harvester/internal/progress"
)

// Publisher abstracts a Pub/Sub topic so tests can capture published messages.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) error
}

// TopicPublisher adapts a *pubsub.Topic to Publisher and waits for each
// publish to be acknowledged.
type TopicPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewTopicPublisher opens a client using Application Default Credentials and
// verifies the topic exists before returning.
func NewTopicPublisher(ctx context.Context, projectID, topicID string) (*TopicPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	pub, err := newTopicPublisher(ctx, client, topicID)
	if err != nil {
		return nil, errors.Join(err, client.Close())
	}
	return pub, nil
}

func newTopicPublisher(ctx context.Context, client *pubsub.Client, topicID string) (*TopicPublisher, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	return &TopicPublisher{client: client, topic: topic}, nil
}

// Publish sends msg and blocks until the server assigns it an id.
func (p *TopicPublisher) Publish(ctx context.Context, msg *pubsub.Message) error {
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish progress message: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *TopicPublisher) Close() error {
	p.topic.Stop()
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// PubSubSink forwards run, batch and repository milestones to a Pub/Sub topic
// so downstream consumers can follow a long crawl. File events are skipped.
type PubSubSink struct {
	publisher Publisher
}

// NewPubSubSink wraps publisher.
func NewPubSubSink(publisher Publisher) *PubSubSink {
	return &PubSubSink{publisher: publisher}
}

type wireEvent struct {
	RunID  string `json:"run_id"`
	TS     string `json:"ts"`
	Stage  string `json:"stage"`
	Repo   string `json:"repo,omitempty"`
	RepoID string `json:"repo_id,omitempty"`
	Count  int64  `json:"count,omitempty"`
	Cursor uint64 `json:"cursor,omitempty"`
	Result string `json:"result,omitempty"`
	DurMS  int64  `json:"dur_ms,omitempty"`
	Note   string `json:"note,omitempty"`
}

// Consume publishes one message per forwarded event. The first publish error
// stops the batch.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.Stage == progress.StageFileFetched {
			continue
		}
		data, err := json.Marshal(wireEvent{
			RunID:  evt.RunUUID().String(),
			TS:     evt.TS.UTC().Format(time.RFC3339Nano),
			Stage:  string(evt.Stage),
			Repo:   evt.Repo,
			RepoID: evt.RepoID,
			Count:  evt.Count,
			Cursor: evt.Cursor,
			Result: string(evt.Result),
			DurMS:  evt.Dur.Milliseconds(),
			Note:   evt.Note,
		})
		if err != nil {
			return fmt.Errorf("marshal progress event: %w", err)
		}
		msg := &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"stage":  string(evt.Stage),
				"run_id": evt.RunUUID().String(),
			},
		}
		if err := s.publisher.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the publisher when it owns resources.
func (s *PubSubSink) Close(context.Context) error {
	if closer, ok := s.publisher.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
