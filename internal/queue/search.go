// Package queue adapts the search and data-retrieval queues to GCP services.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/caselookupflow/internal/models"
)

// Publisher is the part of *pubsub.Topic used to enqueue search work.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// SearchPublisher enqueues search messages on a Pub/Sub topic.
type SearchPublisher struct {
	topic Publisher
}

// NewSearchPublisher wraps a topic handle. The caller owns topic.Stop().
func NewSearchPublisher(topic Publisher) *SearchPublisher {
	return &SearchPublisher{topic: topic}
}

// EnqueueMany publishes one message per case number as a single batch and
// waits for every publish to settle. A partial failure is returned as a
// *models.EnqueueError naming the case numbers that were not accepted.
func (p *SearchPublisher) EnqueueMany(ctx context.Context, caseNumbers []string, userID, userAgent string) error {
	if len(caseNumbers) == 0 {
		return nil
	}
	batchID := uuid.NewString()
	logCtx := slog.With("userId", userID, "batchId", batchID, "count", len(caseNumbers))

	results := make([]*pubsub.PublishResult, len(caseNumbers))
	for i, cn := range caseNumbers {
		data, err := json.Marshal(models.SearchMessage{CaseNumber: cn, UserID: userID, UserAgent: userAgent})
		if err != nil {
			return fmt.Errorf("failed to marshal search message for %s: %w", cn, err)
		}
		results[i] = p.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"caseNumber": cn,
				"batchId":    batchID,
			},
		})
	}

	var mu sync.Mutex
	failed := make(map[string]error)
	var eg errgroup.Group
	for i := range results {
		eg.Go(func() error {
			if _, err := results[i].Get(ctx); err != nil {
				mu.Lock()
				failed[caseNumbers[i]] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	if len(failed) > 0 {
		logCtx.Error("Search enqueue partially failed.", "failed", len(failed))
		return &models.EnqueueError{Failed: failed}
	}
	logCtx.Info("Enqueued search batch.")
	return nil
}
