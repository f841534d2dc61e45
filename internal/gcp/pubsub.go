package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// NewPubSubClient creates a Pub/Sub client for the given project ID.
func NewPubSubClient(ctx context.Context, projectID string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a pubsub client")
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return client, nil
}
