package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/caselookupflow/internal/models"
)

// FirestoreCredentials reads portal logins from a per-user document.
type FirestoreCredentials struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreCredentials returns a credential source over collection.
func NewFirestoreCredentials(client *firestore.Client, collection string) *FirestoreCredentials {
	return &FirestoreCredentials{client: client, collection: collection}
}

// Credentials returns the stored login for userID.
func (c *FirestoreCredentials) Credentials(ctx context.Context, userID string) (models.PortalCredentials, error) {
	var creds models.PortalCredentials
	snap, err := c.client.Collection(c.collection).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return creds, fmt.Errorf("no credentials stored for user %s", userID)
	}
	if err != nil {
		return creds, fmt.Errorf("failed to read credentials for user %s: %w", userID, err)
	}
	if err := snap.DataTo(&creds); err != nil {
		return creds, fmt.Errorf("failed to decode credentials for user %s: %w", userID, err)
	}
	return creds, nil
}
