package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Lllllllleong/caselookupflow/internal/models"
)

// PushAcknowledger acknowledges a Pub/Sub push delivery. Push subscriptions
// have no explicit ack call: the function acks by returning nil and nacks by
// returning an error, so this records the decision for the entry point.
type PushAcknowledger struct {
	messageID string
	acked     bool
}

// NewPushAcknowledger tracks the delivery with the given message ID.
func NewPushAcknowledger(messageID string) *PushAcknowledger {
	return &PushAcknowledger{messageID: messageID}
}

// Acknowledge marks the delivery handled. receiptHandle must be the message ID.
func (a *PushAcknowledger) Acknowledge(_ context.Context, receiptHandle string) error {
	if receiptHandle != a.messageID {
		return fmt.Errorf("receipt handle %q does not match delivery %q", receiptHandle, a.messageID)
	}
	a.acked = true
	return nil
}

// Acked reports whether Acknowledge succeeded.
func (a *PushAcknowledger) Acked() bool {
	return a.acked
}

// DecodePush extracts the search message from a Pub/Sub push payload.
func DecodePush(data models.MessagePublishedData) (models.SearchMessage, error) {
	var msg models.SearchMessage
	if err := json.Unmarshal(data.Message.Data, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode search message %s: %w", data.Message.MessageID, err)
	}
	if msg.CaseNumber == "" || msg.UserID == "" {
		return msg, fmt.Errorf("search message %s is missing caseNumber or userId", data.Message.MessageID)
	}
	return msg, nil
}
