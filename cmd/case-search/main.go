package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/caselookupflow/internal/gcp"
	"github.com/Lllllllleong/caselookupflow/internal/models"
	"github.com/Lllllllleong/caselookupflow/internal/queue"
	"github.com/Lllllllleong/caselookupflow/internal/services"
)

// caseSearcher is the business logic behind the handler.
type caseSearcher interface {
	Process(ctx context.Context, msg models.SearchMessage, receiptHandle string, ack services.Acknowledger) services.Outcome
}

var (
	searchInstance caseSearcher
	once           sync.Once
	initErr        error

	newSearcher = func(ctx context.Context) (caseSearcher, error) {
		f, err := services.NewCaseSearch(ctx)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
)

func init() {
	slog.SetDefault(gcp.NewCloudLogger(os.Stdout, slog.LevelInfo))

	// The search topic's push subscription delivers here as a CloudEvent.
	functions.CloudEvent("ProcessCaseSearch", processCaseSearch)
}

// main is required by the Go Functions Framework.
func main() {}

// processCaseSearch returns nil to acknowledge the Pub/Sub delivery and an
// error to have it redelivered.
func processCaseSearch(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		searchInstance, initErr = newSearcher(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Case search initialization failed.", "error", initErr)
		return initErr
	}

	var data models.MessagePublishedData
	if err := e.DataAs(&data); err != nil {
		// A payload that cannot be decoded will never succeed; drop it.
		slog.Error("Failed to unmarshal event data.", "error", err, "eventId", e.ID())
		return nil
	}
	msg, err := queue.DecodePush(data)
	if err != nil {
		slog.Error("Dropping malformed search message.", "error", err, "eventId", e.ID())
		return nil
	}

	ack := queue.NewPushAcknowledger(data.Message.MessageID)
	outcome := searchInstance.Process(ctx, msg, data.Message.MessageID, ack)
	if !ack.Acked() {
		return fmt.Errorf("case %s left unacknowledged (outcome %s)", msg.CaseNumber, outcome)
	}
	return nil
}
