package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/cenkalti/backoff/v4"
	"github.com/googleapis/gax-go/v2"

	"github.com/Lllllllleong/caselookupflow/internal/models"
)

// ExecutionCreator is the part of the Workflows Executions client we use.
type ExecutionCreator interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// RetrievalWorkflow hands found cases to the data-retrieval stage by starting
// one workflow execution per case.
type RetrievalWorkflow struct {
	executions ExecutionCreator
	parent     string
	maxRetries uint64
	maxElapsed time.Duration
}

// NewRetrievalWorkflow targets projects/<project>/locations/<location>/workflows/<workflowID>.
func NewRetrievalWorkflow(executions ExecutionCreator, projectID, location, workflowID string) *RetrievalWorkflow {
	return &RetrievalWorkflow{
		executions: executions,
		parent:     fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
		maxRetries: 3,
		maxElapsed: 30 * time.Second,
	}
}

// WithRetryBudget returns a copy that gives up after maxRetries retries or
// maxElapsed in total, whichever comes first.
func (w *RetrievalWorkflow) WithRetryBudget(maxRetries uint64, maxElapsed time.Duration) *RetrievalWorkflow {
	c := *w
	c.maxRetries = maxRetries
	c.maxElapsed = maxElapsed
	return &c
}

// EnqueueOne starts a retrieval execution for a case whose portal id is known.
func (w *RetrievalWorkflow) EnqueueOne(ctx context.Context, caseNumber, caseID, userID string) error {
	if caseID == "" {
		return fmt.Errorf("cannot enqueue retrieval for %s without a case id", caseNumber)
	}
	payload, err := json.Marshal(models.RetrievalRequest{CaseNumber: caseNumber, CaseID: caseID, UserID: userID})
	if err != nil {
		return fmt.Errorf("failed to marshal retrieval payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: w.parent,
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	}

	logCtx := slog.With("caseNumber", caseNumber, "caseId", caseID, "workflow", w.parent)
	var execName string
	op := func() error {
		exec, err := w.executions.CreateExecution(ctx, req)
		if err != nil {
			return err
		}
		execName = exec.GetName()
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logCtx.Warn("Retrieval workflow trigger failed, will retry.", "backoff", wait.String(), "error", err)
	}
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = w.maxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, w.maxRetries), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return fmt.Errorf("failed to trigger retrieval workflow for %s: %w", caseNumber, err)
	}
	logCtx.Info("Triggered retrieval workflow.", "execution", execName)
	return nil
}
