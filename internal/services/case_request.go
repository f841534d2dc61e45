package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/caselookupflow/internal/casenum"
	"github.com/Lllllllleong/caselookupflow/internal/gcp"
	"github.com/Lllllllleong/caselookupflow/internal/models"
	"github.com/Lllllllleong/caselookupflow/internal/portal"
	"github.com/Lllllllleong/caselookupflow/internal/queue"
	"github.com/Lllllllleong/caselookupflow/internal/store"
)

// CaseRequestFunction is the synchronous entry point: it reconciles the
// requested case numbers against the store, queues whatever work each needs
// and returns the best-known state without waiting for any search.
type CaseRequestFunction struct {
	store       CaseStore
	sessions    SessionProvider
	search      SearchQueue
	retrieval   RetrievalQueue
	userAgents  UserAgentProvider
	tracer      trace.Tracer
	cutoff      time.Time
	now         func() time.Time
	concurrency int
}

// NewCaseRequest creates a CaseRequestFunction from the environment.
func NewCaseRequest(ctx context.Context) (*CaseRequestFunction, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.SearchTopicID == "" {
		return nil, fmt.Errorf("SEARCH_TOPIC_ID environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.DatabaseID)
	if err != nil {
		return nil, err
	}
	pubsubClient, err := gcp.NewPubSubClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	retrieval, err := newRetrievalQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	retrieval = retrieval.WithRetryBudget(requestRetrievalRetries, requestRetrievalMaxElapsed)

	f := &CaseRequestFunction{
		store:       store.NewFirestoreStore(firestoreClient, cfg.CaseCollection),
		sessions:    newSessionProvider(cfg, firestoreClient),
		search:      queue.NewSearchPublisher(pubsubClient.Topic(cfg.SearchTopicID)),
		retrieval:   retrieval,
		userAgents:  portal.UserAgents{System: cfg.PortalUserAgent},
		tracer:      otel.Tracer("github.com/Lllllllleong/caselookupflow/internal/services"),
		cutoff:      cfg.SummaryCutoff,
		now:         time.Now,
		concurrency: 8,
	}
	slog.Info("Case request logic initialized.", "collection", cfg.CaseCollection, "searchTopic", cfg.SearchTopicID)
	return f, nil
}

// caseResult is the per-case outcome of the reconciliation loop.
type caseResult struct {
	record      models.CaseRecord
	needsSearch bool
}

// Process returns the current state of every requested case number. Per-case
// infrastructure failures are reported as failed entries, never as an error.
func (f *CaseRequestFunction) Process(ctx context.Context, userID string, caseNumbers []string, userAgentHint string) (map[string]models.CaseRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}
	caseNumbers = casenum.Normalize(caseNumbers)
	out := make(map[string]models.CaseRecord, len(caseNumbers))
	if len(caseNumbers) == 0 {
		return out, nil
	}

	ctx, span := f.tracer.Start(ctx, "caseRequest.Process", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("case.count", len(caseNumbers)),
	))
	defer span.End()
	logCtx := slog.With("userId", userID, "caseCount", len(caseNumbers))
	userAgent := f.userAgents.Get(userAgentHint)

	if _, err := f.sessions.GetOrCreateSession(ctx, userID, userAgent); err != nil {
		logCtx.Warn("Session acquisition failed; returning advisory failures.", "error", err)
		msg := fmt.Sprintf("Unable to authenticate with the portal: %v", err)
		for _, cn := range caseNumbers {
			out[cn] = models.CaseRecord{CaseNumber: cn, Status: models.StatusFailed, StatusMessage: msg}
		}
		return out, nil
	}

	existing, err := f.store.ReadMany(ctx, caseNumbers)
	if err != nil {
		logCtx.Error("Failed to read case records.", "error", err)
		for _, cn := range caseNumbers {
			out[cn] = failedResult(cn, nil, fmt.Sprintf("failed to read case status: %v", err))
		}
		return out, nil
	}

	results := make([]caseResult, len(caseNumbers))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(f.concurrency)
	for i, cn := range caseNumbers {
		eg.Go(func() error {
			results[i] = f.reconcile(gctx, logCtx, cn, existing[cn], userID)
			return nil
		})
	}
	_ = eg.Wait()

	var toSearch []string
	for i, cn := range caseNumbers {
		out[cn] = results[i].record
		if results[i].needsSearch {
			toSearch = append(toSearch, cn)
		}
	}

	if len(toSearch) > 0 {
		if err := f.search.EnqueueMany(ctx, toSearch, userID, userAgent); err != nil {
			f.markEnqueueFailures(logCtx, out, existing, toSearch, err)
		}
	}
	span.SetAttributes(attribute.Int("case.searchQueued", len(toSearch)))
	logCtx.Info("Case request processed.", "searchQueued", len(toSearch))
	return out, nil
}

// reconcile applies the decision table to one case.
func (f *CaseRequestFunction) reconcile(ctx context.Context, logCtx *slog.Logger, cn string, rec *models.CaseRecord, userID string) caseResult {
	action := Decide(rec, f.cutoff)
	logCtx = logCtx.With("caseNumber", cn, "action", action.String())

	switch action {
	case ActionNone:
		return caseResult{record: *rec}

	case ActionCreateAndSearch:
		if err := f.store.Upsert(ctx, cn, models.CaseUpdate{Status: models.StatusQueued}); err != nil {
			logCtx.Error("Failed to create case record.", "error", err)
			return caseResult{record: failedResult(cn, nil, fmt.Sprintf("failed to create case record: %v", err))}
		}
		return caseResult{record: models.CaseRecord{CaseNumber: cn, Status: models.StatusQueued}, needsSearch: true}

	case ActionRefreshAndRetrieve:
		now := f.now()
		if err := f.store.Upsert(ctx, cn, models.CaseUpdate{Status: models.StatusFound, LastUpdated: now}); err != nil {
			logCtx.Error("Failed to reset stale complete record.", "error", err)
			return caseResult{record: failedResult(cn, rec, fmt.Sprintf("failed to refresh case record: %v", err))}
		}
		if err := f.retrieval.EnqueueOne(ctx, cn, rec.CaseID, userID); err != nil {
			logCtx.Error("Failed to enqueue retrieval.", "error", err)
			return caseResult{record: failedResult(cn, rec, fmt.Sprintf("failed to queue data retrieval: %v", err))}
		}
		refreshed := *rec
		refreshed.Status = models.StatusFound
		refreshed.LastUpdated = now
		return caseResult{record: refreshed}

	case ActionRetrieve:
		if err := f.retrieval.EnqueueOne(ctx, cn, rec.CaseID, userID); err != nil {
			logCtx.Error("Failed to enqueue retrieval.", "error", err)
			return caseResult{record: failedResult(cn, rec, fmt.Sprintf("failed to queue data retrieval: %v", err))}
		}
		return caseResult{record: *rec}

	case ActionSearch:
		return caseResult{record: *rec, needsSearch: true}
	}
	return caseResult{record: failedResult(cn, rec, "unhandled case action "+action.String())}
}

// markEnqueueFailures turns the cases a failed batch enqueue did not accept
// into failed entries. Nothing is persisted; the next request retries them.
func (f *CaseRequestFunction) markEnqueueFailures(logCtx *slog.Logger, out map[string]models.CaseRecord, existing map[string]*models.CaseRecord, batch []string, err error) {
	causes := make(map[string]error, len(batch))
	var ee *models.EnqueueError
	if errors.As(err, &ee) {
		for _, cn := range batch {
			if cause, ok := ee.Failed[cn]; ok {
				causes[cn] = cause
			}
		}
	} else {
		for _, cn := range batch {
			causes[cn] = err
		}
	}
	logCtx.Error("Failed to enqueue search batch.", "error", err, "failed", len(causes), "batch", len(batch))
	for cn, cause := range causes {
		out[cn] = failedResult(cn, existing[cn], fmt.Sprintf("failed to queue search: %v", cause))
	}
}

func failedResult(cn string, rec *models.CaseRecord, msg string) models.CaseRecord {
	r := models.CaseRecord{CaseNumber: cn, Status: models.StatusFailed, StatusMessage: msg}
	if rec != nil {
		r.CaseID = rec.CaseID
		r.LastUpdated = rec.LastUpdated
	}
	return r
}
