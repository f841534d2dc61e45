package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lllllllleong/caselookupflow/internal/alert"
	"github.com/Lllllllleong/caselookupflow/internal/gcp"
	"github.com/Lllllllleong/caselookupflow/internal/models"
	"github.com/Lllllllleong/caselookupflow/internal/portal"
	"github.com/Lllllllleong/caselookupflow/internal/store"
)

// Outcome is how a single search-queue delivery was resolved.
type Outcome string

const (
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeConflict      Outcome = "conflict"
	OutcomeSessionFailed Outcome = "sessionFailed"
	OutcomeSearchFailed  Outcome = "searchFailed"
	OutcomeNotFound      Outcome = "notFound"
	OutcomeFound         Outcome = "found"
	OutcomeFailed        Outcome = "failed"
)

// Alert categories.
const (
	categorySession   = "portal-session"
	categorySearch    = "portal-search"
	categoryRetrieval = "retrieval-enqueue"
	categoryUnhandled = "case-search-unhandled"
)

// CaseSearchFunction handles one search-queue message: it re-validates the
// stored status, searches the portal and records the result.
type CaseSearchFunction struct {
	store             CaseStore
	sessions          SessionProvider
	searcher          CaseSearcher
	retrieval         RetrievalQueue
	alerts            alert.Sink
	userAgents        UserAgentProvider
	attempts          AttemptObserver
	tracer            trace.Tracer
	now               func() time.Time
	processingTimeout time.Duration
}

// NewCaseSearch creates a CaseSearchFunction from the environment.
func NewCaseSearch(ctx context.Context) (*CaseSearchFunction, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.DatabaseID)
	if err != nil {
		return nil, err
	}
	retrieval, err := newRetrievalQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var archiver portal.PageArchiver
	if cfg.DebugPagesBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		archiver = gcp.NewBucketArchiver(storageClient, cfg.DebugPagesBucket)
	}

	tracer := otel.Tracer("github.com/Lllllllleong/caselookupflow/internal/services")
	searcher := portal.NewSearchClient(portal.SearchConfig{
		BaseURL:      cfg.PortalBaseURL,
		Timeout:      cfg.PortalTimeout,
		MaxRedirects: cfg.PortalMaxRedirects,
	}, archiver, nil)

	f := &CaseSearchFunction{
		store:             store.NewFirestoreStore(firestoreClient, cfg.CaseCollection),
		sessions:          newSessionProvider(cfg, firestoreClient),
		searcher:          searcher,
		retrieval:         retrieval,
		alerts:            alert.NewSlogSink(nil),
		userAgents:        portal.UserAgents{System: cfg.PortalUserAgent},
		attempts:          NewRecentAttempts(time.Minute, nil),
		tracer:            tracer,
		now:               time.Now,
		processingTimeout: ProcessingTimeout,
	}
	slog.Info("Case search logic initialized.", "collection", cfg.CaseCollection, "archiving", archiver != nil)
	return f, nil
}

// Process resolves one delivery. The message is acknowledged on every path
// except OutcomeSkipped, where a live attempt already owns the case.
func (f *CaseSearchFunction) Process(ctx context.Context, msg models.SearchMessage, receiptHandle string, ack Acknowledger) (outcome Outcome) {
	logCtx := slog.With("caseNumber", msg.CaseNumber, "userId", msg.UserID, "receipt", receiptHandle)
	ctx, span := f.tracer.Start(ctx, "caseSearch.Process", trace.WithAttributes(
		attribute.String("case.number", msg.CaseNumber),
		attribute.String("user.id", msg.UserID),
	))
	defer func() {
		span.SetAttributes(attribute.String("case.outcome", string(outcome)))
		span.End()
	}()

	defer func() {
		if r := recover(); r != nil {
			outcome = f.handleUnexpected(ctx, logCtx, msg, receiptHandle, ack, fmt.Errorf("panic: %v", r))
		}
	}()

	outcome, err := f.process(ctx, logCtx, msg, receiptHandle, ack)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return f.handleUnexpected(ctx, logCtx, msg, receiptHandle, ack, err)
	}
	logCtx.Info("Case search delivery resolved.", "outcome", string(outcome))
	return outcome
}

func (f *CaseSearchFunction) process(ctx context.Context, logCtx *slog.Logger, msg models.SearchMessage, receiptHandle string, ack Acknowledger) (Outcome, error) {
	cn := msg.CaseNumber
	rec, err := f.store.ReadOne(ctx, cn)
	if err != nil {
		return "", fmt.Errorf("failed to read case record: %w", err)
	}

	now := f.now()
	switch revalidate(rec, now, f.processingTimeout) {
	case entryAlreadyResolved:
		logCtx.Info("Case already resolved; acknowledging duplicate delivery.", "status", string(rec.Status), "caseId", rec.CaseID)
		f.acknowledge(ctx, logCtx, ack, receiptHandle)
		return OutcomeDuplicate, nil
	case entryInFlight:
		logCtx.Info("Case is being processed by another attempt; leaving message for redelivery.",
			"since", now.Sub(rec.LastUpdated).String())
		return OutcomeSkipped, nil
	}
	if rec != nil && rec.Status == models.StatusProcessing {
		logCtx.Warn("Reclaiming abandoned processing attempt.", "since", now.Sub(rec.LastUpdated).String())
	}

	err = f.store.UpsertIf(ctx, cn, models.PreconditionFor(rec), models.CaseUpdate{
		Status:      models.StatusProcessing,
		LastUpdated: now,
	})
	if errors.Is(err, models.ErrPreconditionFailed) {
		logCtx.Info("Case record changed before it could be claimed; another worker owns it.")
		f.acknowledge(ctx, logCtx, ack, receiptHandle)
		return OutcomeConflict, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to mark case processing: %w", err)
	}
	if f.attempts != nil {
		f.attempts.Observe(ctx, cn, now)
	}

	userAgent := f.userAgents.Get(msg.UserAgent)
	session, err := f.sessions.GetOrCreateSession(ctx, msg.UserID, userAgent)
	if err != nil {
		sev := alert.SeverityCritical
		if portal.IsInvalidCredentials(err.Error()) {
			sev = alert.SeverityError
		}
		f.alerts.Report(ctx, sev, categorySession, err, "caseNumber", cn, "userId", msg.UserID)
		if werr := f.persist(ctx, cn, models.CaseUpdate{Status: models.StatusFailed, StatusMessage: err.Error()}); werr != nil {
			return "", werr
		}
		f.acknowledge(ctx, logCtx, ack, receiptHandle)
		return OutcomeSessionFailed, nil
	}

	caseID, err := f.searcher.Search(ctx, cn, session, userAgent)
	if err != nil {
		if portal.IsNotFound(err) {
			if err := f.persist(ctx, cn, models.CaseUpdate{Status: models.StatusNotFound}); err != nil {
				return "", err
			}
			f.acknowledge(ctx, logCtx, ack, receiptHandle)
			return OutcomeNotFound, nil
		}
		if portal.IsSessionExpired(err) {
			logCtx.Warn("Portal session expired mid-search; dropping cached session.")
			f.sessions.Invalidate(msg.UserID)
		}
		sev := alert.SeverityError
		attrs := []any{"caseNumber", cn, "userId", msg.UserID}
		var se *portal.SearchError
		if errors.As(err, &se) {
			sev = se.Severity
			attrs = append(attrs, "statusCode", se.StatusCode)
			if se.ArchivedPage != "" {
				attrs = append(attrs, "archivedPage", se.ArchivedPage)
			}
		}
		f.alerts.Report(ctx, sev, categorySearch, err, attrs...)
		if werr := f.persist(ctx, cn, models.CaseUpdate{Status: models.StatusFailed, StatusMessage: err.Error()}); werr != nil {
			return "", werr
		}
		f.acknowledge(ctx, logCtx, ack, receiptHandle)
		return OutcomeSearchFailed, nil
	}

	if err := f.persist(ctx, cn, models.CaseUpdate{Status: models.StatusFound, CaseID: caseID}); err != nil {
		return "", err
	}
	f.acknowledge(ctx, logCtx, ack, receiptHandle)

	if err := f.retrieval.EnqueueOne(ctx, cn, caseID, msg.UserID); err != nil {
		// The record is found with its caseId, so the next request re-queues retrieval.
		f.alerts.Report(ctx, alert.SeverityError, categoryRetrieval, err, "caseNumber", cn, "caseId", caseID, "userId", msg.UserID)
	}
	logCtx.Info("Case found on portal.", "caseId", caseID)
	return OutcomeFound, nil
}

// persist writes a terminal search result stamped with the current time.
func (f *CaseSearchFunction) persist(ctx context.Context, caseNumber string, u models.CaseUpdate) error {
	u.LastUpdated = f.now()
	if err := f.store.Upsert(ctx, caseNumber, u); err != nil {
		return fmt.Errorf("failed to record status %s: %w", u.Status, err)
	}
	return nil
}

// acknowledge failures are logged only; the worst case is a redelivery that
// re-validation resolves.
func (f *CaseSearchFunction) acknowledge(ctx context.Context, logCtx *slog.Logger, ack Acknowledger, receiptHandle string) {
	if err := ack.Acknowledge(ctx, receiptHandle); err != nil {
		logCtx.Error("Failed to acknowledge search message.", "error", err)
	}
}

// handleUnexpected alerts, writes a best-effort failed status and
// acknowledges so the message is not redelivered forever.
func (f *CaseSearchFunction) handleUnexpected(ctx context.Context, logCtx *slog.Logger, msg models.SearchMessage, receiptHandle string, ack Acknowledger, err error) Outcome {
	f.alerts.Report(ctx, alert.SeverityError, categoryUnhandled, err,
		"caseNumber", msg.CaseNumber, "userId", msg.UserID, "receipt", receiptHandle)

	func() {
		defer func() {
			if r := recover(); r != nil {
				logCtx.Log(ctx, alert.LevelCritical, "Panic while recording failed status.", "panic", fmt.Sprint(r))
			}
		}()
		if werr := f.persist(ctx, msg.CaseNumber, models.CaseUpdate{
			Status:        models.StatusFailed,
			StatusMessage: fmt.Sprintf("Unexpected error: %v", err),
		}); werr != nil {
			logCtx.Log(ctx, alert.LevelCritical, "Failed to update case status to failed after an unexpected error.", "updateError", werr)
		}
	}()

	f.acknowledge(ctx, logCtx, ack, receiptHandle)
	return OutcomeFailed
}
