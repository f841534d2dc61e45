package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/caselookupflow/internal/models"
	"github.com/Lllllllleong/caselookupflow/internal/portal"
)

// CaseStore is the durable case-number -> record mapping.
type CaseStore interface {
	ReadMany(ctx context.Context, caseNumbers []string) (map[string]*models.CaseRecord, error)
	ReadOne(ctx context.Context, caseNumber string) (*models.CaseRecord, error)
	Upsert(ctx context.Context, caseNumber string, u models.CaseUpdate) error
	UpsertIf(ctx context.Context, caseNumber string, expect models.Precondition, u models.CaseUpdate) error
}

// SessionProvider returns an authenticated portal session for a user.
// Invalidate forgets a session the portal has already ended.
type SessionProvider interface {
	GetOrCreateSession(ctx context.Context, userID, userAgent string) (*portal.Session, error)
	Invalidate(userID string)
}

// CaseSearcher resolves a case number to the portal's case identifier.
type CaseSearcher interface {
	Search(ctx context.Context, caseNumber string, session *portal.Session, userAgent string) (string, error)
}

// SearchQueue enqueues "find this case" work.
type SearchQueue interface {
	EnqueueMany(ctx context.Context, caseNumbers []string, userID, userAgent string) error
}

// Acknowledger deletes a handled search-queue message.
type Acknowledger interface {
	Acknowledge(ctx context.Context, receiptHandle string) error
}

// RetrievalQueue enqueues "fetch full details" work for a case with a known id.
type RetrievalQueue interface {
	EnqueueOne(ctx context.Context, caseNumber, caseID, userID string) error
}

// UserAgentProvider picks the user agent presented to the portal.
type UserAgentProvider interface {
	Get(hint string) string
}

// AttemptObserver is told about every search attempt. It is a diagnostic
// hook only and must never be used to decide whether to process a case.
type AttemptObserver interface {
	Observe(ctx context.Context, caseNumber string, at time.Time) bool
}
