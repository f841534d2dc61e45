package models

import (
	"errors"
	"slices"
	"time"
)

// Status is the lifecycle state of a case record. The string values are
// persisted and read by the retrieval stage, so they must not change.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusProcessing   Status = "processing"
	StatusFound        Status = "found"
	StatusNotFound     Status = "notFound"
	StatusFailed       Status = "failed"
	StatusReprocessing Status = "reprocessing"
	StatusComplete     Status = "complete"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusFound,
	StatusNotFound,
	StatusFailed,
	StatusReprocessing,
	StatusComplete,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// ErrPreconditionFailed is returned by conditional store writes when the
// stored record no longer matches what the caller last read.
var ErrPreconditionFailed = errors.New("case record changed since it was read")

// CaseRecord is the Firestore document tracking one case number through the
// search and retrieval pipeline.
type CaseRecord struct {
	CaseNumber    string       `firestore:"caseNumber" json:"caseNumber"`
	CaseID        string       `firestore:"caseId,omitempty" json:"caseId,omitempty"`
	Status        Status       `firestore:"status" json:"status"`
	StatusMessage string       `firestore:"statusMessage,omitempty" json:"statusMessage,omitempty"`
	LastUpdated   time.Time    `firestore:"lastUpdated,omitempty" json:"lastUpdated,omitzero"`
	Summary       *CaseSummary `firestore:"summary,omitempty" json:"summary,omitempty"`
}

// CaseSummary is produced by the data-retrieval stage. SchemaVersion is the
// date of the summary shape that produced it.
type CaseSummary struct {
	SchemaVersion string                 `firestore:"schemaVersion" json:"schemaVersion"`
	Data          map[string]interface{} `firestore:"data,omitempty" json:"data,omitempty"`
}

// HasCaseID reports whether the portal identifier has been learned.
func (r *CaseRecord) HasCaseID() bool {
	return r != nil && r.CaseID != ""
}

// SummaryUpToDate reports whether the record carries a summary written at or
// after the schema cutoff.
func (r *CaseRecord) SummaryUpToDate(cutoff time.Time) bool {
	if r == nil || r.Summary == nil || r.LastUpdated.IsZero() {
		return false
	}
	return !r.LastUpdated.Before(cutoff)
}

// CaseUpdate is a partial write. Empty fields are left untouched by the store,
// except StatusMessage which is cleared whenever Status is not failed.
type CaseUpdate struct {
	Status        Status
	CaseID        string
	StatusMessage string
	LastUpdated   time.Time
}

// Precondition describes the stored state a conditional write expects.
// Exists=false means the document must not exist yet.
type Precondition struct {
	Exists      bool
	Status      Status
	LastUpdated time.Time
}

// PreconditionFor captures the state of rec (nil meaning absent).
func PreconditionFor(rec *CaseRecord) Precondition {
	if rec == nil {
		return Precondition{}
	}
	return Precondition{Exists: true, Status: rec.Status, LastUpdated: rec.LastUpdated}
}

// Matches reports whether rec satisfies the precondition.
func (p Precondition) Matches(rec *CaseRecord) bool {
	if rec == nil {
		return !p.Exists
	}
	return p.Exists && rec.Status == p.Status && rec.LastUpdated.Equal(p.LastUpdated)
}

// PortalCredentials are a user's portal login, stored per user id.
type PortalCredentials struct {
	Username string `firestore:"portalUsername"`
	Password string `firestore:"portalPassword"`
}
