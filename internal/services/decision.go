package services

import (
	"time"

	"github.com/Lllllllleong/caselookupflow/internal/models"
)

// Action is what the request path does for one requested case number.
type Action int

const (
	// ActionNone returns the record as-is.
	ActionNone Action = iota
	// ActionCreateAndSearch creates a queued record and enqueues a search.
	ActionCreateAndSearch
	// ActionSearch enqueues a search, leaving the stored status alone.
	ActionSearch
	// ActionRetrieve enqueues data retrieval, leaving the stored status alone.
	ActionRetrieve
	// ActionRefreshAndRetrieve rewrites a stale complete record to found and
	// enqueues data retrieval.
	ActionRefreshAndRetrieve
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionCreateAndSearch:
		return "createAndSearch"
	case ActionSearch:
		return "search"
	case ActionRetrieve:
		return "retrieve"
	case ActionRefreshAndRetrieve:
		return "refreshAndRetrieve"
	}
	return "unknown"
}

// Decide maps a stored record (nil when absent) to the request-path action.
// Summaries written before cutoff are stale.
func Decide(rec *models.CaseRecord, cutoff time.Time) Action {
	if rec == nil {
		return ActionCreateAndSearch
	}
	switch rec.Status {
	case models.StatusComplete:
		if !rec.HasCaseID() {
			return ActionSearch
		}
		if rec.SummaryUpToDate(cutoff) {
			return ActionNone
		}
		return ActionRefreshAndRetrieve
	case models.StatusFound, models.StatusReprocessing:
		if rec.HasCaseID() {
			return ActionRetrieve
		}
		return ActionSearch
	case models.StatusNotFound, models.StatusFailed, models.StatusQueued, models.StatusProcessing:
		return ActionSearch
	}
	// Unknown status strings are searched again.
	return ActionSearch
}

// entryDecision is the worker's re-validation result for a delivered message.
type entryDecision int

const (
	entryProceed entryDecision = iota
	entryAlreadyResolved
	entryInFlight
)

// revalidate decides whether a search-queue delivery should do any work.
// A processing record younger than timeout belongs to another attempt.
func revalidate(rec *models.CaseRecord, now time.Time, timeout time.Duration) entryDecision {
	if rec == nil {
		return entryProceed
	}
	switch rec.Status {
	case models.StatusFound, models.StatusComplete:
		if rec.HasCaseID() {
			return entryAlreadyResolved
		}
	case models.StatusProcessing:
		if !rec.LastUpdated.IsZero() && now.Sub(rec.LastUpdated) < timeout {
			return entryInFlight
		}
	}
	return entryProceed
}
