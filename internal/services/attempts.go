package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecentAttempts remembers when each case number was last searched by this
// process and warns on suspiciously close repeats. It sees only its own
// instance, so it is a diagnostic and provides no mutual exclusion.
type RecentAttempts struct {
	warnWithin time.Duration
	retention  time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	seen      map[string]time.Time
	lastPrune time.Time
}

// NewRecentAttempts warns when the same case is attempted within warnWithin.
// Entries older than five minutes are pruned.
func NewRecentAttempts(warnWithin time.Duration, logger *slog.Logger) *RecentAttempts {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecentAttempts{
		warnWithin: warnWithin,
		retention:  5 * time.Minute,
		logger:     logger,
		seen:       make(map[string]time.Time),
	}
}

// Observe records an attempt and reports whether it repeats a recent one.
func (r *RecentAttempts) Observe(ctx context.Context, caseNumber string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if at.Sub(r.lastPrune) >= time.Minute {
		r.prune(at)
	}

	prev, ok := r.seen[caseNumber]
	r.seen[caseNumber] = at
	if !ok {
		return false
	}
	gap := at.Sub(prev)
	if gap < 0 || gap >= r.warnWithin {
		return false
	}
	r.logger.WarnContext(ctx, "Repeat search attempt observed for case.",
		"caseNumber", caseNumber, "sincePrevious", gap.String())
	return true
}

func (r *RecentAttempts) prune(now time.Time) {
	for cn, t := range r.seen {
		if now.Sub(t) > r.retention {
			delete(r.seen, cn)
		}
	}
	r.lastPrune = now
}

// Len returns the number of remembered case numbers.
func (r *RecentAttempts) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
