package services

import (
	"context"
	"errors"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Lllllllleong/caselookupflow/internal/alert"
	"github.com/Lllllllleong/caselookupflow/internal/models"
	"github.com/Lllllllleong/caselookupflow/internal/portal"
)

var errStoreDown = errors.New("firestore unavailable")

// memStore is an in-memory CaseStore with the same merge rules as the
// Firestore implementation.
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.CaseRecord
	writes  []models.CaseUpdate

	readErr     error
	upsertErr   map[string]error
	failUpserts bool
	// beforeUpsertIf runs inside UpsertIf before the precondition check.
	beforeUpsertIf func()
}

func newMemStore(recs ...models.CaseRecord) *memStore {
	s := &memStore{records: make(map[string]*models.CaseRecord), upsertErr: make(map[string]error)}
	for _, r := range recs {
		r := r
		s.records[r.CaseNumber] = &r
	}
	return s
}

func (s *memStore) ReadMany(_ context.Context, caseNumbers []string) (map[string]*models.CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := make(map[string]*models.CaseRecord)
	for _, cn := range caseNumbers {
		if r, ok := s.records[cn]; ok {
			c := *r
			out[cn] = &c
		}
	}
	return out, nil
}

func (s *memStore) ReadOne(_ context.Context, caseNumber string) (*models.CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	r, ok := s.records[caseNumber]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (s *memStore) Upsert(_ context.Context, caseNumber string, u models.CaseUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpserts {
		return errStoreDown
	}
	if err := s.upsertErr[caseNumber]; err != nil {
		return err
	}
	s.apply(caseNumber, u)
	return nil
}

func (s *memStore) UpsertIf(_ context.Context, caseNumber string, expect models.Precondition, u models.CaseUpdate) error {
	if s.beforeUpsertIf != nil {
		s.beforeUpsertIf()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpserts {
		return errStoreDown
	}
	if !expect.Matches(s.records[caseNumber]) {
		return models.ErrPreconditionFailed
	}
	s.apply(caseNumber, u)
	return nil
}

func (s *memStore) apply(caseNumber string, u models.CaseUpdate) {
	s.writes = append(s.writes, u)
	r, ok := s.records[caseNumber]
	if !ok {
		r = &models.CaseRecord{CaseNumber: caseNumber}
		s.records[caseNumber] = r
	}
	r.Status = u.Status
	if u.Status == models.StatusFailed {
		r.StatusMessage = u.StatusMessage
	} else {
		r.StatusMessage = ""
	}
	if u.CaseID != "" {
		r.CaseID = u.CaseID
	}
	if !u.LastUpdated.IsZero() {
		r.LastUpdated = u.LastUpdated
	}
}

func (s *memStore) get(caseNumber string) *models.CaseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[caseNumber]
	if !ok {
		return nil
	}
	c := *r
	return &c
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// stubSessions returns a session or a fixed error.
type stubSessions struct {
	mu          sync.Mutex
	err         error
	calls       int
	invalidated []string
}

func (s *stubSessions) Invalidate(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, userID)
}

func (s *stubSessions) GetOrCreateSession(_ context.Context, userID, _ string) (*portal.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	jar, _ := cookiejar.New(nil)
	return &portal.Session{UserID: userID, Jar: jar, CreatedAt: time.Now()}, nil
}

// mockSearchQueue records batch enqueues.
type mockSearchQueue struct {
	mock.Mock
}

func (m *mockSearchQueue) EnqueueMany(ctx context.Context, caseNumbers []string, userID, userAgent string) error {
	args := m.Called(ctx, caseNumbers, userID, userAgent)
	return args.Error(0)
}

// mockRetrievalQueue records retrieval enqueues.
type mockRetrievalQueue struct {
	mock.Mock
}

func (m *mockRetrievalQueue) EnqueueOne(ctx context.Context, caseNumber, caseID, userID string) error {
	args := m.Called(ctx, caseNumber, caseID, userID)
	return args.Error(0)
}

// stubSearcher returns a fixed result or runs fn.
type stubSearcher struct {
	caseID string
	err    error
	fn     func() (string, error)
	calls  int
}

func (s *stubSearcher) Search(context.Context, string, *portal.Session, string) (string, error) {
	s.calls++
	if s.fn != nil {
		return s.fn()
	}
	return s.caseID, s.err
}

type reportedAlert struct {
	Severity alert.Severity
	Category string
	Err      error
}

// recordingSink captures alerts.
type recordingSink struct {
	mu     sync.Mutex
	alerts []reportedAlert
}

func (r *recordingSink) Report(_ context.Context, sev alert.Severity, category string, err error, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, reportedAlert{Severity: sev, Category: category, Err: err})
}

// recordingAck counts acknowledgements and remembers the order of events.
type recordingAck struct {
	err    error
	count  int
	events *[]string
}

func (a *recordingAck) Acknowledge(_ context.Context, receiptHandle string) error {
	a.count++
	if a.events != nil {
		*a.events = append(*a.events, "ack:"+receiptHandle)
	}
	return a.err
}

// fixedClock returns a settable time.
type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

var testTracer = noop.NewTracerProvider().Tracer("test")
