package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("Found").Valid())
	assert.False(t, Status("").Valid())
}

func TestCaseRecordJSONOmitsZeroTimestamp(t *testing.T) {
	data, err := json.Marshal(CaseRecord{CaseNumber: "12CR000123", Status: StatusQueued})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "lastUpdated")

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err = json.Marshal(CaseRecord{CaseNumber: "12CR000123", Status: StatusFound, LastUpdated: ts})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"lastUpdated":"2025-03-01T12:00:00Z"`)
}

func TestSummaryUpToDate(t *testing.T) {
	cutoff := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	summary := &CaseSummary{SchemaVersion: "2025-01-15"}

	var nilRec *CaseRecord
	assert.False(t, nilRec.SummaryUpToDate(cutoff))
	assert.False(t, (&CaseRecord{LastUpdated: cutoff.Add(time.Hour)}).SummaryUpToDate(cutoff), "no summary")
	assert.False(t, (&CaseRecord{Summary: summary}).SummaryUpToDate(cutoff), "no timestamp")
	assert.False(t, (&CaseRecord{Summary: summary, LastUpdated: cutoff.Add(-time.Second)}).SummaryUpToDate(cutoff))
	assert.True(t, (&CaseRecord{Summary: summary, LastUpdated: cutoff}).SummaryUpToDate(cutoff))
}

func TestPrecondition(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &CaseRecord{Status: StatusQueued, LastUpdated: ts}

	absent := PreconditionFor(nil)
	assert.True(t, absent.Matches(nil))
	assert.False(t, absent.Matches(rec))

	p := PreconditionFor(rec)
	assert.True(t, p.Matches(rec))
	assert.True(t, p.Matches(&CaseRecord{Status: StatusQueued, LastUpdated: ts.In(time.FixedZone("x", 3600))}))
	assert.False(t, p.Matches(nil))
	assert.False(t, p.Matches(&CaseRecord{Status: StatusProcessing, LastUpdated: ts}))
	assert.False(t, p.Matches(&CaseRecord{Status: StatusQueued, LastUpdated: ts.Add(time.Millisecond)}))
}

func TestCaseLookupRequestValidate(t *testing.T) {
	assert.NoError(t, (&CaseLookupRequest{UserID: "user-1", CaseNumbers: "12CR000123"}).Validate())
	assert.Error(t, (&CaseLookupRequest{CaseNumbers: "12CR000123"}).Validate())
	assert.Error(t, (&CaseLookupRequest{UserID: strings.Repeat("u", 129)}).Validate())
}

func TestEnqueueError(t *testing.T) {
	cause := errors.New("publish timeout")
	err := &EnqueueError{Failed: map[string]error{"B": cause, "A": cause}}

	assert.Equal(t, "failed to enqueue 2 case(s): [A B]", err.Error())
	require.ErrorIs(t, err, cause)
}
