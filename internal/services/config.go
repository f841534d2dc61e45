package services

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	executions "cloud.google.com/go/workflows/executions/apiv1"

	"github.com/Lllllllleong/caselookupflow/internal/gcp"
	"github.com/Lllllllleong/caselookupflow/internal/portal"
	"github.com/Lllllllleong/caselookupflow/internal/queue"
	"github.com/Lllllllleong/caselookupflow/internal/store"
)

// SummarySchemaVersion is the date of the current summary shape. Complete
// records updated before it carry an older, incompatible summary.
const SummarySchemaVersion = "2025-01-15"

// Retrieval enqueues on the synchronous request path get a small retry budget.
const (
	requestRetrievalRetries    = 1
	requestRetrievalMaxElapsed = 2 * time.Second
)

// ProcessingTimeout is how long a processing record is assumed to belong to
// a live attempt before it is treated as abandoned.
const ProcessingTimeout = 5 * time.Minute

// Config holds the environment-derived settings shared by both functions.
type Config struct {
	ProjectID           string
	DatabaseID          string
	CaseCollection      string
	UsersCollection     string
	SearchTopicID       string
	RetrievalWorkflowID string
	WorkflowLocation    string
	PortalBaseURL       string
	PortalUserAgent     string
	PortalTimeout       time.Duration
	PortalMaxRedirects  int
	SummaryCutoff       time.Time
	DebugPagesBucket    string
}

// loadConfig loads and validates the environment variables common to both functions.
func loadConfig() (*Config, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	cutoff, err := parseCutoff(gcp.GetEnv("SUMMARY_SCHEMA_CUTOFF", SummarySchemaVersion))
	if err != nil {
		return nil, err
	}

	return &Config{
		ProjectID:           projectID,
		DatabaseID:          gcp.GetEnv("FIRESTORE_DATABASE", ""),
		CaseCollection:      gcp.GetEnv("FIRESTORE_COLLECTION", "cases"),
		UsersCollection:     gcp.GetEnv("USERS_COLLECTION", "portalUsers"),
		SearchTopicID:       gcp.GetEnv("SEARCH_TOPIC_ID", ""),
		RetrievalWorkflowID: gcp.GetEnv("RETRIEVAL_WORKFLOW_ID", "case-data-retrieval"),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		PortalBaseURL:       gcp.GetEnv("PORTAL_BASE_URL", ""),
		PortalUserAgent:     gcp.GetEnv("PORTAL_USER_AGENT", portal.DefaultUserAgent),
		PortalTimeout:       time.Duration(gcp.GetEnvInt("PORTAL_TIMEOUT_SECONDS", 30)) * time.Second,
		PortalMaxRedirects:  gcp.GetEnvInt("PORTAL_MAX_REDIRECTS", 5),
		SummaryCutoff:       cutoff,
		DebugPagesBucket:    gcp.GetEnv("DEBUG_PAGES_BUCKET", ""),
	}, nil
}

// parseCutoff accepts an RFC3339 timestamp or a bare YYYY-MM-DD date (UTC midnight).
func parseCutoff(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("SUMMARY_SCHEMA_CUTOFF %q is neither RFC3339 nor YYYY-MM-DD", v)
	}
	return t, nil
}

func newSessionProvider(cfg *Config, fs *firestore.Client) *portal.LoginSessionProvider {
	return portal.NewLoginSessionProvider(portal.LoginConfig{
		BaseURL:      cfg.PortalBaseURL,
		Timeout:      cfg.PortalTimeout,
		MaxRedirects: cfg.PortalMaxRedirects,
	}, store.NewFirestoreCredentials(fs, cfg.UsersCollection))
}

func newRetrievalQueue(ctx context.Context, cfg *Config) (*queue.RetrievalWorkflow, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return queue.NewRetrievalWorkflow(client, cfg.ProjectID, cfg.WorkflowLocation, cfg.RetrievalWorkflowID), nil
}
