package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/caselookupflow/internal/casenum"
	"github.com/Lllllllleong/caselookupflow/internal/gcp"
	"github.com/Lllllllleong/caselookupflow/internal/models"
	"github.com/Lllllllleong/caselookupflow/internal/services"
)

// caseRequester is the business logic behind the handler.
type caseRequester interface {
	Process(ctx context.Context, userID string, caseNumbers []string, userAgent string) (map[string]models.CaseRecord, error)
}

var (
	requestInstance caseRequester
	once            sync.Once
	initErr         error

	newRequester = func(ctx context.Context) (caseRequester, error) {
		f, err := services.NewCaseRequest(ctx)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
)

func init() {
	slog.SetDefault(gcp.NewCloudLogger(os.Stdout, slog.LevelInfo))

	// "HandleCaseRequest" is the entry point name configured in GCP.
	functions.HTTP("HandleCaseRequest", handleCaseRequest)
}

// main is required by the Go Functions Framework.
func main() {}

// handleCaseRequest accepts {userId, caseNumbers, userAgent?} and returns the
// best-known state of every parsed case number.
func handleCaseRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	once.Do(func() {
		requestInstance, initErr = newRequester(context.Background())
	})
	if initErr != nil {
		slog.Error("CRITICAL: Case request initialization failed.", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.CaseLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body.", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Rejected case lookup request.", "error", err)
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = r.UserAgent()
	}

	cases, err := requestInstance.Process(r.Context(), req.UserID, casenum.Parse(req.CaseNumbers), userAgent)
	if err != nil {
		slog.Error("Case request failed.", "userId", req.UserID, "error", err)
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(models.CaseLookupResponse{Cases: cases}); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}
