package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/pagesearchflow/internal/models"
	"github.com/Lllllllleong/pagesearchflow/internal/services"
)

var (
	searchInstance *services.SearchFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleSearch" is the entry point name configured in GCP.
	functions.HTTP("HandleSearch", handleSearch)
}

// main is required by the Go Functions Framework.
func main() {}

// handleSearch is the HTTP handler for the page search service.
func handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	once.Do(func() {
		searchInstance, initErr = services.NewSearchFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: SearchFunction initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := searchInstance.Process(r.Context(), &req)
	if errors.Is(err, services.ErrEmptyQuery) {
		http.Error(w, "Bad Request: query must not be empty", http.StatusBadRequest)
		return
	}
	if err != nil {
		// The specific error is already logged inside the Process method.
		http.Error(w, "Internal Server Error: search failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "query", req.Query)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
