package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/pagesearchflow/internal/models"
)

type limitedSearcher interface {
	SearchWithLimit(ctx context.Context, query string, embedding []float32, limit int) (*models.SearchResponse, error)
}

// SearchFunction answers page-search requests.
type SearchFunction struct {
	embedder     Embedder
	index        limitedSearcher
	defaultLimit int
	logger       *slog.Logger
}

// NewSearchFunction builds the search function from environment configuration.
func NewSearchFunction(ctx context.Context) (*SearchFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	rt, err := NewRuntime(ctx, config, slog.Default())
	if err != nil {
		return nil, err
	}
	return newSearchFunction(rt.Embedder, rt.Index, config.SearchLimit, slog.Default()), nil
}

func newSearchFunction(embedder Embedder, index limitedSearcher, defaultLimit int, logger *slog.Logger) *SearchFunction {
	return &SearchFunction{
		embedder:     embedder,
		index:        index,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// Process embeds the query text and returns the nearest pages.
func (f *SearchFunction) Process(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	limit := req.Limit
	if limit <= 0 {
		limit = f.defaultLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	logCtx := f.logger.With("query", query, "limit", limit)

	embeddings, err := f.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		logCtx.Error("Failed to embed query", "error", err)
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embeddings) != 1 {
		err := fmt.Errorf("embed query: got %d embeddings for one query", len(embeddings))
		logCtx.Error("Failed to embed query", "error", err)
		return nil, err
	}

	resp, err := f.index.SearchWithLimit(ctx, query, embeddings[0], limit)
	if err != nil {
		logCtx.Error("Search failed", "error", err)
		return nil, err
	}
	logCtx.Info("Search complete.", "hits", len(resp.Hits))
	return resp, nil
}
