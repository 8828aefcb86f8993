package services

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/clafollett/codetriever/internal/apierr"
	"github.com/clafollett/codetriever/internal/domain"
	"github.com/clafollett/codetriever/internal/engine"
)

// Search limit bounds applied when the caller omits or exceeds them.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// SearchService executes semantic code searches against the retrieval
// engine. It owns query normalization so that equivalent queries hit the
// engine in one canonical form. Safe for concurrent use.
type SearchService struct {
	Gateway EngineGateway
}

// Search runs a query and returns ranked matches.
//
// The query is NFC-normalized and whitespace-collapsed before it reaches the
// engine. Limits outside [1, MaxSearchLimit] are clamped; zero means the
// default. An empty post-normalization query is rejected even if the handler
// let it through.
func (s *SearchService) Search(ctx context.Context, query, repository string, limit int) ([]domain.SearchResult, error) {
	query = normalizeQuery(query)
	if query == "" {
		return nil, apierr.Invalid([]apierr.Violation{{
			Field: "query", Rule: "required", Message: "query must not be empty",
		}})
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	matches, err := s.Gateway.Search(ctx, engine.SearchRequest{
		Query:      query,
		Repository: strings.TrimSpace(repository),
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, domain.SearchResult{
			Repository: m.Repository,
			Path:       m.Path,
			Language:   m.Language,
			StartLine:  m.StartLine,
			EndLine:    m.EndLine,
			Snippet:    m.Snippet,
			Score:      m.Score,
		})
	}
	return results, nil
}

// normalizeQuery canonicalizes a search query: Unicode NFC, interior
// whitespace runs collapsed to single spaces, outer whitespace trimmed.
func normalizeQuery(q string) string {
	q = norm.NFC.String(q)
	return strings.Join(strings.Fields(q), " ")
}
