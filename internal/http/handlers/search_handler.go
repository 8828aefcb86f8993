// Search HTTP handler.
//
//   - POST /search  (semantic query over indexed code)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clafollett/codetriever/internal/apierr"
	"github.com/clafollett/codetriever/internal/domain"
	"github.com/clafollett/codetriever/internal/services"
	"github.com/clafollett/codetriever/internal/validate"
)

// SearchRequest is the JSON payload for a semantic query.
type SearchRequest struct {
	// Query is the natural-language or code fragment to search for.
	Query string `json:"query" binding:"required"`
	// Repository optionally narrows results to one indexed repository.
	Repository string `json:"repository"`
	// Limit caps the number of results; zero means the server default.
	Limit int `json:"limit"`
}

// SearchResponse is the ranked result listing.
type SearchResponse struct {
	Results []domain.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

const maxQueryRunes = 1024

// PostSearch handles POST /search.
//
// All violations in the payload are reported together; a valid query is
// forwarded to the search service, which owns normalization and limit
// clamping. Engine failures arrive as taxonomy errors and pass straight to
// the formatter.
func (h *Handlers) PostSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apierr.Invalid(validate.Binding(err)))
		return
	}

	var v validate.Collector
	v.Required("query", req.Query)
	v.MaxRunes("query", req.Query, maxQueryRunes)
	if req.Limit < 0 {
		v.IntRange("limit", req.Limit, 0, services.MaxSearchLimit)
	}
	if err := v.Err(); err != nil {
		fail(c, err)
		return
	}

	results, err := h.searchSvc.Search(c.Request.Context(), req.Query, req.Repository, req.Limit)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, http.StatusOK, SearchResponse{Results: results, Count: len(results)})
}
