package api

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/collection"
	"github.com/starford/linkgraph/internal/graphservice"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/models"
)

// ObservationRequest is the request body for recording an observation.
type ObservationRequest struct {
	URL    string   `json:"url" example:"https://example.com/a"`
	Date   string   `json:"date" example:"2020-01-10"`
	Names  []string `json:"names,omitempty"`
	Labels []string `json:"labels,omitempty"`
	Links  []string `json:"links,omitempty" example:"https://example.com/b"`
}

// Observation converts the request into a domain observation. Relative links
// resolve against the page URL. Errors wrap apperr.ErrInvalidObservation.
func (r *ObservationRequest) Observation() (models.Observation, error) {
	page, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil {
		return models.Observation{}, fmt.Errorf("%w: url: %w", apperr.ErrInvalidObservation, err)
	}
	page.Fragment = ""
	date, err := collection.ParseDate(strings.TrimSpace(r.Date))
	if err != nil {
		return models.Observation{}, fmt.Errorf("%w: %w", apperr.ErrInvalidObservation, err)
	}
	obs := models.Observation{
		URL:    page,
		Date:   date,
		Names:  r.Names,
		Labels: r.Labels,
	}
	for _, raw := range r.Links {
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return models.Observation{}, fmt.Errorf("%w: link %q: %w", apperr.ErrInvalidObservation, raw, err)
		}
		target := page.ResolveReference(ref)
		target.Fragment = ""
		obs.Links = append(obs.Links, target)
	}
	return obs, nil
}

// EntityView is the entity response type (aliased from the domain layer).
type EntityView = graphservice.EntityView

// EntityListResponse wraps paginated entity listings.
type EntityListResponse struct {
	Entities []EntityView `json:"entities"`
	Total    int          `json:"total" example:"42"`
}

// IngestResponse is returned after recording an observation.
type IngestResponse = graphservice.IngestResult

// GraphResponse wraps the link graph.
type GraphResponse = graphservice.Graph

// StatsResponse reports collection size and the last persisted snapshot.
type StatsResponse struct {
	graphservice.Stats
	Snapshot *index.SnapshotInfo `json:"snapshot,omitempty"`
}

// SourceListResponse lists snapshot files in the source directory.
type SourceListResponse struct {
	Sources []models.SourceMetadata `json:"sources"`
}
