package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/graphservice"
	"github.com/starford/linkgraph/internal/index"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	graph   *graphservice.Service
	sources *SourceService
	ledger  index.SourceLedger
}

// NewHandler creates a new Handler. sources and ledger may be nil, in which
// case the source routes are not mounted, observations are kept in memory
// only and /stats omits the snapshot.
func NewHandler(graph *graphservice.Service, sources *SourceService, ledger index.SourceLedger) *Handler {
	return &Handler{graph: graph, sources: sources, ledger: ledger}
}

// sourcePath extracts the source path from the URL (everything after
// /sources/). Encoded slashes are accepted.
func sourcePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListEntities handles GET /api/entities.
//
//	@Summary		List entities in ID order
//	@Tags			entities
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	EntityListResponse
//	@Security		BearerAuth
//	@Router			/entities [get]
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total := h.graph.List(r.Context(), limit, offset)
	writeJSON(w, http.StatusOK, EntityListResponse{Entities: items, Total: total})
}

// GetEntity handles GET /api/entities/{id}.
//
//	@Summary		Get a single entity by numeric id
//	@Tags			entities
//	@Produce		json
//	@Param			id	path		int	true	"Entity id"
//	@Success		200	{object}	EntityView
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("id must be an integer"))
		return
	}
	e, err := h.graph.Get(r.Context(), n)
	if err != nil {
		writeError(w, "get entity", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Lookup handles GET /api/lookup?url=.
//
//	@Summary		Find the entity for a URL
//	@Tags			entities
//	@Produce		json
//	@Param			url	query		string	true	"Absolute page URL"
//	@Success		200	{object}	EntityView
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/lookup [get]
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'url' is required"))
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid url"))
		return
	}
	u.Fragment = ""
	e, err := h.graph.Lookup(r.Context(), u)
	if err != nil {
		writeError(w, "lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// RecordObservation handles POST /api/observations.
//
//	@Summary		Record one observation of a page
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ObservationRequest	true	"Observation"
//	@Success		201		{object}	IngestResponse	"page seen for the first time"
//	@Success		200		{object}	IngestResponse	"page merged"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/observations [post]
func (h *Handler) RecordObservation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	obs, err := req.Observation()
	if err != nil {
		writeError(w, "record observation", err)
		return
	}
	res, err := h.graph.Ingest(r.Context(), obs)
	if err != nil {
		writeError(w, "record observation", err)
		return
	}
	if h.ledger != nil {
		if _, err := h.ledger.Save(r.Context()); err != nil {
			writeError(w, "record observation", err)
			return
		}
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the link graph
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.graph.Graph(r.Context()))
}

// Stats handles GET /api/stats.
//
//	@Summary		Collection size and last snapshot
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Stats: h.graph.Stats(r.Context())}
	if h.ledger != nil {
		info, err := h.ledger.LatestSnapshot(r.Context())
		switch {
		case err == nil:
			resp.Snapshot = info
		case !errors.Is(err, apperr.ErrNotFound):
			slog.Warn("latest snapshot failed", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSources handles GET /api/sources.
//
//	@Summary		List snapshot files in the source directory
//	@Tags			sources
//	@Produce		json
//	@Success		200	{object}	SourceListResponse
//	@Security		BearerAuth
//	@Router			/sources [get]
func (h *Handler) ListSources(w http.ResponseWriter, _ *http.Request) {
	metas, err := h.sources.List()
	if err != nil {
		writeError(w, "list sources", err)
		return
	}
	writeJSON(w, http.StatusOK, SourceListResponse{Sources: metas})
}

// GetSource handles GET /api/sources/*.
//
//	@Summary		Download a raw snapshot file
//	@Tags			sources
//	@Produce		plain
//	@Param			path	path	string	true	"Source path"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sources/{path} [get]
func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	path := sourcePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	data, err := h.sources.Read(path)
	if err != nil {
		writeError(w, "get source", err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// PutSource handles PUT /api/sources/*. The body is the raw snapshot.
//
//	@Summary		Store and ingest a snapshot file
//	@Tags			sources
//	@Accept			plain
//	@Produce		json
//	@Param			path	path		string	true	"Source path"
//	@Success		200		{object}	IngestResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sources/{path} [put]
func (h *Handler) PutSource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	path := sourcePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	res, err := h.sources.Put(r.Context(), path, data)
	if err != nil {
		writeError(w, "put source", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteSource handles DELETE /api/sources/*.
//
//	@Summary		Delete a snapshot file; its entities stay in the graph
//	@Tags			sources
//	@Param			path	path	string	true	"Source path"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sources/{path} [delete]
func (h *Handler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	path := sourcePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.sources.Delete(r.Context(), path); err != nil {
		writeError(w, "delete source", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
