// Package graphservice serializes access to the link-graph collection and
// turns observations into merges and edges.
package graphservice

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/collection"
	"github.com/starford/linkgraph/internal/models"
)

// Event kinds emitted after a successful Ingest.
const (
	EventEntityCreated = "entity.created"
	EventEntityMerged  = "entity.merged"
	EventEdgeAdded     = "edge.added"
)

// Event describes one change to the collection.
type Event struct {
	Kind   string `json:"kind"`
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Target *int   `json:"target,omitempty"`
}

// EventCallback is invoked after the collection lock has been released.
type EventCallback func(Event)

// IngestResult summarises one Ingest call.
type IngestResult struct {
	ID           int  `json:"id"`
	Created      bool `json:"created"`
	EdgesAdded   int  `json:"edges_added"`
	SkippedLinks int  `json:"skipped_links"`
}

// Stats reports collection size.
type Stats struct {
	Entities int `json:"entities"`
	Edges    int `json:"edges"`
}

// Service owns the single Collection. Every method takes the mutex for its
// whole duration, so identity resolution and mutation inside Ingest are
// atomic with respect to other callers.
type Service struct {
	mu   sync.Mutex
	coll *collection.Collection

	createLinkTargets bool
	onEvent           EventCallback
	logger            *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCreateLinkTargets controls whether links to unknown URLs create a stub
// entity observed on the same date (true) or are skipped (false).
func WithCreateLinkTargets(enabled bool) Option {
	return func(s *Service) {
		s.createLinkTargets = enabled
	}
}

// WithEventCallback registers cb for collection change events.
func WithEventCallback(cb EventCallback) Option {
	return func(s *Service) {
		s.onEvent = cb
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a service around an empty collection.
func New(opts ...Option) *Service {
	s := &Service{
		coll:              collection.New(),
		createLinkTargets: true,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEventCallback replaces the event callback. Used when the consumer is
// built after the service (e.g. the SSE broker).
func (s *Service) SetEventCallback(cb EventCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = cb
}

// Ingest folds one observation into the collection: the page is merged by
// URL, every link target is resolved to an ID and a directed edge recorded.
func (s *Service) Ingest(ctx context.Context, obs models.Observation) (IngestResult, error) {
	start := time.Now()
	if err := obs.Validate(); err != nil {
		recordIngest(ctx, time.Since(start), 0, 0, 0, false)
		return IngestResult{}, err
	}

	ctx, span := startIngestSpan(ctx, obs.URL.String(), len(obs.Links))
	defer span.End()

	s.mu.Lock()
	var events []Event
	res := IngestResult{}

	res.Created = !s.coll.Contains(obs.URL)
	id := s.coll.Merge(obs.Entity())
	res.ID = id.Int()
	created, merged := 0, 0
	if res.Created {
		created++
		events = append(events, Event{Kind: EventEntityCreated, ID: id.Int(), URL: obs.URL.String()})
	} else {
		merged++
		events = append(events, Event{Kind: EventEntityMerged, ID: id.Int(), URL: obs.URL.String()})
	}

	for _, link := range obs.Links {
		target, ok := s.coll.ID(link)
		if !ok {
			if !s.createLinkTargets {
				res.SkippedLinks++
				continue
			}
			target = s.coll.Merge(collection.NewEntity(link, obs.Date, nil, nil))
			created++
			events = append(events, Event{Kind: EventEntityCreated, ID: target.Int(), URL: link.String()})
		}
		if s.coll.AddEdge(id, target) {
			res.EdgesAdded++
			t := target.Int()
			events = append(events, Event{Kind: EventEdgeAdded, ID: id.Int(), URL: obs.URL.String(), Target: &t})
		}
	}
	cb := s.onEvent
	s.mu.Unlock()

	recordIngest(ctx, time.Since(start), created, merged, res.EdgesAdded, true)
	s.logger.Debug("ingest: observation folded",
		slog.String("url", obs.URL.String()),
		slog.Int("id", res.ID),
		slog.Bool("created", res.Created),
		slog.Int("edges_added", res.EdgesAdded),
		slog.Int("skipped_links", res.SkippedLinks))

	if cb != nil {
		for _, ev := range events {
			cb(ev)
		}
	}
	return res, nil
}

// Lookup returns the entity stored for u.
func (s *Service) Lookup(_ context.Context, u *url.URL) (*EntityView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.coll.ID(u)
	if !ok {
		return nil, fmt.Errorf("graphservice: lookup %s: %w", u, apperr.ErrNotFound)
	}
	v := s.view(id, true)
	return &v, nil
}

// Get returns the entity with the given numeric id. Out-of-range values,
// which may come from untrusted input, yield apperr.ErrNotFound.
func (s *Service) Get(_ context.Context, n int) (*EntityView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.coll.IDAt(n)
	if !ok {
		return nil, fmt.Errorf("graphservice: get %d: %w", n, apperr.ErrNotFound)
	}
	v := s.view(id, true)
	return &v, nil
}

// List returns a page of entities in ID order and the total count.
func (s *Service) List(_ context.Context, limit, offset int) ([]EntityView, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.coll.Len()
	if limit <= 0 {
		limit = 50
	}
	offset = max(offset, 0)
	out := make([]EntityView, 0, min(limit, max(total-offset, 0)))
	for n := offset; n < total && len(out) < limit; n++ {
		id, _ := s.coll.IDAt(n)
		out = append(out, s.view(id, false))
	}
	return out, total
}

// Graph returns every node and edge.
func (s *Service) Graph(_ context.Context) Graph {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := Graph{
		Nodes: make([]GraphNode, 0, s.coll.Len()),
		Links: make([]GraphLink, 0, s.coll.EdgeCount()),
	}
	for id, e := range s.coll.All() {
		g.Nodes = append(g.Nodes, GraphNode{ID: id.Int(), URL: e.URL().String(), Title: primaryName(e)})
		for _, target := range s.coll.Edges(id) {
			g.Links = append(g.Links, GraphLink{Source: id.Int(), Target: target.Int()})
		}
	}
	return g
}

// Stats returns the current collection size.
func (s *Service) Stats(_ context.Context) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Entities: s.coll.Len(), Edges: s.coll.EdgeCount()}
}

// Snapshot returns an immutable copy of the whole collection, in ID order.
func (s *Service) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{Entities: make([]EntityView, 0, s.coll.Len())}
	for id := range s.coll.All() {
		snap.Entities = append(snap.Entities, s.view(id, false))
	}
	return snap
}

// Restore replaces the collection with one rebuilt from snap. IDs are
// preserved: snap.Entities[i] must carry ID i. The current collection is left
// untouched if snap is inconsistent.
func (s *Service) Restore(snap *Snapshot) error {
	coll, err := rebuild(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coll = coll
	return nil
}

func rebuild(snap *Snapshot) (*collection.Collection, error) {
	coll := collection.New()
	for i, ev := range snap.Entities {
		if ev.ID != i {
			return nil, fmt.Errorf("graphservice: restore: entity at position %d has id %d", i, ev.ID)
		}
		u, err := url.Parse(ev.URL)
		if err != nil {
			return nil, fmt.Errorf("graphservice: restore: entity %d: %w", i, err)
		}
		e := collection.NewEntity(u, ev.CreatedAt, collection.Names(ev.Names...), collection.Labels(ev.Labels...))
		for _, d := range ev.UpdatedAt {
			e.Update(d, nil, nil)
		}
		if _, err := coll.Add(e); err != nil {
			return nil, fmt.Errorf("graphservice: restore: entity %d: %w", i, err)
		}
	}
	for _, ev := range snap.Entities {
		from, _ := coll.IDAt(ev.ID)
		for _, n := range ev.Links {
			to, ok := coll.IDAt(n)
			if !ok {
				return nil, fmt.Errorf("graphservice: restore: entity %d links to unknown id %d", ev.ID, n)
			}
			coll.AddEdge(from, to)
		}
	}
	return coll, nil
}

// view must be called with s.mu held.
func (s *Service) view(id collection.ID, withBacklinks bool) EntityView {
	e := s.coll.Entity(id)
	v := EntityView{
		ID:        id.Int(),
		URL:       e.URL().String(),
		CreatedAt: e.CreatedAt(),
		UpdatedAt: sortedDates(e.UpdatedAt()),
		Names:     sortedStrings(e.Names()),
		Labels:    sortedStrings(e.Labels()),
		Links:     ints(s.coll.Edges(id)),
	}
	if withBacklinks {
		v.Backlinks = ints(s.coll.Backlinks(id))
	}
	return v
}

func primaryName(e *collection.Entity) string {
	names := sortedStrings(e.Names())
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func sortedDates(set collection.Set[collection.Date]) []collection.Date {
	out := set.Items()
	slices.SortFunc(out, collection.Date.Compare)
	return out
}

func sortedStrings[T interface {
	comparable
	fmt.Stringer
}](set collection.Set[T]) []string {
	out := make([]string, 0, set.Len())
	for v := range set.All() {
		out = append(out, v.String())
	}
	slices.SortFunc(out, cmp.Compare[string])
	return out
}

func ints(ids []collection.ID) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = id.Int()
	}
	return out
}
