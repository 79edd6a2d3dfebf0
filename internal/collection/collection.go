// Package collection implements the deduplicated, append-only link graph of
// URL-identified entities.
//
// Nodes and adjacency lists live in parallel dense slices addressed by ID.
// A node is created once, by the first Add or Merge for its URL, and is never
// removed or re-indexed. A Collection is not safe for concurrent use; callers
// with several writers must serialize every call (see graphservice).
package collection

import (
	"fmt"
	"iter"
	"net/url"
	"slices"

	"github.com/starford/linkgraph/internal/apperr"
)

// InvariantError describes a violated Collection precondition, such as an
// ID that does not belong to the collection. It is only ever raised via panic.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("collection: %s: %s", e.Op, e.Detail)
}

// Collection stores entities and the directed links between them.
type Collection struct {
	nodes []*Entity
	edges [][]ID
	urls  map[string]ID
}

// New returns an empty collection.
func New() *Collection {
	return &Collection{
		urls: make(map[string]ID),
	}
}

// Len returns the number of nodes.
func (c *Collection) Len() int {
	n := len(c.nodes)
	if n != len(c.edges) {
		panic(&InvariantError{
			Op:     "len",
			Detail: fmt.Sprintf("%d nodes but %d adjacency lists", n, len(c.edges)),
		})
	}
	return n
}

// IsEmpty reports whether the collection holds no nodes.
func (c *Collection) IsEmpty() bool {
	return c.Len() == 0
}

// Contains reports whether some node has URL u.
func (c *Collection) Contains(u *url.URL) bool {
	_, ok := c.urls[urlKey(u)]
	return ok
}

// ID returns the handle of the node with URL u.
func (c *Collection) ID(u *url.URL) (ID, bool) {
	id, ok := c.urls[urlKey(u)]
	return id, ok
}

// IDAt converts an untrusted integer into a handle, reporting false when n
// does not name a node of c.
func (c *Collection) IDAt(n int) (ID, bool) {
	if n < 0 || n >= c.Len() {
		return ID{}, false
	}
	return newID(n), true
}

// Add stores e under the next free ID. The collection takes ownership of e.
//
// Add refuses a URL that is already present with apperr.ErrAlreadyExists;
// use Merge to fold repeat observations.
func (c *Collection) Add(e *Entity) (ID, error) {
	key := urlKey(e.URL())
	if _, ok := c.urls[key]; ok {
		return ID{}, fmt.Errorf("collection: add %s: %w", key, apperr.ErrAlreadyExists)
	}
	return c.push(key, e), nil
}

// Merge folds e into the node with the same URL and returns its ID, or
// stores e as a new node if the URL is unknown.
func (c *Collection) Merge(e *Entity) ID {
	key := urlKey(e.URL())
	if id, ok := c.urls[key]; ok {
		c.nodes[id.n].Merge(e)
		return id
	}
	return c.push(key, e)
}

func (c *Collection) push(key string, e *Entity) ID {
	id := newID(c.Len())
	c.nodes = append(c.nodes, e)
	c.edges = append(c.edges, nil)
	c.urls[key] = id
	return id
}

// AddEdge records a directed link from -> to and reports whether it was new.
// Repeated links are ignored and self-loops are allowed. It panics if either
// ID is not a node of c.
func (c *Collection) AddEdge(from, to ID) bool {
	c.mustValid("add edge", from)
	c.mustValid("add edge", to)
	if slices.Contains(c.edges[from.n], to) {
		return false
	}
	c.edges[from.n] = append(c.edges[from.n], to)
	return true
}

// Entity returns the stored entity for id. The pointer may be used to update
// the entity in place. It panics if id is not a node of c.
func (c *Collection) Entity(id ID) *Entity {
	c.mustValid("entity", id)
	return c.nodes[id.n]
}

// Edges returns the targets of id's outgoing links in insertion order.
// It panics if id is not a node of c.
func (c *Collection) Edges(id ID) []ID {
	c.mustValid("edges", id)
	return slices.Clone(c.edges[id.n])
}

// EdgeCount returns the number of recorded links.
func (c *Collection) EdgeCount() int {
	total := 0
	for _, targets := range c.edges {
		total += len(targets)
	}
	return total
}

// Backlinks returns, in ascending order, the nodes that link to id.
// It panics if id is not a node of c.
func (c *Collection) Backlinks(id ID) []ID {
	c.mustValid("backlinks", id)
	var out []ID
	for i, targets := range c.edges {
		if slices.Contains(targets, id) {
			out = append(out, newID(i))
		}
	}
	return out
}

// All iterates every node in ID order.
func (c *Collection) All() iter.Seq2[ID, *Entity] {
	return func(yield func(ID, *Entity) bool) {
		for i, e := range c.nodes {
			if !yield(newID(i), e) {
				return
			}
		}
	}
}

func (c *Collection) mustValid(op string, id ID) {
	if id.n < 0 || id.n >= c.Len() {
		panic(&InvariantError{
			Op:     op,
			Detail: fmt.Sprintf("id %d out of range [0, %d)", id.n, len(c.nodes)),
		})
	}
}

func urlKey(u *url.URL) string {
	return u.String()
}
