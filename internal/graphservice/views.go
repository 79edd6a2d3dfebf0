package graphservice

import "github.com/starford/linkgraph/internal/collection"

// EntityView is a detached, JSON-friendly copy of one node.
type EntityView struct {
	ID        int               `json:"id"`
	URL       string            `json:"url"`
	CreatedAt collection.Date   `json:"created_at"`
	UpdatedAt []collection.Date `json:"updated_at"`
	Names     []string          `json:"names"`
	Labels    []string          `json:"labels"`
	Links     []int             `json:"links"`
	Backlinks []int             `json:"backlinks,omitempty"`
}

// Snapshot is a point-in-time copy of the collection in ID order.
type Snapshot struct {
	Entities []EntityView `json:"entities"`
}

// EdgeCount returns the number of links in the snapshot.
func (s *Snapshot) EdgeCount() int {
	n := 0
	for _, e := range s.Entities {
		n += len(e.Links)
	}
	return n
}

// GraphNode is a node in the graph visualisation.
type GraphNode struct {
	ID    int    `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// GraphLink is a directed edge in the graph visualisation.
type GraphLink struct {
	Source int `json:"source"`
	Target int `json:"target"`
}

// Graph holds nodes and links for visualisation.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}
