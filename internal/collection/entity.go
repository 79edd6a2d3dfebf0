package collection

import "net/url"

// Entity is everything known about one page, folded from every observation
// of its URL.
//
// createdAt is always the earliest observed date and is never a member of
// updatedAt, which holds every other observed date. names and labels only grow.
type Entity struct {
	url       *url.URL
	createdAt Date
	updatedAt Set[Date]
	names     Set[Name]
	labels    Set[Label]
}

// NewEntity builds an Entity from a single observation of u on date.
// It panics if u is nil.
func NewEntity(u *url.URL, date Date, names []Name, labels []Label) *Entity {
	if u == nil {
		panic(&InvariantError{Op: "new entity", Detail: "nil url"})
	}
	cp := *u
	return &Entity{
		url:       &cp,
		createdAt: date,
		updatedAt: Set[Date]{},
		names:     NewSet(names...),
		labels:    NewSet(labels...),
	}
}

// Update records another observation of the entity on date with the given
// names and labels.
func (e *Entity) Update(date Date, names []Name, labels []Label) {
	e.observe(date)
	for _, n := range names {
		e.names.Add(n)
	}
	for _, l := range labels {
		e.labels.Add(l)
	}
}

// Merge folds other into e as a single observation. Only other's creation
// date takes part; dates in other.UpdatedAt are not carried over.
func (e *Entity) Merge(other *Entity) {
	e.observe(other.createdAt)
	e.names.Union(other.names)
	e.labels.Union(other.labels)
}

func (e *Entity) observe(date Date) {
	switch {
	case date.Before(e.createdAt):
		e.updatedAt.Add(e.createdAt)
		e.createdAt = date
	case date != e.createdAt:
		e.updatedAt.Add(date)
	}
}

// URL returns the entity's URL. Callers must not modify it.
func (e *Entity) URL() *url.URL {
	return e.url
}

// CreatedAt returns the earliest date the entity was observed.
func (e *Entity) CreatedAt() Date {
	return e.createdAt
}

// UpdatedAt returns a copy of every observed date other than CreatedAt.
func (e *Entity) UpdatedAt() Set[Date] {
	return e.updatedAt.Clone()
}

// Names returns a copy of the accumulated names.
func (e *Entity) Names() Set[Name] {
	return e.names.Clone()
}

// Labels returns a copy of the accumulated labels.
func (e *Entity) Labels() Set[Label] {
	return e.labels.Clone()
}
