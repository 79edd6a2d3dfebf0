package collection

import (
	"iter"
	"maps"
)

// Set is an unordered collection of distinct values.
type Set[T comparable] map[T]struct{}

// NewSet returns a set holding items.
func NewSet[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, v := range items {
		s[v] = struct{}{}
	}
	return s
}

// Add inserts v and reports whether it was absent.
func (s Set[T]) Add(v T) bool {
	if _, ok := s[v]; ok {
		return false
	}
	s[v] = struct{}{}
	return true
}

// Contains reports whether v is a member.
func (s Set[T]) Contains(v T) bool {
	_, ok := s[v]
	return ok
}

// Len returns the number of members.
func (s Set[T]) Len() int {
	return len(s)
}

// Union adds every member of other to s.
func (s Set[T]) Union(other Set[T]) {
	for v := range other {
		s[v] = struct{}{}
	}
}

// Clone returns an independent copy of s.
func (s Set[T]) Clone() Set[T] {
	if s == nil {
		return Set[T]{}
	}
	return maps.Clone(s)
}

// All iterates the members in unspecified order.
func (s Set[T]) All() iter.Seq[T] {
	return maps.Keys(s)
}

// Items returns the members as a slice in unspecified order.
func (s Set[T]) Items() []T {
	out := make([]T, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	return out
}
