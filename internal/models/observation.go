// Package models defines the domain types exchanged between linkgraph layers.
package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/collection"
)

// SourceMetadata describes one observation file in the source directory.
type SourceMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Observation is a single sighting of a page: when it was seen, what it was
// called, how it was labelled and which pages it linked to.
type Observation struct {
	URL    *url.URL
	Date   collection.Date
	Names  []string
	Labels []string
	Links  []*url.URL
}

// Validate checks that the observation can be folded into a collection.
// The returned error wraps apperr.ErrInvalidObservation.
func (o *Observation) Validate() error {
	err := validation.ValidateStruct(o,
		validation.Field(&o.URL, validation.Required, validation.By(absoluteHTTP)),
		validation.Field(&o.Date, validation.By(nonZeroDate)),
		validation.Field(&o.Links, validation.Each(validation.By(absoluteHTTP))),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrInvalidObservation, err)
	}
	return nil
}

// Entity builds the collection entity for the observed page.
func (o *Observation) Entity() *collection.Entity {
	return collection.NewEntity(o.URL, o.Date, collection.Names(o.Names...), collection.Labels(o.Labels...))
}

func absoluteHTTP(value any) error {
	var u *url.URL
	switch v := value.(type) {
	case *url.URL:
		u = v
	case url.URL:
		u = &v
	}
	if u == nil {
		return errors.New("url is required")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url must be absolute")
	}
	return nil
}

func nonZeroDate(value any) error {
	d, _ := value.(collection.Date)
	if d.IsZero() {
		return errors.New("date is required")
	}
	return nil
}
