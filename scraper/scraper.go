package scraper

import (
	"context"
	"fmt"

	"carmarket-ingest/models"
)

// SourceAdapter is the contract every external source satisfies: produce
// the full current set of listings for one run, from scratch. Adapters hold
// no cursor across runs; a fresh Fetch re-derives everything.
type SourceAdapter interface {
	Source() models.Source
	Fetch(ctx context.Context) ([]*models.RawListing, error)
}

// Registry maps source tags to their adapters.
type Registry struct {
	adapters map[models.Source]SourceAdapter
	order    []models.Source
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Source]SourceAdapter)}
}

// Register adds an adapter; registering the same source twice is a
// programming error.
func (r *Registry) Register(a SourceAdapter) error {
	src := a.Source()
	if _, dup := r.adapters[src]; dup {
		return fmt.Errorf("source %q registered twice", src)
	}
	r.adapters[src] = a
	r.order = append(r.order, src)
	return nil
}

// Get returns the adapter for a source tag.
func (r *Registry) Get(src models.Source) (SourceAdapter, bool) {
	a, ok := r.adapters[src]
	return a, ok
}

// Sources lists registered source tags in registration order.
func (r *Registry) Sources() []models.Source {
	return append([]models.Source(nil), r.order...)
}
