package storage

import (
	"context"
	"errors"
	"time"

	"carmarket-ingest/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrTokenCollision is returned when a freshly generated activation token
// already exists; the caller regenerates and retries.
var ErrTokenCollision = errors.New("activation token collision")

// Scope selects the set of listings one reconciliation run owns: a whole
// source, or one dealer's namespace inside a shared feed source.
type Scope struct {
	Source           models.Source
	ExternalIDPrefix string
}

// ListingStore is the canonical listing table as the engine sees it.
type ListingStore interface {
	GetByKey(ctx context.Context, source models.Source, externalID string) (*models.Listing, error)
	Insert(ctx context.Context, l *models.Listing) error
	// Update rewrites every ingestion-owned field of the row identified by
	// (source, external_id). It must not touch views or created_at.
	Update(ctx context.Context, l *models.Listing) error
	// DeactivateStale flips is_active off for active rows in scope whose
	// last_seen_at predates runStart, and returns how many were flipped.
	DeactivateStale(ctx context.Context, scope Scope, runStart time.Time) (int, error)
	CountActive(ctx context.Context, scope Scope) (int, error)
}

// DealerStore holds feed dealer accounts.
type DealerStore interface {
	GetByAccountID(ctx context.Context, accountID string) (*models.Dealer, error)
	GetByToken(ctx context.Context, token string) (*models.Dealer, error)
	// Create inserts a new dealer; ErrTokenCollision signals the generated
	// activation token is already taken.
	Create(ctx context.Context, d *models.Dealer) error
}

// ImportLogStore appends completed run records. Logs are never updated.
type ImportLogStore interface {
	Append(ctx context.Context, il *models.ImportLog) error
}
