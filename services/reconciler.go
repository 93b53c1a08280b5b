package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carmarket-ingest/models"
	"carmarket-ingest/storage"
	"carmarket-ingest/utils"
)

// RunResult collects what one reconciliation pass did to its scope.
type RunResult struct {
	Inserted    int
	Updated     int
	Deactivated int
	Duplicates  int
	Errors      []string
}

// Reconciler applies a batch of normalized DTOs to the canonical store:
// insert the unseen, refresh the seen (views copied forward), then sweep
// everything in scope that this run did not touch.
type Reconciler struct {
	store  storage.ListingStore
	logger *utils.Logger
	now    func() time.Time
}

// NewReconciler creates a Reconciler over the given store.
func NewReconciler(store storage.ListingStore, logger *utils.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger, now: time.Now}
}

// Reconcile runs the full pass for one scope. The stale sweep runs strictly
// after every upsert so freshly written rows can never be swept. A row-level
// write failure is recorded and skipped; only a sweep failure fails the run.
func (r *Reconciler) Reconcile(ctx context.Context, scope storage.Scope, rows []*models.RawListing) (*RunResult, error) {
	runStart := r.now()
	res := &RunResult{}
	seen := utils.NewSeenSet()

	for _, raw := range rows {
		if raw.ExternalID == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: row %q has no external id", scope.Source, raw.Title))
			continue
		}
		// First occurrence wins; later duplicates in the same run are no-ops.
		if !seen.Add(raw.ExternalID) {
			res.Duplicates++
			r.logger.Debug("[reconcile] %s/%s duplicate in batch — ignored", scope.Source, raw.ExternalID)
			continue
		}

		inserted, err := r.upsert(ctx, raw)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %v", scope.Source, raw.ExternalID, err))
			r.logger.Error("[reconcile] %s/%s write failed: %v", scope.Source, raw.ExternalID, err)
			continue
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	n, err := r.store.DeactivateStale(ctx, scope, runStart)
	if err != nil {
		return res, fmt.Errorf("stale sweep for %s: %w", scope.Source, err)
	}
	res.Deactivated = n

	r.logger.Info("[reconcile] %s done — %d inserted, %d updated, %d deactivated, %d dup, %d errors",
		scope.Source, res.Inserted, res.Updated, res.Deactivated, res.Duplicates, len(res.Errors))
	return res, nil
}

// upsert applies the per-key state machine. An existing row is refreshed in
// place — every ingestion field rewritten, views untouched, reactivated by
// virtue of being re-seen. An unseen key becomes a fresh active row with
// zero views.
func (r *Reconciler) upsert(ctx context.Context, raw *models.RawListing) (inserted bool, err error) {
	now := r.now()
	next := models.FromRaw(raw, now)

	_, err = r.store.GetByKey(ctx, raw.Source, raw.ExternalID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := r.store.Insert(ctx, next); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	default:
		if err := r.store.Update(ctx, next); err != nil {
			return false, err
		}
		return false, nil
	}
}
