package services

import (
	"context"
	"fmt"
	"time"

	"carmarket-ingest/models"
	"carmarket-ingest/scraper"
	"carmarket-ingest/scraper/feed"
	"carmarket-ingest/storage"
	"carmarket-ingest/utils"
)

// Importer drives one ingestion run end to end: adapter fetch, dealer
// resolution for feed sources, image relocation, reconciliation, and the
// import-log / notification tail. One Importer serves many runs; distinct
// sources may run concurrently since their key spaces are disjoint.
type Importer struct {
	registry   *scraper.Registry
	reconciler *Reconciler
	dealers    *DealerService
	images     *ImageRelocator
	logs       storage.ImportLogStore
	notifier   Notifier
	snapshot   *storage.SnapshotWriter
	logger     *utils.Logger
}

// NewImporter wires an Importer. snapshot may be nil to skip raw CSV dumps.
func NewImporter(
	registry *scraper.Registry,
	reconciler *Reconciler,
	dealers *DealerService,
	images *ImageRelocator,
	logs storage.ImportLogStore,
	notifier Notifier,
	snapshot *storage.SnapshotWriter,
	logger *utils.Logger,
) *Importer {
	return &Importer{
		registry:   registry,
		reconciler: reconciler,
		dealers:    dealers,
		images:     images,
		logs:       logs,
		notifier:   notifier,
		snapshot:   snapshot,
		logger:     logger,
	}
}

// RunSource executes one full scrape-and-reconcile run for a registered
// source. The returned ImportLog is already persisted; err is non-nil only
// for fatal runs, which are still logged and alerted.
func (im *Importer) RunSource(ctx context.Context, src models.Source) (*models.ImportLog, error) {
	il := &models.ImportLog{Source: src, StartedAt: time.Now()}

	adapter, ok := im.registry.Get(src)
	if !ok {
		return im.finishFatal(ctx, il, fmt.Errorf("unknown source %q", src))
	}

	im.logger.Info("[import] %s run starting", src)
	rows, err := adapter.Fetch(ctx)
	if err != nil && len(rows) == 0 {
		return im.finishFatal(ctx, il, fmt.Errorf("fetch %s: %w", src, err))
	}
	if err != nil {
		// Pagination stopped early; the collected rows still reconcile.
		il.AddError(fmt.Sprintf("fetch ended early: %v", err))
	}
	il.TotalRows = len(rows)

	im.dumpSnapshot(rows)
	for _, raw := range rows {
		im.images.Relocate(ctx, raw)
	}

	res, err := im.reconciler.Reconcile(ctx, storage.Scope{Source: src}, rows)
	im.applyResult(il, res)
	if err != nil {
		return im.finishFatal(ctx, il, err)
	}

	return im.finish(ctx, il)
}

// RunFeed ingests one partner CSV feed body that has already been parsed:
// dealer batches are processed independently, so one dealer's quota
// rejection never blocks another's rows.
func (im *Importer) RunFeed(ctx context.Context, rows []feed.Row, parseErrors []string) (*models.ImportLog, error) {
	il := &models.ImportLog{Source: models.SourceDealerFeed, StartedAt: time.Now()}
	il.TotalRows = len(rows) + len(parseErrors)
	for _, e := range parseErrors {
		il.AddError(e)
	}

	for _, batch := range feed.GroupByDealer(rows) {
		if err := im.runDealerBatch(ctx, il, batch); err != nil {
			il.AddError(fmt.Sprintf("dealer %q: %v", batch.AccountID, err))
			im.logger.Error("[import] feed batch for %q failed: %v", batch.AccountID, err)
		}
		il.DealersProcessed++
	}

	return im.finish(ctx, il)
}

// runDealerBatch resolves one dealer, applies quota, and reconciles the
// dealer's namespace. Quota decisions happen once, against the live active
// count at batch start; free-tier overflow keeps the first admitted rows in
// feed order.
func (im *Importer) runDealerBatch(ctx context.Context, il *models.ImportLog, batch feed.DealerBatch) error {
	first := batch.Rows[0]
	dealer, created, err := im.dealers.Resolve(ctx, DealerAccount{
		AccountID: batch.AccountID,
		Email:     first.Email,
		Phone:     first.Phone,
	})
	if err != nil {
		return err
	}
	if created {
		il.DealersCreated++
	}

	var raws []*models.RawListing
	for _, row := range batch.Rows {
		raw, err := feed.ToRaw(row, dealer)
		if err != nil {
			il.AddError(fmt.Sprintf("dealer %q: %v", batch.AccountID, err))
			continue
		}
		raws = append(raws, raw)
	}

	admit, err := im.dealers.AdmitBatch(ctx, dealer, len(raws))
	if err != nil {
		// Plan-cap overflow rejects the whole dealer batch.
		return err
	}
	if admit < len(raws) {
		il.Skipped += len(raws) - admit
		raws = raws[:admit]
	}

	for _, raw := range raws {
		im.images.Relocate(ctx, raw)
	}

	res, err := im.reconciler.Reconcile(ctx, storage.Scope{
		Source:           models.SourceDealerFeed,
		ExternalIDPrefix: dealer.ExternalIDPrefix(),
	}, raws)
	im.applyResult(il, res)
	return err
}

// PushBatch ingests an already-structured batch submitted for one dealer
// through the push API. ErrQuotaExceeded propagates so the handler can
// surface the batch-level rejection.
func (im *Importer) PushBatch(ctx context.Context, dealer *models.Dealer, raws []*models.RawListing, rowErrors []string) (*models.ImportLog, error) {
	il := &models.ImportLog{Source: models.SourceDealerFeed, StartedAt: time.Now()}
	il.TotalRows = len(raws) + len(rowErrors)
	il.DealersProcessed = 1
	for _, e := range rowErrors {
		il.AddError(e)
	}

	admit, err := im.dealers.AdmitBatch(ctx, dealer, len(raws))
	if err != nil {
		// Quota overflow on an explicit plan cap is a batch-level rejection.
		return im.finishFatal(ctx, il, err)
	}
	if admit < len(raws) {
		il.Skipped += len(raws) - admit
		raws = raws[:admit]
	}

	for _, raw := range raws {
		im.images.Relocate(ctx, raw)
	}

	res, err := im.reconciler.Reconcile(ctx, storage.Scope{
		Source:           models.SourceDealerFeed,
		ExternalIDPrefix: dealer.ExternalIDPrefix(),
	}, raws)
	im.applyResult(il, res)
	if err != nil {
		return im.finishFatal(ctx, il, err)
	}
	return im.finish(ctx, il)
}

func (im *Importer) applyResult(il *models.ImportLog, res *RunResult) {
	if res == nil {
		return
	}
	il.Inserted += res.Inserted
	il.Updated += res.Updated
	il.Deactivated += res.Deactivated
	il.Skipped += res.Duplicates
	for _, e := range res.Errors {
		il.AddError(e)
	}
}

// finish derives the status, appends the log and notifies.
func (im *Importer) finish(ctx context.Context, il *models.ImportLog) (*models.ImportLog, error) {
	il.FinishedAt = time.Now()
	il.DeriveStatus()
	im.persistAndNotify(ctx, il)
	im.logger.Info("[import] %s run %s — %d rows, %d inserted, %d updated, %d deactivated, %d skipped, %d errors (%s)",
		il.Source, il.Status, il.TotalRows, il.Inserted, il.Updated,
		il.Deactivated, il.Skipped, il.TotalErrors, il.Duration().Round(time.Second))
	return il, nil
}

// finishFatal records a failed run with whatever partial counts exist and
// triggers the error alert unconditionally.
func (im *Importer) finishFatal(ctx context.Context, il *models.ImportLog, cause error) (*models.ImportLog, error) {
	il.AddError(cause.Error())
	il.FinishedAt = time.Now()
	il.Status = models.RunFailed
	im.persistAndNotify(ctx, il)
	im.logger.Error("[import] %s run FAILED: %v", il.Source, cause)
	return il, cause
}

func (im *Importer) persistAndNotify(ctx context.Context, il *models.ImportLog) {
	if err := im.logs.Append(ctx, il); err != nil {
		im.logger.Error("[import] could not append import log for %s: %v", il.Source, err)
	}
	im.notifier.RunFinished(il)
}

func (im *Importer) dumpSnapshot(rows []*models.RawListing) {
	if im.snapshot == nil {
		return
	}
	if err := im.snapshot.WriteRaw(rows); err != nil {
		im.logger.Warn("[import] raw snapshot write failed: %v", err)
	}
}
