// Package orchestrator sequences the two crawl phases: discovery walks the
// search results and records every tender as found; detail visits each
// found record's page and finishes or fails it. The pipeline is strictly
// sequential over one browser session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pccwatch/tender-crawler/internal/progress"
	"github.com/pccwatch/tender-crawler/internal/tender"
)

// Config tunes one crawl run.
type Config struct {
	// RunID correlates progress events; a zero value generates a fresh id.
	RunID uuid.UUID
	// Query is the discovery search.
	Query tender.SearchQuery
	// DetailRetries bounds fetch attempts per record in the detail phase.
	DetailRetries int
	// BackoffInitial and BackoffMax shape the retry backoff.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Summary reports what one run accomplished.
type Summary struct {
	RunID      uuid.UUID
	Pages      int
	Discovered int
	Finished   int
	Failed     int
	Deferred   int
	Duration   time.Duration
}

// Orchestrator runs crawl phases over a session and a store.
type Orchestrator struct {
	session tender.Session
	store   tender.Store
	emitter progress.Emitter
	clock   tender.Clock
	logger  *zap.Logger
	retry   retryPolicy
	cfg     Config

	// sleep is swapped in tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires an orchestrator. Emitter may be nil when progress reporting is
// disabled.
func New(session tender.Session, store tender.Store, emitter progress.Emitter,
	clock tender.Clock, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		session: session,
		store:   store,
		emitter: emitter,
		clock:   clock,
		logger:  logger,
		retry:   newRetryPolicy(cfg.DetailRetries, cfg.BackoffInitial, cfg.BackoffMax),
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

// Run executes the selected phase(s) and returns the run summary. The
// summary is valid even when err is non-nil; it reflects work completed
// before the failure.
func (o *Orchestrator) Run(ctx context.Context, phase tender.Phase) (Summary, error) {
	if !phase.Valid() {
		return Summary{}, fmt.Errorf("invalid phase %q", phase)
	}
	runID := o.cfg.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	sum := Summary{RunID: runID}
	start := o.clock.Now()

	o.emit(progress.Event{
		RunID: progress.UUIDToBytes(runID),
		TS:    start,
		Stage: progress.StageRunStart,
		Phase: string(phase),
	})

	var runErr error
	if phase == tender.PhaseDiscovery || phase == tender.PhaseBoth {
		runErr = o.discover(ctx, runID, &sum)
	}
	if runErr == nil && (phase == tender.PhaseDetail || phase == tender.PhaseBoth) {
		runErr = o.details(ctx, runID, &sum)
	}

	sum.Duration = o.clock.Now().Sub(start)
	evt := progress.Event{
		RunID: progress.UUIDToBytes(runID),
		TS:    o.clock.Now(),
		Stage: progress.StageRunDone,
		Phase: string(phase),
		Dur:   sum.Duration,
	}
	if runErr != nil {
		evt.Stage = progress.StageRunError
		evt.Note = runErr.Error()
	}
	o.emit(evt)

	o.logger.Info("run complete",
		zap.String("run_id", runID.String()),
		zap.String("phase", string(phase)),
		zap.Int("pages", sum.Pages),
		zap.Int("discovered", sum.Discovered),
		zap.Int("finished", sum.Finished),
		zap.Int("failed", sum.Failed),
		zap.Int("deferred", sum.Deferred),
		zap.Duration("duration", sum.Duration),
		zap.Error(runErr))
	return sum, runErr
}

// discover walks every result page and upserts each row as a found record,
// resolving its organization first so the foreign key always holds.
func (o *Orchestrator) discover(ctx context.Context, runID uuid.UUID, sum *Summary) error {
	pages, err := o.session.Search(ctx, o.cfg.Query)
	if err != nil {
		return fmt.Errorf("start search: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := pages.Next(ctx)
		if errors.Is(err, tender.ErrNoMorePages) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load result page: %w", err)
		}

		for _, rec := range page.Rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := o.discoverRecord(ctx, runID, rec, sum); err != nil {
				if ctx.Err() != nil {
					return err
				}
				// One bad row never aborts the page.
				o.logger.Warn("record discovery failed",
					zap.String("tender_no", rec.TenderNo),
					zap.String("url", rec.URL),
					zap.Error(err))
			}
		}

		sum.Pages++
		o.emit(progress.Event{
			RunID: progress.UUIDToBytes(runID),
			TS:    o.clock.Now(),
			Stage: progress.StagePageDone,
			Phase: string(tender.PhaseDiscovery),
			Page:  page.Number,
			Rows:  len(page.Rows),
		})
		if page.LastPage {
			return nil
		}
	}
}

func (o *Orchestrator) discoverRecord(ctx context.Context, runID uuid.UUID, rec tender.Record, sum *Summary) error {
	if rec.OrgName == "" {
		o.logger.Debug("skipping record without organization", zap.String("url", rec.URL))
		return nil
	}

	orgID, err := o.store.OrganizationID(ctx, rec.OrgName)
	if err != nil {
		return err
	}
	if orgID == "" {
		orgID, err = o.session.LookupOrganizationID(ctx, rec.OrgName)
		if errors.Is(err, tender.ErrOrganizationNotFound) {
			o.logger.Warn("organization unresolved, skipping record",
				zap.String("org_name", rec.OrgName),
				zap.String("tender_no", rec.TenderNo))
			return nil
		}
		if err != nil {
			return err
		}
		// Parent row goes in before the tender that references it.
		if err := o.store.UpsertOrganization(ctx, tender.Organization{SiteID: orgID, Name: rec.OrgName}); err != nil {
			return err
		}
	}

	rec.OrganizationID = orgID
	rec.Status = tender.StatusFound
	if err := o.store.UpsertTenderFound(ctx, rec); err != nil {
		return err
	}

	sum.Discovered++
	o.emit(progress.Event{
		RunID:    progress.UUIDToBytes(runID),
		TS:       o.clock.Now(),
		Stage:    progress.StageRecordFound,
		Phase:    string(tender.PhaseDiscovery),
		URL:      rec.URL,
		TenderNo: rec.TenderNo,
		// Publication date in the site's own era form, as printed on the
		// bulletin row.
		Note: tender.FormatROCDate(rec.PublicationDate),
	})
	return nil
}

// details processes every found record. Records blocked by an unsolved
// challenge are deferred and retried once at the end of the run without
// consuming their retry budget.
func (o *Orchestrator) details(ctx context.Context, runID uuid.UUID, sum *Summary) error {
	records, err := o.store.ListTenders(ctx, tender.StatusFound)
	if err != nil {
		return fmt.Errorf("list found tenders: %w", err)
	}

	var deferred []tender.Record
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		wasDeferred, err := o.processDetail(ctx, runID, rec, sum)
		if err != nil {
			return err
		}
		if wasDeferred {
			deferred = append(deferred, rec)
		}
	}

	for _, rec := range deferred {
		if err := ctx.Err(); err != nil {
			return err
		}
		stillDeferred, err := o.processDetail(ctx, runID, rec, sum)
		if err != nil {
			return err
		}
		if stillDeferred {
			// Left in found status; the next run picks it up.
			sum.Deferred++
			o.emit(progress.Event{
				RunID:    progress.UUIDToBytes(runID),
				TS:       o.clock.Now(),
				Stage:    progress.StageDetailDone,
				Phase:    string(tender.PhaseDetail),
				URL:      rec.URL,
				TenderNo: rec.TenderNo,
				Result:   progress.ResultDeferred,
			})
		}
	}
	return nil
}

// processDetail runs the bounded fetch loop for one record and persists the
// terminal state. It reports deferred=true when the record hit an unsolved
// challenge, and err only for store or context failures.
func (o *Orchestrator) processDetail(ctx context.Context, runID uuid.UUID, rec tender.Record, sum *Summary) (bool, error) {
	start := o.clock.Now()
	payload, fetchErr := o.fetchWithRetry(ctx, rec)

	switch {
	case fetchErr == nil:
		if err := o.store.UpdateTenderDetail(ctx, rec.URL, payload, tender.StatusFinished); err != nil {
			return false, fmt.Errorf("finish tender %s: %w", rec.URL, err)
		}
		sum.Finished++
		o.emitDetail(runID, rec, progress.ResultSuccess, o.clock.Now().Sub(start), "")
		return false, nil

	case errors.Is(fetchErr, tender.ErrChallengeUnsolved):
		o.logger.Warn("detail blocked by challenge, deferring",
			zap.String("tender_no", rec.TenderNo), zap.String("url", rec.URL))
		return true, nil

	case tender.IsDetailFetchError(fetchErr):
		failure := tender.DetailPayload{"last_error": fetchErr.Error()}
		if err := o.store.UpdateTenderDetail(ctx, rec.URL, failure, tender.StatusFailed); err != nil {
			return false, fmt.Errorf("fail tender %s: %w", rec.URL, err)
		}
		sum.Failed++
		o.emitDetail(runID, rec, progress.ResultFailed, o.clock.Now().Sub(start), fetchErr.Error())
		return false, nil

	default:
		// Context cancellation or a broken session; stop the run.
		return false, fetchErr
	}
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, rec tender.Record) (tender.DetailPayload, error) {
	for attempt := 1; ; attempt++ {
		payload, err := o.session.FetchDetail(ctx, rec.PkPmsMain)
		if err == nil {
			return payload, nil
		}
		if !o.retry.shouldRetry(err, attempt) {
			return nil, err
		}
		wait := o.retry.backoff(attempt)
		o.logger.Debug("detail fetch retry",
			zap.String("tender_no", rec.TenderNo),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if err := o.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (o *Orchestrator) emitDetail(runID uuid.UUID, rec tender.Record, result progress.Result, dur time.Duration, note string) {
	o.emit(progress.Event{
		RunID:    progress.UUIDToBytes(runID),
		TS:       o.clock.Now(),
		Stage:    progress.StageDetailDone,
		Phase:    string(tender.PhaseDetail),
		URL:      rec.URL,
		TenderNo: rec.TenderNo,
		Result:   result,
		Dur:      dur,
		Note:     note,
	})
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(evt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
