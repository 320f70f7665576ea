package app

import (
	"context"
	"errors"
	"time"

	"reportbot/internal/delivery"
	"reportbot/internal/eventbus"
	"reportbot/internal/render"
	"reportbot/internal/report"
	"reportbot/internal/schedule"
	"reportbot/internal/storage"
	"reportbot/internal/transport"
	"reportbot/pkg/logx"
)

// Runner is the body of one job firing: fetch, render, deliver with retry.
// Every error is handled here; nothing propagates into the scheduler, so one
// job's permanent failure never blocks another job's timer.
type Runner struct {
	source    report.Source
	renderer  *render.Renderer
	deliverer *delivery.Deliverer
	store     storage.Store // may be nil
	log       logx.Logger
	bus       eventbus.Bus
}

func NewRunner(source report.Source, renderer *render.Renderer, deliverer *delivery.Deliverer,
	store storage.Store, log logx.Logger, bus eventbus.Bus) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		source:    source,
		renderer:  renderer,
		deliverer: deliverer,
		store:     store,
		log:       log,
		bus:       bus,
	}
}

// Fire runs one firing to completion. It matches schedule.FireFunc.
func (r *Runner) Fire(ctx context.Context, job schedule.Job) {
	started := time.Now()
	log := r.log.With(logx.String("report", job.Report))

	rec := storage.FiringRecord{
		Report:    job.Report,
		Chat:      job.Chat,
		StartedAt: started,
	}
	defer func() {
		rec.FinishedAt = time.Now()
		r.record(rec)
	}()

	table, err := r.source.Fetch(ctx, job.Report)
	if err != nil {
		// Fetch and auth failures abort this firing without retry; the next
		// scheduled firing is the retry.
		var authErr *report.AuthError
		if errors.As(err, &authErr) {
			log.Error("firing aborted: auth failed", logx.Err(err))
		} else {
			log.Error("firing aborted: fetch failed", logx.Err(err))
		}
		rec.Status, rec.Error = storage.StatusFetchError, err.Error()
		return
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.ReportFetched, Data: schedule.JobEvent{
			Report: job.Report, Chat: job.Chat,
		}})
	}

	art, err := r.renderer.Render(job.Report, job.Name, table)
	if err != nil {
		log.Error("firing aborted: render failed", logx.Err(err))
		rec.Status, rec.Error = storage.StatusRenderError, err.Error()
		return
	}
	rec.Artifact = art.Path

	attempts, err := r.deliverer.Deliver(ctx, transport.ChatTarget{ChatID: job.Chat}, art)
	rec.Attempts = attempts
	if err != nil {
		log.Error("firing aborted: delivery failed",
			logx.Int("attempts", attempts), logx.Err(err))
		rec.Status, rec.Error = storage.StatusDeliveryFailed, err.Error()
		return
	}

	rec.Status = storage.StatusOK
	log.Info("firing delivered",
		logx.Int("rows", len(table.Rows)),
		logx.Int("attempts", attempts),
		logx.Duration("took", time.Since(started)))
}

func (r *Runner) record(rec storage.FiringRecord) {
	if r.store == nil {
		return
	}
	// Recording is best-effort and must not block a firing for long.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.RecordFiring(ctx, rec); err != nil {
		r.log.Warn("firing record not persisted", logx.Err(err))
	}
}
