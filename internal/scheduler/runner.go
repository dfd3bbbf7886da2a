// Package scheduler runs the ledger's periodic jobs on cron specs with a seconds field.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"frizo/margin_ledger/internal/logger"
	"frizo/margin_ledger/internal/metrics"
)

// Job is one periodic task.
type Job func(ctx context.Context) error

type Runner struct {
	cron    *cron.Cron
	log     *logger.Logger
	baseCtx context.Context
}

func New(log *logger.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:     log,
		baseCtx: baseCtx,
	}
}

// Add schedules job under name. An overlapping run is skipped, not queued.
func (r *Runner) Add(name, spec string, job Job) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		r.run(name, job)
	})
}

func (r *Runner) run(name string, job Job) {
	start := time.Now()
	err := job(r.baseCtx)
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(name, "error").Inc()
		r.log.Error("job failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	metrics.JobRunsTotal.WithLabelValues(name, "ok").Inc()
	r.log.Debug("job finished", "job", name, "duration", time.Since(start))
}

// Entries is the number of scheduled jobs.
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

func (r *Runner) Start() {
	r.log.Info("cron started", "jobs", r.Entries())
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("cron stopped")
}
