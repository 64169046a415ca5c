// Package background runs periodic maintenance tasks alongside the dispatch
// loop. Tasks are best-effort: a failing or panicking task is logged and
// retried on its next interval.
package background

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/jma1ice/newsletterr/internal/metrics"
)

// Task is a named periodic job.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Runner schedules tasks on fixed intervals.
type Runner struct {
	cron    *cron.Cron
	log     zerolog.Logger
	metrics metrics.Sink
	ctx     context.Context
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{
		cron:    cron.New(),
		log:     log.With().Str("component", "background").Logger(),
		metrics: metrics.NewNoopSink(),
	}
}

// WithMetrics attaches a metrics sink. Call before Start.
func (r *Runner) WithMetrics(sink metrics.Sink) *Runner {
	r.metrics = sink
	return r
}

// Add registers a task. Intervals must be positive.
func (r *Runner) Add(task Task) error {
	if task.Every <= 0 {
		return fmt.Errorf("task %q: interval must be positive", task.Name)
	}
	if task.Run == nil {
		return fmt.Errorf("task %q: nil run func", task.Name)
	}

	spec := fmt.Sprintf("@every %s", task.Every)
	_, err := r.cron.AddFunc(spec, func() {
		r.runOne(task)
	})
	if err != nil {
		return fmt.Errorf("register task %q: %w", task.Name, err)
	}
	return nil
}

func (r *Runner) runOne(task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("task", task.Name).
				Interface("panic", rec).
				Msg("background task panicked")
			r.metrics.TaskCompleted(task.Name, fmt.Errorf("panic: %v", rec))
		}
	}()

	start := time.Now()
	err := task.Run(r.ctx)
	r.metrics.TaskCompleted(task.Name, err)

	if err != nil {
		r.log.Warn().
			Str("task", task.Name).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("background task failed")
		return
	}
	r.log.Debug().
		Str("task", task.Name).
		Dur("elapsed", time.Since(start)).
		Msg("background task completed")
}

// Start launches all registered tasks and blocks until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.ctx = ctx
	r.cron.Start()
	r.log.Info().Int("tasks", len(r.cron.Entries())).Msg("background runner started")

	<-ctx.Done()

	stopCtx := r.cron.Stop()
	// Let in-flight tasks drain before returning.
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		r.log.Warn().Msg("background tasks did not drain in time")
	}
	r.log.Info().Msg("background runner stopped")
}
