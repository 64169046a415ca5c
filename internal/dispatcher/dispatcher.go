// Package dispatcher runs the background send loop: every tick it snapshots
// the due schedules, attempts one delivery per due schedule, and advances
// each schedule's dispatch state whether or not the delivery succeeded.
//
// Policy is at-most-one-attempt-per-occurrence: a failed send is logged and
// the schedule simply waits for its next natural occurrence. There is no
// retry within or across ticks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jma1ice/newsletterr/internal/domain"
	"github.com/jma1ice/newsletterr/internal/metrics"
)

// ErrAlreadyRunning is returned by Run when the loop is already active.
// At most one dispatch loop may run per process.
var ErrAlreadyRunning = errors.New("dispatch loop already running")

// Store is the schedule persistence the loop reads and advances. The due set
// is re-fetched fresh every tick; the loop caches nothing across iterations.
type Store interface {
	DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error)
	RecordFire(ctx context.Context, id uuid.UUID, now time.Time) error
}

// Deliverer renders and sends one newsletter for a schedule. It is opaque to
// the loop; implementations own their network timeouts so a hung delivery
// cannot freeze the loop indefinitely.
type Deliverer interface {
	Deliver(ctx context.Context, sched domain.Schedule) error
}

// AnalyticsSink records successful fires, best-effort.
type AnalyticsSink interface {
	Record(ctx context.Context, scheduleID uuid.UUID, firedAt time.Time) error
}

// Config holds dispatch loop configuration.
type Config struct {
	TickInterval time.Duration
}

// Dispatcher is the loop's lifecycle object. Construct once at boot; Run
// refuses to start twice.
type Dispatcher struct {
	config    Config
	store     Store
	deliverer Deliverer
	log       zerolog.Logger
	clock     func() time.Time

	metrics   metrics.Sink
	analytics AnalyticsSink // optional, nil = disabled

	mu      sync.Mutex
	running bool
}

func New(config Config, store Store, deliverer Deliverer, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		config:    config,
		store:     store,
		deliverer: deliverer,
		log:       log,
		clock:     time.Now,
		metrics:   metrics.NewNoopSink(),
	}
}

// WithMetrics attaches a metrics sink.
func (d *Dispatcher) WithMetrics(sink metrics.Sink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithAnalytics attaches a send-analytics sink.
func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// IsRunning reports whether the loop is active.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Run polls until ctx is cancelled. It returns ErrAlreadyRunning if the loop
// is already active; no two dispatch passes ever run concurrently.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	ticker := time.NewTicker(d.config.TickInterval)
	defer ticker.Stop()

	d.log.Info().Dur("tick", d.config.TickInterval).Msg("dispatch loop started")

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatch loop stopped")
			return ctx.Err()
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick runs one dispatch pass. The whole iteration body is guarded: no
// error or panic from a pass may kill the loop.
func (d *Dispatcher) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("dispatch tick panicked")
		}
	}()

	start := d.clock()
	d.metrics.TickStarted()

	due, err := d.store.DueSchedules(ctx, start)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to read due schedules")
		d.metrics.TickCompleted(d.clock().Sub(start), 0, err)
		return
	}

	for _, sched := range due {
		d.fire(ctx, sched, start)
	}

	d.metrics.TickCompleted(d.clock().Sub(start), len(due), nil)
}

// fire attempts one delivery and records the outcome. Each due schedule is
// processed independently: a failure here never aborts the rest of the pass,
// and the schedule state advances regardless of the delivery result.
func (d *Dispatcher) fire(ctx context.Context, sched domain.Schedule, now time.Time) {
	log := d.log.With().
		Stringer("schedule_id", sched.ID).
		Str("schedule", sched.Name).
		Logger()

	if !sched.Rule.Valid() {
		// Pre-validation row; the calculator degrades it to a daily cadence.
		log.Warn().Str("rule", string(sched.Rule)).Msg("unknown recurrence rule, advancing on daily cadence")
	}

	if err := d.deliver(ctx, sched); err != nil {
		log.Error().Err(err).Msg("delivery failed, occurrence skipped")
		d.metrics.DeliveryOutcome(metrics.OutcomeFailed)
	} else {
		log.Info().Msg("newsletter delivered")
		d.metrics.DeliveryOutcome(metrics.OutcomeSent)
		d.recordAnalytics(ctx, sched.ID, now)
	}

	if err := d.store.RecordFire(ctx, sched.ID, now); err != nil {
		log.Error().Err(err).Msg("failed to record fire")
	}
}

// deliver invokes the delivery callback, converting a panic into an error so
// a misbehaving collaborator is contained to its own schedule.
func (d *Dispatcher) deliver(ctx context.Context, sched domain.Schedule) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panic: %v", r)
		}
	}()
	return d.deliverer.Deliver(ctx, sched)
}

func (d *Dispatcher) recordAnalytics(ctx context.Context, id uuid.UUID, firedAt time.Time) {
	if d.analytics == nil {
		return
	}
	if err := d.analytics.Record(ctx, id, firedAt); err != nil {
		d.log.Warn().Err(err).Stringer("schedule_id", id).Msg("analytics write failed")
	}
}
