// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package outbox

import (
	"context"
	"time"

	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/metrics"
	"github.com/tomtom215/presencewatch/internal/models"
)

// maxBackoffShift caps retry backoff at interval * 64.
const maxBackoffShift = 6

// Sender publishes one activity event. *eventbus.Publisher satisfies it.
type Sender interface {
	Publish(ctx context.Context, ev models.ActivityEvent) error
}

// Option configures a Relay.
type Option func(*Relay)

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// Relay delivers activity events through the outbox: each event is stored,
// published and deleted on success. Failed entries are retried every
// interval with exponential backoff until maxRetries, then dropped.
type Relay struct {
	outbox     *Outbox
	sender     Sender
	interval   time.Duration
	maxRetries int
	now        func() time.Time
}

// NewRelay creates a relay. Non-positive values fall back to a 30s interval
// and 20 retries.
func NewRelay(o *Outbox, sender Sender, interval time.Duration, maxRetries int, opts ...Option) *Relay {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxRetries < 1 {
		maxRetries = 20
	}
	r := &Relay{
		outbox:     o,
		sender:     sender,
		interval:   interval,
		maxRetries: maxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NotifyActivity implements presence.Notifier. If the outbox write fails
// the event is still published once without retry.
func (r *Relay) NotifyActivity(ctx context.Context, ev models.ActivityEvent) {
	stored := true
	if err := r.outbox.Put(ctx, ev, r.now()); err != nil {
		stored = false
		logging.Ctx(ctx).Error().Err(err).Str("activity_id", ev.ID).Msg("[outbox] Write failed, publishing without retry")
	}

	if err := r.sender.Publish(ctx, ev); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("activity_id", ev.ID).Bool("queued", stored).Msg("[outbox] Publish failed")
		if stored {
			if _, ferr := r.outbox.RecordFailure(ctx, ev.ID, err, r.now()); ferr != nil {
				logging.Warn().Err(ferr).Str("activity_id", ev.ID).Msg("[outbox] Recording failure")
			}
		}
		r.updatePending()
		return
	}

	metrics.EventsPublished.WithLabelValues("success").Inc()
	if stored {
		if err := r.outbox.Delete(ctx, ev.ID); err != nil {
			logging.Warn().Err(err).Str("activity_id", ev.ID).Msg("[outbox] Delete after publish failed")
		}
	}
}

// Run redelivers pending entries once immediately, which recovers events
// left over from a previous process, then every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	logging.Info().Dur("interval", r.interval).Int("max_retries", r.maxRetries).Msg("[outbox] Relay started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.RetryPending(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RetryStats counts the outcome of one RetryPending pass.
type RetryStats struct {
	Sent    int
	Failed  int
	Dropped int
	Waiting int
}

func (s RetryStats) total() int { return s.Sent + s.Failed + s.Dropped }

// RetryPending attempts every pending entry whose backoff has elapsed.
// Entries that reached maxRetries are dropped.
func (r *Relay) RetryPending(ctx context.Context) RetryStats {
	var stats RetryStats
	entries, err := r.outbox.Pending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logging.Error().Err(err).Msg("[outbox] Listing pending entries failed")
		}
		return stats
	}

	now := r.now()
	for i := range entries {
		if ctx.Err() != nil {
			break
		}
		e := &entries[i]
		switch {
		case e.Attempts >= r.maxRetries:
			r.drop(ctx, e)
			stats.Dropped++
		case now.Sub(e.lastTouched()) < r.backoff(e.Attempts):
			stats.Waiting++
		case r.redeliver(ctx, e):
			stats.Sent++
		default:
			stats.Failed++
		}
	}

	if stats.total() > 0 {
		logging.Info().
			Int("sent", stats.Sent).
			Int("failed", stats.Failed).
			Int("dropped", stats.Dropped).
			Int("waiting", stats.Waiting).
			Msg("[outbox] Retry pass complete")
	}
	r.updatePending()
	return stats
}

// backoff is the wait after the given number of attempts. Zero attempts
// means an in-flight first publish, which gets one interval.
func (r *Relay) backoff(attempts int) time.Duration {
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return r.interval << shift
}

func (r *Relay) redeliver(ctx context.Context, e *Entry) bool {
	if err := r.sender.Publish(ctx, e.Event); err != nil {
		metrics.OutboxRetries.WithLabelValues("failed").Inc()
		if _, ferr := r.outbox.RecordFailure(ctx, e.Event.ID, err, r.now()); ferr != nil {
			logging.Warn().Err(ferr).Str("activity_id", e.Event.ID).Msg("[outbox] Recording failure")
		}
		return false
	}
	metrics.OutboxRetries.WithLabelValues("sent").Inc()
	metrics.EventsPublished.WithLabelValues("success").Inc()
	if err := r.outbox.Delete(ctx, e.Event.ID); err != nil {
		logging.Warn().Err(err).Str("activity_id", e.Event.ID).Msg("[outbox] Delete after redelivery failed")
	}
	return true
}

func (r *Relay) drop(ctx context.Context, e *Entry) {
	metrics.OutboxRetries.WithLabelValues("dropped").Inc()
	logging.Warn().
		Str("activity_id", e.Event.ID).
		Str("server_id", e.Event.ServerID).
		Int("attempts", e.Attempts).
		Str("last_error", e.LastError).
		Msg("[outbox] Dropping event after max retries")
	if err := r.outbox.Delete(ctx, e.Event.ID); err != nil {
		logging.Warn().Err(err).Str("activity_id", e.Event.ID).Msg("[outbox] Delete of dropped entry failed")
	}
}

func (r *Relay) updatePending() {
	if n, err := r.outbox.Len(); err == nil {
		metrics.OutboxPending.Set(float64(n))
	}
}
