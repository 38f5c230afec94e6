// Package sweep periodically materializes due scheduled notifications into
// real notification rows and pushes them to connected recipients.
package sweep

import (
	"context"
	"log"
	"time"

	"github.com/campushub/backend/internal/platform/metrics"
	"github.com/campushub/backend/internal/realtime"
	"github.com/campushub/backend/internal/store"
)

const DefaultInterval = time.Minute

var (
	ticksTotal = metrics.NewCounter(metrics.Opts{
		Name: "sweep_ticks_total",
		Help: "Sweep passes executed.",
	})
	deliveredTotal = metrics.NewCounter(metrics.Opts{
		Name: "sweep_delivered_total",
		Help: "Scheduled notifications materialized and marked sent.",
	})
	failuresTotal = metrics.NewCounter(metrics.Opts{
		Name: "sweep_failures_total",
		Help: "Scheduled rows whose processing failed and was skipped.",
	})
)

func init() {
	metrics.Default.MustRegister(ticksTotal, deliveredTotal, failuresTotal)
}

// Store is the slice of the durable store the worker depends on.
type Store interface {
	FindDueScheduledNotifications(ctx context.Context, now time.Time) ([]store.ScheduledNotification, error)
	ClaimScheduledSent(ctx context.Context, scheduledID string) (bool, error)
	CreateNotification(ctx context.Context, userID, message, notifType string) (store.Notification, error)
}

type Pusher interface {
	Push(room, eventName string, payload any) int
}

// Worker drives the sweep on a fixed period. A scheduled row moves from
// pending to sent exactly once: the claim is a compare-and-set on the sent
// flag, so a concurrent or repeated sweep of the same row is a no-op.
type Worker struct {
	Store    Store
	Live     Pusher
	Interval time.Duration
	Now      func() time.Time
}

func NewWorker(st Store, live Pusher) *Worker {
	return &Worker{
		Store:    st,
		Live:     live,
		Interval: DefaultInterval,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	log.Printf("scheduled notification sweep started, interval %s", w.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Tick(ctx, w.Now()); err != nil {
				log.Printf("sweep tick failed: %v", err)
			}
		}
	}
}

// Tick processes every row due at now and returns how many were delivered.
// A failure on one row is logged and does not abort the tick.
func (w *Worker) Tick(ctx context.Context, now time.Time) (int, error) {
	ticksTotal.Inc()

	due, err := w.Store.FindDueScheduledNotifications(ctx, now)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, sn := range due {
		ok, err := w.process(ctx, sn)
		if err != nil {
			failuresTotal.Inc()
			log.Printf("scheduled notification %s failed: %v", sn.ID, err)
			continue
		}
		if ok {
			delivered++
			deliveredTotal.Inc()
		}
	}
	return delivered, nil
}

// process claims the row first, then creates and pushes the notification.
// Claiming before delivery trades the duplicate-on-crash of the naive order
// for at-most-once: losing the claim means another sweep owns the row.
func (w *Worker) process(ctx context.Context, sn store.ScheduledNotification) (bool, error) {
	won, err := w.Store.ClaimScheduledSent(ctx, sn.ID)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	n, err := w.Store.CreateNotification(ctx, sn.UserID, sn.Message, sn.Type)
	if err != nil {
		return false, err
	}
	w.Live.Push(realtime.UserRoom(sn.UserID), "notification", n)
	return true, nil
}
