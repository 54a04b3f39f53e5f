package ratelimit

import (
	"context"
	"time"
)

type localCoordinator struct {
	history ActionHistory
}

type localReservation struct {
	history ActionHistory
	scope   string
	at      time.Time
	count   int64
}

func newLocal(opts LocalOptions) Coordinator {
	return &localCoordinator{history: opts.History}
}

func (l *localCoordinator) Reserve(_ context.Context, scope string, window time.Duration, limit int64, now time.Time) (Reservation, error) {
	if l.history == nil {
		return nil, ErrRateLimitExceeded
	}
	var current int
	if scope == "" {
		current = l.history.RecentCount(window, now)
	} else {
		current = l.history.RecentCountFor(scope, window, now)
	}
	if int64(current) >= limit {
		return nil, ErrRateLimitExceeded
	}
	return &localReservation{history: l.history, scope: scope, at: now, count: int64(current) + 1}, nil
}

// Commit records the action so later reservations see it.
func (r *localReservation) Commit(context.Context) error {
	r.history.RecordAction(r.scope, r.at)
	return nil
}

func (r *localReservation) Release(context.Context) error { return nil }

func (r *localReservation) Count() int64 { return r.count }
