package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Store] and keeps the record log non-fatal. Insert and
// RecentSpeakerRatio failures are logged and swallowed, with the ratio
// falling back to neutral. Profile operations and Ping still return their
// errors, since enrollment and readiness must see them.
//
// Every call updates the degraded flag: a failure sets it and a success
// clears it.
type Guard struct {
	store    Store
	degraded atomic.Bool
}

var _ Store = (*Guard)(nil)

// NewGuard creates a [Guard] wrapping store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Degraded reports whether the most recent operation on the underlying
// store failed.
func (g *Guard) Degraded() bool { return g.degraded.Load() }

func (g *Guard) observe(op string, err error) error {
	if err == nil {
		if g.degraded.CompareAndSwap(true, false) {
			slog.Info("memory: store recovered", "op", op)
		}
		return nil
	}
	if g.degraded.CompareAndSwap(false, true) {
		slog.Warn("memory: store degraded", "op", op, "err", err)
	}
	return err
}

// Insert appends rec. A failure is logged and reported as success.
func (g *Guard) Insert(ctx context.Context, rec Record) error {
	if err := g.observe("insert", g.store.Insert(ctx, rec)); err != nil {
		slog.Warn("memory: record dropped", "category", rec.Category, "err", err)
	}
	return nil
}

// RecentSpeakerRatio returns the neutral ratio when the store fails.
func (g *Guard) RecentSpeakerRatio(ctx context.Context, limit int) (float64, error) {
	r, err := g.store.RecentSpeakerRatio(ctx, limit)
	if g.observe("ratio", err) != nil {
		return neutralRatio, nil
	}
	return r, nil
}

func (g *Guard) AddProfile(ctx context.Context, p SpeakerProfile) error {
	return g.observe("add_profile", g.store.AddProfile(ctx, p))
}

func (g *Guard) RemoveProfile(ctx context.Context, name string) error {
	return g.observe("remove_profile", g.store.RemoveProfile(ctx, name))
}

func (g *Guard) ListNames(ctx context.Context) ([]string, error) {
	names, err := g.store.ListNames(ctx)
	return names, g.observe("list_names", err)
}

// PrimaryProfile passes [ErrNoProfile] through without marking the store
// degraded.
func (g *Guard) PrimaryProfile(ctx context.Context) (SpeakerProfile, error) {
	p, err := g.store.PrimaryProfile(ctx)
	if errors.Is(err, ErrNoProfile) {
		g.observe("primary_profile", nil)
		return p, err
	}
	return p, g.observe("primary_profile", err)
}

func (g *Guard) Ping(ctx context.Context) error {
	return g.observe("ping", g.store.Ping(ctx))
}

func (g *Guard) Close() { g.store.Close() }
