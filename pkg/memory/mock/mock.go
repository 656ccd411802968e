// Package mock provides test doubles for the memory layer interfaces.
//
// Store records every method call for assertion in tests and exposes exported
// fields that control what it returns. Profiles added through AddProfile are
// kept so a later PrimaryProfile call sees them, unless PrimaryResult is set.
// All methods are safe for concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{RatioResult: 0.9}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Insert"); got != 1 {
//	    t.Errorf("expected 1 Insert call, got %d", got)
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [memory.Store].
type Store struct {
	mu sync.Mutex

	calls    []Call
	records  []memory.Record
	profiles []memory.SpeakerProfile

	// InsertErr is returned by Insert when non-nil.
	InsertErr error

	// RatioResult is returned by RecentSpeakerRatio. Zero means 0.5.
	RatioResult float64

	// RatioErr is returned by RecentSpeakerRatio when non-nil.
	RatioErr error

	// AddProfileErr is returned by AddProfile when non-nil.
	AddProfileErr error

	// RemoveProfileErr is returned by RemoveProfile when non-nil.
	RemoveProfileErr error

	// PrimaryResult, when non-nil, is returned by PrimaryProfile instead of
	// the stored primary.
	PrimaryResult *memory.SpeakerProfile

	// PrimaryErr is returned by PrimaryProfile when non-nil.
	PrimaryErr error

	// PingErr is returned by Ping when non-nil.
	PingErr error
}

var _ memory.Store = (*Store)(nil)

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Records returns every record passed to a successful Insert.
func (m *Store) Records() []memory.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

// Reset clears recorded calls and stored data without altering response
// configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.records = nil
	m.profiles = nil
}

// Insert implements [memory.RecordStore].
func (m *Store) Insert(_ context.Context, rec memory.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Insert", Args: []any{rec}})
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.records = append(m.records, rec)
	return nil
}

// RecentSpeakerRatio implements [memory.RecordStore].
func (m *Store) RecentSpeakerRatio(_ context.Context, limit int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "RecentSpeakerRatio", Args: []any{limit}})
	if m.RatioErr != nil {
		return 0, m.RatioErr
	}
	if m.RatioResult == 0 {
		return 0.5, nil
	}
	return m.RatioResult, nil
}

// AddProfile implements [memory.SpeakerProfileStore].
func (m *Store) AddProfile(_ context.Context, p memory.SpeakerProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "AddProfile", Args: []any{p}})
	if m.AddProfileErr != nil {
		return m.AddProfileErr
	}
	p.Embedding = slices.Clone(p.Embedding)
	if p.Primary {
		for i := range m.profiles {
			m.profiles[i].Primary = false
		}
	}
	m.profiles = slices.DeleteFunc(m.profiles, func(q memory.SpeakerProfile) bool { return q.Name == p.Name })
	m.profiles = append(m.profiles, p)
	return nil
}

// RemoveProfile implements [memory.SpeakerProfileStore].
func (m *Store) RemoveProfile(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "RemoveProfile", Args: []any{name}})
	if m.RemoveProfileErr != nil {
		return m.RemoveProfileErr
	}
	m.profiles = slices.DeleteFunc(m.profiles, func(q memory.SpeakerProfile) bool { return q.Name == name })
	return nil
}

// ListNames implements [memory.SpeakerProfileStore].
func (m *Store) ListNames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "ListNames"})
	names := make([]string, 0, len(m.profiles))
	for _, p := range m.profiles {
		names = append(names, p.Name)
	}
	return names, nil
}

// PrimaryProfile implements [memory.SpeakerProfileStore].
func (m *Store) PrimaryProfile(_ context.Context) (memory.SpeakerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "PrimaryProfile"})
	if m.PrimaryErr != nil {
		return memory.SpeakerProfile{}, m.PrimaryErr
	}
	if m.PrimaryResult != nil {
		return *m.PrimaryResult, nil
	}
	for _, p := range m.profiles {
		if p.Primary {
			p.Embedding = slices.Clone(p.Embedding)
			return p, nil
		}
	}
	return memory.SpeakerProfile{}, memory.ErrNoProfile
}

// Ping implements [memory.Store].
func (m *Store) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Ping"})
	return m.PingErr
}

// Close implements [memory.Store].
func (m *Store) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Close"})
}
