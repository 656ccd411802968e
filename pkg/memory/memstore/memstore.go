// Package memstore provides an in-memory [memory.Store]. It is used when no
// database is configured and as a realistic fake in tests. Nothing survives
// a restart.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/memory"
)

// Compile-time interface check.
var _ memory.Store = (*Store)(nil)

// defaultMaxRecords bounds the record log so a long-running process does not
// grow without limit.
const defaultMaxRecords = 10_000

// Store is a mutex-guarded in-memory [memory.Store].
type Store struct {
	mu         sync.RWMutex
	records    []memory.Record
	maxRecords int
	profiles   []memory.SpeakerProfile
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRecords caps the number of retained records. The oldest are evicted.
func WithMaxRecords(n int) Option {
	return func(s *Store) { s.maxRecords = n }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{maxRecords: defaultMaxRecords, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Insert implements [memory.RecordStore].
func (s *Store) Insert(_ context.Context, rec memory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	s.records = append(s.records, rec)
	if s.maxRecords > 0 && len(s.records) > s.maxRecords {
		s.records = slices.Delete(s.records, 0, len(s.records)-s.maxRecords)
	}
	return nil
}

// RecentSpeakerRatio implements [memory.RecordStore].
func (s *Store) RecentSpeakerRatio(_ context.Context, limit int) (float64, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("memstore: recent speaker ratio: limit must be positive, got %d", limit)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users, total int
	for i := len(s.records) - 1; i >= 0 && total < limit; i-- {
		switch s.records[i].Speaker {
		case memory.SpeakerUser:
			users++
			total++
		case memory.SpeakerOthers:
			total++
		}
	}
	return memory.Ratio(users, total), nil
}

// Records returns a copy of all retained records, oldest first.
func (s *Store) Records() []memory.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// AddProfile implements [memory.SpeakerProfileStore].
func (s *Store) AddProfile(_ context.Context, p memory.SpeakerProfile) error {
	if p.Name == "" {
		return errors.New("memstore: add profile: name must not be empty")
	}
	if len(p.Embedding) == 0 {
		return errors.New("memstore: add profile: embedding must not be empty")
	}
	p.Embedding = slices.Clone(p.Embedding)

	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Primary {
		for i := range s.profiles {
			s.profiles[i].Primary = false
		}
	}
	for i := range s.profiles {
		if s.profiles[i].Name == p.Name {
			p.CreatedAt = s.profiles[i].CreatedAt
			s.profiles[i] = p
			return nil
		}
	}
	p.CreatedAt = s.now()
	s.profiles = append(s.profiles, p)
	return nil
}

// RemoveProfile implements [memory.SpeakerProfileStore].
func (s *Store) RemoveProfile(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = slices.DeleteFunc(s.profiles, func(p memory.SpeakerProfile) bool { return p.Name == name })
	return nil
}

// ListNames implements [memory.SpeakerProfileStore].
func (s *Store) ListNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.profiles))
	for _, p := range s.profiles {
		names = append(names, p.Name)
	}
	return names, nil
}

// PrimaryProfile implements [memory.SpeakerProfileStore].
func (s *Store) PrimaryProfile(_ context.Context) (memory.SpeakerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.Primary {
			p.Embedding = slices.Clone(p.Embedding)
			return p, nil
		}
	}
	return memory.SpeakerProfile{}, memory.ErrNoProfile
}

// Ping implements [memory.Store]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements [memory.Store]. It is a no-op.
func (s *Store) Close() {}
