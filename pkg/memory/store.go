// Package memory defines the persistence interfaces the pipeline consumes.
//
// Two stores are involved:
//
//   - [RecordStore]: an append-only log of dialogue turns. The speaker
//     attributor reads back the recent user/others ratio to adapt its
//     verification threshold.
//   - [SpeakerProfileStore]: enrolled voiceprints, with exactly one profile
//     flagged as the primary user once enrollment has completed.
//
// Implementations live in sub-packages (postgres, memstore) and in mock for
// tests. Every implementation must be safe for concurrent use.
package memory

import "context"

// RecordStore persists dialogue turns.
type RecordStore interface {
	// Insert appends rec to the log.
	Insert(ctx context.Context, rec Record) error

	// RecentSpeakerRatio returns the fraction of the last limit user/others
	// turns that were spoken by [SpeakerUser]. Assistant turns are not
	// counted. With no turns recorded it returns 0.5.
	RecentSpeakerRatio(ctx context.Context, limit int) (float64, error)
}

// SpeakerProfileStore persists enrolled voiceprints.
type SpeakerProfileStore interface {
	// AddProfile upserts p by name. When p.Primary is set, every other
	// profile loses its primary flag in the same operation.
	AddProfile(ctx context.Context, p SpeakerProfile) error

	// RemoveProfile deletes the named profile. Removing an unknown name is
	// not an error.
	RemoveProfile(ctx context.Context, name string) error

	// ListNames returns all profile names in creation order.
	ListNames(ctx context.Context) ([]string, error)

	// PrimaryProfile returns the primary profile or [ErrNoProfile].
	PrimaryProfile(ctx context.Context) (SpeakerProfile, error)
}

// Store bundles both stores behind one connection.
type Store interface {
	RecordStore
	SpeakerProfileStore

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close()
}

// neutralRatio is reported when there is no history to learn from.
const neutralRatio = 0.5

// Ratio computes the user share among user and others counts. It is shared by
// the implementations so they agree on the empty case.
func Ratio(users, total int) float64 {
	if total <= 0 {
		return neutralRatio
	}
	return float64(users) / float64(total)
}
