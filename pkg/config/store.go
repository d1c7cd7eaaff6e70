package config

import (
	"log/slog"
	"sync/atomic"
)

// Store holds the current snapshot. It has a single writer, the central
// configuration poller, and any number of readers. Reads never lock; a reader
// observes either the previous or the next snapshot, never a mix of both.
type Store struct {
	current atomic.Pointer[Snapshot]
}

var _ slog.Leveler = (*Store)(nil)

func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Current returns the live snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Set replaces the live snapshot. A nil snapshot is ignored so the store
// always holds exactly one.
func (s *Store) Set(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.current.Store(snap)
}

// Level gates log output on the log level of the live snapshot.
func (s *Store) Level() slog.Level {
	snap := s.Current()
	if snap == nil {
		return slog.LevelError
	}
	return snap.LogLevel()
}
