package risk

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SignalStore is the append-only set of signals awaiting decay.
type SignalStore struct {
	mu      sync.Mutex
	signals []Signal
}

// Append adds a signal.
func (s *SignalStore) Append(sig Signal) {
	s.mu.Lock()
	s.signals = append(s.signals, sig)
	s.mu.Unlock()
}

// Snapshot returns a copy of the stored signals.
func (s *SignalStore) Snapshot() []Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

// Len reports the number of stored signals.
func (s *SignalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.signals)
}

// Prune drops signals whose decayed magnitude at now is at or below threshold
// and returns how many were removed.
func (s *SignalStore) Prune(now time.Time, halfLife time.Duration, threshold float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.signals[:0]
	for _, sig := range s.signals {
		if DecayedMagnitude(sig, now, halfLife) > threshold {
			kept = append(kept, sig)
		}
	}
	removed := len(s.signals) - len(kept)
	// release references held by the tail
	for i := len(kept); i < len(s.signals); i++ {
		s.signals[i] = Signal{}
	}
	s.signals = kept
	return removed
}

// Clear removes every signal and returns how many were dropped.
func (s *SignalStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.signals)
	s.signals = nil
	return n
}

// StateStore holds the latest corridor snapshots. The whole map is replaced
// on every write, so readers never observe a partial recompute.
type StateStore struct {
	current atomic.Pointer[map[string]CorridorState]
}

// Replace installs a new snapshot map. The caller must not mutate it afterwards.
func (s *StateStore) Replace(states map[string]CorridorState) {
	s.current.Store(&states)
}

// Get returns the snapshot for one pair.
func (s *StateStore) Get(pair string) (CorridorState, bool) {
	m := s.current.Load()
	if m == nil {
		return CorridorState{}, false
	}
	st, ok := (*m)[pair]
	return st, ok
}

// All returns every snapshot sorted by pair.
func (s *StateStore) All() []CorridorState {
	m := s.current.Load()
	if m == nil {
		return nil
	}
	out := make([]CorridorState, 0, len(*m))
	for _, st := range *m {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}

func (s *StateStore) load() map[string]CorridorState {
	m := s.current.Load()
	if m == nil {
		return nil
	}
	return *m
}
