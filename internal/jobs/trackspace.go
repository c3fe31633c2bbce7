package jobs

import (
	"sync"

	"github.com/google/uuid"

	"github.com/stockyard/extension/pkg/core"
)

// TrackSpace accounts for destination track length promised to active jobs
// whose cars have not arrived yet.
type TrackSpace struct {
	mu       sync.Mutex
	reserved map[core.TrackID]map[uuid.UUID]float64
}

func NewTrackSpace() *TrackSpace {
	return &TrackSpace{reserved: make(map[core.TrackID]map[uuid.UUID]float64)}
}

// Reserve books length on track for chain, replacing an earlier booking of
// the same chain on that track.
func (s *TrackSpace) Reserve(track core.TrackID, chain uuid.UUID, length float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.reserved[track]
	if !ok {
		m = make(map[uuid.UUID]float64)
		s.reserved[track] = m
	}
	m[chain] = length
}

// Free drops every booking of chain.
func (s *TrackSpace) Free(chain uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for track, m := range s.reserved {
		delete(m, chain)
		if len(m) == 0 {
			delete(s.reserved, track)
		}
	}
}

// Reset drops every booking.
func (s *TrackSpace) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.reserved)
}

// Reserved returns the total length booked on track.
func (s *TrackSpace) Reserved(track core.TrackID) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, l := range s.reserved[track] {
		total += l
	}
	return total
}
