// Package monitor reports the extension's runtime status.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// Status is a point-in-time snapshot.
type Status struct {
	Time time.Time `json:"time"`

	Equipment    int `json:"equipment"`
	Spawned      int `json:"spawned"`
	Reservations int `json:"reservations"`
	ActiveJobs   int `json:"activeJobs"`
	Tasks        int `json:"tasks"`

	CarDeletion bool     `json:"carDeletion"`
	Generating  []string `json:"generating"`

	StatsDropped int64 `json:"statsDropped"`

	Storage          string    `json:"storage"`
	LastSave         time.Time `json:"lastSave,omitempty"`
	LastSaveDuration float64   `json:"lastSaveDurationMs"`
}

// Dependencies holds the probes the monitor reads. Nil probes report zero.
type Dependencies struct {
	Equipment    func() (total, spawned int)
	Reservations func() int
	ActiveJobs   func() int
	Tasks        func() int
	CarDeletion  func() bool
	Generating   func() []string
	StatsDropped func() int64
	Storage      string
	Log          *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps Dependencies

	mu        sync.RWMutex
	lastSave  time.Time
	saveTook  time.Duration
	isRunning bool
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Service{deps: deps}
}

// RecordSave notes a completed save.
func (s *Service) RecordSave(at time.Time, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSave = at
	s.saveTook = took
}

// Status returns the current snapshot.
func (s *Service) Status() Status {
	st := Status{Time: time.Now().UTC(), Storage: s.deps.Storage}

	if s.deps.Equipment != nil {
		st.Equipment, st.Spawned = s.deps.Equipment()
	}
	if s.deps.Reservations != nil {
		st.Reservations = s.deps.Reservations()
	}
	if s.deps.ActiveJobs != nil {
		st.ActiveJobs = s.deps.ActiveJobs()
	}
	if s.deps.Tasks != nil {
		st.Tasks = s.deps.Tasks()
	}
	if s.deps.CarDeletion != nil {
		st.CarDeletion = s.deps.CarDeletion()
	}
	if s.deps.Generating != nil {
		st.Generating = s.deps.Generating()
		sort.Strings(st.Generating)
	}
	if s.deps.StatsDropped != nil {
		st.StatsDropped = s.deps.StatsDropped()
	}
	if st.Generating == nil {
		st.Generating = []string{}
	}

	s.mu.RLock()
	st.LastSave = s.lastSave
	st.LastSaveDuration = float64(s.saveTook.Microseconds()) / 1000
	s.mu.RUnlock()
	return st
}

// JSON returns the snapshot as indented JSON.
func (s *Service) JSON() string {
	data, err := json.MarshalIndent(s.Status(), "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// IsRunning returns whether the status file writer is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Start rewrites the status file at path every interval until Stop.
func (s *Service) Start(path string, interval time.Duration) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}

	statusFile, err := os.Create(path)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("creating status file: %w", err)
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer statusFile.Close()
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Log.Debug("Starting status monitor", "path", path, "interval", interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			s.writeStatus(statusFile)
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (s *Service) writeStatus(f *os.File) {
	if err := f.Truncate(0); err != nil {
		s.deps.Log.Error("Error truncating status file", "error", err)
		return
	}
	if _, err := f.Seek(0, 0); err != nil {
		s.deps.Log.Error("Error rewinding status file", "error", err)
		return
	}
	if _, err := f.WriteString(s.JSON() + "\n"); err != nil {
		s.deps.Log.Error("Error writing status file", "error", err)
	}
}

// Stop stops the status file writer and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	stop, done := s.stopChan, s.done
	s.stopChan = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
