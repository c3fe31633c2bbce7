// Package jobs turns a selected car group and cargo association into a job
// chain ready to be launched.
package jobs

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stockyard/extension/internal/catalog"
	"github.com/stockyard/extension/internal/registry"
	"github.com/stockyard/extension/internal/reservation"
	"github.com/stockyard/extension/pkg/core"
)

var (
	// ErrNoDestination is returned when no track, warehouse or yard has
	// enough free length for the train.
	ErrNoDestination = errors.New("no destination with enough free length")
	// ErrEmptyRequest is returned for a request without yard or cars.
	ErrEmptyRequest = errors.New("job request has no yard or no cars")
)

// YardLookup resolves yard IDs.
type YardLookup interface {
	Yard(id string) (*core.Yard, bool)
}

// Request is the input of every builder.
type Request struct {
	Yard  *core.Yard
	Group core.CargoGroup

	// Outbound and Inbound restrict the yards of the association; "" is the
	// wildcard.
	Outbound string
	Inbound  string

	// Sets are the coupled sets making up the train, in order.
	Sets [][]*core.Equipment
}

// Cars flattens the request's sets.
func (r Request) Cars() []*core.Equipment {
	var out []*core.Equipment
	for _, s := range r.Sets {
		out = append(out, s...)
	}
	return out
}

// Builder constructs job chains. Registry and Space are read to find free
// destination length; Reservations is written by BuildHaul.
type Builder struct {
	Catalog      catalog.Catalog
	Registry     *registry.Registry
	Reservations *reservation.Tracker
	Space        *TrackSpace
	Yards        YardLookup
	Log          *slog.Logger
}

func (b *Builder) log() *slog.Logger {
	if b.Log == nil {
		return slog.Default()
	}
	return b.Log
}

func (b *Builder) carLength(e *core.Equipment) float64 {
	return b.Catalog.CarLength(e.CarType)
}

// freeLength is the usable length of track once standing cars (other than
// own) and space promised to other jobs are subtracted.
func (b *Builder) freeLength(track core.Track, own []*core.Equipment) float64 {
	occupied := b.Registry.OccupiedLength(track.ID, b.carLength)
	ownOnTrack := 0
	for _, e := range own {
		if e.IsOnTrack(track.ID) {
			occupied -= b.carLength(e) + core.CarSeparation
			ownOnTrack++
		}
	}
	if ownOnTrack > 0 && occupied <= core.CarSeparation {
		occupied = 0
	}
	return track.Length - occupied - b.Space.Reserved(track.ID)
}

// pickTrack returns the first track with at least length free.
func (b *Builder) pickTrack(tracks []core.Track, length float64, own []*core.Equipment) (core.Track, bool) {
	for _, t := range tracks {
		if b.freeLength(t, own) >= length {
			return t, true
		}
	}
	return core.Track{}, false
}

// validate logs missing references. It only fails when no job can be built
// at all.
func (b *Builder) validate(kind core.JobKind, req Request) ([]*core.Equipment, error) {
	log := b.log().With("kind", kind.String())
	if req.Yard == nil {
		log.Error("Job request without yard")
		return nil, ErrEmptyRequest
	}
	cars := req.Cars()
	if len(cars) == 0 {
		log.Error("Job request without cars", "yard", req.Yard.ID)
		return nil, ErrEmptyRequest
	}
	if req.Group.Name == "" || len(req.Group.Cargo) == 0 {
		log.Error("Job request without cargo data", "yard", req.Yard.ID, "group", req.Group.Name)
	}
	for _, c := range cars {
		if c == nil {
			log.Error("Job request contains a nil car", "yard", req.Yard.ID)
			continue
		}
		if c.Track() == "" {
			log.Error("Car in job request is not on a track", "yard", req.Yard.ID, "id", c.ID)
		}
	}
	return nonNil(cars), nil
}

func nonNil(cars []*core.Equipment) []*core.Equipment {
	out := cars[:0:0]
	for _, c := range cars {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// startingTracks groups cars by the track they stand on, in order of first
// appearance. Derailed cars are grouped under an empty track.
func startingTracks(y *core.Yard, cars []*core.Equipment) []core.CarsPerTrack {
	lengths := make(map[core.TrackID]float64)
	for _, t := range y.Tracks() {
		lengths[t.ID] = t.Length
	}

	var out []core.CarsPerTrack
	index := make(map[core.TrackID]int)
	for _, c := range cars {
		id := c.Track()
		i, ok := index[id]
		if !ok {
			i = len(out)
			index[id] = i
			out = append(out, core.CarsPerTrack{Track: core.Track{ID: id, Length: lengths[id]}})
		}
		out[i].Cars = append(out[i].Cars, c.CarGUID)
	}
	return out
}

func guids(cars []*core.Equipment) []uuid.UUID {
	out := make([]uuid.UUID, len(cars))
	for i, c := range cars {
		out[i] = c.CarGUID
	}
	return out
}

func newChain(y *core.Yard, cars []*core.Equipment, stage core.JobStage) *core.JobChain {
	return &core.JobChain{
		ID:              uuid.New(),
		Yard:            y.ID,
		Cars:            guids(cars),
		Stages:          []core.JobStage{stage},
		ForceCargoState: true,
	}
}
