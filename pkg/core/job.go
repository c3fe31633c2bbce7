// pkg/core/job.go
package core

import (
	"fmt"

	"github.com/google/uuid"
)

// JobKind is the kind of a job stage.
type JobKind int

const (
	JobShuntingLoad JobKind = iota
	JobTransport
	JobShuntingUnload
)

func (k JobKind) String() string {
	switch k {
	case JobShuntingLoad:
		return "ShuntingLoad"
	case JobTransport:
		return "Transport"
	case JobShuntingUnload:
		return "ShuntingUnload"
	default:
		return fmt.Sprintf("JobKind(%d)", int(k))
	}
}

// License is a set of unlockable permissions, one bit each.
type License uint32

// Has reports whether every bit of o is present in l.
func (l License) Has(o License) bool {
	return l&o == o
}

// CarsPerTrack lists the cars standing on one starting track.
type CarsPerTrack struct {
	Track Track
	Cars  []uuid.UUID
}

// JobStage is one schedulable job of a chain.
type JobStage struct {
	Kind JobKind

	Origin      string // yard ID
	Destination string // yard ID

	StartingTracks   []CarsPerTrack
	Warehouse        string // machine ID, shunting stages only
	DestinationTrack Track

	CargoGroup  string
	CargoPerCar []CargoType

	RequiredLicenses License
	Payment          float64
	TrainLength      float64
}

// JobChain is an ordered sequence of stages sharing a fixed car set.
type JobChain struct {
	ID     uuid.UUID
	Yard   string
	Cars   []uuid.UUID
	Stages []JobStage

	// ForceCargoState makes the runtime set each car's cargo to match the
	// first stage before it starts.
	ForceCargoState bool

	// Reserved lists the cars whose reservation was made while building the
	// chain. Reservations held before are not part of it.
	Reserved []uuid.UUID

	OnCompleted func(*JobChain)
	OnAbandoned func(*JobChain)
}

// Kind returns the kind of the first stage.
func (c *JobChain) Kind() JobKind {
	if len(c.Stages) == 0 {
		return JobShuntingLoad
	}
	return c.Stages[0].Kind
}

// Complete invokes the completion callback, if any.
func (c *JobChain) Complete() {
	if c.OnCompleted != nil {
		c.OnCompleted(c)
	}
}

// Abandon invokes the abandon callback, if any.
func (c *JobChain) Abandon() {
	if c.OnAbandoned != nil {
		c.OnAbandoned(c)
	}
}
