// Package host declares the collaborators the extension consumes from the
// simulation it is loaded into.
package host

import (
	"github.com/google/uuid"

	"github.com/stockyard/extension/pkg/core"
)

// World materializes and dematerializes cars. Calls are synchronous within a
// single scheduler step.
type World interface {
	// Spawn places rec in the world using its persisted placement and
	// couplings. It returns the live handle and the GUID the world assigned,
	// which may differ from rec.CarGUID.
	Spawn(rec *core.Equipment) (core.Handle, uuid.UUID, error)
	Despawn(h core.Handle) error
	// Snapshot copies the live placement, couplings, cargo and subsystem
	// state of h into rec.
	Snapshot(h core.Handle, rec *core.Equipment) error
	Speed(h core.Handle) (float64, error)
	Position(h core.Handle) (core.Vector3, error)
}

// Player is the activity anchor distances are measured from.
type Player interface {
	Position() core.Vector3
	// CurrentTrain returns the most recently driven car, if any.
	CurrentTrain() (core.Handle, bool)
}

// IDAllocator keeps unit IDs from being reused while registered.
type IDAllocator interface {
	Register(id string) bool
	Unregister(id string)
}

// JobRuntime turns a populated chain into a running job. It calls
// chain.Complete or chain.Abandon when the job ends.
type JobRuntime interface {
	Launch(chain *core.JobChain) error
}

// FailureReporter receives critical failures caught at an entry point.
// The host may disable the extension in response.
type FailureReporter func(component string, err error)
