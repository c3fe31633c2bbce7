// pkg/core/equipment.go
package core

import (
	"encoding/json"
	"math"

	"github.com/google/uuid"
)

// CarSeparation is the coupler gap in metres counted between two coupled
// cars and at each open end of a consist.
const CarSeparation = 0.5

// Handle identifies a live, materialized car in the host world.
// The zero Handle means "not spawned".
type Handle uint64

// TrackID names a single track in the world.
type TrackID string

// CargoType names a kind of cargo.
type CargoType string

// CargoNone marks an empty car.
const CargoNone CargoType = "None"

// Vector3 is a world position in metres.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DistanceTo returns the straight-line distance between v and o.
func (v Vector3) DistanceTo(o Vector3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Quaternion is a world rotation.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Bogie is the track placement of one of the two bogies of a car.
// A derailed bogie has no track.
type Bogie struct {
	Track    TrackID
	Span     float64
	Derailed bool
}

// Equipment is the persisted state of one rolling-stock unit, whether or not
// it is currently materialized in the world.
type Equipment struct {
	ID      string    // stable unit ID, e.g. "L-012"
	CarGUID uuid.UUID // changes only on respawn
	CarType string

	// Position and Rotation are only meaningful while the car is not spawned.
	Position Vector3
	Rotation Quaternion
	Bogies   [2]Bogie

	// uuid.Nil means uncoupled on that side.
	CoupledFront uuid.UUID
	CoupledRear  uuid.UUID

	Exploded    bool
	LoadedCargo CargoType

	// Opaque subsystem blobs, kept verbatim across despawn and respawn.
	CarState  json.RawMessage
	LocoState json.RawMessage

	IsSpawned             bool
	IsMarkedForDespawning bool

	// DestinationID is the legacy single destination, superseded by
	// reservations but still read from old saves.
	DestinationID string

	// Handle is the live handle while spawned. Not persisted.
	Handle Handle
}

// IsLoaded reports whether the car carries any cargo.
func (e *Equipment) IsLoaded() bool {
	return e.LoadedCargo != "" && e.LoadedCargo != CargoNone
}

// IsOnTrack reports whether either bogie sits on the given track.
func (e *Equipment) IsOnTrack(track TrackID) bool {
	for _, b := range e.Bogies {
		if !b.Derailed && b.Track != "" && b.Track == track {
			return true
		}
	}
	return false
}

// Track returns the track of the first railed bogie, or "" when the car is
// fully derailed.
func (e *Equipment) Track() TrackID {
	for _, b := range e.Bogies {
		if !b.Derailed && b.Track != "" {
			return b.Track
		}
	}
	return ""
}

// IsCoupledTo reports whether either coupler points at guid.
func (e *Equipment) IsCoupledTo(guid uuid.UUID) bool {
	return guid != uuid.Nil && (e.CoupledFront == guid || e.CoupledRear == guid)
}

// Clone returns a deep copy of the record.
func (e *Equipment) Clone() *Equipment {
	c := *e
	if e.CarState != nil {
		c.CarState = append(json.RawMessage(nil), e.CarState...)
	}
	if e.LocoState != nil {
		c.LocoState = append(json.RawMessage(nil), e.LocoState...)
	}
	return &c
}

// Reservation is a commitment that a car's cargo moves from one yard to
// another.
type Reservation struct {
	Car      uuid.UUID
	Outbound string
	Inbound  string
}
