// pkg/core/yard.go
package core

import "slices"

// Track is one track of a yard with its usable length in metres.
type Track struct {
	ID     TrackID
	Length float64
}

// WarehouseMachine loads or unloads specific cargo types on its track.
type WarehouseMachine struct {
	ID    string
	Track Track
	Cargo []CargoType
}

// Supports reports whether the machine handles the cargo type.
func (w WarehouseMachine) Supports(c CargoType) bool {
	return slices.Contains(w.Cargo, c)
}

// SupportsAny reports whether the machine handles any cargo of the group.
func (w WarehouseMachine) SupportsAny(g CargoGroup) bool {
	for _, c := range g.Cargo {
		if w.Supports(c) {
			return true
		}
	}
	return false
}

// CargoGroup is a set of cargo types a yard treats as interchangeable.
// Yards lists the partner yards: destinations for an outbound group,
// sources for an inbound group.
type CargoGroup struct {
	Name  string
	Cargo []CargoType
	Yards []string
}

// Contains reports whether the group includes the cargo type.
func (g CargoGroup) Contains(c CargoType) bool {
	return slices.Contains(g.Cargo, c)
}

// Ruleset configures job generation for a yard.
type Ruleset struct {
	OutputCargoGroups []CargoGroup
	InputCargoGroups  []CargoGroup

	MinCarsPerJob            int
	MaxCarsPerJob            int
	MaxShuntingStorageTracks int

	LoadStartingJobSupported   bool
	HaulStartingJobSupported   bool
	UnloadStartingJobSupported bool
}

// Yard is a station's collection of tracks; the unit job generation is
// scoped to.
type Yard struct {
	ID       string
	Position Vector3

	StorageTracks  []Track
	InboundTracks  []Track
	OutboundTracks []Track
	Warehouses     []WarehouseMachine

	Ruleset Ruleset
}

// Tracks returns every track of the yard, storage first.
func (y *Yard) Tracks() []Track {
	all := make([]Track, 0, len(y.StorageTracks)+len(y.InboundTracks)+len(y.OutboundTracks)+len(y.Warehouses))
	all = append(all, y.StorageTracks...)
	all = append(all, y.InboundTracks...)
	all = append(all, y.OutboundTracks...)
	for _, w := range y.Warehouses {
		all = append(all, w.Track)
	}
	return all
}

// WarehousesFor returns the machines supporting at least one cargo of g.
func (y *Yard) WarehousesFor(g CargoGroup) []WarehouseMachine {
	var out []WarehouseMachine
	for _, w := range y.Warehouses {
		if w.SupportsAny(g) {
			out = append(out, w)
		}
	}
	return out
}

// LongestTrack returns the length of the longest track, or 0.
func LongestTrack(tracks []Track) float64 {
	var longest float64
	for _, t := range tracks {
		longest = max(longest, t.Length)
	}
	return longest
}
