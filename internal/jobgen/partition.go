package jobgen

import (
	"github.com/google/uuid"

	"github.com/stockyard/extension/internal/catalog"
	"github.com/stockyard/extension/pkg/core"
)

// ReservationLookup is the read side of the reservation tracker.
type ReservationLookup interface {
	TryGet(car uuid.UUID) (core.Reservation, bool)
}

// Pools holds the disjoint result of partitioning a candidate pool.
type Pools struct {
	Loading   []*core.Equipment
	Hauling   []*core.Equipment
	Unloading []*core.Equipment
	Excluded  []*core.Equipment
}

// Of returns the pool generating jobs of kind.
func (p *Pools) Of(kind core.JobKind) []*core.Equipment {
	switch kind {
	case core.JobShuntingLoad:
		return p.Loading
	case core.JobTransport:
		return p.Hauling
	default:
		return p.Unloading
	}
}

// Partition assigns every car to the first pool it qualifies for: loading,
// then hauling, then unloading. Cars that fit none are excluded. Pools whose
// starting job kind the ruleset does not support stay empty.
func Partition(y *core.Yard, cat catalog.Catalog, res ReservationLookup, pool []*core.Equipment) Pools {
	outbound := licensedGroups(cat, y.Ruleset.OutputCargoGroups)
	inbound := licensedGroups(cat, y.Ruleset.InputCargoGroups)
	rs := y.Ruleset

	var p Pools
	for _, car := range pool {
		switch {
		case rs.LoadStartingJobSupported && canLoad(cat, car, outbound):
			p.Loading = append(p.Loading, car)
		case rs.HaulStartingJobSupported && canHaul(car, outbound, y.ID, res):
			p.Hauling = append(p.Hauling, car)
		case rs.UnloadStartingJobSupported && canUnload(car, inbound, y.ID, res):
			p.Unloading = append(p.Unloading, car)
		default:
			p.Excluded = append(p.Excluded, car)
		}
	}
	return p
}

func licensedGroups(cat catalog.Catalog, groups []core.CargoGroup) []core.CargoGroup {
	var out []core.CargoGroup
	for _, g := range groups {
		if catalog.CargoGroupLicensed(cat, g) {
			out = append(out, g)
		}
	}
	return out
}

func canLoad(cat catalog.Catalog, car *core.Equipment, groups []core.CargoGroup) bool {
	if car.IsLoaded() {
		return false
	}
	for _, g := range groups {
		if catalog.CanCarHoldAny(cat, car.CarType, g) {
			return true
		}
	}
	return false
}

func canHaul(car *core.Equipment, groups []core.CargoGroup, yard string, res ReservationLookup) bool {
	if !car.IsLoaded() || !inAnyGroup(car.LoadedCargo, groups) {
		return false
	}
	r, ok := res.TryGet(car.CarGUID)
	return !ok || r.Outbound == yard
}

func canUnload(car *core.Equipment, groups []core.CargoGroup, yard string, res ReservationLookup) bool {
	if !car.IsLoaded() || !inAnyGroup(car.LoadedCargo, groups) {
		return false
	}
	r, ok := res.TryGet(car.CarGUID)
	return !ok || r.Inbound == yard
}

func inAnyGroup(cargo core.CargoType, groups []core.CargoGroup) bool {
	for _, g := range groups {
		if g.Contains(cargo) {
			return true
		}
	}
	return false
}
