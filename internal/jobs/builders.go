package jobs

import (
	"fmt"
	"slices"

	"github.com/stockyard/extension/pkg/core"
)

// BuildLoad creates a shunting-load chain: empty cars are collected from
// their starting tracks, loaded at a warehouse machine and left on an
// outbound track.
func (b *Builder) BuildLoad(req Request) (*core.JobChain, error) {
	const kind = core.JobShuntingLoad
	cars, err := b.validate(kind, req)
	if err != nil {
		return nil, err
	}
	y := req.Yard
	length := TrainLength(b.Catalog, cars)

	machine, cargo, ok := b.pickWarehouse(y.WarehousesFor(req.Group), length, cars,
		func(m core.WarehouseMachine, c *core.Equipment) (core.CargoType, bool) {
			for _, cargo := range req.Group.Cargo {
				if m.Supports(cargo) && b.Catalog.CanCarHold(c.CarType, cargo) {
					return cargo, true
				}
			}
			return "", false
		})
	if !ok {
		return nil, fmt.Errorf("load at %s: warehouse for %s: %w", y.ID, req.Group.Name, ErrNoDestination)
	}
	dest, ok := b.pickTrack(y.OutboundTracks, length, cars)
	if !ok {
		return nil, fmt.Errorf("load at %s: outbound track: %w", y.ID, ErrNoDestination)
	}

	starting := startingTracks(y, cars)
	stage := core.JobStage{
		Kind:             kind,
		Origin:           y.ID,
		Destination:      y.ID,
		StartingTracks:   starting,
		Warehouse:        machine.ID,
		DestinationTrack: dest,
		CargoGroup:       req.Group.Name,
		CargoPerCar:      cargo,
		RequiredLicenses: RequiredLicenses(b.Catalog, kind, cargo, len(cars)),
		Payment:          Payment(b.Catalog, kind, ShuntingDistance(len(starting)), NewPaymentData(cars, cargo)),
		TrainLength:      length,
	}
	chain := newChain(y, cars, stage)
	b.Space.Reserve(dest.ID, chain.ID, length)
	return chain, nil
}

// BuildHaul creates a transport chain moving loaded cars from this yard to a
// partner yard's inbound track. Every car is reserved for the pair.
func (b *Builder) BuildHaul(req Request) (*core.JobChain, error) {
	const kind = core.JobTransport
	cars, err := b.validate(kind, req)
	if err != nil {
		return nil, err
	}
	y := req.Yard
	length := TrainLength(b.Catalog, cars)

	dest, track, ok := b.pickDestinationYard(req, length, cars)
	if !ok {
		return nil, fmt.Errorf("haul from %s: %w", y.ID, ErrNoDestination)
	}

	cargo := loadedCargo(cars)
	starting := startingTracks(y, cars)
	stage := core.JobStage{
		Kind:             kind,
		Origin:           y.ID,
		Destination:      dest.ID,
		StartingTracks:   starting,
		DestinationTrack: track,
		CargoGroup:       req.Group.Name,
		CargoPerCar:      cargo,
		RequiredLicenses: RequiredLicenses(b.Catalog, kind, cargo, len(cars)),
		Payment:          Payment(b.Catalog, kind, y.Position.DistanceTo(dest.Position), NewPaymentData(cars, cargo)),
		TrainLength:      length,
	}
	chain := newChain(y, cars, stage)

	for _, c := range cars {
		if r, ok := b.Reservations.TryGet(c.CarGUID); ok {
			if r.Outbound == y.ID && r.Inbound == dest.ID {
				continue
			}
			b.log().Error("Car reserved for another route",
				"id", c.ID, "outbound", r.Outbound, "inbound", r.Inbound, "route", y.ID+"->"+dest.ID)
			continue
		}
		if b.Reservations.Reserve(c.CarGUID, y.ID, dest.ID) {
			chain.Reserved = append(chain.Reserved, c.CarGUID)
		}
	}
	b.Space.Reserve(track.ID, chain.ID, length)
	return chain, nil
}

// BuildUnload creates a shunting-unload chain: loaded cars are unloaded at a
// warehouse machine of this yard and left on a storage track.
func (b *Builder) BuildUnload(req Request) (*core.JobChain, error) {
	const kind = core.JobShuntingUnload
	cars, err := b.validate(kind, req)
	if err != nil {
		return nil, err
	}
	y := req.Yard
	length := TrainLength(b.Catalog, cars)

	machine, cargo, ok := b.pickWarehouse(y.WarehousesFor(req.Group), length, cars,
		func(m core.WarehouseMachine, c *core.Equipment) (core.CargoType, bool) {
			return c.LoadedCargo, m.Supports(c.LoadedCargo)
		})
	if !ok {
		return nil, fmt.Errorf("unload at %s: warehouse for %s: %w", y.ID, req.Group.Name, ErrNoDestination)
	}
	dest, ok := b.pickTrack(y.StorageTracks, length, cars)
	if !ok {
		return nil, fmt.Errorf("unload at %s: storage track: %w", y.ID, ErrNoDestination)
	}

	starting := startingTracks(y, cars)
	stage := core.JobStage{
		Kind:             kind,
		Origin:           y.ID,
		Destination:      y.ID,
		StartingTracks:   starting,
		Warehouse:        machine.ID,
		DestinationTrack: dest,
		CargoGroup:       req.Group.Name,
		CargoPerCar:      cargo,
		RequiredLicenses: RequiredLicenses(b.Catalog, kind, cargo, len(cars)),
		Payment:          Payment(b.Catalog, kind, ShuntingDistance(len(starting)), NewPaymentData(cars, cargo)),
		TrainLength:      length,
	}
	chain := newChain(y, cars, stage)
	b.Space.Reserve(dest.ID, chain.ID, length)
	return chain, nil
}

// pickWarehouse returns the first machine whose track has room for the train
// and that can handle a cargo for every car, as chosen by assign.
func (b *Builder) pickWarehouse(
	machines []core.WarehouseMachine,
	length float64,
	cars []*core.Equipment,
	assign func(core.WarehouseMachine, *core.Equipment) (core.CargoType, bool),
) (core.WarehouseMachine, []core.CargoType, bool) {
	if len(machines) == 0 {
		b.log().Error("No warehouse machine for cargo group")
		return core.WarehouseMachine{}, nil, false
	}

next:
	for _, m := range machines {
		if b.freeLength(m.Track, cars) < length {
			continue
		}
		cargo := make([]core.CargoType, len(cars))
		for i, c := range cars {
			ct, ok := assign(m, c)
			if !ok {
				continue next
			}
			cargo[i] = ct
		}
		return m, cargo, true
	}
	return core.WarehouseMachine{}, nil, false
}

// pickDestinationYard returns the first partner yard with an inbound track
// able to take the train. A reserved inbound yard is the only candidate.
func (b *Builder) pickDestinationYard(req Request, length float64, cars []*core.Equipment) (*core.Yard, core.Track, bool) {
	candidates := req.Group.Yards
	if req.Inbound != "" {
		candidates = []string{req.Inbound}
	}
	if len(candidates) == 0 {
		b.log().Error("Cargo group has no destination yards", "yard", req.Yard.ID, "group", req.Group.Name)
	}

	for _, id := range candidates {
		if id == req.Yard.ID {
			continue
		}
		dest, ok := b.Yards.Yard(id)
		if !ok {
			b.log().Error("Unknown destination yard", "yard", req.Yard.ID, "destination", id)
			continue
		}
		if !acceptsCargo(dest, cars) {
			continue
		}
		if track, ok := b.pickTrack(dest.InboundTracks, length, cars); ok {
			return dest, track, true
		}
	}
	return nil, core.Track{}, false
}

// acceptsCargo reports whether one of the yard's input groups takes every
// car's cargo.
func acceptsCargo(y *core.Yard, cars []*core.Equipment) bool {
	for _, g := range y.Ruleset.InputCargoGroups {
		if slices.ContainsFunc(cars, func(c *core.Equipment) bool { return !g.Contains(c.LoadedCargo) }) {
			continue
		}
		return true
	}
	return false
}

func loadedCargo(cars []*core.Equipment) []core.CargoType {
	out := make([]core.CargoType, len(cars))
	for i, c := range cars {
		out[i] = c.LoadedCargo
	}
	return out
}
