package jobgen

import (
	"github.com/stockyard/extension/internal/catalog"
	"github.com/stockyard/extension/pkg/core"
)

// Association keys cars that can share one job: a cargo group and the
// reserved route, where "" matches unreserved cars.
type Association struct {
	Group    string
	Outbound string
	Inbound  string
}

// AssociationSet is the cars of one association.
type AssociationSet struct {
	Key   Association
	Group core.CargoGroup
	Cars  []*core.Equipment
}

// Associations buckets the pool of kind by association, in encounter order.
// A car may appear under several associations.
func Associations(kind core.JobKind, y *core.Yard, cat catalog.Catalog, res ReservationLookup, pool []*core.Equipment) []AssociationSet {
	groups := y.Ruleset.OutputCargoGroups
	if kind == core.JobShuntingUnload {
		groups = y.Ruleset.InputCargoGroups
	}
	groups = licensedGroups(cat, groups)

	var sets []AssociationSet
	index := make(map[Association]int)
	for _, car := range pool {
		var route Association
		if r, ok := res.TryGet(car.CarGUID); ok {
			route = Association{Outbound: r.Outbound, Inbound: r.Inbound}
		}
		for _, g := range groups {
			if !compatible(kind, cat, car, g) {
				continue
			}
			key := Association{Group: g.Name, Outbound: route.Outbound, Inbound: route.Inbound}
			i, ok := index[key]
			if !ok {
				i = len(sets)
				index[key] = i
				sets = append(sets, AssociationSet{Key: key, Group: g})
			}
			sets[i].Cars = append(sets[i].Cars, car)
		}
	}
	return sets
}

func compatible(kind core.JobKind, cat catalog.Catalog, car *core.Equipment, g core.CargoGroup) bool {
	if kind == core.JobShuntingLoad {
		return catalog.CanCarHoldAny(cat, car.CarType, g)
	}
	return g.Contains(car.LoadedCargo)
}

// Largest returns the association with the most cars; the first one wins a
// tie.
func Largest(sets []AssociationSet) (AssociationSet, bool) {
	if len(sets) == 0 {
		return AssociationSet{}, false
	}
	best := 0
	for i := range sets {
		if len(sets[i].Cars) > len(sets[best].Cars) {
			best = i
		}
	}
	return sets[best], true
}

// Minimums returns the target and absolute minimum car counts for an
// association of size cars. A small association is taken whole so it does
// not get stuck below the configured minimum.
func Minimums(configured, size int) (target, absolute int) {
	target = configured
	if size < 2*configured {
		target = size
	}
	absolute = min(configured, size)
	if absolute < 1 {
		absolute = 1
	}
	return target, absolute
}

// MaxTrainLength is the longest train a job of kind can move for the
// association, bounded by the warehouse tracks and the yard tracks the
// train must fit on.
func MaxTrainLength(kind core.JobKind, y *core.Yard, set AssociationSet, yards func(string) (*core.Yard, bool)) float64 {
	switch kind {
	case core.JobShuntingLoad:
		return min(warehouseLength(y, set.Group), core.LongestTrack(y.OutboundTracks))
	case core.JobShuntingUnload:
		return min(warehouseLength(y, set.Group), core.LongestTrack(y.StorageTracks))
	}

	candidates := set.Group.Yards
	if set.Key.Inbound != "" {
		candidates = []string{set.Key.Inbound}
	}
	var best float64
	for _, id := range candidates {
		dest, ok := yards(id)
		if !ok || dest.ID == y.ID {
			continue
		}
		l := core.LongestTrack(dest.InboundTracks)
		if w := warehouseLength(dest, set.Group); w > 0 {
			l = min(l, w)
		}
		best = max(best, l)
	}
	return best
}

func warehouseLength(y *core.Yard, g core.CargoGroup) float64 {
	var longest float64
	for _, w := range y.WarehousesFor(g) {
		longest = max(longest, w.Track.Length)
	}
	return longest
}
