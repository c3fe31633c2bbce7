package jobgen

import (
	"github.com/google/uuid"

	"github.com/stockyard/extension/pkg/core"
)

// CoupledSet is a run of physically coupled cars from the pool. Length
// counts a separation per joint and at both open ends.
type CoupledSet struct {
	Cars   []*core.Equipment
	Length float64
}

// GroupCoupledSets splits cars into disjoint coupled sets. Each set starts at
// an edge car, one without a front partner among the remaining cars, and
// walks along couplings. The next car is admitted while the accumulated
// length (open front end plus each admitted car and its trailing separation)
// does not exceed maxLength and the set holds fewer than maxCars. The first
// car is always admitted. maxCars or maxLength of zero means unbounded.
func GroupCoupledSets(cars []*core.Equipment, lengthOf func(*core.Equipment) float64, maxCars int, maxLength float64) []CoupledSet {
	remaining := make(map[uuid.UUID]*core.Equipment, len(cars))
	order := make([]*core.Equipment, 0, len(cars))
	for _, c := range cars {
		if _, dup := remaining[c.CarGUID]; dup {
			continue
		}
		remaining[c.CarGUID] = c
		order = append(order, c)
	}

	var sets []CoupledSet
	for len(remaining) > 0 {
		cur := pickEdge(order, remaining)
		delete(remaining, cur.CarGUID)
		set := CoupledSet{
			Cars:   []*core.Equipment{cur},
			Length: core.CarSeparation + lengthOf(cur) + core.CarSeparation,
		}

		for {
			if maxCars > 0 && len(set.Cars) >= maxCars {
				break
			}
			if maxLength > 0 && set.Length > maxLength {
				break
			}
			next := nextInPool(cur, remaining)
			if next == nil {
				break
			}
			delete(remaining, next.CarGUID)
			set.Cars = append(set.Cars, next)
			set.Length += lengthOf(next) + core.CarSeparation
			cur = next
		}
		sets = append(sets, set)
	}
	return sets
}

// FitToLength splits every set longer than maxLength into consecutive runs
// that each fit, longest prefix first. A single car longer than maxLength is
// left as is. maxLength of zero returns sets unchanged.
func FitToLength(sets []CoupledSet, lengthOf func(*core.Equipment) float64, maxLength float64) []CoupledSet {
	if maxLength <= 0 {
		return sets
	}
	out := make([]CoupledSet, 0, len(sets))
	for _, set := range sets {
		if set.Length <= maxLength || len(set.Cars) < 2 {
			out = append(out, set)
			continue
		}
		var run CoupledSet
		for _, c := range set.Cars {
			grown := run.Length + lengthOf(c) + core.CarSeparation
			if len(run.Cars) == 0 {
				grown += core.CarSeparation
			} else if grown > maxLength {
				out = append(out, run)
				run = CoupledSet{}
				grown = core.CarSeparation + lengthOf(c) + core.CarSeparation
			}
			run.Cars = append(run.Cars, c)
			run.Length = grown
		}
		out = append(out, run)
	}
	return out
}

// pickEdge returns the first remaining car whose front is not coupled to
// another remaining car. A malformed cycle falls back to the first car.
func pickEdge(order []*core.Equipment, remaining map[uuid.UUID]*core.Equipment) *core.Equipment {
	var first *core.Equipment
	for _, c := range order {
		if _, ok := remaining[c.CarGUID]; !ok {
			continue
		}
		if first == nil {
			first = c
		}
		if _, coupled := remaining[c.CoupledFront]; !coupled || c.CoupledFront == uuid.Nil {
			return c
		}
	}
	return first
}

// nextInPool follows cur's couplings to a partner still in the pool. Cars
// may be flipped, so both couplers are tried, rear first.
func nextInPool(cur *core.Equipment, remaining map[uuid.UUID]*core.Equipment) *core.Equipment {
	for _, g := range []uuid.UUID{cur.CoupledRear, cur.CoupledFront} {
		if g == uuid.Nil {
			continue
		}
		if next, ok := remaining[g]; ok {
			return next
		}
	}
	return nil
}
