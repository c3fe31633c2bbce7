package jobgen

import (
	"errors"
	"math/rand/v2"
)

// ErrNoSelection is returned when no combination of coupled sets satisfies
// the car count and length limits.
var ErrNoSelection = errors.New("no coupled sets satisfy the job limits")

// Limits bounds the train a single job may take.
type Limits struct {
	// Min is the configured minimum; it decides whether a leftover is big
	// enough for a job of its own.
	Min       int
	Target    int
	AbsMin    int
	MaxCars   int
	MaxLength float64
	// MaxTracks caps the number of sets a loading job may span.
	MaxTracks int
	// Total is the number of cars in the association.
	Total int
}

type window struct {
	start, size int
}

func (w window) sets(sets []CoupledSet) []CoupledSet {
	out := make([]CoupledSet, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, sets[(w.start+i)%len(sets)])
	}
	return out
}

func measure(sets []CoupledSet) (cars int, length float64) {
	for _, s := range sets {
		cars += len(s.Cars)
		length += s.Length
	}
	return cars, length
}

// SelectLoading picks a cyclic window of consecutive sets for a loading job.
// The window starts at a random size and grows while below the absolute
// minimum, shrinks from the front while above the car or length limit, and
// once valid keeps growing toward the target while it stays valid. A window
// that would strand fewer than Min cars of the association is avoided when
// another window exists.
func SelectLoading(sets []CoupledSet, lim Limits, rng *rand.Rand) ([]CoupledSet, error) {
	n := len(sets)
	if n == 0 {
		return nil, ErrNoSelection
	}
	limit := n
	if lim.MaxTracks > 0 {
		limit = min(n, lim.MaxTracks)
	}

	fits := func(w window) bool {
		cars, length := measure(w.sets(sets))
		return (lim.MaxCars <= 0 || cars <= lim.MaxCars) && (lim.MaxLength <= 0 || length <= lim.MaxLength)
	}
	leavesUsable := func(w window) bool {
		cars, _ := measure(w.sets(sets))
		left := lim.Total - cars
		return left <= 0 || left >= lim.Min
	}
	valid := func(w window, strict bool) bool {
		cars, _ := measure(w.sets(sets))
		return cars >= lim.AbsMin && fits(w) && (!strict || leavesUsable(w))
	}

	w := window{start: 0, size: 1 + rng.IntN(limit)}
	visited := make(map[window]bool)
	found := false
	for !visited[w] {
		visited[w] = true
		cars, _ := measure(w.sets(sets))
		switch {
		case valid(w, true):
			found = true
		case !fits(w) && w.size > 1:
			w = window{start: (w.start + 1) % n, size: w.size - 1}
		case cars < lim.AbsMin && w.size < limit:
			w.size++
		case !leavesUsable(w) && w.size < limit && fitsGrown(w, fits):
			w.size++
		case !leavesUsable(w) && w.size > 1:
			w = window{start: (w.start + 1) % n, size: w.size - 1}
		default:
			w.start = (w.start + 1) % n
		}
		if found {
			break
		}
	}

	if !found {
		w, found = scan(n, limit, func(w window) bool { return valid(w, true) })
	}
	if !found {
		w, found = scan(n, limit, func(w window) bool { return valid(w, false) })
	}
	if !found {
		return nil, ErrNoSelection
	}

	for w.size < limit {
		cars, _ := measure(w.sets(sets))
		if cars >= lim.Target {
			break
		}
		grown := window{start: w.start, size: w.size + 1}
		if !valid(grown, true) {
			break
		}
		w = grown
	}
	return w.sets(sets), nil
}

func fitsGrown(w window, fits func(window) bool) bool {
	return fits(window{start: w.start, size: w.size + 1})
}

func scan(n, limit int, ok func(window) bool) (window, bool) {
	for size := 1; size <= limit; size++ {
		for start := 0; start < n; start++ {
			w := window{start: start, size: size}
			if ok(w) {
				return w, true
			}
		}
	}
	return window{}, false
}

// SelectSingle picks one set for a hauling or unloading job: the first
// meeting the target minimum, else the first meeting the absolute minimum.
func SelectSingle(sets []CoupledSet, lim Limits) (CoupledSet, error) {
	withinLimits := func(s CoupledSet) bool {
		return (lim.MaxCars <= 0 || len(s.Cars) <= lim.MaxCars) &&
			(lim.MaxLength <= 0 || s.Length <= lim.MaxLength)
	}
	for _, s := range sets {
		if len(s.Cars) >= lim.Target && withinLimits(s) {
			return s, nil
		}
	}
	for _, s := range sets {
		if len(s.Cars) >= lim.AbsMin && withinLimits(s) {
			return s, nil
		}
	}
	return CoupledSet{}, ErrNoSelection
}
