package jobgen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockyard/extension/internal/catalog"
	"github.com/stockyard/extension/internal/host/hosttest"
	"github.com/stockyard/extension/internal/jobs"
	"github.com/stockyard/extension/internal/registry"
	"github.com/stockyard/extension/internal/reservation"
	"github.com/stockyard/extension/internal/scheduler"
	"github.com/stockyard/extension/pkg/core"
)

const licCoal core.License = 1

func testTables() catalog.Tables {
	return catalog.Tables{
		Cars: []catalog.CarSpec{
			{Type: "Hopper", Length: 12, Cargo: []string{"Coal"}, Rate: 10},
			{Type: "Flatbed", Length: 20, Cargo: []string{"Logs"}, Rate: 5},
			{Type: "Giant", Length: 500, Cargo: []string{"Coal"}, Rate: 1},
		},
		Cargo: []catalog.CargoSpec{
			{Type: "Coal", License: uint32(licCoal), Rate: 2},
			{Type: "Logs", Rate: 3},
		},
		Owned:            uint32(licCoal),
		DefaultCarLength: 15,
	}
}

var (
	coalOut = core.CargoGroup{Name: "coal", Cargo: []core.CargoType{"Coal"}, Yards: []string{"FF"}}
	coalIn  = core.CargoGroup{Name: "coal", Cargo: []core.CargoType{"Coal"}, Yards: []string{"CM"}}
	logsIn  = core.CargoGroup{Name: "logs", Cargo: []core.CargoType{"Logs"}, Yards: []string{"SW"}}
)

func mineYard() *core.Yard {
	return &core.Yard{
		ID: "CM",
		StorageTracks: []core.Track{
			{ID: "CM-S1", Length: 100}, {ID: "CM-S2", Length: 100}, {ID: "CM-S3", Length: 100},
			{ID: "CM-S4", Length: 100}, {ID: "CM-S5", Length: 100},
		},
		InboundTracks:  []core.Track{{ID: "CM-I1", Length: 200}},
		OutboundTracks: []core.Track{{ID: "CM-O1", Length: 200}},
		Warehouses: []core.WarehouseMachine{
			{ID: "CM-W1", Track: core.Track{ID: "CM-L1", Length: 200}, Cargo: []core.CargoType{"Coal"}},
		},
		Ruleset: core.Ruleset{
			OutputCargoGroups:          []core.CargoGroup{coalOut},
			InputCargoGroups:           []core.CargoGroup{logsIn},
			MinCarsPerJob:              2,
			MaxCarsPerJob:              4,
			MaxShuntingStorageTracks:   5,
			LoadStartingJobSupported:   true,
			HaulStartingJobSupported:   true,
			UnloadStartingJobSupported: true,
		},
	}
}

func factoryYard() *core.Yard {
	return &core.Yard{
		ID:            "FF",
		Position:      core.Vector3{X: 2000},
		StorageTracks: []core.Track{{ID: "FF-S1", Length: 200}},
		InboundTracks: []core.Track{{ID: "FF-I1", Length: 200}},
		Warehouses: []core.WarehouseMachine{
			{ID: "FF-W1", Track: core.Track{ID: "FF-U1", Length: 200}, Cargo: []core.CargoType{"Coal"}},
		},
		Ruleset: core.Ruleset{
			InputCargoGroups:           []core.CargoGroup{coalIn},
			MinCarsPerJob:              1,
			MaxCarsPerJob:              4,
			MaxShuntingStorageTracks:   2,
			UnloadStartingJobSupported: true,
		},
	}
}

type fixture struct {
	reg      *registry.Registry
	tracker  *reservation.Tracker
	ledger   *jobs.Ledger
	space    *jobs.TrackSpace
	cat      *catalog.Static
	runtime  *hosttest.Runtime
	sched    *scheduler.Scheduler
	failures *hosttest.Failures
	reports  []Report
	m        *Manager
}

func newFixture(t *testing.T, seed uint64) *fixture {
	t.Helper()
	f := &fixture{
		reg:      registry.New(hosttest.NewIDs(), nil),
		tracker:  reservation.New(nil),
		ledger:   jobs.NewLedger(),
		space:    jobs.NewTrackSpace(),
		cat:      catalog.NewStatic(testTables()),
		runtime:  &hosttest.Runtime{},
		sched:    scheduler.New(nil),
		failures: &hosttest.Failures{},
	}
	m, err := NewManager(Config{}, Dependencies{
		Registry:     f.reg,
		Reservations: f.tracker,
		Ledger:       f.ledger,
		Space:        f.space,
		Catalog:      f.cat,
		Player:       hosttest.NewPlayer(core.Vector3{}),
		Runtime:      f.runtime,
		Scheduler:    f.sched,
		Failures:     f.failures.Reporter(),
		Rand:         rand.New(rand.NewPCG(seed, seed+1)),
		OnReport:     func(r Report) { f.reports = append(f.reports, r) },
	}, []*core.Yard{mineYard(), factoryYard()}, nil)
	require.NoError(t, err)
	f.m = m
	return f
}

func (f *fixture) car(t *testing.T, carType string, track core.TrackID, cargo core.CargoType) *core.Equipment {
	t.Helper()
	e := &core.Equipment{
		ID:          fmt.Sprintf("L-%03d", f.reg.Len()+1),
		CarGUID:     uuid.New(),
		CarType:     carType,
		LoadedCargo: cargo,
		IsSpawned:   true,
		Handle:      core.Handle(f.reg.Len() + 1),
		Bogies:      [2]core.Bogie{{Track: track}, {Track: track}},
	}
	require.NoError(t, f.reg.Add(e))
	return e
}

func (f *fixture) controller(t *testing.T, yard string) *Controller {
	t.Helper()
	c, ok := f.m.For(yard)
	require.True(t, ok)
	return c
}

func chainLine(n int, carType string) []*core.Equipment {
	cars := make([]*core.Equipment, n)
	for i := range cars {
		cars[i] = &core.Equipment{ID: fmt.Sprint(i), CarGUID: uuid.New(), CarType: carType}
	}
	for i := 0; i+1 < n; i++ {
		cars[i].CoupledRear = cars[i+1].CarGUID
		cars[i+1].CoupledFront = cars[i].CarGUID
	}
	return cars
}

func TestGroupCoupledSets_LengthBound(t *testing.T) {
	const s = core.CarSeparation
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 200; i++ {
		n := 1 + rng.IntN(12)
		l := float64(5 + rng.IntN(30))
		cars := chainLine(n, "x")
		rng.Shuffle(len(cars), func(a, b int) { cars[a], cars[b] = cars[b], cars[a] })
		lengthOf := func(*core.Equipment) float64 { return l }

		exact := float64(n-1)*(l+s) + s
		sets := GroupCoupledSets(cars, lengthOf, 0, exact)
		require.Len(t, sets, 1, "n=%d l=%v must not split at %v", n, l, exact)
		assert.Len(t, sets[0].Cars, n)
		assert.InDelta(t, float64(n)*l+float64(n+1)*s, sets[0].Length, 1e-9)

		if n > 1 {
			split := GroupCoupledSets(cars, lengthOf, 0, exact-1)
			assert.GreaterOrEqual(t, len(split), 2, "n=%d l=%v must split at %v", n, l, exact-1)
		}
	}
}

func TestGroupCoupledSets_MaxCarsAndOrder(t *testing.T) {
	cars := chainLine(5, "x")
	lengthOf := func(*core.Equipment) float64 { return 10 }

	sets := GroupCoupledSets(cars, lengthOf, 2, 0)
	require.Len(t, sets, 3)
	assert.Equal(t, []*core.Equipment{cars[0], cars[1]}, sets[0].Cars)
	assert.Equal(t, []*core.Equipment{cars[2], cars[3]}, sets[1].Cars)
	assert.Equal(t, []*core.Equipment{cars[4]}, sets[2].Cars)
}

func TestGroupCoupledSets_FlippedCarAndPoolFilter(t *testing.T) {
	cars := chainLine(4, "x")
	// Flip the middle car: its couplers swap sides.
	cars[1].CoupledFront, cars[1].CoupledRear = cars[1].CoupledRear, cars[1].CoupledFront
	lengthOf := func(*core.Equipment) float64 { return 10 }

	sets := GroupCoupledSets(cars, lengthOf, 0, 0)
	require.Len(t, sets, 1)
	assert.Len(t, sets[0].Cars, 4)

	// Cars outside the pool break the run.
	sets = GroupCoupledSets([]*core.Equipment{cars[0], cars[2], cars[3]}, lengthOf, 0, 0)
	require.Len(t, sets, 2)
}

func TestFitToLength_SplitsOverlongSet(t *testing.T) {
	const s = core.CarSeparation
	cars := chainLine(4, "x")
	lengthOf := func(*core.Equipment) float64 { return 12 }

	sets := GroupCoupledSets(cars, lengthOf, 4, 40)
	require.Len(t, sets, 1, "the walk admits one car past the limit")
	require.Greater(t, sets[0].Length, 40.0)

	fitted := FitToLength(sets, lengthOf, 40)
	require.Len(t, fitted, 2)
	assert.Equal(t, cars[:3], fitted[0].Cars)
	assert.InDelta(t, 3*12+4*s, fitted[0].Length, 1e-9)
	assert.Equal(t, cars[3:], fitted[1].Cars)
	assert.InDelta(t, 12+2*s, fitted[1].Length, 1e-9)

	got, err := SelectSingle(fitted, Limits{Target: 2, AbsMin: 1, MaxCars: 4, MaxLength: 40})
	require.NoError(t, err)
	assert.Len(t, got.Cars, 3)
}

func TestFitToLength_KeepsFittingSetsAndSingleCars(t *testing.T) {
	cars := chainLine(3, "x")
	lengthOf := func(*core.Equipment) float64 { return 50 }
	sets := []CoupledSet{
		{Cars: cars[:1], Length: 51},
		{Cars: cars[1:], Length: 101.5},
	}

	assert.Equal(t, sets, FitToLength(sets, lengthOf, 0))

	fitted := FitToLength(sets, lengthOf, 40)
	require.Len(t, fitted, 3)
	for i, set := range fitted {
		assert.Equal(t, []*core.Equipment{cars[i]}, set.Cars)
		assert.InDelta(t, 51.0, set.Length, 1e-9)
	}
}

func TestMinimums(t *testing.T) {
	tests := []struct {
		configured, size, target, absolute int
	}{
		{2, 5, 2, 2},
		{2, 4, 2, 2},
		{2, 3, 3, 2},
		{3, 1, 1, 1},
		{0, 4, 0, 1},
	}
	for _, tt := range tests {
		target, absolute := Minimums(tt.configured, tt.size)
		assert.Equal(t, tt.target, target, "configured=%d size=%d", tt.configured, tt.size)
		assert.Equal(t, tt.absolute, absolute, "configured=%d size=%d", tt.configured, tt.size)
	}
}

func TestSelectSingle(t *testing.T) {
	one := CoupledSet{Cars: make([]*core.Equipment, 1), Length: 10}
	three := CoupledSet{Cars: make([]*core.Equipment, 3), Length: 30}
	four := CoupledSet{Cars: make([]*core.Equipment, 4), Length: 40}

	got, err := SelectSingle([]CoupledSet{one, three, four}, Limits{Target: 3, AbsMin: 1, MaxCars: 4})
	require.NoError(t, err)
	assert.Len(t, got.Cars, 3)

	got, err = SelectSingle([]CoupledSet{one, three}, Limits{Target: 4, AbsMin: 2, MaxCars: 4})
	require.NoError(t, err)
	assert.Len(t, got.Cars, 3, "falls back to the absolute minimum")

	_, err = SelectSingle([]CoupledSet{one}, Limits{Target: 2, AbsMin: 2, MaxCars: 4})
	assert.ErrorIs(t, err, ErrNoSelection)

	_, err = SelectSingle([]CoupledSet{four}, Limits{Target: 1, AbsMin: 1, MaxCars: 4, MaxLength: 20})
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestSelectLoading_RespectsLimits(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 300; i++ {
		n := 1 + rng.IntN(8)
		sets := make([]CoupledSet, n)
		total := 0
		for j := range sets {
			k := 1 + rng.IntN(3)
			total += k
			sets[j] = CoupledSet{Cars: make([]*core.Equipment, k), Length: float64(k) * 10}
		}
		lim := Limits{Min: 2, Target: 2, AbsMin: 2, MaxCars: 4, MaxLength: 45, MaxTracks: 3, Total: total}

		got, err := SelectLoading(sets, lim, rng)
		if err != nil {
			assert.ErrorIs(t, err, ErrNoSelection)
			continue
		}
		cars, length := measure(got)
		assert.LessOrEqual(t, len(got), 3)
		assert.GreaterOrEqual(t, cars, 2)
		assert.LessOrEqual(t, cars, 4)
		assert.LessOrEqual(t, length, 45.0)
	}
}

func TestSelectLoading_FailsWhenNothingFits(t *testing.T) {
	sets := []CoupledSet{{Cars: make([]*core.Equipment, 1), Length: 500}}
	_, err := SelectLoading(sets, Limits{Target: 1, AbsMin: 1, MaxCars: 4, MaxLength: 200, Total: 1},
		rand.New(rand.NewPCG(1, 1)))
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestPartition(t *testing.T) {
	f := newFixture(t, 1)
	y := mineYard()

	emptyHopper := f.car(t, "Hopper", "CM-S1", core.CargoNone)
	emptyFlatbed := f.car(t, "Flatbed", "CM-S1", core.CargoNone)
	coalHere := f.car(t, "Hopper", "CM-S1", "Coal")
	coalElsewhere := f.car(t, "Hopper", "CM-S1", "Coal")
	f.tracker.Reserve(coalElsewhere.CarGUID, "SW", "FF")
	coalOurs := f.car(t, "Hopper", "CM-S1", "Coal")
	f.tracker.Reserve(coalOurs.CarGUID, "CM", "FF")
	logs := f.car(t, "Flatbed", "CM-S1", "Logs")
	logsElsewhere := f.car(t, "Flatbed", "CM-S1", "Logs")
	f.tracker.Reserve(logsElsewhere.CarGUID, "SW", "HB")

	pool := f.reg.All()
	p := Partition(y, f.cat, f.tracker, pool)

	assert.Equal(t, []*core.Equipment{emptyHopper}, p.Loading)
	assert.Equal(t, []*core.Equipment{coalHere, coalOurs}, p.Hauling)
	assert.Equal(t, []*core.Equipment{logs}, p.Unloading)
	assert.ElementsMatch(t, []*core.Equipment{emptyFlatbed, coalElsewhere, logsElsewhere}, p.Excluded)

	// Without the coal license nothing loads or hauls.
	f.cat.Revoke(licCoal)
	p = Partition(y, f.cat, f.tracker, pool)
	assert.Empty(t, p.Loading)
	assert.Empty(t, p.Hauling)

	// Unsupported starting job kinds keep their pool empty.
	f.cat.Grant(licCoal)
	y.Ruleset.LoadStartingJobSupported = false
	p = Partition(y, f.cat, f.tracker, pool)
	assert.Empty(t, p.Loading)
	assert.Contains(t, p.Excluded, emptyHopper)
}

func TestPartition_Disjoint(t *testing.T) {
	f := newFixture(t, 1)
	y := mineYard()
	rng := rand.New(rand.NewPCG(9, 9))
	types := []string{"Hopper", "Flatbed", "Unknown"}
	cargo := []core.CargoType{core.CargoNone, "Coal", "Logs", "Sand"}
	yardIDs := []string{"CM", "FF", "SW"}

	for i := 0; i < 200; i++ {
		c := f.car(t, types[rng.IntN(len(types))], "CM-S1", cargo[rng.IntN(len(cargo))])
		if rng.IntN(2) == 0 {
			f.tracker.Reserve(c.CarGUID, yardIDs[rng.IntN(3)], yardIDs[rng.IntN(3)])
		}
	}
	pool := f.reg.All()
	p := Partition(y, f.cat, f.tracker, pool)

	count := make(map[*core.Equipment]int)
	for _, bucket := range [][]*core.Equipment{p.Loading, p.Hauling, p.Unloading, p.Excluded} {
		for _, c := range bucket {
			count[c]++
		}
	}
	require.Len(t, count, len(pool))
	for c, n := range count {
		assert.Equal(t, 1, n, "car %s", c.ID)
	}
}

func TestAssociations_LargestFirstEncountered(t *testing.T) {
	f := newFixture(t, 1)
	y := mineYard()
	a := f.car(t, "Hopper", "CM-S1", "Coal")
	f.tracker.Reserve(a.CarGUID, "CM", "FF")
	b := f.car(t, "Hopper", "CM-S1", "Coal")
	c := f.car(t, "Hopper", "CM-S1", "Coal")
	f.tracker.Reserve(c.CarGUID, "CM", "FF")
	d := f.car(t, "Hopper", "CM-S1", "Coal")

	sets := Associations(core.JobTransport, y, f.cat, f.tracker, []*core.Equipment{a, b, c, d})
	require.Len(t, sets, 2)
	assert.Equal(t, Association{Group: "coal", Outbound: "CM", Inbound: "FF"}, sets[0].Key)
	assert.Equal(t, Association{Group: "coal"}, sets[1].Key)

	best, ok := Largest(sets)
	require.True(t, ok)
	assert.Equal(t, sets[0].Key, best.Key, "ties go to the first encountered")

	_, ok = Largest(nil)
	assert.False(t, ok)
}

func TestMaxTrainLength(t *testing.T) {
	f := newFixture(t, 1)
	y := mineYard()
	y.OutboundTracks = []core.Track{{ID: "O1", Length: 80}, {ID: "O2", Length: 120}}

	set := AssociationSet{Key: Association{Group: "coal"}, Group: coalOut}
	assert.InDelta(t, 120.0, MaxTrainLength(core.JobShuntingLoad, y, set, f.m.Yard), 1e-9)
	assert.InDelta(t, 200.0, MaxTrainLength(core.JobTransport, y, set, f.m.Yard), 1e-9)

	set.Key.Inbound = "XX"
	assert.Zero(t, MaxTrainLength(core.JobTransport, y, set, f.m.Yard))
}

func TestGenerate_FiveUncoupledCarsScenario(t *testing.T) {
	for seed := uint64(0); seed < 25; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			f := newFixture(t, seed)
			var cars []*core.Equipment
			for i := 1; i <= 5; i++ {
				cars = append(cars, f.car(t, "Hopper", core.TrackID(fmt.Sprintf("CM-S%d", i)), core.CargoNone))
			}

			report, err := f.controller(t, "CM").Generate(scheduler.Inline{Ctx: context.Background()}, nil)
			require.NoError(t, err)

			covered := make(map[uuid.UUID]int)
			for _, chain := range report.Jobs {
				assert.Equal(t, core.JobShuntingLoad, chain.Kind())
				assert.GreaterOrEqual(t, len(chain.Cars), 2)
				assert.LessOrEqual(t, len(chain.Cars), 4)
				for _, car := range chain.Cars {
					covered[car]++
				}
			}
			for _, c := range cars {
				assert.Equal(t, 1, covered[c.CarGUID], "car %s", c.ID)
				assert.True(t, f.ledger.HasActiveJob(c.CarGUID))
			}
			assert.Zero(t, report.Unassigned[core.JobShuntingLoad])
			assert.Len(t, f.runtime.Launched(), len(report.Jobs))
		})
	}
}

func TestGenerate_RetryBudget(t *testing.T) {
	f := newFixture(t, 1)
	for i := 1; i <= 3; i++ {
		f.car(t, "Giant", core.TrackID(fmt.Sprintf("CM-S%d", i)), core.CargoNone)
	}

	report, err := f.controller(t, "CM").Generate(scheduler.Inline{}, nil)
	require.NoError(t, err)

	assert.Empty(t, report.Jobs)
	assert.Equal(t, DefaultAttempts, report.FailedAttempts[core.JobShuntingLoad])
	assert.Equal(t, 3, report.Unassigned[core.JobShuntingLoad])
	assert.Empty(t, f.runtime.Launched())
	assert.Zero(t, f.ledger.Len())
}

func TestGenerate_EmptyPool(t *testing.T) {
	f := newFixture(t, 1)

	report, err := f.controller(t, "CM").Generate(scheduler.Inline{}, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Jobs)
	assert.Empty(t, report.FailedAttempts)
}

func TestGenerate_SkipsCarsWithActiveJobs(t *testing.T) {
	f := newFixture(t, 1)
	busy := f.car(t, "Hopper", "CM-S1", core.CargoNone)
	f.car(t, "Hopper", "CM-S2", core.CargoNone)
	require.NoError(t, f.ledger.Add(&core.JobChain{ID: uuid.New(), Cars: []uuid.UUID{busy.CarGUID}}))

	report, err := f.controller(t, "CM").Generate(scheduler.Inline{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
}

func TestGenerate_HaulReservesAndCycleContinues(t *testing.T) {
	f := newFixture(t, 1)
	a := f.car(t, "Hopper", "CM-O1", "Coal")
	b := f.car(t, "Hopper", "CM-O1", "Coal")
	a.CoupledRear, b.CoupledFront = b.CarGUID, a.CarGUID

	report, err := f.controller(t, "CM").Generate(scheduler.Inline{}, nil)
	require.NoError(t, err)
	require.Len(t, report.Jobs, 1)
	haul := report.Jobs[0]
	assert.Equal(t, core.JobTransport, haul.Kind())
	assert.Equal(t, "FF", haul.Stages[0].Destination)
	for _, c := range []*core.Equipment{a, b} {
		r, ok := f.tracker.TryGet(c.CarGUID)
		require.True(t, ok)
		assert.Equal(t, "FF", r.Inbound)
	}

	// The train arrives at the factory; the haul completes.
	for _, c := range []*core.Equipment{a, b} {
		c.Bogies = [2]core.Bogie{{Track: "FF-I1"}, {Track: "FF-I1"}}
	}
	haul.Complete()
	assert.False(t, f.ledger.HasActiveJob(a.CarGUID))
	assert.Zero(t, f.space.Reserved("FF-I1"))
	_, ok := f.tracker.TryGet(a.CarGUID)
	assert.True(t, ok, "reservation survives the haul")

	for f.sched.Len() > 0 {
		f.sched.Tick(0, 0)
	}
	launched := f.runtime.Launched()
	require.Len(t, launched, 2)
	unload := launched[1]
	assert.Equal(t, core.JobShuntingUnload, unload.Kind())
	assert.Equal(t, "FF", unload.Yard)

	// Unloading completes: reservations are released.
	for _, c := range []*core.Equipment{a, b} {
		c.LoadedCargo = core.CargoNone
	}
	unload.Complete()
	_, ok = f.tracker.TryGet(a.CarGUID)
	assert.False(t, ok)
	assert.Zero(t, f.tracker.Len())
	require.NotEmpty(t, f.reports)
	assert.Equal(t, "FF", f.reports[0].Yard)
}

func TestAbandonedHaulReleasesReservations(t *testing.T) {
	f := newFixture(t, 1)
	a := f.car(t, "Hopper", "CM-O1", "Coal")

	report, err := f.controller(t, "CM").Generate(scheduler.Inline{}, []*core.Equipment{a})
	require.NoError(t, err)
	require.Len(t, report.Jobs, 1)

	report.Jobs[0].Abandon()
	assert.Zero(t, f.tracker.Len())
	assert.Zero(t, f.ledger.Len())
	assert.Zero(t, f.space.Reserved("FF-I1"))
	assert.Zero(t, f.sched.Len(), "abandoning does not trigger generation")
}

func TestLaunchFailureRollsBack(t *testing.T) {
	f := newFixture(t, 1)
	f.runtime.FailErr = fmt.Errorf("runtime offline")
	a := f.car(t, "Hopper", "CM-O1", "Coal")

	report, err := f.controller(t, "CM").Generate(scheduler.Inline{}, []*core.Equipment{a})
	require.NoError(t, err)
	assert.Empty(t, report.Jobs)
	assert.Equal(t, DefaultAttempts, report.FailedAttempts[core.JobTransport])
	assert.Zero(t, f.tracker.Len())
	assert.Zero(t, f.ledger.Len())
	assert.Zero(t, f.space.Reserved("FF-I1"))
}

func TestLaunchFailureKeepsPriorReservation(t *testing.T) {
	f := newFixture(t, 1)
	f.runtime.FailErr = fmt.Errorf("runtime offline")
	a := f.car(t, "Hopper", "CM-O1", "Coal")
	require.True(t, f.tracker.Reserve(a.CarGUID, "CM", "FF"))

	report, err := f.controller(t, "CM").Generate(scheduler.Inline{}, []*core.Equipment{a})
	require.NoError(t, err)
	assert.Empty(t, report.Jobs)
	assert.Equal(t, DefaultAttempts, report.FailedAttempts[core.JobTransport])

	r, ok := f.tracker.TryGet(a.CarGUID)
	require.True(t, ok, "a reservation held before the attempt survives it")
	assert.Equal(t, core.Reservation{Car: a.CarGUID, Outbound: "CM", Inbound: "FF"}, r)
	assert.Equal(t, 1, f.tracker.Len())
	assert.Zero(t, f.ledger.Len())
	assert.Zero(t, f.space.Reserved("FF-I1"))
}

func TestGenerateJobs_SupersedesRunInFlight(t *testing.T) {
	f := newFixture(t, 1)
	for i := 1; i <= 5; i++ {
		f.car(t, "Hopper", core.TrackID(fmt.Sprintf("CM-S%d", i)), core.CargoNone)
	}
	c := f.controller(t, "CM")

	first := c.GenerateJobs(nil)
	f.sched.Tick(0, 0) // first run is mid-collection
	second := c.GenerateJobs(nil)
	assert.True(t, c.Running())

	for f.sched.Len() > 0 {
		f.sched.Tick(0, 0)
	}
	<-first.Done()
	<-second.Done()
	assert.ErrorIs(t, first.Err(), context.Canceled)
	assert.NoError(t, second.Err())
	require.Len(t, f.reports, 1, "only the surviving run reports")
	assert.NotEmpty(t, f.reports[0].Jobs)
	assert.False(t, c.Running())
}

type panickingCatalog struct{ catalog.Catalog }

func (panickingCatalog) CarLength(string) float64 { panic("corrupt car table") }

func TestGenerateJobs_PanicIsReported(t *testing.T) {
	f := newFixture(t, 1)
	f.m.deps.Catalog = panickingCatalog{f.cat}
	f.car(t, "Hopper", "CM-S1", core.CargoNone)
	f.car(t, "Hopper", "CM-S2", core.CargoNone)

	task := f.controller(t, "CM").GenerateJobs(nil)
	for f.sched.Len() > 0 {
		f.sched.Tick(0, 0)
	}
	<-task.Done()
	assert.Error(t, task.Err())
	assert.Equal(t, 1, f.failures.Len())
}

func TestManager_ForIsMemoized(t *testing.T) {
	f := newFixture(t, 1)
	a, ok := f.m.For("CM")
	require.True(t, ok)
	b, _ := f.m.For("CM")
	assert.Same(t, a, b)

	_, ok = f.m.For("nowhere")
	assert.False(t, ok)
	assert.Len(t, f.m.Yards(), 2)
}
