package persist

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockyard/extension/internal/host/hosttest"
	"github.com/stockyard/extension/internal/registry"
	"github.com/stockyard/extension/internal/reservation"
	"github.com/stockyard/extension/pkg/core"
)

func randomConsists(rng *rand.Rand, n int) []*core.Equipment {
	cars := make([]*core.Equipment, n)
	for i := range cars {
		cars[i] = &core.Equipment{
			ID:       fmt.Sprintf("L-%03d", i+1),
			CarGUID:  uuid.New(),
			CarType:  []string{"Hopper", "Flatbed", "Boxcar"}[rng.IntN(3)],
			Position: core.Vector3{X: rng.Float64() * 1000, Y: rng.Float64() * 10, Z: rng.Float64() * 1000},
			Rotation: core.Quaternion{Y: rng.Float64(), W: 1},
			Bogies: [2]core.Bogie{
				{Track: core.TrackID(fmt.Sprintf("T%d", rng.IntN(5))), Span: rng.Float64() * 100},
				{Track: core.TrackID(fmt.Sprintf("T%d", rng.IntN(5))), Span: rng.Float64() * 100},
			},
			Exploded:    rng.IntN(10) == 0,
			IsSpawned:   rng.IntN(3) == 0,
			LoadedCargo: []core.CargoType{core.CargoNone, "Coal", "Logs"}[rng.IntN(3)],
		}
		if rng.IntN(2) == 0 {
			cars[i].CarState = json.RawMessage(fmt.Sprintf(`{"brake":%d}`, rng.IntN(100)))
		}
		if rng.IntN(4) == 0 {
			cars[i].LocoState = json.RawMessage(`{"fuel":0.5,"sand":[1,2]}`)
		}
		if rng.IntN(5) == 0 {
			cars[i].Bogies[1] = core.Bogie{Derailed: true}
		}
		if i > 0 && rng.IntN(2) == 0 {
			cars[i-1].CoupledRear = cars[i].CarGUID
			cars[i].CoupledFront = cars[i-1].CarGUID
		}
	}
	return cars
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 2))
	for _, n := range []int{0, 1, 7, 120} {
		t.Run(fmt.Sprintf("%d records", n), func(t *testing.T) {
			reg := registry.New(hosttest.NewIDs(), nil)
			tracker := reservation.New(nil)
			cars := randomConsists(rng, n)
			for _, c := range cars {
				require.NoError(t, reg.Add(c))
				if c.IsLoaded() && rng.IntN(2) == 0 {
					tracker.Reserve(c.CarGUID, "CM", "FF")
				}
			}

			data, err := Encode(Capture(reg.All(), tracker.All()))
			require.NoError(t, err)
			doc, err := Decode(data, nil)
			require.NoError(t, err)

			decoded := make([]*core.Equipment, 0, len(doc.Equipment))
			for _, r := range doc.Equipment {
				e, err := r.Equipment()
				require.NoError(t, err)
				decoded = append(decoded, e)
			}
			if diff := cmp.Diff(reg.All(), decoded); diff != "" {
				t.Errorf("decoded records mismatch (-want +got):\n%s", diff)
			}

			restoredReg := registry.New(hosttest.NewIDs(), nil)
			restoredTracker := reservation.New(nil)
			res, err := Restore(doc, restoredReg, restoredTracker, nil)
			require.NoError(t, err)
			assert.Equal(t, n, res.Equipment)
			assert.Zero(t, res.Skipped)

			for _, e := range restoredReg.All() {
				assert.False(t, e.IsSpawned, "%s is restored despawned", e.ID)
			}
			ignoreSpawn := cmpopts.IgnoreFields(core.Equipment{}, "IsSpawned")
			if diff := cmp.Diff(reg.All(), restoredReg.All(), ignoreSpawn); diff != "" {
				t.Errorf("equipment mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tracker.All(), restoredTracker.All()); diff != "" {
				t.Errorf("reservations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRecordKeysAreStable(t *testing.T) {
	e := &core.Equipment{
		ID:          "L-001",
		CarGUID:     uuid.New(),
		CarType:     "Hopper",
		LoadedCargo: "Coal",
		CarState:    json.RawMessage(`{}`),
		LocoState:   json.RawMessage(`{}`),
	}
	data, err := json.Marshal(FromEquipment(e))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{
		"id", "carGUID", "carType", "position", "rotation",
		"bogie1Track", "bogie1PositionAlongTrack", "bogie1Derailed",
		"bogie2Track", "bogie2PositionAlongTrack", "bogie2Derailed",
		"coupledFront", "coupledRear", "exploded", "loadedCargo",
		"carState", "locoState", "isSpawned",
	} {
		assert.Contains(t, fields, key)
	}
}

func TestRestore_SkipsMalformedRecords(t *testing.T) {
	good := uuid.New()
	other := uuid.New()
	doc := &Document{
		Version: Version,
		Equipment: []Record{
			{ID: "L-001", CarGUID: good.String(), CarType: "Hopper", CoupledRear: uuid.New().String()},
			{ID: "", CarGUID: uuid.New().String(), CarType: "Hopper"},
			{ID: "L-002", CarGUID: "not-a-guid", CarType: "Hopper"},
			{ID: "L-003", CarGUID: other.String(), CarType: ""},
			{ID: "L-001", CarGUID: uuid.New().String(), CarType: "Hopper"},
			{ID: "L-004", CarGUID: good.String(), CarType: "Hopper"},
			{ID: "L-005", CarGUID: other.String(), CarType: "Flatbed", CoupledFront: "garbage"},
		},
		Reservations: []ReservationRecord{
			{CarGUID: good.String(), Outbound: "CM", Inbound: "FF"},
			{CarGUID: uuid.New().String(), Outbound: "CM", Inbound: "FF"},
			{CarGUID: "bad", Outbound: "CM", Inbound: "FF"},
		},
	}
	reg := registry.New(hosttest.NewIDs(), nil)
	tracker := reservation.New(nil)

	res, err := Restore(doc, reg, tracker, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Equipment: 1, Reservations: 1, Skipped: 8}, res)

	e := reg.FindByCarGUID(good)
	require.NotNil(t, e)
	assert.Equal(t, uuid.Nil, e.CoupledRear, "dangling coupling is dropped")
	assert.Equal(t, core.CargoNone, e.LoadedCargo)
}

func TestRestore_ClearsRuntimeState(t *testing.T) {
	e := &core.Equipment{ID: "L-001", CarGUID: uuid.New(), CarType: "Hopper", IsSpawned: true, Handle: 12}
	doc := Capture([]*core.Equipment{e}, nil)
	assert.True(t, doc.Equipment[0].IsSpawned)

	reg := registry.New(nil, nil)
	_, err := Restore(doc, reg, reservation.New(nil), nil)
	require.NoError(t, err)
	got := reg.All()[0]
	assert.False(t, got.IsSpawned)
	assert.Zero(t, got.Handle)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantErr   error
		equipment int
	}{
		{"current", `{"version":1,"equipment":[{"id":"L-001"}],"reservations":[]}`, nil, 1},
		{"bad entry skipped", `{"version":1,"equipment":[{"id":"L-001"},{"id":7}]}`, nil, 1},
		{"future version", `{"version":2,"equipment":[]}`, ErrIncompatibleSave, 0},
		{"missing version", `{"equipment":[]}`, ErrIncompatibleSave, 0},
		{"not json", `{{{`, ErrIncompatibleSave, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Decode([]byte(tt.data), nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, doc.Equipment, tt.equipment)
		})
	}
}

func TestRestore_NilDocument(t *testing.T) {
	_, err := Restore(nil, registry.New(nil, nil), reservation.New(nil), nil)
	assert.ErrorIs(t, err, ErrNoSave)
}
