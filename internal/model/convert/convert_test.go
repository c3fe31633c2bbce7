package convert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/stockyard/extension/internal/model"
	"github.com/stockyard/extension/internal/persist"
	"github.com/stockyard/extension/pkg/core"
)

func sampleRecord() persist.Record {
	return persist.Record{
		ID:                       "L-042",
		CarGUID:                  "5f0c2a1e-8a3b-4c0d-9e59-6b1f0f7a1c2d",
		CarType:                  "Hopper",
		Position:                 core.Vector3{X: 100.5, Y: 12.25, Z: -300},
		Rotation:                 core.Quaternion{X: 0, Y: 0.7071, Z: 0, W: 0.7071},
		Bogie1Track:              "CM-S1",
		Bogie1PositionAlongTrack: 14.5,
		Bogie2Track:              "CM-S1",
		Bogie2PositionAlongTrack: 26.5,
		CoupledRear:              "2b4f1f8e-0c1d-4b1e-8f7a-3a9d1e6c5b4a",
		LoadedCargo:              "Coal",
		CarState:                 json.RawMessage(`{"brake":0.25}`),
		DestinationID:            "FF",
	}
}

func TestVectorToPoint_KeepsZ(t *testing.T) {
	pt := vectorToPoint(core.Vector3{X: 1, Y: 2, Z: 3})
	assert.Equal(t, geom.DimXYZ, pt.CoordinatesType())
	assert.Equal(t, core.Vector3{X: 1, Y: 2, Z: 3}, pointToVector(pt))
}

func TestPointToVector_Empty(t *testing.T) {
	assert.Equal(t, core.Vector3{}, pointToVector(geom.Point{}))
}

func TestRecordToEquipment(t *testing.T) {
	row := RecordToEquipment(sampleRecord())

	assert.Equal(t, "L-042", row.UnitID)
	assert.Equal(t, 0.7071, row.RotationW)
	assert.Equal(t, 26.5, row.Bogie2Span)
	assert.Equal(t, "", row.CoupledFront)
	assert.Equal(t, datatypes.JSON(`{"brake":0.25}`), row.CarState)
	assert.Equal(t, datatypes.JSON("null"), row.LocoState, "absent state is stored as JSON null")
}

func TestEquipmentRoundTrip(t *testing.T) {
	rec := sampleRecord()
	got := EquipmentToRecord(RecordToEquipment(rec))
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestDocumentRows(t *testing.T) {
	savedAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	doc := &persist.Document{
		Version:   persist.Version,
		Equipment: []persist.Record{sampleRecord(), {ID: "L-043", CarGUID: "x", CarType: "Flatbed"}},
		Reservations: []persist.ReservationRecord{
			{CarGUID: "5f0c2a1e-8a3b-4c0d-9e59-6b1f0f7a1c2d", Outbound: "CM", Inbound: "FF"},
		},
	}

	rows := DocumentToRows(doc, savedAt)
	assert.Equal(t, model.SaveInfo{
		Version:      persist.Version,
		SavedAt:      savedAt,
		Equipment:    2,
		Reservations: 1,
	}, rows.Info)
	require.Len(t, rows.Equipment, 2)
	assert.Equal(t, "L-043", rows.Equipment[1].UnitID)
	assert.Equal(t, model.Reservation{CarGUID: "5f0c2a1e-8a3b-4c0d-9e59-6b1f0f7a1c2d", Outbound: "CM", Inbound: "FF"}, rows.Reservations[0])

	if diff := cmp.Diff(doc, RowsToDocument(rows)); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestRowsToDocument_Empty(t *testing.T) {
	doc := RowsToDocument(Rows{Info: model.SaveInfo{Version: 1}})
	assert.Equal(t, 1, doc.Version)
	assert.Empty(t, doc.Equipment)
	assert.NotNil(t, doc.Equipment)
}
