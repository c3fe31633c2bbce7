// Package convert provides functions to convert between GORM models and saved documents
package convert

import (
	"encoding/json"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/stockyard/extension/internal/model"
	"github.com/stockyard/extension/internal/persist"
	"github.com/stockyard/extension/pkg/core"
)

// jsonNull is stored for absent opaque state so the column is never NULL.
var jsonNull = datatypes.JSON("null")

// vectorToPoint converts a core.Vector3 to an XYZ geom.Point
func vectorToPoint(v core.Vector3) geom.Point {
	coords := geom.Coordinates{XY: geom.XY{X: v.X, Y: v.Y}, Z: v.Z, Type: geom.DimXYZ}
	return geom.NewPoint(coords)
}

// pointToVector converts a geom.Point to a core.Vector3
func pointToVector(p geom.Point) core.Vector3 {
	coord, ok := p.Coordinates()
	if !ok {
		return core.Vector3{}
	}
	return core.Vector3{X: coord.XY.X, Y: coord.XY.Y, Z: coord.Z}
}

func stateToJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return jsonNull
	}
	return datatypes.JSON(raw)
}

func jsonToState(j datatypes.JSON) json.RawMessage {
	if len(j) == 0 || string(j) == string(jsonNull) {
		return nil
	}
	return json.RawMessage(j)
}

// RecordToEquipment converts a saved record to a GORM row.
func RecordToEquipment(r persist.Record) model.Equipment {
	return model.Equipment{
		UnitID:         r.ID,
		CarGUID:        r.CarGUID,
		CarType:        r.CarType,
		Position:       vectorToPoint(r.Position),
		RotationX:      r.Rotation.X,
		RotationY:      r.Rotation.Y,
		RotationZ:      r.Rotation.Z,
		RotationW:      r.Rotation.W,
		Bogie1Track:    r.Bogie1Track,
		Bogie1Span:     r.Bogie1PositionAlongTrack,
		Bogie1Derailed: r.Bogie1Derailed,
		Bogie2Track:    r.Bogie2Track,
		Bogie2Span:     r.Bogie2PositionAlongTrack,
		Bogie2Derailed: r.Bogie2Derailed,
		CoupledFront:   r.CoupledFront,
		CoupledRear:    r.CoupledRear,
		Exploded:       r.Exploded,
		LoadedCargo:    r.LoadedCargo,
		CarState:       stateToJSON(r.CarState),
		LocoState:      stateToJSON(r.LocoState),
		IsSpawned:      r.IsSpawned,
		DestinationID:  r.DestinationID,
	}
}

// EquipmentToRecord converts a GORM row back to a saved record.
func EquipmentToRecord(e model.Equipment) persist.Record {
	return persist.Record{
		ID:                       e.UnitID,
		CarGUID:                  e.CarGUID,
		CarType:                  e.CarType,
		Position:                 pointToVector(e.Position),
		Rotation:                 core.Quaternion{X: e.RotationX, Y: e.RotationY, Z: e.RotationZ, W: e.RotationW},
		Bogie1Track:              e.Bogie1Track,
		Bogie1PositionAlongTrack: e.Bogie1Span,
		Bogie1Derailed:           e.Bogie1Derailed,
		Bogie2Track:              e.Bogie2Track,
		Bogie2PositionAlongTrack: e.Bogie2Span,
		Bogie2Derailed:           e.Bogie2Derailed,
		CoupledFront:             e.CoupledFront,
		CoupledRear:              e.CoupledRear,
		Exploded:                 e.Exploded,
		LoadedCargo:              e.LoadedCargo,
		CarState:                 jsonToState(e.CarState),
		LocoState:                jsonToState(e.LocoState),
		IsSpawned:                e.IsSpawned,
		DestinationID:            e.DestinationID,
	}
}

// ReservationToRow converts a saved reservation to a GORM row.
func ReservationToRow(r persist.ReservationRecord) model.Reservation {
	return model.Reservation{CarGUID: r.CarGUID, Outbound: r.Outbound, Inbound: r.Inbound}
}

// RowToReservation converts a GORM row back to a saved reservation.
func RowToReservation(r model.Reservation) persist.ReservationRecord {
	return persist.ReservationRecord{CarGUID: r.CarGUID, Outbound: r.Outbound, Inbound: r.Inbound}
}

// Rows is a document split into its tables.
type Rows struct {
	Info         model.SaveInfo
	Equipment    []model.Equipment
	Reservations []model.Reservation
}

// DocumentToRows splits doc into rows stamped with savedAt.
func DocumentToRows(doc *persist.Document, savedAt time.Time) Rows {
	rows := Rows{
		Info: model.SaveInfo{
			Version:      doc.Version,
			SavedAt:      savedAt,
			Equipment:    len(doc.Equipment),
			Reservations: len(doc.Reservations),
		},
		Equipment:    make([]model.Equipment, len(doc.Equipment)),
		Reservations: make([]model.Reservation, len(doc.Reservations)),
	}
	for i, r := range doc.Equipment {
		rows.Equipment[i] = RecordToEquipment(r)
	}
	for i, r := range doc.Reservations {
		rows.Reservations[i] = ReservationToRow(r)
	}
	return rows
}

// RowsToDocument rebuilds a document from its tables.
func RowsToDocument(rows Rows) *persist.Document {
	doc := &persist.Document{
		Version:      rows.Info.Version,
		Equipment:    make([]persist.Record, len(rows.Equipment)),
		Reservations: make([]persist.ReservationRecord, len(rows.Reservations)),
	}
	for i, e := range rows.Equipment {
		doc.Equipment[i] = EquipmentToRecord(e)
	}
	for i, r := range rows.Reservations {
		doc.Reservations[i] = RowToReservation(r)
	}
	return doc
}
