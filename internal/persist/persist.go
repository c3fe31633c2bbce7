// Package persist converts the registry and reservation tracker to and from
// the saved document.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stockyard/extension/internal/registry"
	"github.com/stockyard/extension/internal/reservation"
	"github.com/stockyard/extension/pkg/core"
)

// Version is the document version written by Capture.
const Version = 1

var (
	// ErrIncompatibleSave is returned for a document this build cannot read.
	ErrIncompatibleSave = errors.New("incompatible save document")
	// ErrNoSave is returned by storage backends holding no document yet.
	ErrNoSave = errors.New("no save document")
	// ErrMalformedRecord marks a record that cannot be restored.
	ErrMalformedRecord = errors.New("malformed record")
)

// Record is the saved form of one equipment record.
type Record struct {
	ID       string          `json:"id"`
	CarGUID  string          `json:"carGUID"`
	CarType  string          `json:"carType"`
	Position core.Vector3    `json:"position"`
	Rotation core.Quaternion `json:"rotation"`

	Bogie1Track              string  `json:"bogie1Track"`
	Bogie1PositionAlongTrack float64 `json:"bogie1PositionAlongTrack"`
	Bogie1Derailed           bool    `json:"bogie1Derailed"`
	Bogie2Track              string  `json:"bogie2Track"`
	Bogie2PositionAlongTrack float64 `json:"bogie2PositionAlongTrack"`
	Bogie2Derailed           bool    `json:"bogie2Derailed"`

	CoupledFront string `json:"coupledFront"`
	CoupledRear  string `json:"coupledRear"`

	Exploded    bool            `json:"exploded"`
	LoadedCargo string          `json:"loadedCargo"`
	CarState    json.RawMessage `json:"carState,omitempty"`
	LocoState   json.RawMessage `json:"locoState,omitempty"`

	IsSpawned     bool   `json:"isSpawned"`
	DestinationID string `json:"destinationID,omitempty"`
}

// ReservationRecord is the saved form of one reservation.
type ReservationRecord struct {
	CarGUID  string `json:"carGUID"`
	Outbound string `json:"outbound"`
	Inbound  string `json:"inbound"`
}

// Document is the whole saved state.
type Document struct {
	Version      int                 `json:"version"`
	Equipment    []Record            `json:"equipment"`
	Reservations []ReservationRecord `json:"reservations"`
}

// FromEquipment returns the saved form of e.
func FromEquipment(e *core.Equipment) Record {
	return Record{
		ID:                       e.ID,
		CarGUID:                  e.CarGUID.String(),
		CarType:                  e.CarType,
		Position:                 e.Position,
		Rotation:                 e.Rotation,
		Bogie1Track:              string(e.Bogies[0].Track),
		Bogie1PositionAlongTrack: e.Bogies[0].Span,
		Bogie1Derailed:           e.Bogies[0].Derailed,
		Bogie2Track:              string(e.Bogies[1].Track),
		Bogie2PositionAlongTrack: e.Bogies[1].Span,
		Bogie2Derailed:           e.Bogies[1].Derailed,
		CoupledFront:             guidString(e.CoupledFront),
		CoupledRear:              guidString(e.CoupledRear),
		Exploded:                 e.Exploded,
		LoadedCargo:              string(e.LoadedCargo),
		CarState:                 e.CarState,
		LocoState:                e.LocoState,
		IsSpawned:                e.IsSpawned,
		DestinationID:            e.DestinationID,
	}
}

// Equipment parses r into a record. The handle is left zero; IsSpawned is
// carried as saved and cleared by Restore.
func (r Record) Equipment() (*core.Equipment, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("empty unit id: %w", ErrMalformedRecord)
	}
	if r.CarType == "" {
		return nil, fmt.Errorf("unit %s: empty car type: %w", r.ID, ErrMalformedRecord)
	}
	guid, err := uuid.Parse(r.CarGUID)
	if err != nil || guid == uuid.Nil {
		return nil, fmt.Errorf("unit %s: car guid %q: %w", r.ID, r.CarGUID, ErrMalformedRecord)
	}
	front, err := parseCoupling(r.CoupledFront)
	if err != nil {
		return nil, fmt.Errorf("unit %s: front coupling: %w", r.ID, err)
	}
	rear, err := parseCoupling(r.CoupledRear)
	if err != nil {
		return nil, fmt.Errorf("unit %s: rear coupling: %w", r.ID, err)
	}

	cargo := core.CargoType(r.LoadedCargo)
	if cargo == "" {
		cargo = core.CargoNone
	}
	return &core.Equipment{
		ID:       r.ID,
		CarGUID:  guid,
		CarType:  r.CarType,
		Position: r.Position,
		Rotation: r.Rotation,
		Bogies: [2]core.Bogie{
			{Track: core.TrackID(r.Bogie1Track), Span: r.Bogie1PositionAlongTrack, Derailed: r.Bogie1Derailed},
			{Track: core.TrackID(r.Bogie2Track), Span: r.Bogie2PositionAlongTrack, Derailed: r.Bogie2Derailed},
		},
		CoupledFront:  front,
		CoupledRear:   rear,
		Exploded:      r.Exploded,
		LoadedCargo:   cargo,
		CarState:      cloneRaw(r.CarState),
		LocoState:     cloneRaw(r.LocoState),
		IsSpawned:     r.IsSpawned,
		DestinationID: r.DestinationID,
	}, nil
}

func guidString(g uuid.UUID) string {
	if g == uuid.Nil {
		return ""
	}
	return g.String()
}

func parseCoupling(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	g, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%q: %w", s, ErrMalformedRecord)
	}
	return g, nil
}

func cloneRaw(m json.RawMessage) json.RawMessage {
	if m == nil {
		return nil
	}
	return append(json.RawMessage(nil), m...)
}

// Capture builds a document from records and reservations. Spawned cars
// must have been snapshotted by the caller.
func Capture(records []*core.Equipment, reservations []core.Reservation) *Document {
	doc := &Document{
		Version:      Version,
		Equipment:    make([]Record, 0, len(records)),
		Reservations: make([]ReservationRecord, 0, len(reservations)),
	}
	for _, e := range records {
		doc.Equipment = append(doc.Equipment, FromEquipment(e))
	}
	for _, r := range reservations {
		doc.Reservations = append(doc.Reservations, ReservationRecord{
			CarGUID:  r.Car.String(),
			Outbound: r.Outbound,
			Inbound:  r.Inbound,
		})
	}
	return doc
}

// Check reports whether doc can be restored by this build.
func Check(doc *Document) error {
	if doc == nil {
		return ErrNoSave
	}
	if doc.Version < 1 || doc.Version > Version {
		return fmt.Errorf("version %d: %w", doc.Version, ErrIncompatibleSave)
	}
	return nil
}

// Result counts what Restore kept and dropped.
type Result struct {
	Equipment    int
	Reservations int
	Skipped      int
}

// Restore replaces the content of reg and tracker with doc. Malformed or
// duplicate records are logged and skipped; couplings and reservations
// that point at no loaded car are dropped. Every restored record starts
// despawned, whatever spawn state was saved.
func Restore(doc *Document, reg *registry.Registry, tracker *reservation.Tracker, log *slog.Logger) (Result, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := Check(doc); err != nil {
		return Result{}, err
	}

	var res Result
	records := make([]*core.Equipment, 0, len(doc.Equipment))
	ids := make(map[string]bool, len(doc.Equipment))
	guids := make(map[uuid.UUID]bool, len(doc.Equipment))
	for i, r := range doc.Equipment {
		e, err := r.Equipment()
		if err != nil {
			log.Error("Skipping saved equipment", "index", i, "error", err)
			res.Skipped++
			continue
		}
		if ids[e.ID] || guids[e.CarGUID] {
			log.Error("Skipping duplicate saved equipment", "index", i, "id", e.ID, "carGUID", e.CarGUID)
			res.Skipped++
			continue
		}
		ids[e.ID] = true
		guids[e.CarGUID] = true
		e.IsSpawned = false
		records = append(records, e)
	}

	for _, e := range records {
		if e.CoupledFront != uuid.Nil && !guids[e.CoupledFront] {
			log.Warn("Dropping coupling to unknown car", "id", e.ID, "coupledFront", e.CoupledFront)
			e.CoupledFront = uuid.Nil
		}
		if e.CoupledRear != uuid.Nil && !guids[e.CoupledRear] {
			log.Warn("Dropping coupling to unknown car", "id", e.ID, "coupledRear", e.CoupledRear)
			e.CoupledRear = uuid.Nil
		}
	}

	reservations := make([]core.Reservation, 0, len(doc.Reservations))
	for i, r := range doc.Reservations {
		car, err := uuid.Parse(r.CarGUID)
		if err != nil {
			log.Error("Skipping saved reservation", "index", i, "carGUID", r.CarGUID, "error", err)
			res.Skipped++
			continue
		}
		if !guids[car] {
			log.Warn("Dropping reservation of unknown car", "carGUID", car)
			res.Skipped++
			continue
		}
		reservations = append(reservations, core.Reservation{Car: car, Outbound: r.Outbound, Inbound: r.Inbound})
	}

	reg.Replace(records)
	tracker.Replace(reservations)
	res.Equipment = reg.Len()
	res.Reservations = tracker.Len()
	log.Info("Restored saved state",
		"equipment", res.Equipment, "reservations", res.Reservations, "skipped", res.Skipped)
	return res, nil
}
