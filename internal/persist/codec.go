package persist

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

type rawDocument struct {
	Version      int               `json:"version"`
	Equipment    []json.RawMessage `json:"equipment"`
	Reservations []json.RawMessage `json:"reservations"`
}

// Encode marshals doc.
func Encode(doc *Document) ([]byte, error) {
	return json.Marshal(doc)
}

// Decode unmarshals a document. Entries that do not decode are logged and
// skipped; an unreadable or unsupported document returns
// ErrIncompatibleSave.
func Decode(data []byte, log *slog.Logger) (*Document, error) {
	if log == nil {
		log = slog.Default()
	}
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding document: %v: %w", err, ErrIncompatibleSave)
	}

	doc := &Document{
		Version:      raw.Version,
		Equipment:    make([]Record, 0, len(raw.Equipment)),
		Reservations: make([]ReservationRecord, 0, len(raw.Reservations)),
	}
	if err := Check(doc); err != nil {
		return nil, err
	}
	for i, m := range raw.Equipment {
		var r Record
		if err := json.Unmarshal(m, &r); err != nil {
			log.Error("Skipping undecodable equipment", "index", i, "error", err)
			continue
		}
		doc.Equipment = append(doc.Equipment, r)
	}
	for i, m := range raw.Reservations {
		var r ReservationRecord
		if err := json.Unmarshal(m, &r); err != nil {
			log.Error("Skipping undecodable reservation", "index", i, "error", err)
			continue
		}
		doc.Reservations = append(doc.Reservations, r)
	}
	return doc, nil
}
