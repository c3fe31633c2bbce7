// Package model holds the gorm row types of the SQL save backends.
package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DatabaseModels is the list of tables migrated by the SQL backends.
var DatabaseModels = []interface{}{
	&SaveInfo{},
	&Equipment{},
	&Reservation{},
}

// SaveInfo describes the document currently held in the database. There is
// at most one row.
type SaveInfo struct {
	gorm.Model
	Version      int       `json:"version"`
	SavedAt      time.Time `json:"savedAt" gorm:"index"`
	Equipment    int       `json:"equipment"`
	Reservations int       `json:"reservations"`
}

func (*SaveInfo) TableName() string {
	return "save_infos"
}

// Equipment is one saved equipment record.
type Equipment struct {
	ID      uint   `json:"-" gorm:"primarykey;autoIncrement"`
	UnitID  string `json:"id" gorm:"size:64;uniqueIndex"`
	CarGUID string `json:"carGUID" gorm:"size:36;index"`
	CarType string `json:"carType" gorm:"size:128"`

	Position  geom.Point `json:"position"` // world position, XYZ
	RotationX float64    `json:"rotationX"`
	RotationY float64    `json:"rotationY"`
	RotationZ float64    `json:"rotationZ"`
	RotationW float64    `json:"rotationW"`

	Bogie1Track    string  `json:"bogie1Track" gorm:"size:64"`
	Bogie1Span     float64 `json:"bogie1PositionAlongTrack"`
	Bogie1Derailed bool    `json:"bogie1Derailed"`
	Bogie2Track    string  `json:"bogie2Track" gorm:"size:64"`
	Bogie2Span     float64 `json:"bogie2PositionAlongTrack"`
	Bogie2Derailed bool    `json:"bogie2Derailed"`

	CoupledFront string `json:"coupledFront" gorm:"size:36"`
	CoupledRear  string `json:"coupledRear" gorm:"size:36"`

	Exploded    bool           `json:"exploded"`
	LoadedCargo string         `json:"loadedCargo" gorm:"size:64"`
	CarState    datatypes.JSON `json:"carState"`
	LocoState   datatypes.JSON `json:"locoState"`

	IsSpawned     bool   `json:"isSpawned"`
	DestinationID string `json:"destinationID" gorm:"size:64"`
}

func (*Equipment) TableName() string {
	return "equipment"
}

// Reservation is one saved outbound/inbound yard pair.
type Reservation struct {
	ID       uint   `json:"-" gorm:"primarykey;autoIncrement"`
	CarGUID  string `json:"carGUID" gorm:"size:36;uniqueIndex"`
	Outbound string `json:"outbound" gorm:"size:64"`
	Inbound  string `json:"inbound" gorm:"size:64"`
}

func (*Reservation) TableName() string {
	return "reservations"
}
