package jobs

import (
	"math"

	"github.com/stockyard/extension/internal/catalog"
	"github.com/stockyard/extension/pkg/core"
)

// ShuntingTrackDistance is the distance proxy, in metres, charged per
// starting track of a shunting job.
const ShuntingTrackDistance = 500.0

// PaymentData summarizes the cars and cargo a job moves.
type PaymentData struct {
	CarTypes map[string]int
	Cargo    map[core.CargoType]int
}

// NewPaymentData counts car types and cargo. Empty cargo is not counted.
func NewPaymentData(cars []*core.Equipment, cargo []core.CargoType) PaymentData {
	d := PaymentData{
		CarTypes: make(map[string]int),
		Cargo:    make(map[core.CargoType]int),
	}
	for _, c := range cars {
		d.CarTypes[c.CarType]++
	}
	for _, c := range cargo {
		if c != "" && c != core.CargoNone {
			d.Cargo[c]++
		}
	}
	return d
}

// Payment computes the reward of a job moving d over distance metres.
func Payment(cat catalog.Catalog, kind core.JobKind, distance float64, d PaymentData) float64 {
	var rate float64
	for carType, n := range d.CarTypes {
		rate += float64(n) * cat.CarRate(carType)
	}
	for cargo, n := range d.Cargo {
		rate += float64(n) * cat.CargoRate(cargo)
	}
	p := cat.KindMultiplier(kind) * (distance / 1000) * rate
	return math.Round(p*100) / 100
}

// ShuntingDistance is the distance proxy of a shunting job over tracks
// starting tracks.
func ShuntingDistance(tracks int) float64 {
	if tracks < 1 {
		tracks = 1
	}
	return float64(tracks) * ShuntingTrackDistance
}

// RequiredLicenses is the union of the cargo, car count and job kind
// licenses.
func RequiredLicenses(cat catalog.Catalog, kind core.JobKind, cargo []core.CargoType, cars int) core.License {
	l := cat.JobLicense(kind) | cat.CarCountLicense(cars)
	for _, c := range cargo {
		if c != "" && c != core.CargoNone {
			l |= cat.CargoLicense(c)
		}
	}
	return l
}

// TrainLength is the physical length of cars coupled in one line, including
// a separation per joint and at both open ends.
func TrainLength(cat catalog.Catalog, cars []*core.Equipment) float64 {
	if len(cars) == 0 {
		return 0
	}
	total := core.CarSeparation
	for _, c := range cars {
		total += cat.CarLength(c.CarType) + core.CarSeparation
	}
	return total
}
