// Package catalog answers license, car and cargo lookups for job generation.
package catalog

import (
	"slices"
	"sync"

	"github.com/stockyard/extension/pkg/core"
)

// Catalog is the license/cargo/car lookup consumed by job generation.
type Catalog interface {
	CarLength(carType string) float64
	CanCarHold(carType string, cargo core.CargoType) bool

	// Licensed reports whether the player holds every license in l.
	Licensed(l core.License) bool
	CargoLicense(cargo core.CargoType) core.License
	CarCountLicense(cars int) core.License
	JobLicense(kind core.JobKind) core.License

	CarRate(carType string) float64
	CargoRate(cargo core.CargoType) float64
	KindMultiplier(kind core.JobKind) float64
}

// CarSpec describes one car type.
type CarSpec struct {
	Type   string   `json:"type" mapstructure:"type"`
	Length float64  `json:"length" mapstructure:"length"`
	Cargo  []string `json:"cargo" mapstructure:"cargo"`
	Rate   float64  `json:"rate" mapstructure:"rate"`
}

// CargoSpec describes one cargo type.
type CargoSpec struct {
	Type    string  `json:"type" mapstructure:"type"`
	License uint32  `json:"license" mapstructure:"license"`
	Rate    float64 `json:"rate" mapstructure:"rate"`
}

// CarCountTier requires License for jobs of at least MinCars cars.
type CarCountTier struct {
	MinCars int    `json:"minCars" mapstructure:"minCars"`
	License uint32 `json:"license" mapstructure:"license"`
}

// Tables is the static content of a catalog.
type Tables struct {
	Cars          []CarSpec      `json:"cars" mapstructure:"cars"`
	Cargo         []CargoSpec    `json:"cargo" mapstructure:"cargo"`
	CarCountTiers []CarCountTier `json:"carCountTiers" mapstructure:"carCountTiers"`

	LoadLicense      uint32 `json:"loadLicense" mapstructure:"loadLicense"`
	TransportLicense uint32 `json:"transportLicense" mapstructure:"transportLicense"`
	UnloadLicense    uint32 `json:"unloadLicense" mapstructure:"unloadLicense"`

	LoadMultiplier      float64 `json:"loadMultiplier" mapstructure:"loadMultiplier"`
	TransportMultiplier float64 `json:"transportMultiplier" mapstructure:"transportMultiplier"`
	UnloadMultiplier    float64 `json:"unloadMultiplier" mapstructure:"unloadMultiplier"`

	// Owned is the set of licenses the player holds.
	Owned uint32 `json:"owned" mapstructure:"owned"`

	// DefaultCarLength is used for car types missing from Cars.
	DefaultCarLength float64 `json:"defaultCarLength" mapstructure:"defaultCarLength"`
}

// Static is a Catalog backed by fixed tables. Owned licenses can change at
// runtime through Grant and Revoke.
type Static struct {
	mu    sync.RWMutex
	cars  map[string]CarSpec
	cargo map[core.CargoType]CargoSpec
	t     Tables
	owned core.License
}

// NewStatic builds a catalog from tables.
func NewStatic(t Tables) *Static {
	s := &Static{
		cars:  make(map[string]CarSpec, len(t.Cars)),
		cargo: make(map[core.CargoType]CargoSpec, len(t.Cargo)),
		t:     t,
		owned: core.License(t.Owned),
	}
	for _, c := range t.Cars {
		s.cars[c.Type] = c
	}
	for _, c := range t.Cargo {
		s.cargo[core.CargoType(c.Type)] = c
	}
	slices.SortFunc(s.t.CarCountTiers, func(a, b CarCountTier) int { return a.MinCars - b.MinCars })
	return s
}

// Grant adds licenses to the owned set.
func (s *Static) Grant(l core.License) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned |= l
}

// Revoke removes licenses from the owned set.
func (s *Static) Revoke(l core.License) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned &^= l
}

func (s *Static) CarLength(carType string) float64 {
	if c, ok := s.cars[carType]; ok && c.Length > 0 {
		return c.Length
	}
	return s.t.DefaultCarLength
}

func (s *Static) CanCarHold(carType string, cargo core.CargoType) bool {
	c, ok := s.cars[carType]
	if !ok {
		return false
	}
	return slices.Contains(c.Cargo, string(cargo))
}

func (s *Static) Licensed(l core.License) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owned.Has(l)
}

func (s *Static) CargoLicense(cargo core.CargoType) core.License {
	return core.License(s.cargo[cargo].License)
}

// CarCountLicense returns the license of the highest tier reached by cars.
func (s *Static) CarCountLicense(cars int) core.License {
	var l core.License
	for _, tier := range s.t.CarCountTiers {
		if cars >= tier.MinCars {
			l = core.License(tier.License)
		}
	}
	return l
}

func (s *Static) JobLicense(kind core.JobKind) core.License {
	switch kind {
	case core.JobShuntingLoad:
		return core.License(s.t.LoadLicense)
	case core.JobTransport:
		return core.License(s.t.TransportLicense)
	case core.JobShuntingUnload:
		return core.License(s.t.UnloadLicense)
	}
	return 0
}

func (s *Static) CarRate(carType string) float64 {
	return s.cars[carType].Rate
}

func (s *Static) CargoRate(cargo core.CargoType) float64 {
	return s.cargo[cargo].Rate
}

func (s *Static) KindMultiplier(kind core.JobKind) float64 {
	var m float64
	switch kind {
	case core.JobShuntingLoad:
		m = s.t.LoadMultiplier
	case core.JobTransport:
		m = s.t.TransportMultiplier
	case core.JobShuntingUnload:
		m = s.t.UnloadMultiplier
	}
	if m == 0 {
		return 1
	}
	return m
}

// CargoGroupLicensed reports whether every cargo type of g is licensed.
func CargoGroupLicensed(c Catalog, g core.CargoGroup) bool {
	if len(g.Cargo) == 0 {
		return false
	}
	for _, cargo := range g.Cargo {
		if !c.Licensed(c.CargoLicense(cargo)) {
			return false
		}
	}
	return true
}

// CanCarHoldAny reports whether the car type can hold any cargo of g.
func CanCarHoldAny(c Catalog, carType string, g core.CargoGroup) bool {
	for _, cargo := range g.Cargo {
		if c.CanCarHold(carType, cargo) {
			return true
		}
	}
	return false
}

var _ Catalog = (*Static)(nil)
