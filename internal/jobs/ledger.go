package jobs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/stockyard/extension/pkg/core"
)

// ErrAlreadyAssigned is returned when a car is already part of an active
// chain.
var ErrAlreadyAssigned = errors.New("car already assigned to an active job")

// Ledger indexes active job chains by car.
type Ledger struct {
	mu     sync.RWMutex
	byCar  map[uuid.UUID]*core.JobChain
	chains map[uuid.UUID]*core.JobChain
}

func NewLedger() *Ledger {
	return &Ledger{
		byCar:  make(map[uuid.UUID]*core.JobChain),
		chains: make(map[uuid.UUID]*core.JobChain),
	}
}

// Add records chain as active. It fails without side effects if any of its
// cars already belongs to another chain.
func (l *Ledger) Add(chain *core.JobChain) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, car := range chain.Cars {
		if other, ok := l.byCar[car]; ok && other != chain {
			return fmt.Errorf("car %s in chain %s: %w", car, other.ID, ErrAlreadyAssigned)
		}
	}
	l.chains[chain.ID] = chain
	for _, car := range chain.Cars {
		l.byCar[car] = chain
	}
	return nil
}

// Remove forgets chain. Removing an unknown chain does nothing.
func (l *Ledger) Remove(chain *core.JobChain) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.chains[chain.ID]; !ok {
		return
	}
	delete(l.chains, chain.ID)
	for _, car := range chain.Cars {
		if l.byCar[car] == chain {
			delete(l.byCar, car)
		}
	}
}

// Reset forgets every chain and returns how many were dropped.
func (l *Ledger) Reset() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.chains)
	l.byCar = make(map[uuid.UUID]*core.JobChain)
	l.chains = make(map[uuid.UUID]*core.JobChain)
	return n
}

func (l *Ledger) HasActiveJob(car uuid.UUID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byCar[car]
	return ok
}

// ChainFor returns the active chain of car.
func (l *Ledger) ChainFor(car uuid.UUID) (*core.JobChain, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.byCar[car]
	return c, ok
}

// Rekey follows a car to its new GUID, inside the chain as well.
func (l *Ledger) Rekey(old, replacement uuid.UUID) {
	if old == replacement {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	chain, ok := l.byCar[old]
	if !ok {
		return
	}
	delete(l.byCar, old)
	l.byCar[replacement] = chain

	for _, cars := range [][]uuid.UUID{chain.Cars, chain.Reserved} {
		for i, car := range cars {
			if car == old {
				cars[i] = replacement
			}
		}
	}
	for s := range chain.Stages {
		for t := range chain.Stages[s].StartingTracks {
			cars := chain.Stages[s].StartingTracks[t].Cars
			for i, car := range cars {
				if car == old {
					cars[i] = replacement
				}
			}
		}
	}
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chains)
}

// Chains returns every active chain.
func (l *Ledger) Chains() []*core.JobChain {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*core.JobChain, 0, len(l.chains))
	for _, c := range l.chains {
		out = append(out, c)
	}
	return out
}
