// Package balance holds account balances. Unknown accounts have a zero
// balance; a lookup never fails.
package balance

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/jmerrifield20/accountant/pkg/event"
)

var (
	// ErrInsufficientFunds is returned when the sender's balance is lower than
	// the transfer amount. Nothing is mutated.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOverflow is returned when a credit would exceed the uint64 range.
	ErrOverflow = errors.New("balance overflow")
)

// Store maps identities to balances. It is safe for concurrent use; every
// mutation lands under a single write lock so readers never see half of a
// transfer.
type Store struct {
	mu       sync.RWMutex
	balances map[event.Identity]uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{balances: make(map[event.Identity]uint64)}
}

// Get returns the balance of id, or 0 if id has never been credited.
func (s *Store) Get(id event.Identity) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[id]
}

// Credit adds amount to id. It is used to allocate genesis balances; transfers
// go through ApplyTransfer.
func (s *Store) Credit(id event.Identity, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.balances[id]
	if amount > math.MaxUint64-cur {
		return fmt.Errorf("credit %d to %s: %w", amount, id, ErrOverflow)
	}
	s.balances[id] = cur + amount
	return nil
}

// ApplyTransfer debits from and credits to by amount as one unit. If from
// holds less than amount it returns ErrInsufficientFunds and changes nothing.
func (s *Store) ApplyTransfer(from, to event.Identity, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fromBal := s.balances[from]
	if fromBal < amount {
		return ErrInsufficientFunds
	}
	if from == to || amount == 0 {
		return nil
	}
	toBal := s.balances[to]
	if amount > math.MaxUint64-toBal {
		return fmt.Errorf("credit %d to %s: %w", amount, to, ErrOverflow)
	}
	s.balances[from] = fromBal - amount
	s.balances[to] = toBal + amount
	return nil
}

// Total returns the sum of all balances. Genesis allocations are bounded so
// the sum fits in a uint64; see genesis.Build.
func (s *Store) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, b := range s.balances {
		total += b
	}
	return total
}

// Len returns the number of accounts that have ever been credited.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.balances)
}
