// Package genesis builds the initial ledger state: the first_id digest the
// chain is anchored at, and the balances allocated before any transfer.
package genesis

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/jmerrifield20/accountant/internal/accountant"
	"github.com/jmerrifield20/accountant/internal/balance"
	"github.com/jmerrifield20/accountant/internal/ledger"
	"github.com/jmerrifield20/accountant/pkg/event"
	"go.uber.org/zap"
)

// ErrSupplyOverflow is returned when the allocations sum past math.MaxUint64.
var ErrSupplyOverflow = errors.New("genesis supply exceeds uint64")

// domain separates genesis digests from entry IDs.
const domain = "accountant/genesis/v1"

// Allocation credits Amount to Identity at genesis.
type Allocation struct {
	Identity event.Identity
	Amount   uint64
}

// Genesis is the starting state of a ledger.
type Genesis struct {
	ID          event.Digest
	Allocations []Allocation
	Supply      uint64
}

// Build validates allocations and derives the genesis digest from seed and
// the allocations. Allocations to the same identity are merged. The result is
// deterministic: the same inputs always produce the same ID.
func Build(seed string, allocations []Allocation) (*Genesis, error) {
	merged := make(map[event.Identity]uint64, len(allocations))
	var supply uint64
	for _, a := range allocations {
		if a.Amount > math.MaxUint64-supply {
			return nil, ErrSupplyOverflow
		}
		supply += a.Amount
		merged[a.Identity] += a.Amount
	}

	out := make([]Allocation, 0, len(merged))
	for id, amt := range merged {
		out = append(out, Allocation{Identity: id, Amount: amt})
	}
	slices.SortFunc(out, func(a, b Allocation) int {
		return bytes.Compare(a.Identity[:], b.Identity[:])
	})

	// The seed is length-prefixed so it cannot run into the allocations.
	parts := [][]byte{[]byte(domain), binary.BigEndian.AppendUint64(nil, uint64(len(seed))), []byte(seed)}
	for _, a := range out {
		parts = append(parts, a.Identity[:], binary.BigEndian.AppendUint64(nil, a.Amount))
	}

	return &Genesis{
		ID:          event.Hash(parts...),
		Allocations: out,
		Supply:      supply,
	}, nil
}

// Accountant creates an Accountant whose chain starts at g.ID and whose
// balances hold g's allocations.
func (g *Genesis) Accountant(logger *zap.Logger) (*accountant.Accountant, error) {
	store := balance.NewStore()
	for _, a := range g.Allocations {
		if err := store.Credit(a.Identity, a.Amount); err != nil {
			return nil, fmt.Errorf("allocate genesis balance: %w", err)
		}
	}
	return accountant.New(ledger.New(g.ID), store, logger), nil
}
