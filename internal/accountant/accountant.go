// Package accountant composes signature verification, the hash chain, and
// the balance store into a single transactional operation, Process.
//
// A transfer is accepted only against the exact current chain head. Two
// transfers racing against the same head cannot both be ordered: the second to
// enter the critical section sees an advanced head and is rejected with
// StaleOrConflictingReference. There is no window of recently
// valid heads.
package accountant

import (
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/jmerrifield20/accountant/internal/balance"
	"github.com/jmerrifield20/accountant/internal/ledger"
	"github.com/jmerrifield20/accountant/internal/metrics"
	"github.com/jmerrifield20/accountant/pkg/event"
	"go.uber.org/zap"
)

// Accountant is the ledger engine. It is safe for concurrent use.
type Accountant struct {
	chain    ledger.Chain
	balances *balance.Store
	logger   *zap.Logger

	// mu covers the reference check, the balance update, and the chain
	// append. Readers take it shared.
	mu sync.RWMutex

	// gate tracks admitted Process calls for Finalize. It is never held
	// while mu is held.
	gate     sync.Mutex
	drained  *sync.Cond
	admitted uint64
	inflight map[uint64]struct{}
}

// New creates an Accountant over chain and balances. Both are owned by the
// Accountant from here on; mutate them only through Process.
func New(chain ledger.Chain, balances *balance.Store, logger *zap.Logger) *Accountant {
	a := &Accountant{
		chain:    chain,
		balances: balances,
		logger:   logger,
		inflight: make(map[uint64]struct{}),
	}
	a.drained = sync.NewCond(&a.gate)
	metrics.SetLedgerEntries(chain.Len())
	return a
}

// Process verifies and applies a transfer. On rejection it returns a
// *RejectError and leaves balances and chain untouched.
func (a *Accountant) Process(ev event.Transfer) error {
	_, err := a.Apply(ev)
	return err
}

// Apply is Process that also returns the entry appended for ev.
func (a *Accountant) Apply(ev event.Transfer) (ledger.Entry, error) {
	done := a.admit()
	defer done()

	if !ev.Verify() {
		return ledger.Entry{}, a.reject(&ev, BadSignature)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ev.Reference != a.chain.Head() {
		return ledger.Entry{}, a.reject(&ev, StaleOrConflictingReference)
	}
	if err := a.balances.ApplyTransfer(ev.From, ev.To, ev.Amount); err != nil {
		if errors.Is(err, balance.ErrInsufficientFunds) {
			return ledger.Entry{}, a.reject(&ev, InsufficientFunds)
		}
		return ledger.Entry{}, fmt.Errorf("apply transfer: %w", err)
	}
	entry := a.chain.Append(ev)

	metrics.RecordTransfer("applied")
	metrics.SetLedgerEntries(a.chain.Len())
	a.logger.Debug("transfer applied",
		zap.Stringer("id", entry.ID),
		zap.Stringer("from", ev.From),
		zap.Stringer("to", ev.To),
		zap.Uint64("amount", ev.Amount),
	)
	return entry, nil
}

func (a *Accountant) reject(ev *event.Transfer, reason RejectReason) error {
	metrics.RecordTransfer(reason.String())
	a.logger.Info("transfer rejected",
		zap.Stringer("reason", reason),
		zap.Stringer("from", ev.From),
		zap.Uint64("amount", ev.Amount),
		zap.Stringer("reference", ev.Reference),
	)
	return &RejectError{Reason: reason}
}

// BalanceOf returns the balance of id, 0 for an unknown identity.
func (a *Accountant) BalanceOf(id event.Identity) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balances.Get(id)
}

// GenesisID returns the digest the chain is anchored at.
func (a *Accountant) GenesisID() event.Digest {
	return a.chain.Genesis()
}

// CurrentID returns the chain head. Call Finalize first to make sure every
// transfer already submitted is reflected.
func (a *Accountant) CurrentID() event.Digest {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.chain.Head()
}

// Finalize blocks until every Process call admitted before it returns.
// Calls admitted afterwards are not waited for.
func (a *Accountant) Finalize() {
	a.gate.Lock()
	defer a.gate.Unlock()

	horizon := a.admitted
	for a.pendingThrough(horizon) {
		a.drained.Wait()
	}
}

// admit registers an in-flight Process call and returns its completion func.
func (a *Accountant) admit() func() {
	a.gate.Lock()
	a.admitted++
	ticket := a.admitted
	a.inflight[ticket] = struct{}{}
	a.gate.Unlock()

	return func() {
		a.gate.Lock()
		delete(a.inflight, ticket)
		a.gate.Unlock()
		a.drained.Broadcast()
	}
}

func (a *Accountant) pendingThrough(horizon uint64) bool {
	for t := range a.inflight {
		if t <= horizon {
			return true
		}
	}
	return false
}

// EntriesSince yields the chain entries appended after d. See
// ledger.Chain.EntriesSince.
func (a *Accountant) EntriesSince(d event.Digest) iter.Seq[ledger.Entry] {
	return a.chain.EntriesSince(d)
}

// Len returns the number of chain entries.
func (a *Accountant) Len() int {
	return a.chain.Len()
}

// Verify checks the integrity of the whole chain.
func (a *Accountant) Verify() error {
	return a.chain.Verify()
}

// Supply returns the sum of all balances. It is constant over the
// Accountant's lifetime.
func (a *Accountant) Supply() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balances.Total()
}
