package accountant_test

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/accountant/internal/accountant"
	"github.com/jmerrifield20/accountant/internal/balance"
	"github.com/jmerrifield20/accountant/internal/ledger"
	"github.com/jmerrifield20/accountant/pkg/event"
	"go.uber.org/zap"
)

type account struct {
	id   event.Identity
	priv ed25519.PrivateKey
}

func newAccount(seed byte) account {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	var id event.Identity
	copy(id[:], priv.Public().(ed25519.PublicKey))
	return account{id: id, priv: priv}
}

var (
	alice   = newAccount(1)
	bob     = newAccount(2)
	mallory = newAccount(3)

	genesisID = event.Hash([]byte("G"))
)

// setup returns an accountant with genesis balances {alice: 100, bob: 0}.
func setup(t *testing.T) *accountant.Accountant {
	t.Helper()
	store := balance.NewStore()
	if err := store.Credit(alice.id, 100); err != nil {
		t.Fatal(err)
	}
	return accountant.New(ledger.New(genesisID), store, zap.NewNop())
}

func signed(from account, to event.Identity, amount uint64, ref event.Digest) event.Transfer {
	tr := event.Transfer{From: from.id, To: to, Amount: amount, Reference: ref}
	tr.Sign(from.priv)
	return tr
}

func TestProcess_transferSucceeds(t *testing.T) {
	acc := setup(t)

	if err := acc.Process(signed(alice, bob.id, 50, genesisID)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	acc.Finalize()

	if got := acc.BalanceOf(alice.id); got != 50 {
		t.Errorf("alice = %d, want 50", got)
	}
	if got := acc.BalanceOf(bob.id); got != 50 {
		t.Errorf("bob = %d, want 50", got)
	}
	if acc.CurrentID() == genesisID {
		t.Error("CurrentID() did not advance past genesis")
	}
	if acc.GenesisID() != genesisID {
		t.Error("GenesisID() changed")
	}
}

func TestProcess_replayIsStale(t *testing.T) {
	acc := setup(t)
	tr := signed(alice, bob.id, 50, genesisID)
	if err := acc.Process(tr); err != nil {
		t.Fatal(err)
	}
	head := acc.CurrentID()

	err := acc.Process(tr)
	if !errors.Is(err, accountant.ErrStaleReference) {
		t.Fatalf("replay: got %v, want ErrStaleReference", err)
	}
	if reason, ok := accountant.ReasonOf(err); !ok || reason != accountant.StaleOrConflictingReference {
		t.Errorf("ReasonOf = %v, %v", reason, ok)
	}
	if acc.BalanceOf(alice.id) != 50 || acc.BalanceOf(bob.id) != 50 {
		t.Error("replay changed balances")
	}
	if acc.CurrentID() != head || acc.Len() != 1 {
		t.Error("replay changed the chain")
	}
}

func TestProcess_insufficientFunds(t *testing.T) {
	acc := setup(t)
	if err := acc.Process(signed(alice, bob.id, 50, genesisID)); err != nil {
		t.Fatal(err)
	}
	acc.Finalize()
	head := acc.CurrentID()

	err := acc.Process(signed(alice, bob.id, 1000, head))
	if !errors.Is(err, accountant.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if acc.BalanceOf(alice.id) != 50 || acc.BalanceOf(bob.id) != 50 {
		t.Error("rejected transfer changed balances")
	}
	if acc.CurrentID() != head {
		t.Error("rejected transfer advanced the chain")
	}
}

func TestProcess_badSignature(t *testing.T) {
	acc := setup(t)

	tr := event.Transfer{From: alice.id, To: mallory.id, Amount: 10, Reference: genesisID}
	tr.Sign(mallory.priv)

	err := acc.Process(tr)
	if !errors.Is(err, accountant.ErrBadSignature) {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
	if acc.BalanceOf(alice.id) != 100 || acc.BalanceOf(mallory.id) != 0 {
		t.Error("forged transfer changed balances")
	}
	if acc.CurrentID() != genesisID || acc.Len() != 0 {
		t.Error("forged transfer changed the chain")
	}
}

func TestProcess_signatureCheckedBeforeReference(t *testing.T) {
	acc := setup(t)
	tr := event.Transfer{From: alice.id, To: bob.id, Amount: 1, Reference: event.Hash([]byte("old"))}
	tr.Sign(mallory.priv)

	if err := acc.Process(tr); !errors.Is(err, accountant.ErrBadSignature) {
		t.Errorf("got %v, want ErrBadSignature", err)
	}
}

func TestProcess_chainIntegrity(t *testing.T) {
	acc := setup(t)
	for range 5 {
		acc.Finalize()
		if err := acc.Process(signed(alice, bob.id, 3, acc.CurrentID())); err != nil {
			t.Fatal(err)
		}
	}
	if err := acc.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	prev := acc.GenesisID()
	n := 0
	for e := range acc.EntriesSince(acc.GenesisID()) {
		if e.Event.Reference != prev {
			t.Errorf("entry %d: reference is not the head at validation", n)
		}
		if e.ID != ledger.NextID(prev, &e.Event) {
			t.Errorf("entry %d: id is not Hash(prev, event)", n)
		}
		prev = e.ID
		n++
	}
	if n != 5 {
		t.Errorf("got %d entries, want 5", n)
	}
	if prev != acc.CurrentID() {
		t.Error("last entry id is not CurrentID()")
	}
}

func TestBalanceOf_idempotent(t *testing.T) {
	acc := setup(t)
	unknown := newAccount(9).id
	for range 3 {
		if acc.BalanceOf(alice.id) != 100 {
			t.Fatal("BalanceOf(alice) changed without a Process call")
		}
		if acc.BalanceOf(unknown) != 0 {
			t.Fatal("BalanceOf(unknown) is not 0")
		}
	}
}

// Two transfers racing to spend the whole balance against the same head:
// exactly one wins.
func TestProcess_concurrentDoubleSpend(t *testing.T) {
	for range 50 {
		acc := setup(t)
		carol := newAccount(4)

		spends := []event.Transfer{
			signed(alice, bob.id, 100, genesisID),
			signed(alice, carol.id, 100, genesisID),
		}

		errs := make([]error, len(spends))
		var wg sync.WaitGroup
		for i, tr := range spends {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = acc.Process(tr)
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, accountant.ErrStaleReference), errors.Is(err, accountant.ErrInsufficientFunds):
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if succeeded != 1 {
			t.Fatalf("%d transfers succeeded, want exactly 1", succeeded)
		}
		if acc.BalanceOf(alice.id) != 0 || acc.BalanceOf(bob.id)+acc.BalanceOf(carol.id) != 100 {
			t.Fatal("double spend changed the supply")
		}
	}
}

// Many clients retrying against a fresh head: every accepted transfer is
// chained, and the supply never changes.
func TestProcess_conservationUnderContention(t *testing.T) {
	store := balance.NewStore()
	accounts := []account{newAccount(10), newAccount(11), newAccount(12), newAccount(13)}
	for _, a := range accounts {
		_ = store.Credit(a.id, 250)
	}
	acc := accountant.New(ledger.New(genesisID), store, zap.NewNop())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			from := accounts[i%len(accounts)]
			to := accounts[(i+1)%len(accounts)].id
			for attempt := 0; attempt < 1000; attempt++ {
				err := acc.Process(signed(from, to, uint64(i%7+1), acc.CurrentID()))
				if err == nil {
					mu.Lock()
					applied++
					mu.Unlock()
					return
				}
				if !errors.Is(err, accountant.ErrStaleReference) {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	acc.Finalize()

	if got := acc.Supply(); got != 1000 {
		t.Errorf("Supply() = %d, want 1000", got)
	}
	if acc.Len() != applied {
		t.Errorf("chain has %d entries, %d transfers applied", acc.Len(), applied)
	}
	if err := acc.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestFinalize_noInflight(t *testing.T) {
	acc := setup(t)
	done := make(chan struct{})
	go func() {
		acc.Finalize()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Finalize blocked with nothing in flight")
	}
}

func TestFinalize_seesConcurrentTransfers(t *testing.T) {
	acc := setup(t)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := acc.Process(signed(alice, bob.id, 1, acc.CurrentID()))
				if err == nil || !errors.Is(err, accountant.ErrStaleReference) {
					return
				}
			}
		}()
	}
	wg.Wait()

	acc.Finalize()
	var last event.Digest
	for e := range acc.EntriesSince(acc.GenesisID()) {
		last = e.ID
	}
	if acc.CurrentID() != last {
		t.Error("CurrentID() after Finalize is not the last entry")
	}
	if acc.BalanceOf(bob.id) != 10 {
		t.Errorf("bob = %d, want 10", acc.BalanceOf(bob.id))
	}
}

// gatedChain holds Append until release is closed.
type gatedChain struct {
	*ledger.MemoryChain
	appending chan struct{}
	release   chan struct{}
}

func (c *gatedChain) Append(ev event.Transfer) ledger.Entry {
	close(c.appending)
	<-c.release
	return c.MemoryChain.Append(ev)
}

func TestFinalize_waitsForInflightProcess(t *testing.T) {
	chain := &gatedChain{
		MemoryChain: ledger.New(genesisID),
		appending:   make(chan struct{}),
		release:     make(chan struct{}),
	}
	store := balance.NewStore()
	if err := store.Credit(alice.id, 100); err != nil {
		t.Fatal(err)
	}
	acc := accountant.New(chain, store, zap.NewNop())

	processed := make(chan error, 1)
	go func() { processed <- acc.Process(signed(alice, bob.id, 10, genesisID)) }()
	<-chain.appending

	finalized := make(chan struct{})
	go func() {
		acc.Finalize()
		close(finalized)
	}()

	select {
	case <-finalized:
		t.Fatal("Finalize returned while a transfer was still being applied")
	case <-time.After(100 * time.Millisecond):
	}

	close(chain.release)
	select {
	case <-finalized:
	case <-time.After(2 * time.Second):
		t.Fatal("Finalize did not return after the transfer completed")
	}
	if err := <-processed; err != nil {
		t.Fatalf("Process: %v", err)
	}
	if acc.CurrentID() == genesisID {
		t.Error("head did not advance before Finalize returned")
	}
}

func TestApply_returnsAppendedEntry(t *testing.T) {
	acc := setup(t)
	tr := signed(alice, bob.id, 5, genesisID)

	entry, err := acc.Apply(tr)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if entry.ID != acc.CurrentID() || entry.Event != tr {
		t.Error("Apply did not return the appended entry")
	}

	if _, err := acc.Apply(tr); !errors.Is(err, accountant.ErrStaleReference) {
		t.Errorf("replay: got %v, want ErrStaleReference", err)
	}
}

func TestRejectReason_String(t *testing.T) {
	cases := map[accountant.RejectReason]string{
		accountant.BadSignature:                "bad_signature",
		accountant.StaleOrConflictingReference: "stale_reference",
		accountant.InsufficientFunds:           "insufficient_funds",
		accountant.RejectReason(0):             "unknown",
	}
	for r, want := range cases {
		if r.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(r), r.String(), want)
		}
	}
	if _, ok := accountant.ReasonOf(errors.New("other")); ok {
		t.Error("ReasonOf matched a non-rejection error")
	}
}
