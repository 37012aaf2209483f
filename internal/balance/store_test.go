package balance_test

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/jmerrifield20/accountant/internal/balance"
	"github.com/jmerrifield20/accountant/pkg/event"
)

var (
	alice = event.Identity{0xa}
	bob   = event.Identity{0xb}
	carol = event.Identity{0xc}
)

func TestGet_unknownIsZero(t *testing.T) {
	s := balance.NewStore()
	if got := s.Get(alice); got != 0 {
		t.Errorf("Get(unknown) = %d, want 0", got)
	}
}

func TestApplyTransfer_movesFunds(t *testing.T) {
	s := balance.NewStore()
	if err := s.Credit(alice, 100); err != nil {
		t.Fatal(err)
	}

	if err := s.ApplyTransfer(alice, bob, 40); err != nil {
		t.Fatalf("ApplyTransfer: %v", err)
	}
	if got := s.Get(alice); got != 60 {
		t.Errorf("alice = %d, want 60", got)
	}
	if got := s.Get(bob); got != 40 {
		t.Errorf("bob = %d, want 40", got)
	}
}

func TestApplyTransfer_exactBalance(t *testing.T) {
	s := balance.NewStore()
	_ = s.Credit(alice, 10)
	if err := s.ApplyTransfer(alice, bob, 10); err != nil {
		t.Fatalf("spending the whole balance should succeed: %v", err)
	}
	if s.Get(alice) != 0 || s.Get(bob) != 10 {
		t.Errorf("balances after full spend: alice=%d bob=%d", s.Get(alice), s.Get(bob))
	}
}

func TestApplyTransfer_insufficientLeavesStateUntouched(t *testing.T) {
	s := balance.NewStore()
	_ = s.Credit(alice, 50)

	err := s.ApplyTransfer(alice, bob, 51)
	if !errors.Is(err, balance.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if s.Get(alice) != 50 || s.Get(bob) != 0 {
		t.Errorf("state mutated on rejection: alice=%d bob=%d", s.Get(alice), s.Get(bob))
	}
}

func TestApplyTransfer_unknownSender(t *testing.T) {
	s := balance.NewStore()
	if err := s.ApplyTransfer(carol, bob, 1); !errors.Is(err, balance.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
	if err := s.ApplyTransfer(carol, bob, 0); err != nil {
		t.Errorf("zero transfer from unknown account: %v", err)
	}
}

func TestApplyTransfer_self(t *testing.T) {
	s := balance.NewStore()
	_ = s.Credit(alice, 5)
	if err := s.ApplyTransfer(alice, alice, 5); err != nil {
		t.Fatal(err)
	}
	if got := s.Get(alice); got != 5 {
		t.Errorf("self transfer changed balance to %d", got)
	}
}

func TestCredit_overflow(t *testing.T) {
	s := balance.NewStore()
	_ = s.Credit(alice, math.MaxUint64)
	if err := s.Credit(alice, 1); !errors.Is(err, balance.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
	if got := s.Get(alice); got != math.MaxUint64 {
		t.Errorf("balance changed on overflow: %d", got)
	}
}

func TestApplyTransfer_conservesTotalUnderConcurrency(t *testing.T) {
	s := balance.NewStore()
	accounts := []event.Identity{alice, bob, carol}
	for _, a := range accounts {
		_ = s.Credit(a, 1000)
	}

	var wg sync.WaitGroup
	for i := range 300 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			from := accounts[i%3]
			to := accounts[(i+1)%3]
			_ = s.ApplyTransfer(from, to, uint64(i%17))
		}()
	}
	wg.Wait()

	if got := s.Total(); got != 3000 {
		t.Errorf("Total() = %d, want 3000", got)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}
