// Package ledger implements the append-only hash chain that records every
// accepted transfer.
//
// The chain is anchored at a caller-supplied genesis digest. Each entry's ID is
// SHA-256(previous ID || encoded event), so rewriting any entry changes every
// ID after it and is detectable via Verify.
//
// The chain performs no validation of the events it records; callers append
// only events they have already accepted.
package ledger

import (
	"iter"

	"github.com/jmerrifield20/accountant/pkg/event"
)

// Chain is the interface the accountant uses to order accepted events.
// MemoryChain is the only implementation; persistence is out of scope.
type Chain interface {
	// Genesis returns the fixed digest the first entry chains from.
	Genesis() event.Digest

	// Head returns the ID of the most recent entry, or Genesis when empty.
	Head() event.Digest

	// Append records ev after the current head and returns the new entry.
	Append(ev event.Transfer) Entry

	// EntriesSince yields the entries appended after the entry whose ID is d.
	// Passing Genesis yields every entry; an unknown digest yields nothing.
	EntriesSince(d event.Digest) iter.Seq[Entry]

	// Len returns the number of appended entries.
	Len() int

	// Get returns the entry at the given zero-based index.
	Get(index int) (Entry, error)

	// Verify walks the entire chain and checks hash consistency.
	// Returns nil if the chain is intact.
	Verify() error
}
