package ledger

import (
	"github.com/jmerrifield20/accountant/pkg/event"
)

// Entry is a single link of the chain.
type Entry struct {
	ID    event.Digest
	Event event.Transfer
}

// NextID computes the ID of an entry holding ev appended after prev.
func NextID(prev event.Digest, ev *event.Transfer) event.Digest {
	return event.Hash(prev[:], ev.Encode())
}
