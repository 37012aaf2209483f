package ledger

import (
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/jmerrifield20/accountant/pkg/event"
)

// ErrNotFound is returned by Get for an index outside the chain.
var ErrNotFound = errors.New("ledger entry not found")

// MemoryChain is an in-memory, thread-safe Chain implementation.
type MemoryChain struct {
	genesis event.Digest

	mu      sync.RWMutex
	entries []Entry
	index   map[event.Digest]int
}

// New creates an empty MemoryChain anchored at genesis.
func New(genesis event.Digest) *MemoryChain {
	return &MemoryChain{
		genesis: genesis,
		index:   make(map[event.Digest]int),
	}
}

// Genesis implements Chain.
func (l *MemoryChain) Genesis() event.Digest { return l.genesis }

// Head implements Chain.
func (l *MemoryChain) Head() event.Digest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head()
}

func (l *MemoryChain) head() event.Digest {
	if len(l.entries) == 0 {
		return l.genesis
	}
	return l.entries[len(l.entries)-1].ID
}

// Append implements Chain.
func (l *MemoryChain) Append(ev event.Transfer) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{ID: NextID(l.head(), &ev), Event: ev}
	l.entries = append(l.entries, entry)
	// A repeated ID would need a SHA-256 collision; keep the first position.
	if _, ok := l.index[entry.ID]; !ok {
		l.index[entry.ID] = len(l.entries) - 1
	}
	return entry
}

// EntriesSince implements Chain. The returned sequence covers the entries
// present when iteration starts; it can be ranged over more than once.
func (l *MemoryChain) EntriesSince(d event.Digest) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range l.snapshotAfter(d) {
			if !yield(e) {
				return
			}
		}
	}
}

// snapshotAfter returns the entries following d. Appended elements are never
// rewritten, so the returned slice stays valid after the lock is released.
func (l *MemoryChain) snapshotAfter(d event.Digest) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if d == l.genesis {
		return l.entries[:len(l.entries):len(l.entries)]
	}
	i, ok := l.index[d]
	if !ok {
		return nil
	}
	return l.entries[i+1 : len(l.entries) : len(l.entries)]
}

// Len implements Chain.
func (l *MemoryChain) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Get implements Chain.
func (l *MemoryChain) Get(index int) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return Entry{}, fmt.Errorf("index %d: %w", index, ErrNotFound)
	}
	return l.entries[index], nil
}

// Verify implements Chain. The first entry is checked against the genesis
// digest; every other entry against its predecessor.
func (l *MemoryChain) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := l.genesis
	for i := range l.entries {
		curr := &l.entries[i]
		if curr.ID != NextID(prev, &curr.Event) {
			return fmt.Errorf("hash chain broken at index %d", i)
		}
		prev = curr.ID
	}
	return nil
}
