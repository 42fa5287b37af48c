package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/openexch/simex/pkg/core"
)

// entryQueue represents one price level. Entries keep arrival order so
// priority within a level is first-in, first-matched.
type entryQueue struct {
	entries   []*core.BookEntry
	priceStr  string
	priceDecm fpdecimal.Decimal
	next      *entryQueue
	prev      *entryQueue
}

func newEntryQueue(price fpdecimal.Decimal) *entryQueue {
	return &entryQueue{
		entries:   make([]*core.BookEntry, 0, 4),
		priceStr:  price.String(),
		priceDecm: price,
	}
}

func (q *entryQueue) remove(id string) bool {
	for i, e := range q.entries {
		if e.ID() == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// orderSide is one side of the book: a doubly linked list of price
// levels kept in priority order, plus a price index.
type orderSide struct {
	sync.RWMutex
	head   *entryQueue
	tail   *entryQueue
	levels map[string]*entryQueue
	// descending true for bids (highest price first)
	descending bool
}

func newOrderSide(descending bool) *orderSide {
	return &orderSide{
		levels:     make(map[string]*entryQueue),
		descending: descending,
	}
}

// Prices returns level prices, best first.
func (os *orderSide) Prices() []fpdecimal.Decimal {
	os.RLock()
	defer os.RUnlock()

	prices := make([]fpdecimal.Decimal, 0)
	for current := os.head; current != nil; current = current.next {
		prices = append(prices, current.priceDecm)
	}
	return prices
}

// Entries returns the entries at a price level in arrival order.
func (os *orderSide) Entries(price fpdecimal.Decimal) []*core.BookEntry {
	os.RLock()
	defer os.RUnlock()

	queue, exists := os.levels[price.String()]
	if !exists {
		return []*core.BookEntry{}
	}

	entries := make([]*core.BookEntry, len(queue.entries))
	copy(entries, queue.entries)
	return entries
}

// betterThan reports whether a should be ordered before b on this side.
func (os *orderSide) betterThan(a, b fpdecimal.Decimal) bool {
	if os.descending {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

func (os *orderSide) append(entry *core.BookEntry) {
	os.Lock()
	defer os.Unlock()

	price := entry.Price()
	priceStr := price.String()

	if q, ok := os.levels[priceStr]; ok {
		q.entries = append(q.entries, entry)
		return
	}

	newQueue := newEntryQueue(price)
	newQueue.entries = append(newQueue.entries, entry)
	os.levels[priceStr] = newQueue

	if os.head == nil {
		os.head = newQueue
		os.tail = newQueue
		return
	}

	if os.betterThan(price, os.head.priceDecm) {
		newQueue.next = os.head
		os.head.prev = newQueue
		os.head = newQueue
		return
	}
	if !os.betterThan(price, os.tail.priceDecm) {
		newQueue.prev = os.tail
		os.tail.next = newQueue
		os.tail = newQueue
		return
	}

	current := os.head
	for current != nil && !os.betterThan(price, current.priceDecm) {
		current = current.next
	}
	newQueue.next = current
	newQueue.prev = current.prev
	current.prev.next = newQueue
	current.prev = newQueue
}

func (os *orderSide) removeEntry(entry *core.BookEntry) bool {
	os.Lock()
	defer os.Unlock()

	priceStr := entry.Price().String()
	queue, ok := os.levels[priceStr]
	if !ok {
		return false
	}
	if !queue.remove(entry.ID()) {
		return false
	}

	if len(queue.entries) == 0 {
		delete(os.levels, priceStr)

		if queue.prev != nil {
			queue.prev.next = queue.next
		} else {
			os.head = queue.next
		}
		if queue.next != nil {
			queue.next.prev = queue.prev
		} else {
			os.tail = queue.prev
		}
	}

	return true
}

// String implements fmt.Stringer
func (os *orderSide) String() string {
	os.RLock()
	defer os.RUnlock()

	sb := strings.Builder{}
	for current := os.head; current != nil; current = current.next {
		sb.WriteString(fmt.Sprintf("\n%s -> entries: %d", current.priceStr, len(current.entries)))
	}
	return sb.String()
}

// MemoryBackend implements core.BookBackend with in-memory storage.
type MemoryBackend struct {
	sync.RWMutex
	entries map[string]*core.BookEntry
	bids    *orderSide
	asks    *orderSide
}

// NewMemoryBackend creates a new instance of MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*core.BookEntry),
		bids:    newOrderSide(true),
		asks:    newOrderSide(false),
	}
}

// GetEntry retrieves an entry by ID.
func (b *MemoryBackend) GetEntry(id string) *core.BookEntry {
	b.RLock()
	defer b.RUnlock()
	return b.entries[id]
}

// StoreEntry stores an entry.
func (b *MemoryBackend) StoreEntry(entry *core.BookEntry) error {
	b.Lock()
	defer b.Unlock()

	if _, exists := b.entries[entry.ID()]; exists {
		return core.ErrDuplicateEntry
	}
	b.entries[entry.ID()] = entry
	return nil
}

// RemoveEntry deletes an entry.
func (b *MemoryBackend) RemoveEntry(id string) {
	b.Lock()
	defer b.Unlock()
	delete(b.entries, id)
}

// AppendToSide adds an entry to the tail of its price level.
func (b *MemoryBackend) AppendToSide(side core.Side, entry *core.BookEntry) {
	if entry.IsMarket() {
		return
	}
	b.side(side).append(entry)
}

// RemoveFromSide removes an entry from its price level.
func (b *MemoryBackend) RemoveFromSide(side core.Side, entry *core.BookEntry) bool {
	if entry.IsMarket() {
		return false
	}
	return b.side(side).removeEntry(entry)
}

// Bids returns the bid side of the book.
func (b *MemoryBackend) Bids() core.SideView {
	return b.bids
}

// Asks returns the ask side of the book.
func (b *MemoryBackend) Asks() core.SideView {
	return b.asks
}

func (b *MemoryBackend) side(side core.Side) *orderSide {
	if side == core.Buy {
		return b.bids
	}
	return b.asks
}
