package core

import (
	"github.com/nikolaydubina/fpdecimal"
)

// BookEntry is the engine's unit of resting interest: a simple order
// or an iceberg slice registered under its message ID.
type BookEntry struct {
	id        string
	side      Side
	price     fpdecimal.Decimal
	market    bool
	remaining int64
}

// NewLimitEntry creates a limit book entry.
func NewLimitEntry(id string, side Side, quantity int64, price fpdecimal.Decimal) (*BookEntry, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if price.LessThanOrEqual(fpdecimal.Zero) {
		return nil, ErrInvalidPrice
	}
	return &BookEntry{id: id, side: side, price: price, remaining: quantity}, nil
}

// NewMarketEntry creates a market book entry; it never rests.
func NewMarketEntry(id string, side Side, quantity int64) (*BookEntry, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	return &BookEntry{id: id, side: side, market: true, remaining: quantity}, nil
}

// ID returns the entry identifier
func (e *BookEntry) ID() string { return e.id }

// Side returns the entry side
func (e *BookEntry) Side() Side { return e.side }

// Price returns the limit price; zero for market entries
func (e *BookEntry) Price() fpdecimal.Decimal { return e.price }

// IsMarket reports whether the entry is a market order
func (e *BookEntry) IsMarket() bool { return e.market }

// Remaining returns the unmatched quantity
func (e *BookEntry) Remaining() int64 { return e.remaining }

func (e *BookEntry) decrease(quantity int64) { e.remaining -= quantity }

func (e *BookEntry) setRemaining(quantity int64) { e.remaining = quantity }

func (e *BookEntry) setPrice(price fpdecimal.Decimal) { e.price = price }

// SideView is read access to one side of the book: price levels in
// priority order, entries FIFO within each level.
type SideView interface {
	// Prices returns the level prices, best first
	Prices() []fpdecimal.Decimal
	// Entries returns the entries at a price level in arrival order
	Entries(price fpdecimal.Decimal) []*BookEntry
}

// BookBackend is the storage contract for one instrument's book.
// Implementations must keep bids ordered by descending price and asks
// by ascending price, FIFO within a level.
type BookBackend interface {
	GetEntry(id string) *BookEntry
	StoreEntry(entry *BookEntry) error
	RemoveEntry(id string)

	AppendToSide(side Side, entry *BookEntry)
	RemoveFromSide(side Side, entry *BookEntry) bool

	Bids() SideView
	Asks() SideView
}
