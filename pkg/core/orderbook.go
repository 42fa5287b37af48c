package core

import (
	"fmt"
	"strings"

	"github.com/nikolaydubina/fpdecimal"
)

// MarketPolicy decides what happens to a market order's unfilled
// remainder.
type MarketPolicy string

// Market order remainder policies
const (
	// PolicyRejectRemainder reports the remainder as rejected with
	// no liquidity
	PolicyRejectRemainder MarketPolicy = "REJECT"
	// PolicyCancelRemainder drops the remainder silently
	PolicyCancelRemainder MarketPolicy = "CANCEL"
)

// OrderBook implements price-time priority matching for one
// instrument. Callers serialize access per instrument; the book itself
// performs no locking beyond its backend.
type OrderBook struct {
	backend BookBackend
	seq     *Sequencer
	policy  MarketPolicy
}

// NewOrderBook creates an OrderBook over a backend. Sequence numbers
// come from the shared engine sequencer so they stay globally ordered
// across instruments.
func NewOrderBook(backend BookBackend, seq *Sequencer, policy MarketPolicy) *OrderBook {
	if policy == "" {
		policy = PolicyRejectRemainder
	}
	return &OrderBook{
		backend: backend,
		seq:     seq,
		policy:  policy,
	}
}

// GetEntry returns the resting entry with the given ID, nil if absent.
func (ob *OrderBook) GetEntry(id string) *BookEntry {
	return ob.backend.GetEntry(id)
}

// Submit registers an entry and matches it against the opposite side.
// A market entry that cannot fill at all is rolled back and rejected
// with ErrNoLiquidity; a partially filled market remainder follows the
// configured policy. An unmatched limit remainder rests.
func (ob *OrderBook) Submit(entry *BookEntry) (*Execution, error) {
	if entry.Remaining() <= 0 {
		return nil, ErrInvalidQuantity
	}
	if existing := ob.backend.GetEntry(entry.ID()); existing != nil {
		return nil, ErrDuplicateEntry
	}
	if err := ob.backend.StoreEntry(entry); err != nil {
		return nil, fmt.Errorf("storing entry: %w", err)
	}

	exec := newExecution(entry.ID())
	ob.match(entry, exec)

	if entry.Remaining() == 0 {
		ob.backend.RemoveEntry(entry.ID())
		return exec, nil
	}

	if entry.IsMarket() {
		ob.backend.RemoveEntry(entry.ID())
		if exec.Processed() == 0 {
			// Nothing matched; the registration is rolled back whole.
			return nil, ErrNoLiquidity
		}
		exec.Remaining = entry.Remaining()
		exec.RemainderRejected = ob.policy == PolicyRejectRemainder
		return exec, nil
	}

	ob.backend.AppendToSide(entry.Side(), entry)
	exec.Remaining = entry.Remaining()
	exec.Rested = true
	return exec, nil
}

// Cancel removes an entry from the book. Partial cancel is not
// supported at this layer; callers revise quantity instead. Returns
// the removed entry, nil if unknown.
func (ob *OrderBook) Cancel(id string) *BookEntry {
	entry := ob.backend.GetEntry(id)
	if entry == nil {
		return nil
	}
	ob.backend.RemoveFromSide(entry.Side(), entry)
	ob.backend.RemoveEntry(id)
	return entry
}

// Revise changes a resting entry. A pure quantity decrease keeps the
// entry's time priority; a price change (or quantity increase)
// re-registers it at the back of its level and re-matches, so the
// entry loses priority. newPrice of zero keeps the current price,
// newQuantity of zero keeps the current remaining quantity.
func (ob *OrderBook) Revise(id string, newQuantity int64, newPrice fpdecimal.Decimal) (*Execution, error) {
	entry := ob.backend.GetEntry(id)
	if entry == nil {
		return nil, ErrOrderNotFound
	}
	if newQuantity < 0 || newPrice.LessThan(fpdecimal.Zero) {
		return nil, ErrInvalidQuantity
	}

	priceChanged := !newPrice.Equal(fpdecimal.Zero) && !newPrice.Equal(entry.Price())

	if !priceChanged && newQuantity > 0 && newQuantity <= entry.Remaining() {
		entry.setRemaining(newQuantity)
		exec := newExecution(id)
		exec.Remaining = newQuantity
		exec.Rested = true
		return exec, nil
	}

	ob.backend.RemoveFromSide(entry.Side(), entry)
	if priceChanged {
		entry.setPrice(newPrice)
	}
	if newQuantity > 0 {
		entry.setRemaining(newQuantity)
	}

	exec := newExecution(id)
	ob.match(entry, exec)

	if entry.Remaining() == 0 {
		ob.backend.RemoveEntry(id)
		return exec, nil
	}

	ob.backend.AppendToSide(entry.Side(), entry)
	exec.Remaining = entry.Remaining()
	exec.Rested = true
	return exec, nil
}

// match walks the opposite side best price first while prices cross,
// producing one taker and one maker fill per matched pair.
func (ob *OrderBook) match(entry *BookEntry, exec *Execution) {
	opposite := ob.oppositeSide(entry.Side())

	for _, price := range opposite.Prices() {
		if entry.Remaining() == 0 {
			break
		}
		if !ob.crosses(entry, price) {
			break
		}

		for _, maker := range opposite.Entries(price) {
			if entry.Remaining() == 0 {
				break
			}

			matchQty := entry.Remaining()
			if maker.Remaining() < matchQty {
				matchQty = maker.Remaining()
			}

			entry.decrease(matchQty)
			maker.decrease(matchQty)

			// Trade prints at the resting entry's price. Each side
			// gets its own sequence number so per-entry ordering is
			// strict.
			exec.appendFill(entry.ID(), matchQty, price, ob.seq.Next(), TAKER)
			exec.appendFill(maker.ID(), matchQty, price, ob.seq.Next(), MAKER)

			if maker.Remaining() == 0 {
				ob.backend.RemoveFromSide(maker.Side(), maker)
				ob.backend.RemoveEntry(maker.ID())
			}
		}
	}
}

func (ob *OrderBook) crosses(entry *BookEntry, bookPrice fpdecimal.Decimal) bool {
	if entry.IsMarket() {
		return true
	}
	if entry.Side() == Buy {
		return entry.Price().GreaterThanOrEqual(bookPrice)
	}
	return entry.Price().LessThanOrEqual(bookPrice)
}

func (ob *OrderBook) oppositeSide(side Side) SideView {
	if side == Buy {
		return ob.backend.Asks()
	}
	return ob.backend.Bids()
}

// DepthLevel is the aggregate open volume at one price.
type DepthLevel struct {
	Price  fpdecimal.Decimal
	Volume int64
}

// BidDepth returns bid volume per level, best price first.
func (ob *OrderBook) BidDepth() []DepthLevel {
	return sideDepth(ob.backend.Bids())
}

// AskDepth returns ask volume per level, best price first.
func (ob *OrderBook) AskDepth() []DepthLevel {
	return sideDepth(ob.backend.Asks())
}

func sideDepth(side SideView) []DepthLevel {
	levels := make([]DepthLevel, 0)
	for _, price := range side.Prices() {
		var volume int64
		for _, entry := range side.Entries(price) {
			volume += entry.Remaining()
		}
		levels = append(levels, DepthLevel{Price: price, Volume: volume})
	}
	return levels
}

// String implements fmt.Stringer
func (ob *OrderBook) String() string {
	builder := strings.Builder{}

	builder.WriteString("Ask:")
	for _, l := range ob.AskDepth() {
		builder.WriteString(fmt.Sprintf("\n%s -> %d", l.Price.String(), l.Volume))
	}
	builder.WriteString("\nBid:")
	for _, l := range ob.BidDepth() {
		builder.WriteString(fmt.Sprintf("\n%s -> %d", l.Price.String(), l.Volume))
	}
	builder.WriteString("\n")

	return builder.String()
}
