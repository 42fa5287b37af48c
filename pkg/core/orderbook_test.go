package core

import (
	"errors"
	"sort"
	"testing"

	"github.com/nikolaydubina/fpdecimal"
)

// mockBackend implements BookBackend for testing, keeping levels in a
// sorted slice and entries FIFO per level.
type mockBackend struct {
	entries map[string]*BookEntry
	bids    *mockSide
	asks    *mockSide
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		entries: make(map[string]*BookEntry),
		bids:    &mockSide{descending: true, levels: make(map[string][]*BookEntry)},
		asks:    &mockSide{descending: false, levels: make(map[string][]*BookEntry)},
	}
}

func (m *mockBackend) GetEntry(id string) *BookEntry {
	return m.entries[id]
}

func (m *mockBackend) StoreEntry(entry *BookEntry) error {
	if _, exists := m.entries[entry.ID()]; exists {
		return ErrDuplicateEntry
	}
	m.entries[entry.ID()] = entry
	return nil
}

func (m *mockBackend) RemoveEntry(id string) {
	delete(m.entries, id)
}

func (m *mockBackend) AppendToSide(side Side, entry *BookEntry) {
	m.side(side).append(entry)
}

func (m *mockBackend) RemoveFromSide(side Side, entry *BookEntry) bool {
	return m.side(side).remove(entry)
}

func (m *mockBackend) Bids() SideView { return m.bids }
func (m *mockBackend) Asks() SideView { return m.asks }

func (m *mockBackend) side(side Side) *mockSide {
	if side == Buy {
		return m.bids
	}
	return m.asks
}

type mockSide struct {
	descending bool
	levels     map[string][]*BookEntry
}

func (s *mockSide) Prices() []fpdecimal.Decimal {
	prices := make([]fpdecimal.Decimal, 0, len(s.levels))
	for _, entries := range s.levels {
		if len(entries) > 0 {
			prices = append(prices, entries[0].Price())
		}
	}
	sort.Slice(prices, func(i, j int) bool {
		if s.descending {
			return prices[i].GreaterThan(prices[j])
		}
		return prices[i].LessThan(prices[j])
	})
	return prices
}

func (s *mockSide) Entries(price fpdecimal.Decimal) []*BookEntry {
	entries := s.levels[price.String()]
	out := make([]*BookEntry, len(entries))
	copy(out, entries)
	return out
}

func (s *mockSide) append(entry *BookEntry) {
	key := entry.Price().String()
	s.levels[key] = append(s.levels[key], entry)
}

func (s *mockSide) remove(entry *BookEntry) bool {
	key := entry.Price().String()
	for i, e := range s.levels[key] {
		if e.ID() == entry.ID() {
			s.levels[key] = append(s.levels[key][:i], s.levels[key][i+1:]...)
			if len(s.levels[key]) == 0 {
				delete(s.levels, key)
			}
			return true
		}
	}
	return false
}

func newTestBook() *OrderBook {
	return NewOrderBook(newMockBackend(), NewSequencer(0), PolicyRejectRemainder)
}

func mustLimitEntry(t *testing.T, id string, side Side, qty int64, price int) *BookEntry {
	t.Helper()
	e, err := NewLimitEntry(id, side, qty, fpdecimal.FromInt(price))
	if err != nil {
		t.Fatalf("NewLimitEntry(%s): %v", id, err)
	}
	return e
}

func TestSubmitRestsWhenNoCross(t *testing.T) {
	book := newTestBook()

	exec, err := book.Submit(mustLimitEntry(t, "buy-1", Buy, 100, 10))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !exec.Rested || exec.Remaining != 100 || len(exec.Fills) != 0 {
		t.Errorf("exec = %+v, want rested full quantity", exec)
	}
	if book.GetEntry("buy-1") == nil {
		t.Error("entry not stored")
	}
}

func TestSubmitMatchesCrossingLimit(t *testing.T) {
	book := newTestBook()

	if _, err := book.Submit(mustLimitEntry(t, "buy-1", Buy, 100, 10)); err != nil {
		t.Fatalf("Submit buy: %v", err)
	}

	exec, err := book.Submit(mustLimitEntry(t, "sell-1", Sell, 40, 10))
	if err != nil {
		t.Fatalf("Submit sell: %v", err)
	}
	if exec.Rested {
		t.Error("fully matched entry should not rest")
	}
	if got := exec.Processed(); got != 40 {
		t.Errorf("processed = %d, want 40", got)
	}

	makerFills := exec.FillsFor("buy-1")
	if len(makerFills) != 1 || makerFills[0].Quantity != 40 || makerFills[0].Role != MAKER {
		t.Errorf("maker fills = %+v", makerFills)
	}

	if rem := book.GetEntry("buy-1").Remaining(); rem != 60 {
		t.Errorf("maker remaining = %d, want 60", rem)
	}
}

func TestSubmitSweepsMultipleLevels(t *testing.T) {
	book := newTestBook()

	for _, e := range []*BookEntry{
		mustLimitEntry(t, "sell-a", Sell, 10, 101),
		mustLimitEntry(t, "sell-b", Sell, 10, 102),
		mustLimitEntry(t, "sell-c", Sell, 10, 104),
	} {
		if _, err := book.Submit(e); err != nil {
			t.Fatalf("seed %s: %v", e.ID(), err)
		}
	}

	exec, err := book.Submit(mustLimitEntry(t, "buy-1", Buy, 25, 102))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// 10 @101 + 10 @102, price 104 does not cross; remainder rests.
	if got := exec.Processed(); got != 20 {
		t.Errorf("processed = %d, want 20", got)
	}
	if !exec.Rested || exec.Remaining != 5 {
		t.Errorf("remainder: rested=%v remaining=%d", exec.Rested, exec.Remaining)
	}

	takerFills := exec.FillsFor("buy-1")
	if len(takerFills) != 2 {
		t.Fatalf("taker fills = %d, want 2", len(takerFills))
	}
	if !takerFills[0].Price.Equal(fpdecimal.FromInt(101)) || !takerFills[1].Price.Equal(fpdecimal.FromInt(102)) {
		t.Errorf("fills not in price order: %+v", takerFills)
	}
	if book.GetEntry("sell-c") == nil {
		t.Error("non-crossing entry removed")
	}
}

func TestFIFOWithinLevel(t *testing.T) {
	book := newTestBook()

	if _, err := book.Submit(mustLimitEntry(t, "sell-first", Sell, 10, 100)); err != nil {
		t.Fatal(err)
	}
	if _, err := book.Submit(mustLimitEntry(t, "sell-second", Sell, 10, 100)); err != nil {
		t.Fatal(err)
	}

	exec, err := book.Submit(mustLimitEntry(t, "buy-1", Buy, 10, 100))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if fills := exec.FillsFor("sell-first"); len(fills) != 1 || fills[0].Quantity != 10 {
		t.Errorf("earlier arrival not matched first: %+v", exec.Fills)
	}
	if book.GetEntry("sell-second") == nil {
		t.Error("later arrival should still rest")
	}
}

func TestSequenceNumbersStrictlyIncrease(t *testing.T) {
	book := newTestBook()

	_, _ = book.Submit(mustLimitEntry(t, "sell-a", Sell, 10, 100))
	_, _ = book.Submit(mustLimitEntry(t, "sell-b", Sell, 10, 101))
	exec, err := book.Submit(mustLimitEntry(t, "buy-1", Buy, 20, 101))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var last uint64
	for _, f := range exec.Fills {
		if f.Seq <= last {
			t.Fatalf("sequence not strictly increasing: %+v", exec.Fills)
		}
		last = f.Seq
	}
}

func TestMarketOrderNoLiquidity(t *testing.T) {
	book := newTestBook()

	e, err := NewMarketEntry("mkt-1", Buy, 50)
	if err != nil {
		t.Fatalf("NewMarketEntry: %v", err)
	}
	if _, err := book.Submit(e); !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("Submit error = %v, want ErrNoLiquidity", err)
	}
	if book.GetEntry("mkt-1") != nil {
		t.Error("rejected market entry left registered")
	}
}

func TestMarketOrderPartialRemainderRejected(t *testing.T) {
	book := newTestBook()
	if _, err := book.Submit(mustLimitEntry(t, "sell-1", Sell, 30, 100)); err != nil {
		t.Fatal(err)
	}

	e, _ := NewMarketEntry("mkt-1", Buy, 50)
	exec, err := book.Submit(e)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := exec.Processed(); got != 30 {
		t.Errorf("processed = %d, want 30", got)
	}
	if !exec.RemainderRejected || exec.Remaining != 20 {
		t.Errorf("remainder: rejected=%v remaining=%d", exec.RemainderRejected, exec.Remaining)
	}
	if exec.Rested {
		t.Error("market remainder must not rest")
	}
}

func TestMarketOrderCancelRemainderPolicy(t *testing.T) {
	book := NewOrderBook(newMockBackend(), NewSequencer(0), PolicyCancelRemainder)
	if _, err := book.Submit(mustLimitEntry(t, "sell-1", Sell, 30, 100)); err != nil {
		t.Fatal(err)
	}

	e, _ := NewMarketEntry("mkt-1", Buy, 50)
	exec, err := book.Submit(e)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if exec.RemainderRejected {
		t.Error("cancel policy should not flag rejection")
	}
	if exec.Remaining != 20 {
		t.Errorf("remaining = %d, want 20", exec.Remaining)
	}
}

func TestCancelRemovesEntry(t *testing.T) {
	book := newTestBook()
	if _, err := book.Submit(mustLimitEntry(t, "buy-1", Buy, 100, 10)); err != nil {
		t.Fatal(err)
	}

	if e := book.Cancel("buy-1"); e == nil {
		t.Fatal("Cancel returned nil for resting entry")
	}
	if book.GetEntry("buy-1") != nil {
		t.Error("entry still registered after cancel")
	}
	if book.Cancel("buy-1") != nil {
		t.Error("cancel of unknown entry should return nil")
	}
}

func TestReviseQuantityDecreaseKeepsPriority(t *testing.T) {
	book := newTestBook()
	_, _ = book.Submit(mustLimitEntry(t, "sell-first", Sell, 50, 100))
	_, _ = book.Submit(mustLimitEntry(t, "sell-second", Sell, 50, 100))

	exec, err := book.Revise("sell-first", 20, fpdecimal.Zero)
	if err != nil {
		t.Fatalf("Revise: %v", err)
	}
	if exec.Remaining != 20 {
		t.Errorf("remaining = %d, want 20", exec.Remaining)
	}

	// sell-first must still be at the front of the level.
	cross, err := book.Submit(mustLimitEntry(t, "buy-1", Buy, 20, 100))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if fills := cross.FillsFor("sell-first"); len(fills) != 1 {
		t.Errorf("revised entry lost priority: %+v", cross.Fills)
	}
}

func TestRevisePriceChangeLosesPriorityAndRematches(t *testing.T) {
	book := newTestBook()
	_, _ = book.Submit(mustLimitEntry(t, "buy-rest", Buy, 10, 99))
	_, _ = book.Submit(mustLimitEntry(t, "sell-1", Sell, 10, 101))

	// Revising the sell down to 99 crosses the resting bid.
	exec, err := book.Revise("sell-1", 0, fpdecimal.FromInt(99))
	if err != nil {
		t.Fatalf("Revise: %v", err)
	}
	if got := exec.Processed(); got != 10 {
		t.Errorf("processed = %d, want 10", got)
	}
	if book.GetEntry("sell-1") != nil {
		t.Error("fully matched revised entry still registered")
	}
}

func TestReviseUnknownEntry(t *testing.T) {
	book := newTestBook()
	if _, err := book.Revise("nope", 10, fpdecimal.Zero); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("error = %v, want ErrOrderNotFound", err)
	}
}

func TestDuplicateSubmit(t *testing.T) {
	book := newTestBook()
	if _, err := book.Submit(mustLimitEntry(t, "buy-1", Buy, 100, 10)); err != nil {
		t.Fatal(err)
	}
	if _, err := book.Submit(mustLimitEntry(t, "buy-1", Buy, 100, 10)); !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("error = %v, want ErrDuplicateEntry", err)
	}
}

func TestDepth(t *testing.T) {
	book := newTestBook()
	_, _ = book.Submit(mustLimitEntry(t, "s1", Sell, 10, 101))
	_, _ = book.Submit(mustLimitEntry(t, "s2", Sell, 15, 101))
	_, _ = book.Submit(mustLimitEntry(t, "s3", Sell, 21, 104))
	_, _ = book.Submit(mustLimitEntry(t, "b1", Buy, 10, 99))

	asks := book.AskDepth()
	if len(asks) != 2 || asks[0].Volume != 25 || !asks[0].Price.Equal(fpdecimal.FromInt(101)) {
		t.Errorf("ask depth = %+v", asks)
	}
	bids := book.BidDepth()
	if len(bids) != 1 || bids[0].Volume != 10 {
		t.Errorf("bid depth = %+v", bids)
	}
}
