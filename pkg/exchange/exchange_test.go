package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/messaging"
)

func mustDecimal(t *testing.T, s string) fpdecimal.Decimal {
	t.Helper()
	d, err := fpdecimal.FromString(s)
	require.NoError(t, err)
	return d
}

type recordingListener struct {
	mu     sync.Mutex
	fills  []FillEvent
	states []StateChangedEvent
	full   bool
}

func (l *recordingListener) OnFill(ev FillEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return errors.New("queue full")
	}
	l.fills = append(l.fills, ev)
	return nil
}

func (l *recordingListener) OnStateChanged(ev StateChangedEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return errors.New("queue full")
	}
	l.states = append(l.states, ev)
	return nil
}

func (l *recordingListener) Fills() []FillEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]FillEvent(nil), l.fills...)
}

func (l *recordingListener) States() []StateChangedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StateChangedEvent(nil), l.states...)
}

func limitReq(clientID string, side core.Side, qty int64, price fpdecimal.Decimal) CreateRequest {
	return CreateRequest{
		ClientID:   clientID,
		Instrument: "AAPL",
		Side:       side,
		Kind:       core.KindSimple,
		Quantity:   qty,
		Price:      price,
	}
}

func TestCreateLimitOrderRests(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	view, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 100, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	assert.Equal(t, "ACKNOWLEDGED", view.State)
	assert.Equal(t, int64(100), view.Quantity)
	assert.Equal(t, int64(0), view.Filled)

	depth := ex.Depth("AAPL")
	require.Len(t, depth, 1)
	assert.Equal(t, int64(100), depth[0].BidVolume)
}

func TestPartialFillScenario(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	maker, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 100, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	taker, err := ex.CreateOrder(ctx, limitReq("c2", core.Sell, 40, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	assert.Equal(t, "FILLED", taker.State)
	assert.Equal(t, int64(40), taker.Filled)

	makerView, err := ex.OrderStatus(ctx, maker.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "PARTIALLY_FILLED", makerView.State)
	assert.Equal(t, int64(40), makerView.Filled)
	assert.Equal(t, int64(100), makerView.Quantity)
}

func TestMarketOrderNoLiquidity(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	_, err := ex.CreateOrder(ctx, CreateRequest{
		ClientID:   "c1",
		Instrument: "AAPL",
		Side:       core.Buy,
		Kind:       core.KindSimple,
		Quantity:   50,
	})
	assert.ErrorIs(t, err, core.ErrNoLiquidity)
}

func TestMarketOrderRemainderRejected(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{Policy: core.PolicyRejectRemainder})

	_, err := ex.CreateOrder(ctx, limitReq("c1", core.Sell, 30, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	view, err := ex.CreateOrder(ctx, CreateRequest{
		ClientID:   "c2",
		Instrument: "AAPL",
		Side:       core.Buy,
		Kind:       core.KindSimple,
		Quantity:   50,
	})
	require.NoError(t, err)
	assert.Equal(t, "REJECTED", view.State)
	assert.Equal(t, int64(30), view.Filled)
}

func TestMarketOrderRemainderCancelled(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{Policy: core.PolicyCancelRemainder})

	_, err := ex.CreateOrder(ctx, limitReq("c1", core.Sell, 30, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	view, err := ex.CreateOrder(ctx, CreateRequest{
		ClientID:   "c2",
		Instrument: "AAPL",
		Side:       core.Buy,
		Kind:       core.KindSimple,
		Quantity:   50,
	})
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", view.State)
	assert.Equal(t, int64(30), view.Filled)
}

func TestIcebergSliceRollover(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	parent, err := ex.CreateOrder(ctx, CreateRequest{
		ClientID:   "c1",
		Instrument: "AAPL",
		Side:       core.Buy,
		Kind:       core.KindIceberg,
		Quantity:   100,
		Price:      mustDecimal(t, "10.00"),
		SliceSize:  30,
	})
	require.NoError(t, err)

	// Only the active slice is visible.
	depth := ex.Depth("AAPL")
	require.Len(t, depth, 1)
	assert.Equal(t, int64(30), depth[0].BidVolume)

	// Filling the first slice exposes the next one.
	_, err = ex.CreateOrder(ctx, limitReq("c2", core.Sell, 30, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	view, err := ex.OrderStatus(ctx, parent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "PARTIALLY_FILLED", view.State)
	assert.Equal(t, int64(30), view.Filled)

	depth = ex.Depth("AAPL")
	require.Len(t, depth, 1)
	assert.Equal(t, int64(30), depth[0].BidVolume)

	// Crossing the full remainder walks every following slice.
	taker, err := ex.CreateOrder(ctx, limitReq("c3", core.Sell, 70, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	assert.Equal(t, "FILLED", taker.State)

	view, err = ex.OrderStatus(ctx, parent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "FILLED", view.State)
	assert.Equal(t, int64(100), view.Filled)
	assert.Empty(t, ex.Depth("AAPL"))
}

func TestIcebergFinalShortSlice(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	_, err := ex.CreateOrder(ctx, CreateRequest{
		ClientID:   "c1",
		Instrument: "AAPL",
		Side:       core.Sell,
		Kind:       core.KindIceberg,
		Quantity:   70,
		Price:      mustDecimal(t, "10.00"),
		SliceSize:  30,
	})
	require.NoError(t, err)

	_, err = ex.CreateOrder(ctx, limitReq("c2", core.Buy, 60, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	// 70 total with 60 filled leaves a final 10-lot slice.
	depth := ex.Depth("AAPL")
	require.Len(t, depth, 1)
	assert.Equal(t, int64(10), depth[0].AskVolume)
}

func TestReviseQuantityDecreaseKeepsPriority(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	first, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 100, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	second, err := ex.CreateOrder(ctx, limitReq("c2", core.Buy, 100, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	view, err := ex.ReviseOrder(ctx, first.OrderID, 50, fpdecimal.Zero, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(50), view.Quantity)

	// The revised order still fills ahead of the later arrival.
	_, err = ex.CreateOrder(ctx, limitReq("c3", core.Sell, 50, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	firstView, err := ex.OrderStatus(ctx, first.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "FILLED", firstView.State)

	secondView, err := ex.OrderStatus(ctx, second.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), secondView.Filled)
}

func TestRevisePriceRematches(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	_, err := ex.CreateOrder(ctx, limitReq("c1", core.Sell, 40, mustDecimal(t, "11.00")))
	require.NoError(t, err)
	buy, err := ex.CreateOrder(ctx, limitReq("c2", core.Buy, 40, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	// Lifting the bid to the offer crosses immediately.
	view, err := ex.ReviseOrder(ctx, buy.OrderID, 0, mustDecimal(t, "11.00"), 0)
	require.NoError(t, err)
	assert.Equal(t, "FILLED", view.State)
	assert.Equal(t, int64(40), view.Filled)
	revised, err := fpdecimal.FromString(view.Price)
	require.NoError(t, err)
	assert.True(t, revised.Equal(mustDecimal(t, "11.00")))
}

func TestReviseBelowFilled(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	maker, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 100, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	_, err = ex.CreateOrder(ctx, limitReq("c2", core.Sell, 40, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	view, err := ex.ReviseOrder(ctx, maker.OrderID, 30, fpdecimal.Zero, 0)
	assert.ErrorIs(t, err, core.ErrInvalidRevision)
	// No mutation: the order remains as it was.
	assert.Equal(t, "PARTIALLY_FILLED", view.State)
	assert.Equal(t, int64(100), view.Quantity)
	assert.Equal(t, int64(40), view.Filled)
}

func TestReviseDownToFilledCompletes(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	maker, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 100, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	_, err = ex.CreateOrder(ctx, limitReq("c2", core.Sell, 40, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	view, err := ex.ReviseOrder(ctx, maker.OrderID, 40, fpdecimal.Zero, 0)
	require.NoError(t, err)
	assert.Equal(t, "FILLED", view.State)
	assert.Empty(t, ex.Depth("AAPL"))
}

func TestReviseDownToFilledEmitsStateChange(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	listener := &recordingListener{}
	defer ex.Subscribe("c1", listener)()

	maker, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 100, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	_, err = ex.CreateOrder(ctx, limitReq("c2", core.Sell, 40, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	view, err := ex.ReviseOrder(ctx, maker.OrderID, 40, fpdecimal.Zero, 0)
	require.NoError(t, err)
	require.Equal(t, "FILLED", view.State)

	// Completing through a revision pushes the terminal transition like
	// a fill or cancel would.
	states := listener.States()
	require.NotEmpty(t, states)
	last := states[len(states)-1]
	assert.Equal(t, maker.OrderID, last.OrderID)
	assert.Equal(t, core.StatePartiallyFilled, last.OldState)
	assert.Equal(t, core.StateFilled, last.NewState)

	// And the order moves to the completed set.
	pending, completed, err := ex.Status(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.Len(t, completed, 1)
	assert.Equal(t, maker.OrderID, completed[0].OrderID)
}

func TestReviseUnknownOrder(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	_, err := ex.ReviseOrder(ctx, "missing", 10, fpdecimal.Zero, 0)
	assert.ErrorIs(t, err, core.ErrOrderNotFound)
}

func TestReviseTerminalOrder(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	order, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 10, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	_, err = ex.CancelOrder(ctx, order.OrderID)
	require.NoError(t, err)

	_, err = ex.ReviseOrder(ctx, order.OrderID, 20, fpdecimal.Zero, 0)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestCancelIdempotent(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	order, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 10, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	view, err := ex.CancelOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", view.State)
	assert.Empty(t, ex.Depth("AAPL"))

	// Second cancel is a no-op success with the current state.
	view, err = ex.CancelOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", view.State)
}

func TestCancelFilledOrderNoOp(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	_, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 40, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	taker, err := ex.CreateOrder(ctx, limitReq("c2", core.Sell, 40, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	require.Equal(t, "FILLED", taker.State)

	view, err := ex.CancelOrder(ctx, taker.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "FILLED", view.State)
}

func TestCancelIcebergRemovesActiveSlice(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	parent, err := ex.CreateOrder(ctx, CreateRequest{
		ClientID:   "c1",
		Instrument: "AAPL",
		Side:       core.Buy,
		Kind:       core.KindIceberg,
		Quantity:   100,
		Price:      mustDecimal(t, "10.00"),
		SliceSize:  30,
	})
	require.NoError(t, err)

	view, err := ex.CancelOrder(ctx, parent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", view.State)
	assert.Empty(t, ex.Depth("AAPL"))
}

func TestEventsDeliveredToListener(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	maker := &recordingListener{}
	unsubscribe := ex.Subscribe("c1", maker)
	defer unsubscribe()

	order, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 100, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	_, err = ex.CreateOrder(ctx, limitReq("c2", core.Sell, 40, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	fills := maker.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, order.OrderID, fills[0].OrderID)
	assert.Equal(t, int64(40), fills[0].Quantity)
	assert.Equal(t, core.MAKER, fills[0].Role)
	assert.Equal(t, core.StatePartiallyFilled, fills[0].State)

	states := maker.States()
	require.NotEmpty(t, states)
	last := states[len(states)-1]
	assert.Equal(t, core.StatePartiallyFilled, last.NewState)
}

func TestEventSequencePerOrderNonDecreasing(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	listener := &recordingListener{}
	defer ex.Subscribe("c1", listener)()

	order, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 100, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = ex.CreateOrder(ctx, limitReq("c2", core.Sell, 10, mustDecimal(t, "10.00")))
		require.NoError(t, err)
	}

	var lastSeq uint64
	for _, f := range listener.Fills() {
		require.Equal(t, order.OrderID, f.OrderID)
		assert.Greater(t, f.Seq, lastSeq)
		lastSeq = f.Seq
	}
}

func TestUnsubscribeDuringFills(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	listener := &recordingListener{}
	defer ex.Subscribe("c1", listener)()

	// A second subscription for the same client churns while trades
	// flow, so emitters must not walk the shared subscription slice
	// that unsubscribe compacts.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			extra := &recordingListener{}
			ex.Subscribe("c1", extra)()
		}
	}()

	for i := 0; i < 200; i++ {
		_, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 10, mustDecimal(t, "10.00")))
		assert.NoError(t, err)
		_, err = ex.CreateOrder(ctx, limitReq("c2", core.Sell, 10, mustDecimal(t, "10.00")))
		assert.NoError(t, err)
	}
	<-done

	// The stable listener saw every maker fill.
	assert.Len(t, listener.Fills(), 200)
}

func TestSaturatedListenerCountsDrops(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	listener := &recordingListener{full: true}
	defer ex.Subscribe("c1", listener)()

	_, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 10, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	assert.Greater(t, ex.DroppedEvents(), uint64(0))
}

func TestStatusSplitsPendingAndCompleted(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	open, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 100, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	done, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 10, mustDecimal(t, "9.00")))
	require.NoError(t, err)
	_, err = ex.CancelOrder(ctx, done.OrderID)
	require.NoError(t, err)

	// Another client's orders are invisible to c1.
	_, err = ex.CreateOrder(ctx, limitReq("c2", core.Sell, 5, mustDecimal(t, "12.00")))
	require.NoError(t, err)

	pending, completed, err := ex.Status(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, open.OrderID, pending[0].OrderID)
	require.Len(t, completed, 1)
	assert.Equal(t, done.OrderID, completed[0].OrderID)
}

func TestFillsPublishedToSender(t *testing.T) {
	ctx := context.Background()
	sender := messaging.NewMockFillSender()
	ex := NewExchange(Options{Sender: sender})

	maker, err := ex.CreateOrder(ctx, limitReq("c1", core.Buy, 40, mustDecimal(t, "10.00")))
	require.NoError(t, err)
	taker, err := ex.CreateOrder(ctx, limitReq("c2", core.Sell, 40, mustDecimal(t, "10.00")))
	require.NoError(t, err)

	sent := sender.Sent()
	require.Len(t, sent, 2)
	ids := map[string]bool{sent[0].OrderID: true, sent[1].OrderID: true}
	assert.True(t, ids[maker.OrderID])
	assert.True(t, ids[taker.OrderID])
}

func TestDepthUnknownInstrument(t *testing.T) {
	ex := NewExchange(Options{})

	assert.Empty(t, ex.Depth("UNLISTED"))
	// A depth query alone must not register a book.
	assert.Empty(t, ex.Instruments())
}

func TestSeedLiquidity(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	err := ex.SeedLiquidity(ctx, "AAPL", "seed", []Quote{
		{Side: core.Buy, Quantity: 100, Price: mustDecimal(t, "9.50")},
		{Side: core.Sell, Quantity: 100, Price: mustDecimal(t, "10.50")},
	})
	require.NoError(t, err)

	depth := ex.Depth("AAPL")
	require.Len(t, depth, 1)
	assert.Equal(t, int64(100), depth[0].BidVolume)
	assert.Equal(t, int64(100), depth[0].AskVolume)
}

func TestIndependentInstrumentsInParallel(t *testing.T) {
	ctx := context.Background()
	ex := NewExchange(Options{})

	var wg sync.WaitGroup
	for _, instrument := range []string{"AAPL", "MSFT", "GOOG"} {
		wg.Add(1)
		go func(instrument string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := ex.CreateOrder(ctx, CreateRequest{
					ClientID:   "c1",
					Instrument: instrument,
					Side:       core.Buy,
					Kind:       core.KindSimple,
					Quantity:   10,
					Price:      mustDecimal(t, "10.00"),
				})
				assert.NoError(t, err)
			}
		}(instrument)
	}
	wg.Wait()

	for _, instrument := range []string{"AAPL", "MSFT", "GOOG"} {
		depth := ex.Depth(instrument)
		require.Len(t, depth, 1)
		assert.Equal(t, int64(200), depth[0].BidVolume)
	}
}
