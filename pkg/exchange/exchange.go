package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nikolaydubina/fpdecimal"

	"github.com/openexch/simex/pkg/backend/memory"
	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/logging"
	"github.com/openexch/simex/pkg/messaging"
	"github.com/openexch/simex/pkg/store"
)

// Options configures an Exchange. Zero-value fields fall back to
// in-memory implementations and the reject market policy.
type Options struct {
	Store      store.OrderStore
	Archive    store.Archive
	Sender     messaging.FillSender
	Policy     core.MarketPolicy
	NewBackend func() core.BookBackend
}

// Exchange is the server orchestrator. It owns the open-order registry,
// one book per instrument, the iceberg slicer, and fill application.
// All mutation of one instrument's orders happens under that
// instrument's lock; independent instruments proceed in parallel.
type Exchange struct {
	mu    sync.RWMutex
	books map[string]*instrumentBook

	orders  store.OrderStore
	archive store.Archive
	sender  messaging.FillSender
	seq     *core.Sequencer
	policy  core.MarketPolicy

	newBackend func() core.BookBackend

	subMu   sync.RWMutex
	subs    map[string][]*subscription
	dropped atomic.Uint64
}

// instrumentBook bundles one instrument's engine with the routing
// state for its entries. Guarded by its own mutex.
type instrumentBook struct {
	mu     sync.Mutex
	engine *core.OrderBook
	owner  map[string]string     // entry id -> order id
	slices map[string]*core.Slice // entry id -> active slice
	active map[string]string     // iceberg order id -> active entry id
}

type subscription struct {
	clientID string
	listener Listener
}

// NewExchange creates an Exchange.
func NewExchange(opts Options) *Exchange {
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Archive == nil {
		opts.Archive = store.NewMemoryArchive()
	}
	if opts.Sender == nil {
		opts.Sender = messaging.NopFillSender{}
	}
	if opts.Policy == "" {
		opts.Policy = core.PolicyRejectRemainder
	}
	if opts.NewBackend == nil {
		opts.NewBackend = func() core.BookBackend { return memory.NewMemoryBackend() }
	}
	return &Exchange{
		books:      make(map[string]*instrumentBook),
		orders:     opts.Store,
		archive:    opts.Archive,
		sender:     opts.Sender,
		seq:        core.NewSequencer(0),
		policy:     opts.Policy,
		newBackend: opts.NewBackend,
		subs:       make(map[string][]*subscription),
	}
}

// Subscribe registers a listener for one client's order events. The
// returned function unsubscribes it.
func (e *Exchange) Subscribe(clientID string, l Listener) func() {
	sub := &subscription{clientID: clientID, listener: l}

	e.subMu.Lock()
	e.subs[clientID] = append(e.subs[clientID], sub)
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		subs := e.subs[clientID]
		for i, s := range subs {
			if s == sub {
				e.subs[clientID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(e.subs[clientID]) == 0 {
			delete(e.subs, clientID)
		}
	}
}

// subscribers returns a copy of one client's subscription list.
// Unsubscribe compacts the shared slice in place, so emitters must not
// iterate the shared backing array outside the lock.
func (e *Exchange) subscribers(clientID string) []*subscription {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	return append([]*subscription(nil), e.subs[clientID]...)
}

// DroppedEvents returns the count of events lost to saturated
// session queues.
func (e *Exchange) DroppedEvents() uint64 {
	return e.dropped.Load()
}

func (e *Exchange) book(instrument string) *instrumentBook {
	e.mu.RLock()
	b, ok := e.books[instrument]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.books[instrument]; ok {
		return b
	}
	b = &instrumentBook{
		engine: core.NewOrderBook(e.newBackend(), e.seq, e.policy),
		owner:  make(map[string]string),
		slices: make(map[string]*core.Slice),
		active: make(map[string]string),
	}
	e.books[instrument] = b
	return b
}

// lookupBook returns the book for an instrument without registering
// one. Read-only queries like Depth use it so an arbitrary instrument
// name cannot grow the book map.
func (e *Exchange) lookupBook(instrument string) *instrumentBook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books[instrument]
}

// Instruments returns the instruments with a book, for the depth view.
func (e *Exchange) Instruments() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.books))
	for name := range e.books {
		out = append(out, name)
	}
	return out
}

// CreateRequest carries the parameters of a new order.
type CreateRequest struct {
	ClientID   string
	Instrument string
	Side       core.Side
	Kind       core.Kind
	Quantity   int64
	// Price zero means a market order
	Price     fpdecimal.Decimal
	SliceSize int64
}

// CreateOrder validates, registers and matches a new order. The
// returned view is the order's state after matching completed. A
// market order with no liquidity at all is rejected whole with
// ErrNoLiquidity.
func (e *Exchange) CreateOrder(ctx context.Context, req CreateRequest) (core.View, error) {
	logger := logging.FromContext(ctx).With().
		Str("instrument", req.Instrument).
		Str("side", req.Side.String()).
		Logger()

	if req.Instrument == "" {
		return core.View{}, core.ErrInvalidOrder
	}

	var (
		order *core.Order
		err   error
	)
	orderID := uuid.NewString()
	if req.Price.Equal(fpdecimal.Zero) {
		if req.Kind == core.KindIceberg {
			// Icebergs need a limit price to rest at.
			return core.View{}, core.ErrInvalidPrice
		}
		order, err = core.NewMarketOrder(orderID, req.ClientID, req.Instrument, req.Side, req.Quantity)
	} else {
		kind := req.Kind
		if kind == "" {
			kind = core.KindSimple
		}
		order, err = core.NewLimitOrder(orderID, req.ClientID, req.Instrument, req.Side, kind, req.Quantity, req.Price, req.SliceSize)
	}
	if err != nil {
		logger.Debug().Err(err).Msg("Order validation failed")
		return core.View{}, err
	}

	b := e.book(req.Instrument)
	b.mu.Lock()
	defer b.mu.Unlock()

	e.orders.Put(order)
	e.transitionOrder(order, order.MarkSent)
	e.transitionOrder(order, order.Acknowledge)

	var entry *core.BookEntry
	if order.Kind() == core.KindIceberg {
		entry, err = e.openSlice(b, order)
	} else {
		entry = e.orderEntry(b, order)
	}
	if err != nil {
		e.rejectOrder(ctx, b, order)
		return core.View{}, err
	}

	exec, err := b.engine.Submit(entry)
	if err != nil {
		e.clearEntry(b, entry.ID())
		e.rejectOrder(ctx, b, order)
		if errors.Is(err, core.ErrNoLiquidity) {
			logger.Info().Str("order_id", order.ID()).Msg("Market order rejected with no liquidity")
			return core.View{}, core.ErrNoLiquidity
		}
		return core.View{}, fmt.Errorf("submitting order: %w", err)
	}

	e.applyExecution(ctx, b, exec)
	e.settleMarketRemainder(ctx, b, order, exec)
	e.finalize(ctx, b, order)

	logger.Info().
		Str("order_id", order.ID()).
		Int64("quantity", req.Quantity).
		Str("state", order.State().String()).
		Msg("Order created")
	return order.View(), nil
}

// ReviseOrder changes an open order's quantity, limit price or iceberg
// slice size. Zero values keep the current setting. A new quantity
// below the filled quantity fails with ErrInvalidRevision and mutates
// nothing. A price change loses time priority and may match
// immediately; a pure quantity decrease keeps priority.
func (e *Exchange) ReviseOrder(ctx context.Context, orderID string, newQuantity int64, newPrice fpdecimal.Decimal, newSliceSize int64) (core.View, error) {
	logger := logging.FromContext(ctx).With().Str("order_id", orderID).Logger()

	order := e.orders.Get(orderID)
	if order == nil {
		if archived, err := e.archive.Load(ctx, orderID); err == nil {
			return archived.View(), core.ErrInvalidState
		}
		return core.View{}, core.ErrOrderNotFound
	}

	b := e.book(order.Instrument())
	b.mu.Lock()
	defer b.mu.Unlock()

	old := order.State()
	if err := order.BeginRevision(); err != nil {
		return order.View(), err
	}
	if newQuantity > 0 && newQuantity < order.Filled() {
		order.RollbackRevision()
		return order.View(), core.ErrInvalidRevision
	}

	var err error
	if order.Kind() == core.KindIceberg {
		err = e.reviseIceberg(ctx, b, order, old, newQuantity, newPrice, newSliceSize)
	} else {
		err = e.reviseSimple(ctx, b, order, old, newQuantity, newPrice)
	}
	if err != nil {
		order.RollbackRevision()
		logger.Debug().Err(err).Msg("Revision rejected")
		return order.View(), err
	}

	e.finalize(ctx, b, order)
	logger.Info().
		Int64("quantity", order.Quantity()).
		Str("state", order.State().String()).
		Msg("Order revised")
	return order.View(), nil
}

func (e *Exchange) reviseSimple(ctx context.Context, b *instrumentBook, order *core.Order, old core.State, newQuantity int64, newPrice fpdecimal.Decimal) error {
	entry := b.engine.GetEntry(order.ID())
	if entry == nil {
		return core.ErrInvalidState
	}

	priceChanged := !newPrice.Equal(fpdecimal.Zero) && !newPrice.Equal(order.Price())
	if !priceChanged && newQuantity == 0 {
		// Nothing to change; the entry keeps its place.
		return order.CompleteRevision(0, 0)
	}
	if priceChanged {
		if err := order.RevisePrice(newPrice); err != nil {
			return err
		}
	}

	newRemaining := int64(0)
	if newQuantity > 0 {
		newRemaining = newQuantity - order.Filled()
	}
	if newQuantity > 0 && newRemaining == 0 {
		// Revised down to exactly the filled quantity; the rest of the
		// entry comes off the book and the order completes.
		b.engine.Cancel(order.ID())
		e.clearEntry(b, order.ID())
		if err := order.CompleteRevision(newQuantity, 0); err != nil {
			return err
		}
		e.emitStateChanged(order, old)
		e.finalize(ctx, b, order)
		return nil
	}

	exec, err := b.engine.Revise(order.ID(), newRemaining, newPrice)
	if err != nil {
		return err
	}
	if err := order.CompleteRevision(newQuantity, 0); err != nil {
		return err
	}
	if !exec.Rested {
		e.clearEntry(b, order.ID())
	}
	e.applyExecution(ctx, b, exec)
	return nil
}

// CancelOrder cancels an open order. Cancelling an already terminal
// order is an idempotent no-op success returning the current state.
func (e *Exchange) CancelOrder(ctx context.Context, orderID string) (core.View, error) {
	logger := logging.FromContext(ctx).With().Str("order_id", orderID).Logger()

	order := e.orders.Get(orderID)
	if order == nil {
		if archived, err := e.archive.Load(ctx, orderID); err == nil {
			return archived.View(), nil
		}
		return core.View{}, core.ErrOrderNotFound
	}

	b := e.book(order.Instrument())
	b.mu.Lock()
	defer b.mu.Unlock()

	old := order.State()
	changed, err := order.Cancel()
	if err != nil {
		return order.View(), err
	}
	if !changed {
		return order.View(), nil
	}

	if entryID, ok := b.active[order.ID()]; ok {
		if slice := b.slices[entryID]; slice != nil {
			slice.Cancel()
		}
		b.engine.Cancel(entryID)
		e.clearEntry(b, entryID)
	} else {
		b.engine.Cancel(order.ID())
		e.clearEntry(b, order.ID())
	}

	e.emitStateChanged(order, old)
	e.finalize(ctx, b, order)
	logger.Info().Msg("Order cancelled")
	return order.View(), nil
}

// OrderStatus returns the current view of one order, open or archived.
func (e *Exchange) OrderStatus(ctx context.Context, orderID string) (core.View, error) {
	if order := e.orders.Get(orderID); order != nil {
		b := e.book(order.Instrument())
		b.mu.Lock()
		defer b.mu.Unlock()
		return order.View(), nil
	}
	archived, err := e.archive.Load(ctx, orderID)
	if err != nil {
		return core.View{}, err
	}
	return archived.View(), nil
}

// Status is the session snapshot: a client's orders split into pending
// (non-terminal) and completed (archived terminal) sets.
func (e *Exchange) Status(ctx context.Context, clientID string) (pending, completed []core.View, err error) {
	pending = make([]core.View, 0)
	for _, order := range e.orders.List() {
		if order.ClientID() != clientID {
			continue
		}
		b := e.book(order.Instrument())
		b.mu.Lock()
		pending = append(pending, order.View())
		b.mu.Unlock()
	}

	archived, err := e.archive.List(ctx, clientID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing archive: %w", err)
	}
	completed = make([]core.View, 0, len(archived))
	for _, order := range archived {
		completed = append(completed, order.View())
	}
	return pending, completed, nil
}

// DepthRow is one aggregated price level of the market depth view.
// Bid and ask at the same rank are shown side by side.
type DepthRow struct {
	Bid       string `json:"bid,omitempty"`
	BidVolume int64  `json:"bid_volume,omitempty"`
	Ask       string `json:"ask,omitempty"`
	AskVolume int64  `json:"ask_volume,omitempty"`
}

// Depth returns the book depth for one instrument, best levels first.
func (e *Exchange) Depth(instrument string) []DepthRow {
	b := e.lookupBook(instrument)
	if b == nil {
		return []DepthRow{}
	}
	b.mu.Lock()
	bids := b.engine.BidDepth()
	asks := b.engine.AskDepth()
	b.mu.Unlock()

	n := len(bids)
	if len(asks) > n {
		n = len(asks)
	}
	rows := make([]DepthRow, n)
	for i := range bids {
		rows[i].Bid = bids[i].Price.String()
		rows[i].BidVolume = bids[i].Volume
	}
	for i := range asks {
		rows[i].Ask = asks[i].Price.String()
		rows[i].AskVolume = asks[i].Volume
	}
	return rows
}

// orderEntry builds the book entry for a simple order and registers
// its routing.
func (e *Exchange) orderEntry(b *instrumentBook, order *core.Order) *core.BookEntry {
	var entry *core.BookEntry
	if order.IsMarket() {
		entry, _ = core.NewMarketEntry(order.ID(), order.Side(), order.Open())
	} else {
		entry, _ = core.NewLimitEntry(order.ID(), order.Side(), order.Open(), order.Price())
	}
	b.owner[order.ID()] = order.ID()
	return entry
}

func (e *Exchange) clearEntry(b *instrumentBook, entryID string) {
	if slice, ok := b.slices[entryID]; ok {
		delete(b.active, slice.ParentID())
	}
	delete(b.slices, entryID)
	delete(b.owner, entryID)
}

// applyExecution routes each fill to its order or slice and feeds
// iceberg rollover back through the engine until no work remains.
func (e *Exchange) applyExecution(ctx context.Context, b *instrumentBook, exec *core.Execution) {
	work := []*core.Execution{exec}
	for len(work) > 0 {
		current := work[0]
		work = work[1:]
		if current == nil {
			continue
		}
		for _, fill := range current.Fills {
			if next := e.applyFill(ctx, b, fill); next != nil {
				work = append(work, next)
			}
		}
	}
}

// applyFill applies one fill to the owning order, rolling an iceberg
// over to its next slice when the active one completes. The returned
// execution, if any, is the next slice's matching result.
func (e *Exchange) applyFill(ctx context.Context, b *instrumentBook, fill core.Fill) *core.Execution {
	logger := logging.FromContext(ctx)

	orderID, ok := b.owner[fill.EntryID]
	if !ok {
		logger.Warn().Str("entry_id", fill.EntryID).Uint64("seq", fill.Seq).Msg("Fill for unknown entry dropped")
		return nil
	}
	order := e.orders.Get(orderID)
	if order == nil {
		logger.Warn().Str("order_id", orderID).Uint64("seq", fill.Seq).Msg("Fill for unregistered order dropped")
		return nil
	}

	old := order.State()
	var next *core.Execution
	if slice, isSlice := b.slices[fill.EntryID]; isSlice {
		applied, err := slice.ApplyFill(fill)
		if err != nil || !applied {
			if err != nil {
				logger.Error().Err(err).Str("order_id", orderID).Uint64("seq", fill.Seq).Msg("Slice fill not applied")
			}
			return nil
		}
		if _, err := order.AddSliceFill(fill); err != nil {
			logger.Error().Err(err).Str("order_id", orderID).Uint64("seq", fill.Seq).Msg("Parent fill aggregation failed")
			return nil
		}
		if slice.State() == core.StateFilled {
			e.clearEntry(b, fill.EntryID)
			if !order.State().IsTerminal() && order.Open() > 0 {
				next = e.rolloverSlice(ctx, b, order)
			}
		}
	} else {
		applied, err := order.ApplyFill(fill)
		if err != nil || !applied {
			if err != nil {
				logger.Error().Err(err).Str("order_id", orderID).Uint64("seq", fill.Seq).Msg("Fill not applied")
			}
			return nil
		}
		if order.State() == core.StateFilled {
			e.clearEntry(b, fill.EntryID)
		}
	}

	e.emitFill(order, fill)
	if order.State() != old {
		e.emitStateChanged(order, old)
	}
	e.publishFill(ctx, order, fill)
	e.finalize(ctx, b, order)
	return next
}

// settleMarketRemainder closes out a market order whose remainder
// could not fill. The reject policy ends it Rejected, the cancel
// policy Cancelled; either way the filled part stands.
func (e *Exchange) settleMarketRemainder(ctx context.Context, b *instrumentBook, order *core.Order, exec *core.Execution) {
	if !order.IsMarket() || exec.Remaining == 0 || order.State().IsTerminal() {
		return
	}
	old := order.State()
	if exec.RemainderRejected {
		order.Reject()
	} else {
		order.Cancel()
	}
	e.clearEntry(b, order.ID())
	e.emitStateChanged(order, old)
}

// rejectOrder rolls back a failed registration whole.
func (e *Exchange) rejectOrder(ctx context.Context, b *instrumentBook, order *core.Order) {
	old := order.State()
	if err := order.Reject(); err != nil {
		return
	}
	e.emitStateChanged(order, old)
	e.finalize(ctx, b, order)
}

// finalize moves a terminal order from the registry to the archive.
// It runs after the order's events were handed to the session layer,
// so the client is reported to at least once first.
func (e *Exchange) finalize(ctx context.Context, b *instrumentBook, order *core.Order) {
	if !order.State().IsTerminal() {
		return
	}
	e.orders.Delete(order.ID())
	if err := e.archive.Archive(ctx, order); err != nil {
		logger := logging.FromContext(ctx)
		logger.Error().Err(err).Str("order_id", order.ID()).Msg("Failed to archive order")
	}
}

func (e *Exchange) emitFill(order *core.Order, fill core.Fill) {
	ev := FillEvent{
		ClientID: order.ClientID(),
		OrderID:  order.ID(),
		Quantity: fill.Quantity,
		Price:    fill.Price,
		Seq:      fill.Seq,
		Role:     fill.Role,
		State:    order.State(),
	}
	for _, sub := range e.subscribers(order.ClientID()) {
		if err := sub.listener.OnFill(ev); err != nil {
			e.dropped.Add(1)
		}
	}
}

func (e *Exchange) emitStateChanged(order *core.Order, old core.State) {
	ev := StateChangedEvent{
		ClientID: order.ClientID(),
		OrderID:  order.ID(),
		OldState: old,
		NewState: order.State(),
	}
	for _, sub := range e.subscribers(order.ClientID()) {
		if err := sub.listener.OnStateChanged(ev); err != nil {
			e.dropped.Add(1)
		}
	}
}

// transitionOrder applies a lifecycle step and pushes the resulting
// state change.
func (e *Exchange) transitionOrder(order *core.Order, step func() error) {
	old := order.State()
	if err := step(); err != nil {
		return
	}
	e.emitStateChanged(order, old)
}

func (e *Exchange) publishFill(ctx context.Context, order *core.Order, fill core.Fill) {
	msg := &messaging.FillMessage{
		OrderID:    order.ID(),
		ClientID:   order.ClientID(),
		Instrument: order.Instrument(),
		Side:       order.Side().String(),
		Quantity:   fill.Quantity,
		Price:      fill.Price.String(),
		Seq:        fill.Seq,
		Role:       string(fill.Role),
		State:      order.State().String(),
	}
	if err := e.sender.SendFillMessage(ctx, msg); err != nil {
		logger := logging.FromContext(ctx)
		logger.Error().Err(err).
			Str("order_id", order.ID()).
			Uint64("seq", fill.Seq).
			Msg("Failed to publish fill")
	}
}

// Quote is one seeded resting order.
type Quote struct {
	Side     core.Side
	Quantity int64
	Price    fpdecimal.Decimal
}

// SeedLiquidity rests a set of quotes on an instrument's book at
// startup, under the given synthetic client ID.
func (e *Exchange) SeedLiquidity(ctx context.Context, instrument, clientID string, quotes []Quote) error {
	for _, q := range quotes {
		_, err := e.CreateOrder(ctx, CreateRequest{
			ClientID:   clientID,
			Instrument: instrument,
			Side:       q.Side,
			Kind:       core.KindSimple,
			Quantity:   q.Quantity,
			Price:      q.Price,
		})
		if err != nil {
			return fmt.Errorf("seeding %s %d@%s: %w", q.Side, q.Quantity, q.Price, err)
		}
	}
	logger := logging.FromContext(ctx)
	logger.Info().
		Str("instrument", instrument).
		Int("quotes", len(quotes)).
		Msg("Seeded book liquidity")
	return nil
}

// Close releases the exchange's external resources.
func (e *Exchange) Close() error {
	var firstErr error
	if err := e.sender.Close(); err != nil {
		firstErr = err
	}
	if err := e.archive.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
