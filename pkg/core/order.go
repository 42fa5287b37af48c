package core

import (
	"encoding/json"
	"time"

	"github.com/nikolaydubina/fpdecimal"
)

// Side represents buy or sell side of the order
type Side int

// Order sides
const (
	Sell Side = iota
	Buy
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseSide converts a wire string into a Side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "BUY":
		return Buy, true
	case "SELL":
		return Sell, true
	default:
		return Sell, false
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Kind represents the order kind
type Kind string

// Order kinds
const (
	KindSimple  Kind = "SIMPLE"
	KindIceberg Kind = "ICEBERG"
)

// Order stores client intent and its lifecycle state. Side and kind
// are immutable after creation; quantity and price change only through
// revision and filled only through fill application.
type Order struct {
	id         string
	clientID   string
	instrument string
	side       Side
	kind       Kind
	quantity   int64
	filled     int64
	price      fpdecimal.Decimal
	market     bool
	sliceSize  int64
	state      State
	prevState  State
	lastSeq    uint64
	updatedAt  time.Time
}

// NewLimitOrder creates a new limit Order in StateCreated.
func NewLimitOrder(id, clientID, instrument string, side Side, kind Kind, quantity int64, price fpdecimal.Decimal, sliceSize int64) (*Order, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if price.LessThanOrEqual(fpdecimal.Zero) {
		return nil, ErrInvalidPrice
	}
	if kind == KindIceberg && (sliceSize <= 0 || sliceSize > quantity) {
		return nil, ErrInvalidSliceSize
	}
	if kind != KindSimple && kind != KindIceberg {
		return nil, ErrInvalidOrder
	}

	return &Order{
		id:         id,
		clientID:   clientID,
		instrument: instrument,
		side:       side,
		kind:       kind,
		quantity:   quantity,
		price:      price,
		sliceSize:  sliceSize,
		state:      StateCreated,
		updatedAt:  time.Now(),
	}, nil
}

// NewMarketOrder creates a new market Order in StateCreated. Iceberg
// orders must carry a limit price, so market orders are always simple.
func NewMarketOrder(id, clientID, instrument string, side Side, quantity int64) (*Order, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	return &Order{
		id:         id,
		clientID:   clientID,
		instrument: instrument,
		side:       side,
		kind:       KindSimple,
		quantity:   quantity,
		market:     true,
		state:      StateCreated,
		updatedAt:  time.Now(),
	}, nil
}

// ID returns the order identifier
func (o *Order) ID() string { return o.id }

// ClientID returns the owning session identifier
func (o *Order) ClientID() string { return o.clientID }

// Instrument returns the instrument symbol
func (o *Order) Instrument() string { return o.instrument }

// Side returns side of the Order
func (o *Order) Side() Side { return o.side }

// Kind returns the order kind
func (o *Order) Kind() Kind { return o.kind }

// Quantity returns the total requested quantity
func (o *Order) Quantity() int64 { return o.quantity }

// Filled returns the cumulative filled quantity
func (o *Order) Filled() int64 { return o.filled }

// Open returns the quantity still to be filled
func (o *Order) Open() int64 { return o.quantity - o.filled }

// Price returns the limit price; zero for market orders
func (o *Order) Price() fpdecimal.Decimal { return o.price }

// IsMarket reports whether the order has no limit price
func (o *Order) IsMarket() bool { return o.market }

// SliceSize returns the iceberg slice size; zero for simple orders
func (o *Order) SliceSize() int64 { return o.sliceSize }

// State returns the current lifecycle state
func (o *Order) State() State { return o.state }

// LastSeq returns the highest applied fill sequence number
func (o *Order) LastSeq() uint64 { return o.lastSeq }

// UpdatedAt returns the time of the last state mutation
func (o *Order) UpdatedAt() time.Time { return o.updatedAt }

func (o *Order) transition(next State) error {
	if !o.state.CanTransition(next) {
		return ErrInvalidState
	}
	o.state = next
	o.updatedAt = time.Now()
	return nil
}

// MarkSent records acceptance by the matching engine intake.
func (o *Order) MarkSent() error {
	return o.transition(StateSent)
}

// Acknowledge records the engine registering the order.
func (o *Order) Acknowledge() error {
	return o.transition(StateAcknowledged)
}

// Reject moves the order to the terminal Rejected state.
func (o *Order) Reject() error {
	return o.transition(StateRejected)
}

// BeginRevision parks the order in PendingRevision, remembering the
// state to restore when the revision completes or is rejected.
func (o *Order) BeginRevision() error {
	if o.state != StateAcknowledged && o.state != StatePartiallyFilled {
		return ErrInvalidState
	}
	o.prevState = o.state
	return o.transition(StatePendingRevision)
}

// CompleteRevision applies the revised quantity and slice size and
// returns the order to its pre-revision state. A quantity below the
// already-filled amount fails with ErrInvalidRevision, leaving the
// order in PendingRevision for the caller to roll back.
func (o *Order) CompleteRevision(newQuantity, newSliceSize int64) error {
	if o.state != StatePendingRevision {
		return ErrInvalidState
	}
	if newQuantity > 0 {
		if newQuantity < o.filled {
			return ErrInvalidRevision
		}
		o.quantity = newQuantity
	}
	if newSliceSize > 0 && o.kind == KindIceberg {
		o.sliceSize = newSliceSize
	}
	if o.Open() == 0 {
		return o.transition(StateFilled)
	}
	return o.transition(o.prevState)
}

// RevisePrice changes the limit price of an order parked in
// PendingRevision. A market order cannot acquire a limit price.
func (o *Order) RevisePrice(newPrice fpdecimal.Decimal) error {
	if o.state != StatePendingRevision {
		return ErrInvalidState
	}
	if o.market {
		return ErrInvalidRevision
	}
	if newPrice.LessThanOrEqual(fpdecimal.Zero) {
		return ErrInvalidPrice
	}
	o.price = newPrice
	o.updatedAt = time.Now()
	return nil
}

// RollbackRevision returns the order to its pre-revision state without
// applying any change.
func (o *Order) RollbackRevision() error {
	if o.state != StatePendingRevision {
		return ErrInvalidState
	}
	return o.transition(o.prevState)
}

// Cancel moves the order to Cancelled. Cancelling a terminal order is
// a no-op success; the returned flag reports whether state changed.
func (o *Order) Cancel() (bool, error) {
	if o.state.IsTerminal() {
		return false, nil
	}
	if err := o.transition(StateCancelled); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyFill increments the filled quantity and advances state. Fills
// are applied strictly in ascending sequence order; a duplicate or
// out-of-order sequence is dropped and reported as not applied, which
// makes replay idempotent.
func (o *Order) ApplyFill(f Fill) (bool, error) {
	if f.Seq <= o.lastSeq {
		return false, nil
	}
	if o.state.IsTerminal() {
		return false, ErrInvalidState
	}
	if f.Quantity <= 0 || f.Quantity > o.Open() {
		return false, ErrInvalidQuantity
	}

	o.filled += f.Quantity
	o.lastSeq = f.Seq
	if o.Open() == 0 {
		return true, o.transition(StateFilled)
	}
	return true, o.transition(StatePartiallyFilled)
}

// AddSliceFill folds an active slice's fill into the parent aggregate
// without moving the parent out of a pending revision.
func (o *Order) AddSliceFill(f Fill) (bool, error) {
	if o.kind != KindIceberg {
		return false, ErrInvalidOrder
	}
	if o.state != StatePendingRevision {
		return o.ApplyFill(f)
	}
	// Parent is mid-revision; record the quantity, keep the state.
	if f.Seq <= o.lastSeq {
		return false, nil
	}
	if f.Quantity <= 0 || f.Quantity > o.Open() {
		return false, ErrInvalidQuantity
	}
	o.filled += f.Quantity
	o.lastSeq = f.Seq
	o.updatedAt = time.Now()
	return true, nil
}

// View is the exported wire and storage representation of an Order.
type View struct {
	OrderID    string `json:"order_id"`
	ClientID   string `json:"client_id"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Kind       string `json:"kind"`
	Quantity   int64  `json:"quantity"`
	Filled     int64  `json:"filled_quantity"`
	Price      string `json:"limit_price,omitempty"`
	Market     bool   `json:"market"`
	SliceSize  int64  `json:"slice_size,omitempty"`
	State      string `json:"state"`
	UpdatedAt  int64  `json:"updated_at"`
}

// View returns the wire representation of the order.
func (o *Order) View() View {
	v := View{
		OrderID:    o.id,
		ClientID:   o.clientID,
		Instrument: o.instrument,
		Side:       o.side.String(),
		Kind:       string(o.kind),
		Quantity:   o.quantity,
		Filled:     o.filled,
		Market:     o.market,
		SliceSize:  o.sliceSize,
		State:      o.state.String(),
		UpdatedAt:  o.updatedAt.UnixNano(),
	}
	if !o.market {
		v.Price = o.price.String()
	}
	return v
}

// MarshalJSON implements json.Marshaler
func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.View())
}

// OrderFromView reconstructs an Order from its stored representation.
func OrderFromView(v View) (*Order, error) {
	side, ok := ParseSide(v.Side)
	if !ok {
		return nil, ErrInvalidOrder
	}
	state, ok := ParseState(v.State)
	if !ok {
		return nil, ErrInvalidOrder
	}
	price := fpdecimal.Zero
	if v.Price != "" {
		var err error
		price, err = fpdecimal.FromString(v.Price)
		if err != nil {
			return nil, ErrInvalidPrice
		}
	}
	return &Order{
		id:         v.OrderID,
		clientID:   v.ClientID,
		instrument: v.Instrument,
		side:       side,
		kind:       Kind(v.Kind),
		quantity:   v.Quantity,
		filled:     v.Filled,
		price:      price,
		market:     v.Market,
		sliceSize:  v.SliceSize,
		state:      state,
		updatedAt:  time.Unix(0, v.UpdatedAt),
	}, nil
}

// String implements fmt.Stringer
func (o *Order) String() string {
	j, _ := o.MarshalJSON()
	return string(j)
}
