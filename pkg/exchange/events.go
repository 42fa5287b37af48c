package exchange

import (
	"github.com/nikolaydubina/fpdecimal"

	"github.com/openexch/simex/pkg/core"
)

// FillEvent is pushed to the owning session for every fill applied to
// one of its orders. Iceberg slice fills are reported at the parent
// order level.
type FillEvent struct {
	ClientID string
	OrderID  string
	Quantity int64
	Price    fpdecimal.Decimal
	Seq      uint64
	Role     core.Role
	State    core.State
}

// StateChangedEvent is pushed to the owning session when an order moves
// between externally visible states.
type StateChangedEvent struct {
	ClientID string
	OrderID  string
	OldState core.State
	NewState core.State
}

// Listener receives events for one client's orders. Implementations
// must not block; a full outbound queue is reported with an error so
// the exchange can count the drop. Events for one order arrive in
// non-decreasing sequence order.
type Listener interface {
	OnFill(ev FillEvent) error
	OnStateChanged(ev StateChangedEvent) error
}
