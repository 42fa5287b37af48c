// Package protocol defines the JSON message envelopes exchanged over a
// session websocket. Both the server and the client package speak
// these types.
package protocol

import (
	"encoding/json"

	"github.com/openexch/simex/pkg/core"
)

// Request message types.
const (
	TypeCreateOrder = "create_order"
	TypeReviseOrder = "revise_order"
	TypeCancelOrder = "cancel_order"
	TypeStatus      = "status"
)

// Push message types.
const (
	TypeSession      = "session"
	TypeFillEvent    = "fill_event"
	TypeStateChanged = "state_changed"
)

// Error codes carried in Response.Error.
const (
	ErrCodeInvalidOrder     = "INVALID_ORDER"
	ErrCodeInvalidQuantity  = "INVALID_QUANTITY"
	ErrCodeInvalidPrice     = "INVALID_PRICE"
	ErrCodeInvalidSliceSize = "INVALID_SLICE_SIZE"
	ErrCodeOrderNotFound    = "ORDER_NOT_FOUND"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeInvalidRevision  = "INVALID_REVISION"
	ErrCodeNoLiquidity      = "NO_LIQUIDITY"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeInternal         = "INTERNAL"
)

// Request is the client-to-server envelope. MessageID is the client's
// idempotency and correlation key; a repeated MessageID replays the
// original result.
type Request struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Response is the server-to-client envelope, both for request replies
// (MessageID echoes the request) and pushed events (no MessageID).
type Response struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id,omitempty"`
	OK        bool            `json:"ok"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// CreateOrder is the payload of a create_order request. An empty
// LimitPrice means a market order.
type CreateOrder struct {
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Kind       string `json:"kind,omitempty"`
	Quantity   int64  `json:"quantity"`
	LimitPrice string `json:"limit_price,omitempty"`
	SliceSize  int64  `json:"slice_size,omitempty"`
}

// ReviseOrder is the payload of a revise_order request. Zero-valued
// fields keep the current setting.
type ReviseOrder struct {
	OrderID       string `json:"order_id"`
	NewQuantity   int64  `json:"new_quantity,omitempty"`
	NewLimitPrice string `json:"new_limit_price,omitempty"`
	NewSliceSize  int64  `json:"new_slice_size,omitempty"`
}

// CancelOrder is the payload of a cancel_order request.
type CancelOrder struct {
	OrderID string `json:"order_id"`
}

// StatusRequest is the payload of a status request. With an OrderID it
// returns that order's view; without, the session snapshot.
type StatusRequest struct {
	OrderID string `json:"order_id,omitempty"`
}

// StatusSnapshot is the session snapshot reply: the client's orders
// split on terminal state.
type StatusSnapshot struct {
	Pending   []core.View `json:"pending"`
	Completed []core.View `json:"completed"`
}

// Session is the payload of the session push sent on connect.
type Session struct {
	ClientID string `json:"client_id"`
}

// FillEvent is the payload of a fill_event push.
type FillEvent struct {
	OrderID  string `json:"order_id"`
	Quantity int64  `json:"quantity"`
	Price    string `json:"price"`
	Seq      uint64 `json:"sequence_number"`
	Role     string `json:"role"`
	State    string `json:"state"`
}

// StateChanged is the payload of a state_changed push.
type StateChanged struct {
	OrderID  string `json:"order_id"`
	OldState string `json:"old_state"`
	NewState string `json:"new_state"`
}

// DepthRow is one price level of the market depth view.
type DepthRow struct {
	Bid       string `json:"bid,omitempty"`
	BidVolume int64  `json:"bid_volume,omitempty"`
	Ask       string `json:"ask,omitempty"`
	AskVolume int64  `json:"ask_volume,omitempty"`
}
