package messaging

import "context"

// FillSender publishes executed fills to an external stream. It keeps
// the core and exchange packages decoupled from the broker client.
type FillSender interface {
	SendFillMessage(ctx context.Context, msg *FillMessage) error
	Close() error
}

// FillMessage is the published form of one execution event.
type FillMessage struct {
	OrderID    string `json:"order_id"`
	ClientID   string `json:"client_id"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Quantity   int64  `json:"quantity"`
	Price      string `json:"price"`
	Seq        uint64 `json:"sequence_number"`
	Role       string `json:"role"`
	State      string `json:"state"`
}
