// Package client is the session library for the exchange protocol. It
// correlates requests with responses by message_id, mirrors
// server-confirmed order state locally, and surfaces pushed events
// through callbacks.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/protocol"
)

// ErrClosed is returned for requests on a closed client.
var ErrClosed = errors.New("client closed")

// Options configures a client session.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// ClientID reattaches to an earlier session's orders. Empty lets
	// the server assign one.
	ClientID string
	// OnFill is invoked for every pushed fill event. Optional.
	OnFill func(protocol.FillEvent)
	// OnStateChanged is invoked for every pushed state change. Optional.
	OnStateChanged func(protocol.StateChanged)
}

// Client is one connected session.
type Client struct {
	conn     *websocket.Conn
	clientID string

	onFill         func(protocol.FillEvent)
	onStateChanged func(protocol.StateChanged)

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Response
	orders  map[string]core.View
	closed  bool

	done chan struct{}
}

// Dial connects and waits for the server's session push.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	url := opts.URL
	if opts.ClientID != "" {
		url += "?client_id=" + opts.ClientID
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", opts.URL, err)
	}

	var hello protocol.Response
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading session push: %w", err)
	}
	if hello.Type != protocol.TypeSession {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message type %q", hello.Type)
	}
	var session protocol.Session
	if err := json.Unmarshal(hello.Payload, &session); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decoding session push: %w", err)
	}

	c := &Client{
		conn:           conn,
		clientID:       session.ClientID,
		onFill:         opts.OnFill,
		onStateChanged: opts.OnStateChanged,
		pending:        make(map[string]chan protocol.Response),
		orders:         make(map[string]core.View),
		done:           make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// ClientID returns the session's identity, server-assigned if none was
// requested.
func (c *Client) ClientID() string { return c.clientID }

// Close ends the session. Open orders stay live on the server.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		close(c.done)
		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.closed = true
		c.mu.Unlock()
	}()

	for {
		var resp protocol.Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			return
		}
		if resp.MessageID != "" {
			c.deliver(resp)
			continue
		}
		c.handlePush(resp)
	}
}

func (c *Client) deliver(resp protocol.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.MessageID]
	if ok {
		delete(c.pending, resp.MessageID)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *Client) handlePush(resp protocol.Response) {
	switch resp.Type {
	case protocol.TypeFillEvent:
		var ev protocol.FillEvent
		if err := json.Unmarshal(resp.Payload, &ev); err != nil {
			return
		}
		c.mu.Lock()
		if view, ok := c.orders[ev.OrderID]; ok {
			view.Filled += ev.Quantity
			view.State = ev.State
			c.orders[ev.OrderID] = view
		}
		c.mu.Unlock()
		if c.onFill != nil {
			c.onFill(ev)
		}
	case protocol.TypeStateChanged:
		var ev protocol.StateChanged
		if err := json.Unmarshal(resp.Payload, &ev); err != nil {
			return
		}
		c.mu.Lock()
		if view, ok := c.orders[ev.OrderID]; ok {
			view.State = ev.NewState
			c.orders[ev.OrderID] = view
		}
		c.mu.Unlock()
		if c.onStateChanged != nil {
			c.onStateChanged(ev)
		}
	}
}

func (c *Client) do(ctx context.Context, msgType string, payload interface{}) (protocol.Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("encoding request: %w", err)
	}
	messageID := uuid.NewString()
	ch := make(chan protocol.Response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.Response{}, ErrClosed
	}
	c.pending[messageID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(protocol.Request{
		Type:      msgType,
		MessageID: messageID,
		Payload:   raw,
	})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, messageID)
		c.mu.Unlock()
		return protocol.Response{}, fmt.Errorf("sending request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return protocol.Response{}, ErrClosed
		}
		return resp, nil
	case <-c.done:
		return protocol.Response{}, ErrClosed
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, messageID)
		c.mu.Unlock()
		return protocol.Response{}, ctx.Err()
	}
}

func (c *Client) doOrder(ctx context.Context, msgType string, payload interface{}) (core.View, error) {
	resp, err := c.do(ctx, msgType, payload)
	if err != nil {
		return core.View{}, err
	}
	if !resp.OK {
		return core.View{}, errorFromCode(resp.Error)
	}
	var view core.View
	if err := json.Unmarshal(resp.Payload, &view); err != nil {
		return core.View{}, fmt.Errorf("decoding order view: %w", err)
	}
	c.mu.Lock()
	c.orders[view.OrderID] = view
	c.mu.Unlock()
	return view, nil
}

// CreateOrder submits a new order and mirrors the confirmed view.
func (c *Client) CreateOrder(ctx context.Context, req protocol.CreateOrder) (core.View, error) {
	return c.doOrder(ctx, protocol.TypeCreateOrder, req)
}

// ReviseOrder changes an open order.
func (c *Client) ReviseOrder(ctx context.Context, req protocol.ReviseOrder) (core.View, error) {
	return c.doOrder(ctx, protocol.TypeReviseOrder, req)
}

// CancelOrder cancels an open order; cancelling a terminal order is a
// no-op success.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (core.View, error) {
	return c.doOrder(ctx, protocol.TypeCancelOrder, protocol.CancelOrder{OrderID: orderID})
}

// OrderStatus fetches the server's view of one order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (core.View, error) {
	return c.doOrder(ctx, protocol.TypeStatus, protocol.StatusRequest{OrderID: orderID})
}

// Status fetches the session snapshot: pending and completed orders.
func (c *Client) Status(ctx context.Context) (protocol.StatusSnapshot, error) {
	resp, err := c.do(ctx, protocol.TypeStatus, protocol.StatusRequest{})
	if err != nil {
		return protocol.StatusSnapshot{}, err
	}
	if !resp.OK {
		return protocol.StatusSnapshot{}, errorFromCode(resp.Error)
	}
	var snapshot protocol.StatusSnapshot
	if err := json.Unmarshal(resp.Payload, &snapshot); err != nil {
		return protocol.StatusSnapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}

	c.mu.Lock()
	for _, view := range snapshot.Pending {
		c.orders[view.OrderID] = view
	}
	for _, view := range snapshot.Completed {
		c.orders[view.OrderID] = view
	}
	c.mu.Unlock()
	return snapshot, nil
}

// Order returns the locally mirrored view of one order.
func (c *Client) Order(orderID string) (core.View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	view, ok := c.orders[orderID]
	return view, ok
}

// Orders returns all locally mirrored orders.
func (c *Client) Orders() []core.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.View, 0, len(c.orders))
	for _, view := range c.orders {
		out = append(out, view)
	}
	return out
}

// errorFromCode maps protocol error strings back to core sentinels so
// callers can errors.Is against them.
func errorFromCode(code string) error {
	switch code {
	case protocol.ErrCodeInvalidOrder:
		return core.ErrInvalidOrder
	case protocol.ErrCodeInvalidQuantity:
		return core.ErrInvalidQuantity
	case protocol.ErrCodeInvalidPrice:
		return core.ErrInvalidPrice
	case protocol.ErrCodeInvalidSliceSize:
		return core.ErrInvalidSliceSize
	case protocol.ErrCodeOrderNotFound:
		return core.ErrOrderNotFound
	case protocol.ErrCodeInvalidState:
		return core.ErrInvalidState
	case protocol.ErrCodeInvalidRevision:
		return core.ErrInvalidRevision
	case protocol.ErrCodeNoLiquidity:
		return core.ErrNoLiquidity
	default:
		return fmt.Errorf("server error: %s", code)
	}
}
