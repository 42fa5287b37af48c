package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/nikolaydubina/fpdecimal"
	"golang.org/x/time/rate"

	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/exchange"
	"github.com/openexch/simex/pkg/logging"
	"github.com/openexch/simex/pkg/protocol"
)

var errQueueFull = errors.New("session outbound queue full")

// session is one connected client. Requests are read and processed in
// submission order; responses and pushed events leave through a single
// bounded outbound queue so per-order event ordering is preserved.
type session struct {
	ex       *exchange.Exchange
	conn     *websocket.Conn
	clientID string
	limiter  *rate.Limiter

	out  chan protocol.Response
	done chan struct{}

	dedupMu    sync.Mutex
	dedup      map[string]protocol.Response
	dedupOrder []string
	dedupSize  int

	droppedEvents atomic.Uint64
}

func newSession(ex *exchange.Exchange, conn *websocket.Conn, clientID string, limiter *rate.Limiter, queueSize, dedupSize int) *session {
	return &session{
		ex:        ex,
		conn:      conn,
		clientID:  clientID,
		limiter:   limiter,
		out:       make(chan protocol.Response, queueSize),
		done:      make(chan struct{}),
		dedup:     make(map[string]protocol.Response),
		dedupSize: dedupSize,
	}
}

// run reads requests until the connection drops. Open orders survive
// the session; only the event subscription ends with it.
func (s *session) run(ctx context.Context) {
	unsubscribe := s.ex.Subscribe(s.clientID, s)
	defer func() {
		unsubscribe()
		close(s.done)
		s.conn.Close()
	}()

	go s.writeLoop()

	s.send(pushResponse(protocol.TypeSession, protocol.Session{ClientID: s.clientID}))

	logger := logging.FromContext(ctx)
	for {
		var req protocol.Request
		if err := s.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Session read failed")
			}
			return
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}
		if !s.send(s.handle(ctx, req)) {
			return
		}
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case resp := <-s.out:
			if err := s.conn.WriteJSON(resp); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// send enqueues a request response, blocking until there is queue
// space. Reports false once the session is gone.
func (s *session) send(resp protocol.Response) bool {
	select {
	case s.out <- resp:
		return true
	case <-s.done:
		return false
	}
}

// OnFill implements exchange.Listener. Events never block the engine:
// a full queue drops the event and reports saturation upstream.
func (s *session) OnFill(ev exchange.FillEvent) error {
	return s.push(pushResponse(protocol.TypeFillEvent, protocol.FillEvent{
		OrderID:  ev.OrderID,
		Quantity: ev.Quantity,
		Price:    ev.Price.String(),
		Seq:      ev.Seq,
		Role:     string(ev.Role),
		State:    ev.State.String(),
	}))
}

// OnStateChanged implements exchange.Listener.
func (s *session) OnStateChanged(ev exchange.StateChangedEvent) error {
	return s.push(pushResponse(protocol.TypeStateChanged, protocol.StateChanged{
		OrderID:  ev.OrderID,
		OldState: ev.OldState.String(),
		NewState: ev.NewState.String(),
	}))
}

func (s *session) push(resp protocol.Response) error {
	select {
	case <-s.done:
		return nil
	case s.out <- resp:
		return nil
	default:
		s.droppedEvents.Add(1)
		return errQueueFull
	}
}

// handle dispatches one request. A repeated message_id replays the
// cached original result instead of re-executing.
func (s *session) handle(ctx context.Context, req protocol.Request) protocol.Response {
	if req.MessageID == "" {
		return errorResponse("", protocol.ErrCodeBadRequest)
	}

	s.dedupMu.Lock()
	if cached, ok := s.dedup[req.MessageID]; ok {
		s.dedupMu.Unlock()
		return cached
	}
	s.dedupMu.Unlock()

	ctx = logging.WithRequestID(ctx, req.MessageID)

	var resp protocol.Response
	switch req.Type {
	case protocol.TypeCreateOrder:
		resp = s.handleCreate(ctx, req)
	case protocol.TypeReviseOrder:
		resp = s.handleRevise(ctx, req)
	case protocol.TypeCancelOrder:
		resp = s.handleCancel(ctx, req)
	case protocol.TypeStatus:
		resp = s.handleStatus(ctx, req)
	default:
		resp = errorResponse(req.MessageID, protocol.ErrCodeBadRequest)
	}

	s.cache(req.MessageID, resp)
	return resp
}

func (s *session) cache(messageID string, resp protocol.Response) {
	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return
	}
	s.dedup[messageID] = resp
	s.dedupOrder = append(s.dedupOrder, messageID)
	for len(s.dedupOrder) > s.dedupSize {
		delete(s.dedup, s.dedupOrder[0])
		s.dedupOrder = s.dedupOrder[1:]
	}
}

func (s *session) handleCreate(ctx context.Context, req protocol.Request) protocol.Response {
	var payload protocol.CreateOrder
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return errorResponse(req.MessageID, protocol.ErrCodeBadRequest)
	}

	side, ok := core.ParseSide(payload.Side)
	if !ok {
		return errorResponse(req.MessageID, protocol.ErrCodeInvalidOrder)
	}
	price := fpdecimal.Zero
	if payload.LimitPrice != "" {
		var err error
		price, err = fpdecimal.FromString(payload.LimitPrice)
		if err != nil {
			return errorResponse(req.MessageID, protocol.ErrCodeInvalidPrice)
		}
	}
	kind := core.KindSimple
	if payload.Kind != "" {
		kind = core.Kind(payload.Kind)
	}

	view, err := s.ex.CreateOrder(ctx, exchange.CreateRequest{
		ClientID:   s.clientID,
		Instrument: payload.Instrument,
		Side:       side,
		Kind:       kind,
		Quantity:   payload.Quantity,
		Price:      price,
		SliceSize:  payload.SliceSize,
	})
	if err != nil {
		return errorResponse(req.MessageID, errorCode(err))
	}
	return okResponse(req.MessageID, view)
}

func (s *session) handleRevise(ctx context.Context, req protocol.Request) protocol.Response {
	var payload protocol.ReviseOrder
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return errorResponse(req.MessageID, protocol.ErrCodeBadRequest)
	}

	price := fpdecimal.Zero
	if payload.NewLimitPrice != "" {
		var err error
		price, err = fpdecimal.FromString(payload.NewLimitPrice)
		if err != nil {
			return errorResponse(req.MessageID, protocol.ErrCodeInvalidPrice)
		}
	}

	view, err := s.ex.ReviseOrder(ctx, payload.OrderID, payload.NewQuantity, price, payload.NewSliceSize)
	if err != nil {
		return errorResponse(req.MessageID, errorCode(err))
	}
	return okResponse(req.MessageID, view)
}

func (s *session) handleCancel(ctx context.Context, req protocol.Request) protocol.Response {
	var payload protocol.CancelOrder
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return errorResponse(req.MessageID, protocol.ErrCodeBadRequest)
	}

	view, err := s.ex.CancelOrder(ctx, payload.OrderID)
	if err != nil {
		return errorResponse(req.MessageID, errorCode(err))
	}
	return okResponse(req.MessageID, view)
}

func (s *session) handleStatus(ctx context.Context, req protocol.Request) protocol.Response {
	var payload protocol.StatusRequest
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return errorResponse(req.MessageID, protocol.ErrCodeBadRequest)
		}
	}

	if payload.OrderID != "" {
		view, err := s.ex.OrderStatus(ctx, payload.OrderID)
		if err != nil {
			return errorResponse(req.MessageID, errorCode(err))
		}
		return okResponse(req.MessageID, view)
	}

	pending, completed, err := s.ex.Status(ctx, s.clientID)
	if err != nil {
		return errorResponse(req.MessageID, errorCode(err))
	}
	return okResponse(req.MessageID, protocol.StatusSnapshot{Pending: pending, Completed: completed})
}

func okResponse(messageID string, payload interface{}) protocol.Response {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errorResponse(messageID, protocol.ErrCodeInternal)
	}
	return protocol.Response{
		Type:      "response",
		MessageID: messageID,
		OK:        true,
		Payload:   raw,
	}
}

func errorResponse(messageID, code string) protocol.Response {
	return protocol.Response{
		Type:      "response",
		MessageID: messageID,
		OK:        false,
		Error:     code,
	}
}

func pushResponse(msgType string, payload interface{}) protocol.Response {
	raw, _ := json.Marshal(payload)
	return protocol.Response{
		Type:    msgType,
		OK:      true,
		Payload: raw,
	}
}
