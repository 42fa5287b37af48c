// Package server exposes the exchange over a websocket session
// protocol plus a read-only market depth HTTP view.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/exchange"
	"github.com/openexch/simex/pkg/logging"
	"github.com/openexch/simex/pkg/protocol"
)

// Config tunes per-session behavior.
type Config struct {
	// RateLimit is the sustained request rate allowed per session,
	// in requests per second. Zero means no limit.
	RateLimit float64
	// RateBurst is the per-session burst allowance.
	RateBurst int
	// QueueSize bounds the per-session outbound event queue.
	QueueSize int
	// DedupSize bounds the per-session message_id replay cache.
	DedupSize int
}

// DefaultConfig returns the default session tuning.
func DefaultConfig() Config {
	return Config{
		RateLimit: 200,
		RateBurst: 50,
		QueueSize: 256,
		DedupSize: 1024,
	}
}

// Server terminates client sessions and routes their requests into the
// exchange.
type Server struct {
	exchange *exchange.Exchange
	cfg      Config
	upgrader websocket.Upgrader
}

// NewServer creates a Server over an exchange.
func NewServer(ex *exchange.Exchange, cfg Config) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = DefaultConfig().DedupSize
	}
	return &Server{
		exchange: ex,
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Handler returns the HTTP routes: /ws for sessions, /depth for the
// market depth view.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleSession)
	mux.HandleFunc("/depth", s.handleDepth)
	return logging.HTTPMiddleware(mux)
}

// handleSession upgrades the connection and runs the session until the
// client disconnects. Disconnecting leaves the client's open orders
// live; reconnecting with the same client_id reattaches to them.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	ctx := logging.WithClientID(r.Context(), clientID)
	logger := logging.FromContext(ctx)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	var limiter *rate.Limiter
	if s.cfg.RateLimit > 0 {
		burst := s.cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)
	}

	sess := newSession(s.exchange, conn, clientID, limiter, s.cfg.QueueSize, s.cfg.DedupSize)
	logger.Info().Msg("Session connected")
	sess.run(ctx)
	logger.Info().Uint64("dropped_events", sess.droppedEvents.Load()).Msg("Session disconnected")
}

// handleDepth serves the aggregated book depth for one instrument.
func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		http.Error(w, "instrument is required", http.StatusBadRequest)
		return
	}

	depth := s.exchange.Depth(instrument)
	rows := make([]protocol.DepthRow, len(depth))
	for i, level := range depth {
		rows[i] = protocol.DepthRow{
			Bid:       level.Bid,
			BidVolume: level.BidVolume,
			Ask:       level.Ask,
			AskVolume: level.AskVolume,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg("Failed to write depth response")
	}
}

// errorCode maps core errors to protocol error strings.
func errorCode(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidOrder):
		return protocol.ErrCodeInvalidOrder
	case errors.Is(err, core.ErrInvalidQuantity):
		return protocol.ErrCodeInvalidQuantity
	case errors.Is(err, core.ErrInvalidPrice):
		return protocol.ErrCodeInvalidPrice
	case errors.Is(err, core.ErrInvalidSliceSize):
		return protocol.ErrCodeInvalidSliceSize
	case errors.Is(err, core.ErrOrderNotFound):
		return protocol.ErrCodeOrderNotFound
	case errors.Is(err, core.ErrInvalidState):
		return protocol.ErrCodeInvalidState
	case errors.Is(err, core.ErrInvalidRevision):
		return protocol.ErrCodeInvalidRevision
	case errors.Is(err, core.ErrNoLiquidity):
		return protocol.ErrCodeNoLiquidity
	default:
		return protocol.ErrCodeInternal
	}
}
