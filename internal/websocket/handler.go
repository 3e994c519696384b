package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"soundscape/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from a separately hosted frontend.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// EventSink consumes connection lifecycle and inbound events in accepted
// order. Implemented by the hub.
type EventSink interface {
	Register(peer Peer) error
	Unregister(peer Peer) error
	Dispatch(peer Peer, env *types.Envelope) error
}

// HandlerConfig carries the websocket tuning knobs.
type HandlerConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// Handler upgrades HTTP requests, establishes client identity from the
// handshake query, and pumps inbound frames into the sink.
type Handler struct {
	sink   EventSink
	cfg    HandlerConfig
	logger *logrus.Logger
}

func NewHandler(sink EventSink, cfg HandlerConfig, logger *logrus.Logger) *Handler {
	return &Handler{sink: sink, cfg: cfg, logger: logger}
}

// HandleWebSocket handles a connection request. Identity comes from the
// userId/username query parameters; a missing or malformed userId is
// rejected before the upgrade.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	username := r.URL.Query().Get("username")

	if userID == "" {
		http.Error(w, "Missing required query parameter: userId", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid userId format", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn, userID, username, h.cfg.SendBuffer, h.cfg.WriteTimeout)

	if err := h.sink.Register(wsConn); err != nil {
		h.logger.WithFields(logrus.Fields{
			"user_id": userID,
		}).WithError(err).Warn("connection registration rejected")
		_ = wsConn.Close()
		return
	}

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump and heartbeat for one connection.
// Disconnect cleanup passes the connection itself through the sink: when
// the user reconnected and this connection was replaced, the late cleanup
// of the old read pump must leave the new registration untouched.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		_ = h.sink.Unregister(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.WithField("user_id", conn.UserID()).WithError(err).Warn("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed frames are reported to the sender only.
			_ = conn.WriteEvent(types.EventError, types.ErrorPayload{
				Kind:    string(types.KindValidation),
				Message: "malformed event frame",
			})
			continue
		}

		if err := h.sink.Dispatch(conn, &env); err != nil {
			h.logger.WithFields(logrus.Fields{
				"user_id": conn.UserID(),
				"event":   env.Event,
			}).WithError(err).Warn("event dispatch failed")
			_ = conn.WriteEvent(types.EventError, types.ErrorPayload{
				Kind:    string(types.KindInternal),
				Message: "event could not be processed",
			})
		}
	}
}
