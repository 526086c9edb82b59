package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"draftwire/pkg/logger"
	"draftwire/pkg/models"
	"draftwire/pkg/protocol"
	"draftwire/pkg/telemetry"
	"draftwire/pkg/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// updatesHandler is the transport endpoint: it upgrades to a websocket,
// claims the user's relay slot, and pumps packets in both directions until
// the connection dies.
func (s *server) updatesHandler(w http.ResponseWriter, r *http.Request) {
	user := models.UserID(mux.Vars(r)["user"])
	if user == "" {
		utils.JSONError(w, http.StatusBadRequest, "user missing")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(s.opts.AllowedOrigins),
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "user", user, "error", err)
		return
	}

	out, err := s.opts.Relay.Register(user)
	if err != nil {
		logger.Warn("ws_register_rejected", "user", user, "error", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already registered")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go s.writePump(conn, out, user)
	s.readPump(conn, user)
}

// readPump drains inbound frames into the relay queue until the connection
// closes, then releases the user's slot.
func (s *server) readPump(conn *websocket.Conn, user models.UserID) {
	defer func() {
		s.opts.Relay.Deregister(user)
		s.opts.Limiter.Forget(user)
		_ = conn.Close()
	}()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("ws_read_failed", "user", user, "error", err)
			}
			return
		}
		if !s.opts.Limiter.Allow(user) {
			telemetry.PacketsDropped.WithLabelValues("rate_limited").Inc()
			logger.Warn("packet_rate_limited", "user", user)
			continue
		}
		if err := s.opts.Relay.Submit(user, data); err != nil {
			logger.Warn("packet_rejected", "user", user, "error", err)
		}
	}
}

// writePump forwards relay deliveries to the connection and keeps it alive
// with pings. It exits when the relay closes the channel (deregister) or a
// write fails.
func (s *server) writePump(conn *websocket.Conn, out <-chan protocol.Envelope, user models.UserID) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case env, ok := <-out:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			data, err := protocol.Encode(env)
			if err != nil {
				logger.Error("packet_encode_failed", "user", user, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Warn("ws_write_failed", "user", user, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil // gorilla default: same-origin only
	}
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		_, ok := allowed[origin]
		return ok
	}
}
