package devbackend

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/realtime"
	"github.com/cuemby/swms/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	hubHandshakeTimeout = 10 * time.Second
	hubWriteTimeout     = 5 * time.Second
)

var errUnsupportedProtocol = errors.New("unsupported hub protocol")

type hubConn struct {
	userID  int64
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (hc *hubConn) write(record []byte) error {
	hc.writeMu.Lock()
	defer hc.writeMu.Unlock()

	if err := hc.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout)); err != nil {
		return err
	}
	return hc.conn.WriteMessage(websocket.TextMessage, record)
}

// Hub serves the notification hub endpoint and fans pushes out to every
// connection of a user
type Hub struct {
	server   *Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu    sync.Mutex
	conns map[int64]map[*hubConn]struct{}
}

func newHub(s *Server) *Hub {
	return &Hub{
		server: s,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: hubHandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		logger: log.WithComponent("hub"),
		conns:  make(map[int64]map[*hubConn]struct{}),
	}
}

// ServeHTTP authenticates the access_token query parameter, upgrades the
// connection and completes the protocol handshake
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := h.server.VerifyToken(r.URL.Query().Get("access_token"))
	if err != nil {
		h.logger.Debug().Err(err).Msg("Rejected hub connection")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID, err := strconv.ParseInt(claims.NameID, 10, 64)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	hc := &hubConn{userID: userID, conn: conn}

	if err := h.handshake(hc); err != nil {
		h.logger.Debug().Err(err).Int64("user_id", userID).Msg("Hub handshake failed")
		_ = conn.Close()
		return
	}

	h.register(hc)
	defer h.unregister(hc)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, record := range realtime.SplitRecords(frame) {
			var msg realtime.HubMessage
			if err := json.Unmarshal(record, &msg); err != nil {
				continue
			}
			if msg.Type == realtime.MessageClose {
				return
			}
		}
	}
}

func (h *Hub) handshake(hc *hubConn) error {
	if err := hc.conn.SetReadDeadline(time.Now().Add(hubHandshakeTimeout)); err != nil {
		return err
	}
	_, frame, err := hc.conn.ReadMessage()
	if err != nil {
		return err
	}
	if err := hc.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	var req realtime.HandshakeRequest
	records := realtime.SplitRecords(frame)
	if len(records) == 0 || json.Unmarshal(records[0], &req) != nil || req.Protocol != "json" {
		record, _ := realtime.EncodeRecord(realtime.HandshakeResponse{Error: "Requested protocol is not supported"})
		_ = hc.write(record)
		return errUnsupportedProtocol
	}

	record, err := realtime.EncodeRecord(realtime.HandshakeResponse{})
	if err != nil {
		return err
	}
	return hc.write(record)
}

// Send delivers a notification to every connection of a user
func (h *Hub) Send(userID int64, n types.Notification) {
	msg, err := realtime.NewInvocation(realtime.ReceiveNotification, n)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode notification")
		return
	}
	record, err := realtime.EncodeRecord(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode notification")
		return
	}

	for _, hc := range h.connections(userID) {
		if err := hc.write(record); err != nil {
			h.logger.Debug().Err(err).Int64("user_id", userID).Msg("Dropping hub connection after failed write")
			h.unregister(hc)
		}
	}
}

// ConnectionCount returns the number of open connections of a user
func (h *Hub) ConnectionCount(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

// DropAll closes every connection without a close message, as a network
// failure would
func (h *Hub) DropAll() {
	h.mu.Lock()
	all := h.conns
	h.conns = make(map[int64]map[*hubConn]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for hc := range set {
			_ = hc.conn.Close()
		}
	}
}

// disconnectUser ends a user's sessions with a close message that forbids
// reconnecting
func (h *Hub) disconnectUser(userID int64) {
	record, _ := realtime.EncodeRecord(realtime.HubMessage{Type: realtime.MessageClose, Error: "Session ended"})
	for _, hc := range h.connections(userID) {
		_ = hc.write(record)
		h.unregister(hc)
	}
}

func (h *Hub) connections(userID int64) []*hubConn {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := make([]*hubConn, 0, len(h.conns[userID]))
	for hc := range h.conns[userID] {
		list = append(list, hc)
	}
	return list
}

func (h *Hub) register(hc *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[hc.userID] == nil {
		h.conns[hc.userID] = make(map[*hubConn]struct{})
	}
	h.conns[hc.userID][hc] = struct{}{}
	h.logger.Debug().Int64("user_id", hc.userID).Msg("Hub client connected")
}

func (h *Hub) unregister(hc *hubConn) {
	h.mu.Lock()
	if set, ok := h.conns[hc.userID]; ok {
		delete(set, hc)
		if len(set) == 0 {
			delete(h.conns, hc.userID)
		}
	}
	h.mu.Unlock()
	_ = hc.conn.Close()
}
