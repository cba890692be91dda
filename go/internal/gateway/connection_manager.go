package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages WebSocket connections grouped by committee.
type ConnectionManager struct {
	committees map[string]map[*Connection]bool
	versions   map[string]int64 // last broadcast version per document key
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock

	broadcastCh chan BroadcastMessage
}

// Connection is one WebSocket client following a committee.
type Connection struct {
	ID          string
	Actor       string
	CommitteeID string
	Conn        *websocket.Conn
	Send        chan []byte
	Manager     *ConnectionManager

	ConnectedAt time.Time
}

type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is a message queued for every connection on a committee.
type BroadcastMessage struct {
	CommitteeID string
	Message     *Message
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock) *ConnectionManager {
	return &ConnectionManager{
		committees: make(map[string]map[*Connection]bool),
		versions:   make(map[string]int64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		clock:       clock,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcasts until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades the request and registers the connection. The
// initial frames are queued before the pumps start so they are sent first.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, actor, committeeID string, initial ...*Message) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Actor:       actor,
		CommitteeID: committeeID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize+len(initial)),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
	}

	cm.registerConnection(connection)
	for _, m := range initial {
		cm.sendTo(connection, m)
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("actor", actor).
		Str("committee_id", committeeID).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.committees[conn.CommitteeID] == nil {
		cm.committees[conn.CommitteeID] = make(map[*Connection]bool)
	}
	cm.committees[conn.CommitteeID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("committee_id", conn.CommitteeID).
		Int("total_connections", len(cm.committees[conn.CommitteeID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, ok := cm.committees[conn.CommitteeID]
	if !ok {
		return
	}
	if _, ok := connections[conn]; !ok {
		return
	}
	delete(connections, conn)
	close(conn.Send)
	if len(connections) == 0 {
		delete(cm.committees, conn.CommitteeID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("actor", conn.Actor).
		Str("committee_id", conn.CommitteeID).
		Msg("connection unregistered")
}

// BroadcastToCommittee queues a message for every connection on committeeID.
func (cm *ConnectionManager) BroadcastToCommittee(committeeID string, message *Message) {
	select {
	case cm.broadcastCh <- BroadcastMessage{CommitteeID: committeeID, Message: message}:
	default:
		log.Warn().Str("committee_id", committeeID).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(bm BroadcastMessage) {
	m := bm.Message
	if m.DocumentKey != "" && m.Version > 0 {
		cm.mu.Lock()
		stale := m.Version <= cm.versions[m.DocumentKey]
		if !stale {
			cm.versions[m.DocumentKey] = m.Version
		}
		cm.mu.Unlock()
		if stale {
			log.Debug().
				Str("document", m.DocumentKey).
				Int64("version", m.Version).
				Msg("dropping stale change")
			return
		}
	}

	m.ServerTimeMs = cm.clock.Now().UnixMilli()
	data, err := json.Marshal(m)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	connections := cm.committees[bm.CommitteeID]
	for conn := range connections {
		select {
		case conn.Send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	sent := len(connections) - len(slow)
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("actor", conn.Actor).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("type", string(m.Type)).
		Str("committee_id", bm.CommitteeID).
		Int("connections", sent).
		Msg("message broadcasted")
}

// sendTo queues a message for a single connection if it is still registered.
func (cm *ConnectionManager) sendTo(conn *Connection, m *Message) bool {
	m.ServerTimeMs = cm.clock.Now().UnixMilli()
	data, err := json.Marshal(m)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message")
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.committees[conn.CommitteeID][conn] {
		return false
	}
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

// Stats summarises open connections.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveCommittees int            `json:"active_committees"`
	Committees       map[string]int `json:"committee_connections"`
}

func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{Committees: make(map[string]int)}
	for id, connections := range cm.committees {
		stats.TotalConnections += len(connections)
		stats.Committees[id] = len(connections)
	}
	stats.ActiveCommittees = len(cm.committees)
	return stats
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage answers time requests; anything else is logged and
// ignored.
func (c *Connection) handleClientMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Type != "time" {
		log.Debug().
			Str("connection_id", c.ID).
			Bytes("message", message).
			Msg("ignoring client message")
		return
	}
	c.Manager.sendTo(c, &Message{
		Type:         MessageServerTime,
		CommitteeID:  c.CommitteeID,
		ClientTimeMs: msg.ClientTimeMs,
	})
}
