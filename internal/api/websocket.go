package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"recplay/internal/protocol"
	"recplay/internal/session"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is bearer-token protected; browsers are not the intended client.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSManager relays session events to connected WebSocket clients and
// executes commands they send.
type WSManager struct {
	server     *Server
	clients    map[*WebSocketClient]bool
	clientsMu  sync.Mutex
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	done       chan struct{}
}

// WebSocketClient represents a connected control client
type WebSocketClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string
	closed  bool // send is closed; guarded by the manager's clientsMu
}

func newWSManager(s *Server) *WSManager {
	return &WSManager{
		server:     s,
		clients:    make(map[*WebSocketClient]bool),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		done:       make(chan struct{}),
	}
}

// start runs the hub until ctx is done or the session bus closes.
func (m *WSManager) start(ctx context.Context) {
	events, unsubscribe := m.server.session.Events().Subscribe(sendBuffer)
	defer unsubscribe()
	defer close(m.done)
	defer m.closeAll()

	logger := m.server.logger
	for {
		select {
		case client := <-m.register:
			m.clientsMu.Lock()
			m.clients[client] = true
			n := len(m.clients)
			m.clientsMu.Unlock()
			logger.Info("WebSocket client connected", "remote", client.ip, "clients", n)

		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				client.close()
				logger.Info("WebSocket client disconnected", "remote", client.ip, "clients", len(m.clients))
			}
			m.clientsMu.Unlock()

		case ev, ok := <-events:
			if !ok {
				return
			}
			m.broadcastEvent(ev)

		case <-ctx.Done():
			return
		}
	}
}

func (m *WSManager) broadcastEvent(ev session.Event) {
	msg, err := protocol.NewMessage(protocol.TypeEvent, ev)
	if err != nil {
		m.server.logger.Warn("Failed to encode event", "error", err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.server.logger.Warn("Failed to marshal broadcast message", "error", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	for client := range m.clients {
		select {
		case client.send <- data:
		default:
			// Too slow to keep up; drop it rather than stall the hub.
			client.close()
			delete(m.clients, client)
		}
	}
}

func (m *WSManager) closeAll() {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	for client := range m.clients {
		client.close()
		delete(m.clients, client)
	}
}

// close must be called with the manager's clientsMu held.
func (c *WebSocketClient) close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.server.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	client := &WebSocketClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		ip:      r.RemoteAddr,
	}

	select {
	case m.register <- client:
	case <-m.done:
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump pumps messages from the websocket connection to the hub.
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.server.logger.Debug("WebSocket read error", "remote", c.ip, "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	logger := c.manager.server.logger

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Debug("Invalid WebSocket message", "remote", c.ip, "error", err)
		return
	}
	if msg.Type != protocol.TypeCommand {
		logger.Debug("Ignoring WebSocket message", "remote", c.ip, "type", msg.Type)
		return
	}

	var cmd protocol.CommandPayload
	if err := msg.Decode(&cmd); err != nil {
		c.reply(protocol.ResultPayload{Error: &protocol.ErrorBody{Code: "E_BAD_REQUEST", Message: err.Error()}})
		return
	}
	logger.Info("WebSocket command", "remote", c.ip, "command", cmd.Command)
	c.reply(c.manager.server.execute(cmd))
}

// reply queues a result for the client. It never blocks the read pump.
func (c *WebSocketClient) reply(res protocol.ResultPayload) {
	msg, err := protocol.NewMessage(protocol.TypeResult, res)
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	c.manager.clientsMu.Lock()
	defer c.manager.clientsMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// execute runs a command received over the WebSocket.
func (s *Server) execute(cmd protocol.CommandPayload) protocol.ResultPayload {
	var (
		data any
		err  error
	)
	switch cmd.Command {
	case protocol.CommandStart:
		var id string
		if id, err = s.session.StartRecording(); err == nil {
			data = protocol.RecordingStarted{RunID: id}
		}
	case protocol.CommandStop:
		var body *protocol.RecordingStopped
		body, err = s.stopRecording()
		if body != nil {
			data = body
		}
	case protocol.CommandReplay:
		loops, speed := cmd.Loops, cmd.Speed
		defaults := s.configMgr.Get().Replay
		if loops == 0 {
			loops = defaults.Loops
		}
		if speed == 0 {
			speed = defaults.Speed
		}
		var body *protocol.ReplayStarted
		if body, err = s.startReplay(loops, speed); err == nil {
			data = body
		}
	case protocol.CommandCancel:
		if cmd.RunID == "" {
			s.session.Cancel(nil)
		} else if h, ok := s.session.Lookup(cmd.RunID); ok {
			s.session.Cancel(h)
		} else {
			return protocol.ResultPayload{ID: cmd.ID, Error: &protocol.ErrorBody{Code: "E_UNKNOWN_RUN", Message: "no replay run " + cmd.RunID}}
		}
	case protocol.CommandStatus:
		data = s.session.Status()
	default:
		return protocol.ResultPayload{ID: cmd.ID, Error: &protocol.ErrorBody{Code: "E_BAD_REQUEST", Message: "unknown command " + string(cmd.Command)}}
	}

	res := protocol.ResultPayload{ID: cmd.ID, OK: err == nil}
	if err != nil {
		body := errorBody(err)
		res.Error = &body
	}
	if data != nil {
		if raw, mErr := json.Marshal(data); mErr == nil {
			res.Data = raw
		}
	}
	return res
}
