package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	clientQueueSize = 64
	writeTimeout    = 10 * time.Second
	pongTimeout     = 60 * time.Second
	pingInterval    = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// The control-room dashboard is served from a different origin than
	// the host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one connected dashboard. Messages flow through a buffered
// send channel; a full channel drops the message rather than backing up
// into the dispatch loop.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	server *Server
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once

	wantSamples atomic.Bool
	wantQC      atomic.Bool
}

// subscribeRequest is the client-to-server control message.
type subscribeRequest struct {
	Method string `json:"method"`
	ID     any    `json:"id,omitempty"`
}

type subscribeReply struct {
	Result string `json:"result"`
	ID     any    `json:"id,omitempty"`
}

// handleWebSocket upgrades the connection and runs the client's pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		sendCh: make(chan []byte, clientQueueSize),
		done:   make(chan struct{}),
	}

	s.clientMu.Lock()
	s.clients[c.id] = c
	n := len(s.clients)
	s.clientMu.Unlock()
	if s.hm != nil {
		s.hm.MonitorClients.Set(nil, float64(n))
	}
	logger.WithField("client", c.id).Info("monitor client connected")

	go c.writePump()
	c.readPump()
}

func (c *wsClient) wants(kind eventKind) bool {
	switch kind {
	case eventSample:
		return c.wantSamples.Load()
	case eventCycle:
		return c.wantQC.Load()
	case eventState:
		// State transitions go to everyone.
		return true
	}
	return false
}

// send enqueues a message, dropping it if this client is stalled.
func (c *wsClient) send(msg []byte) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		if c.server.hm != nil {
			c.server.hm.MessagesDropped.Inc(nil)
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump consumes subscribe messages until the connection drops.
func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).WithField("client", c.id).Debug("websocket read error")
			}
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		switch req.Method {
		case "subscribe_samples":
			c.wantSamples.Store(true)
		case "subscribe_qc":
			c.wantQC.Store(true)
		case "unsubscribe_samples":
			c.wantSamples.Store(false)
		case "unsubscribe_qc":
			c.wantQC.Store(false)
		default:
			continue
		}
		if reply, err := json.Marshal(subscribeReply{Result: "ok", ID: req.ID}); err == nil {
			c.send(reply)
		}
	}
}

// writePump drains the send channel onto the wire with deadlines, and
// pings to detect dead peers.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.WithField("client", c.id).Debug("websocket write failed, dropping client")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// removeClient drops a departed client from the roster.
func (s *Server) removeClient(c *wsClient) {
	s.clientMu.Lock()
	delete(s.clients, c.id)
	n := len(s.clients)
	s.clientMu.Unlock()
	if s.hm != nil {
		s.hm.MonitorClients.Set(nil, float64(n))
	}
	logger.WithField("client", c.id).Info("monitor client disconnected")
}
