package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/dancegen/api/internal/model"
	"github.com/dancegen/api/internal/registry"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
)

// Client represents a WebSocket subscriber of one job
type Client struct {
	JobID  string
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func newClient(jobID string, conn *websocket.Conn) *Client {
	return &Client{
		JobID: jobID,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
	}
}

// enqueue queues a message without blocking. It reports false when the
// client is closed or its buffer is full.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub maintains active WebSocket connections and fans out job events to them.
// It is registered as a registry sink.
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	logger *zap.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID    string
	Messages [][]byte
	Close    bool
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for client := range clients {
					client.close()
				}
			}
			h.clients = nil
			return

		case client := <-h.register:
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.logger.Debug("websocket client registered", zap.String("job_id", client.JobID))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("websocket client unregistered", zap.String("job_id", client.JobID))

		case msg := <-h.broadcast:
			for client := range h.clients[msg.JobID] {
				for _, m := range msg.Messages {
					if !client.enqueue(m) {
						h.remove(client)
						break
					}
				}
				if msg.Close {
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		client.close()
		if len(clients) == 0 {
			delete(h.clients, client.JobID)
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish implements registry.Sink. It never blocks; events are dropped when
// the broadcast queue is full.
func (h *Hub) Publish(ev registry.Event) {
	msg := &BroadcastMessage{
		JobID:    ev.Job.ID,
		Messages: Messages(ev.Job, ev.Deleted),
		Close:    ev.Deleted || ev.Job.Status.IsTerminal(),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping event", zap.String("job_id", ev.Job.ID))
	}
}

// Messages renders the WebSocket messages describing a job snapshot.
func Messages(job model.Job, deleted bool) [][]byte {
	if deleted {
		return [][]byte{marshal(model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: job.ID,
			Error: model.WSError{Code: "JOB_REMOVED", Message: "Job was cleaned up"},
		})}
	}

	out := [][]byte{marshal(model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		JobID:    job.ID,
		Progress: job.Progress,
		Status:   job.Status,
		Message:  job.Message,
	})}

	switch job.Status {
	case model.JobStatusCompleted:
		out = append(out, marshal(model.WSCompleteMessage{
			Type:   model.WSMessageTypeComplete,
			JobID:  job.ID,
			Result: job.Result,
		}))
	case model.JobStatusFailed:
		msg := job.Message
		if job.Error != nil {
			msg = *job.Error
		}
		out = append(out, marshal(model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			JobID: job.ID,
			Error: model.WSError{Code: "GENERATION_FAILED", Message: msg},
		}))
	}
	return out
}

func marshal(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

// HandleConnection serves one WebSocket connection. snapshot is called after
// the client is registered so no event between the two is missed.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, snapshot func() (model.Job, error)) {
	client := newClient(jobID, c)
	if !h.Register(client) {
		return
	}

	if job, err := snapshot(); err == nil {
		for _, m := range Messages(job, false) {
			client.enqueue(m)
		}
		if job.Status.IsTerminal() {
			h.Unregister(client)
		}
	}

	// Start writer goroutine
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					c.Close()
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", zap.String("job_id", jobID), zap.Error(err))
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			client.enqueue(marshal(model.WSMessage{Type: model.WSMessageTypePong}))
		}
	}

	h.Unregister(client)
	client.close()
	<-writerDone
}
