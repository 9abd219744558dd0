// Package streaming provides the WebSocket job-output hub: the C9/C10
// "job output hub" side of the streaming responder, letting an operator
// tail a job's output entries or the fleet-wide event stream from a
// browser instead of only chat/webhook delivery.
package streaming

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ikido/fleetctl/internal/common/logger"
	"github.com/ikido/fleetctl/internal/events/bus"
)

// Client represents one WebSocket connection subscribed to zero or more
// job ids (an empty subscription set means "everything").
type Client struct {
	ID     string
	conn   *websocket.Conn
	jobIDs map[string]bool
	send   chan []byte
	hub    *Hub
	mu     sync.RWMutex
	logger *logger.Logger
}

// NewClient wraps an upgraded connection in a hub-managed Client.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		jobIDs: make(map[string]bool),
		send:   make(chan []byte, 256),
		hub:    hub,
		logger: log.WithFields(zap.String("client_id", id)),
	}
}

// Hub fans out job-output bus events to subscribed WebSocket clients.
type Hub struct {
	clients    map[*Client]bool
	jobClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu     sync.RWMutex
	logger *logger.Logger
}

type broadcastMessage struct {
	JobID string
	Event *bus.Event
}

// NewHub creates a job-output hub. Call Run in its own goroutine.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		jobClients: make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		logger:     log.WithFields(zap.String("component", "job_output_hub")),
	}
}

// Run drives the hub's registration/broadcast loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("job output hub started")
	defer h.logger.Info("job output hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*Client]bool)
			h.jobClients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				for jobID := range c.jobIDs {
					if set, ok := h.jobClients[jobID]; ok {
						delete(set, c)
						if len(set) == 0 {
							delete(h.jobClients, jobID)
						}
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg.Event)
			if err != nil {
				h.logger.Error("marshal broadcast event failed", zap.Error(err))
				continue
			}
			h.mu.RLock()
			recipients := make([]*Client, 0)
			for c := range h.clients {
				c.mu.RLock()
				wantsAll := len(c.jobIDs) == 0
				wantsJob := c.jobIDs[msg.JobID]
				c.mu.RUnlock()
				if wantsAll || wantsJob {
					recipients = append(recipients, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range recipients {
				select {
				case c.send <- data:
				default:
					h.Unregister(c)
				}
			}
		}
	}
}

// Register admits client into the hub.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister evicts client from the hub.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// Broadcast fans evt out to every client subscribed to jobID (or to every
// client with no subscription filter). jobID may be "" for fleet-wide
// events that aren't scoped to one job.
func (h *Hub) Broadcast(jobID string, evt *bus.Event) {
	select {
	case h.broadcast <- &broadcastMessage{JobID: jobID, Event: evt}:
	default:
		h.logger.Warn("job output hub broadcast buffer full, dropping event")
	}
}

// Subscribe narrows c to only jobID's events.
func (c *Client) Subscribe(jobID string) {
	c.mu.Lock()
	c.jobIDs[jobID] = true
	c.mu.Unlock()
	c.hub.mu.Lock()
	if _, ok := c.hub.jobClients[jobID]; !ok {
		c.hub.jobClients[jobID] = make(map[*Client]bool)
	}
	c.hub.jobClients[jobID][c] = true
	c.hub.mu.Unlock()
}
