// Package sessions tracks open realtime connections and routes
// notifications to them over Server-Sent Events.
package sessions

import (
	"encoding/json"
	"net/http"
	"sync"

	"civicreport_backend/internal/notification/inapp"
	"civicreport_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventType labels the SSE frames a client can receive.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventNotification EventType = "notification"
)

// Event is one SSE frame.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// client is a single open connection. A user may hold several at once
// (multiple tabs, phone plus desktop); each gets every event.
//
// The events channel is never closed: Push may still hold a reference to
// a client detached by a concurrent disconnect, and a send on a closed
// channel would panic mid-fan-out. A detached client just stops being
// routed to and is collected with its channel.
type client struct {
	userID uuid.UUID
	events chan Event
	done   chan struct{}
	stop   sync.Once
}

func newClient(userID uuid.UUID, buffer int) *client {
	return &client{
		userID: userID,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

func (c *client) shutdown() {
	c.stop.Do(func() { close(c.done) })
}

// Registry manages live connections per user. Delivery is best-effort: a
// client whose buffer is full misses the frame and recovers the backlog
// from the unread list on its next fetch.
type Registry struct {
	mu      sync.RWMutex
	clients map[uuid.UUID][]*client
	log     *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		clients: make(map[uuid.UUID][]*client),
		log:     log,
	}
}

var _ inapp.Pusher = (*Registry)(nil)

func (r *Registry) addClient(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c.userID] = append(r.clients[c.userID], c)
}

func (r *Registry) removeClient(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := r.clients[c.userID]
	for i, cl := range clients {
		if cl == c {
			r.clients[c.userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(r.clients[c.userID]) == 0 {
		delete(r.clients, c.userID)
	}
}

// IsOnline reports whether the user has at least one open session.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients[userID]) > 0
}

// Push routes a notification to every open session of the recipient.
// Sessions whose buffer is full are skipped and logged; the persisted row
// remains the source of truth.
func (r *Registry) Push(userID uuid.UUID, n inapp.Notification) {
	r.mu.RLock()
	clients := r.clients[userID]
	r.mu.RUnlock()

	event := Event{Type: EventNotification, Data: n}
	for _, c := range clients {
		select {
		case c.events <- event:
		default:
			r.log.Warn("session buffer full, frame dropped",
				"user_id", userID.String(),
				"report_id", n.ReportID.String(),
			)
		}
	}
}

// Handler returns the gin handler for the SSE endpoint. getUserID extracts
// the authenticated user from the request context.
func (r *Registry) Handler(getUserID func(*gin.Context) (uuid.UUID, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := getUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		cl := newClient(userID, 32)
		r.addClient(cl)
		defer r.removeClient(cl)

		c.SSEvent(string(EventConnected), gin.H{"userId": userID})
		c.Writer.Flush()

		r.log.Info("session opened", "user_id", userID.String())

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				r.log.Info("session closed", "user_id", userID.String())
				return
			case <-cl.done:
				return
			case event := <-cl.events:
				data, _ := json.Marshal(event.Data)
				c.SSEvent(string(event.Type), string(data))
				c.Writer.Flush()
			}
		}
	}
}

// Close drops every open session, typically during shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	detached := make([]*client, 0, len(r.clients))
	for _, clients := range r.clients {
		detached = append(detached, clients...)
	}
	r.clients = make(map[uuid.UUID][]*client)
	r.mu.Unlock()

	for _, c := range detached {
		c.shutdown()
	}
}
