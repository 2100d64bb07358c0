package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/extendamix/api/internal/model"
)

// Publisher fans job events out to live subscribers. Delivery is best-effort:
// publishing never blocks and never fails the caller; offline subscribers
// recover current state by polling the status endpoint.
type Publisher interface {
	PublishProgress(ownerID string, msg model.WSProgressMessage)
	PublishComplete(ownerID string, msg model.WSCompleteMessage)
	PublishError(ownerID string, msg model.WSErrorMessage)
	PublishStatus(ownerID string, msg model.WSStatusMessage)
}

// Subscriber is one live observer. Subscribers with All set receive every
// event regardless of owner.
type Subscriber struct {
	OwnerID string
	All     bool
	Send    chan []byte
}

// NewSubscriber creates a subscriber handle for the given owner.
func NewSubscriber(ownerID string, all bool) *Subscriber {
	return &Subscriber{
		OwnerID: ownerID,
		All:     all,
		Send:    make(chan []byte, 256),
	}
}

// Hub maintains active subscribers grouped by owner
type Hub struct {
	// Subscribers grouped by owner ID
	subscribers map[string]map[*Subscriber]bool

	// Firehose subscribers receiving all events
	firehose map[*Subscriber]bool

	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan *ownerMessage

	mu sync.RWMutex
}

type ownerMessage struct {
	OwnerID string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]bool),
		firehose:    make(map[*Subscriber]bool),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan *ownerMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			if sub.All {
				h.firehose[sub] = true
			} else {
				if h.subscribers[sub.OwnerID] == nil {
					h.subscribers[sub.OwnerID] = make(map[*Subscriber]bool)
				}
				h.subscribers[sub.OwnerID][sub] = true
			}
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if sub.All {
				if _, ok := h.firehose[sub]; ok {
					delete(h.firehose, sub)
					close(sub.Send)
				}
			} else if subs, ok := h.subscribers[sub.OwnerID]; ok {
				if _, ok := subs[sub]; ok {
					delete(subs, sub)
					close(sub.Send)
					if len(subs) == 0 {
						delete(h.subscribers, sub.OwnerID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for sub := range h.subscribers[msg.OwnerID] {
				h.deliver(sub, msg.Message)
			}
			for sub := range h.firehose {
				h.deliver(sub, msg.Message)
			}
			h.mu.RUnlock()
		}
	}
}

// deliver pushes a message to one subscriber, dropping it if the subscriber's
// buffer is full. A slow subscriber misses events; it never stalls the hub.
func (h *Hub) deliver(sub *Subscriber, message []byte) {
	select {
	case sub.Send <- message:
	default:
	}
}

// Subscribe adds a subscriber
func (h *Hub) Subscribe(sub *Subscriber) {
	h.register <- sub
}

// Unsubscribe removes a subscriber
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.unregister <- sub
}

// PublishProgress sends a progress update to the owner's subscribers
func (h *Hub) PublishProgress(ownerID string, msg model.WSProgressMessage) {
	h.publish(ownerID, msg)
}

// PublishComplete sends a completion message to the owner's subscribers
func (h *Hub) PublishComplete(ownerID string, msg model.WSCompleteMessage) {
	h.publish(ownerID, msg)
}

// PublishError sends a failure message to the owner's subscribers
func (h *Hub) PublishError(ownerID string, msg model.WSErrorMessage) {
	h.publish(ownerID, msg)
}

// PublishStatus sends a bare status change to the owner's subscribers
func (h *Hub) PublishStatus(ownerID string, msg model.WSStatusMessage) {
	h.publish(ownerID, msg)
}

func (h *Hub) publish(ownerID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal event: %v", err)
		return
	}

	// Non-blocking: if the hub's queue is full the event is dropped rather
	// than stalling the job runner.
	select {
	case h.broadcast <- &ownerMessage{OwnerID: ownerID, Message: data}:
	default:
		log.Printf("Event queue full, dropping event for owner %s", ownerID)
	}
}

// HandleConnection pumps hub events for one WebSocket connection until it
// closes. all selects the firehose audience.
func (h *Hub) HandleConnection(c *websocket.Conn, ownerID string, all bool) {
	sub := NewSubscriber(ownerID, all)

	h.Subscribe(sub)
	defer h.Unsubscribe(sub)

	// Writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-sub.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
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
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			select {
			case sub.Send <- data:
			default:
			}
		}
	}
}
