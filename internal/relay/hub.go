// Package relay is the development relay the chat core speaks to: a
// single-process message relay with per-user queue delivery, JWT
// handshake auth, and REST endpoints for history and the user
// directory.
package relay

import (
	"encoding/json"
	"sync"

	"github.com/hamzalamin/qatrat-chat-core/internal/domain"
	"github.com/hamzalamin/qatrat-chat-core/internal/logx"
)

// Hub tracks connected clients and the destinations they subscribed
// to, and fans frames out to every subscriber of a destination.
type Hub struct {
	clients    map[string]*Client            // clientID -> client
	queues     map[string]map[string]*Client // destination -> clientID -> client
	register   chan *Client
	unregister chan *Client
	deliver    chan *queuedFrame
	mu         sync.RWMutex
}

type queuedFrame struct {
	destination string
	data        []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		queues:     make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan *queuedFrame, 256),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l := logx.L()
			l.Debug().Str(logx.FieldClientID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for dest, subs := range h.queues {
					delete(subs, client.ID)
					if len(subs) == 0 {
						delete(h.queues, dest)
					}
				}
				delete(h.clients, client.ID)
				client.closeSend()
			}
			h.mu.Unlock()
			l := logx.L()
			l.Debug().Str(logx.FieldClientID, client.ID).Msg("client unregistered")

		case frame := <-h.deliver:
			h.mu.RLock()
			for _, client := range h.queues[frame.destination] {
				select {
				case client.Send <- frame.data:
				default:
					go h.Unregister(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe attaches the client to a destination.
func (h *Hub) Subscribe(client *Client, destination string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.queues[destination]; !ok {
		h.queues[destination] = make(map[string]*Client)
	}
	h.queues[destination][client.ID] = client
	l := logx.L()
	l.Info().Str(logx.FieldClientID, client.ID).Str(logx.FieldDestination, destination).Msg("subscribed")
}

// Unsubscribe detaches the client from a destination. Idempotent.
func (h *Hub) Unsubscribe(client *Client, destination string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.queues[destination]; ok {
		delete(subs, client.ID)
		if len(subs) == 0 {
			delete(h.queues, destination)
		}
	}
}

// Deliver sends a message frame carrying body to every subscriber of
// destination.
func (h *Hub) Deliver(destination string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	data, err := json.Marshal(&domain.Frame{
		Type:        domain.FrameMessage,
		Destination: destination,
		Body:        payload,
	})
	if err != nil {
		return err
	}

	h.deliver <- &queuedFrame{destination: destination, data: data}
	return nil
}

// SubscriberCount reports how many clients listen on destination.
func (h *Hub) SubscriberCount(destination string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.queues[destination])
}
