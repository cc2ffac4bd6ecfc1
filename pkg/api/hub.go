package api

import (
	"github.com/rs/zerolog/log"
)

// Hub maintains the set of active clients.
type Hub struct {
	// Registered clients by participant id.
	clients map[string][]*Client

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closes every client and stops Run.
	stop chan struct{}
	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		Register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		clients:    make(map[string][]*Client),
	}
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.Register:
			h.clients[client.id] = append(h.clients[client.id], client)
			log.Debug().Str("participant_id", client.id).Int("connections", len(h.clients[client.id])).Msg("client registered")
		case client := <-h.unregister:
			h.remove(client)
		case <-h.stop:
			for uid, clients := range h.clients {
				for _, client := range clients {
					client.shutdown()
				}
				delete(h.clients, uid)
			}
			return
		}
	}
}

// Stop closes every registered client and waits for Run to return.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.done
}

// Add registers client. It reports false once the hub has stopped.
func (h *Hub) Add(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client, unless the hub has already stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	clients := h.clients[client.id]
	for i := range clients {
		if clients[i] != client {
			continue
		}
		last := len(clients) - 1
		clients[i] = clients[last]
		clients[last] = nil
		clients = clients[:last]
		break
	}
	if len(clients) == 0 {
		delete(h.clients, client.id)
	} else {
		h.clients[client.id] = clients
	}
	client.shutdown()
}
