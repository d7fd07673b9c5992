package ws

import (
	"sync"

	"github.com/frostbyte73/core"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/wacall/internal/core/domain"
	"github.com/Wyydra/wacall/internal/core/port"
)

// Hub implements port.Presenter by fanning snapshots out to every
// connected UI client.
type Hub struct {
	clients    map[port.Client]bool
	broadcast  chan domain.Snapshot
	register   chan port.Client
	unregister chan port.Client
	quit       core.Fuse

	mu   sync.RWMutex
	last domain.Snapshot
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[port.Client]bool),
		broadcast:  make(chan domain.Snapshot, 64),
		register:   make(chan port.Client),
		unregister: make(chan port.Client),
		last:       domain.IdleSnapshot(),
	}
}

func (h *Hub) Publish(snap domain.Snapshot) {
	select {
	case h.broadcast <- snap:
	default:
		log.Warn().Str("state", snap.State.String()).Msg("Broadcast channel full, dropping snapshot")
	}
}

// Last returns the most recent snapshot handed to clients.
func (h *Hub) Last() domain.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit.Watch():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Info().Str("client_id", client.ID()).Int("count", len(h.clients)).Msg("Client registered")
			if err := client.SendSnapshot(h.Last()); err != nil {
				h.drop(client, err)
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Info().Str("client_id", client.ID()).Msg("Client unregistered")
			}

		case snap := <-h.broadcast:
			h.mu.Lock()
			h.last = snap
			h.mu.Unlock()
			for client := range h.clients {
				if err := client.SendSnapshot(snap); err != nil {
					h.drop(client, err)
				}
			}
		}
	}
}

func (h *Hub) drop(client port.Client, err error) {
	log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending snapshot")
	client.Close()
	delete(h.clients, client)
}

func (h *Hub) Register(c port.Client) {
	select {
	case h.register <- c:
	case <-h.quit.Watch():
		c.Close()
	}
}

func (h *Hub) Unregister(c port.Client) {
	select {
	case h.unregister <- c:
	case <-h.quit.Watch():
	}
}

func (h *Hub) Stop() {
	h.quit.Break()
}
