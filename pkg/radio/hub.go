package radio

import (
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// peer wraps a connection; gorilla connections allow one writer at a time.
type peer struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (p *peer) write(msg Message) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.conn.WriteJSON(msg)
}

// Hub fans published messages out to the subscribers of each channel.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger
	verify   func(token string) error

	mu    sync.RWMutex
	subs  map[string]map[*peer]struct{}
	peers map[*peer]struct{}
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		subs:   map[string]map[*peer]struct{}{},
		peers:  map[*peer]struct{}{},
	}
}

// RequireToken makes the hub refuse upgrades whose token fails verify.
// Call it before the hub serves its first request.
func (h *Hub) RequireToken(verify func(token string) error) {
	h.verify = verify
}

// ServeHTTP upgrades a node connection and serves its frames.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.verify != nil {
		if err := h.verify(requestToken(r)); err != nil {
			h.logger.Warn("radio peer refused", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("radio upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	p := &peer{conn: c}
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("radio peer connected", "remote", r.RemoteAddr)
	go h.readLoop(p)
}

// Publish delivers payload to every subscriber of channel.
func (h *Hub) Publish(channel string, payload any) {
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.subs[channel]))
	for p := range h.subs[channel] {
		targets = append(targets, p)
	}
	h.mu.RUnlock()
	msg := Message{Type: TypeMessage, Channel: channel, Payload: payload}
	for _, p := range targets {
		if err := p.write(msg); err != nil {
			go h.drop(p)
		}
	}
}

// Subscribers reports how many peers listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Close disconnects every peer.
func (h *Hub) Close() error {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()
	for _, p := range peers {
		h.drop(p)
	}
	return nil
}

func (h *Hub) readLoop(p *peer) {
	defer h.drop(p)
	for {
		var msg Message
		if err := p.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case TypeSubscribe:
			h.mu.Lock()
			if h.subs[msg.Channel] == nil {
				h.subs[msg.Channel] = map[*peer]struct{}{}
			}
			h.subs[msg.Channel][p] = struct{}{}
			h.mu.Unlock()
		case TypeUnsubscribe:
			h.mu.Lock()
			h.unsubscribe(msg.Channel, p)
			h.mu.Unlock()
		case TypePublish:
			h.Publish(msg.Channel, msg.Payload)
		default:
			h.logger.Debug("radio frame ignored", "type", msg.Type)
		}
	}
}

// unsubscribe requires h.mu held for writing.
func (h *Hub) unsubscribe(channel string, p *peer) {
	if subs, ok := h.subs[channel]; ok {
		delete(subs, p)
		if len(subs) == 0 {
			delete(h.subs, channel)
		}
	}
}

func (h *Hub) drop(p *peer) {
	_ = p.conn.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; !ok {
		return
	}
	delete(h.peers, p)
	for channel := range h.subs {
		h.unsubscribe(channel, p)
	}
	h.logger.Debug("radio peer disconnected")
}

// requestToken reads X-Auth-Token, falling back to a Bearer authorization.
func requestToken(r *http.Request) string {
	if tok := r.Header.Get("X-Auth-Token"); tok != "" {
		return tok
	}
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}
