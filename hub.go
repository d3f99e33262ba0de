package main

import (
	"sync"
	"time"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 256

	// How long the gameOver screen lingers before the hub installs a fresh
	// lobby for the next match.
	resultDelay = 10 * time.Second
)

// Hub manages all connected clients and the single authoritative game.
// There is exactly one Game instance per match; ended games are replaced,
// never resurrected.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	gameMu sync.RWMutex
	game   *Game
	levels map[string]*Level

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int

	db        *DB
	auth      *Auth
	analytics *Analytics
}

// NewHub creates a Hub with a fresh waiting game. db may be nil (no
// persistence, guest-only play).
func NewHub(db *DB, levels map[string]*Level) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		levels:     levels,
		ipConns:    make(map[string]int),
		db:         db,
	}
	if db != nil {
		h.auth = NewAuth(db)
		h.analytics = NewAnalytics(db)
	}
	h.installGame()
	return h
}

// Game returns the current game instance
func (h *Hub) Game() *Game {
	h.gameMu.RLock()
	defer h.gameMu.RUnlock()
	return h.game
}

// installGame swaps in a fresh waiting game
func (h *Hub) installGame() {
	g := NewGame(h.levels, h.db, h.analytics)
	g.onEnded = h.scheduleReset
	h.gameMu.Lock()
	h.game = g
	h.gameMu.Unlock()
}

// scheduleReset runs after a match ends: once the result screen has lingered,
// replace the ended game and show everyone the fresh lobby.
func (h *Hub) scheduleReset() {
	time.AfterFunc(resultDelay, func() {
		old := h.Game()
		if old != nil && old.Status() != StatusEnded {
			return
		}
		h.installGame()

		env := h.Game().SnapshotEnvelope()
		h.mu.RLock()
		for client := range h.clients {
			client.resetSession()
			client.SendJSON(env)
		}
		h.mu.RUnlock()
	})
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if id := client.session(); id != "" {
				h.Game().RemoveClient(id)
			}
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown flushes the analytics writer and closes the database
func (h *Hub) Shutdown() {
	h.Game().Stop()
	if h.analytics != nil {
		h.analytics.Stop()
	}
	if h.db != nil {
		h.db.Close()
	}
}
