package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	TickRate     = 60 // simulation ticks per second
	TickDuration = time.Second / TickRate

	maxChatLen = 200
)

// GameStatus is the session lifecycle state
type GameStatus string

const (
	StatusWaiting  GameStatus = "waiting"
	StatusStarting GameStatus = "starting"
	StatusRunning  GameStatus = "running"
	StatusEnded    GameStatus = "ended"
)

// Broadcaster is the client-facing send interface. Implementations must
// never block: a stalled client drops frames, it does not delay the tick.
type Broadcaster interface {
	SendJSON(msg interface{})
	SendRaw(data []byte)
	SendBinary(data []byte)
	PrefersBinary() bool
}

// Game holds the authoritative state for one match. All mutation happens
// under mu; handlers and the tick loop each see an internally consistent
// snapshot, never a torn one.
type Game struct {
	mu       sync.RWMutex
	players  map[string]*Player
	order    []string // join order, drives spawn slots
	bombs    map[string]*Bomb
	powerUps map[string]*PowerUp
	blocks   map[string]bool
	clients  map[string]Broadcaster

	levels        map[string]*Level
	level         *Level
	selectedLevel string

	status    GameStatus
	tick      uint64
	lastTick  time.Time
	matchID   string
	startedAt time.Time

	loopRunning bool
	stopped     bool
	done        chan struct{}

	rng           *rand.Rand
	powerUpChance float64

	db        *DB
	analytics *Analytics
	onEnded   func()
}

// NewGame creates a fresh session in the waiting state. The level set must
// be non-empty; the alphabetically first level is the default selection.
func NewGame(levels map[string]*Level, db *DB, analytics *Analytics) *Game {
	names := LevelNames(levels)
	g := &Game{
		players:       make(map[string]*Player),
		bombs:         make(map[string]*Bomb),
		powerUps:      make(map[string]*PowerUp),
		blocks:        make(map[string]bool),
		clients:       make(map[string]Broadcaster),
		levels:        levels,
		selectedLevel: names[0],
		status:        StatusWaiting,
		done:          make(chan struct{}),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		powerUpChance: PowerUpSpawnChance,
		db:            db,
		analytics:     analytics,
	}
	return g
}

// Run drives the fixed-rate tick loop until Stop. Starting an already
// running loop is a no-op.
func (g *Game) Run() {
	g.mu.Lock()
	if g.loopRunning || g.stopped {
		g.mu.Unlock()
		return
	}
	g.loopRunning = true
	g.lastTick = time.Now()
	g.mu.Unlock()

	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.update()
		case <-g.done:
			return
		}
	}
}

// Stop terminates the tick loop and any pending countdown or bomb timers.
// Stopping a stopped game is a no-op.
func (g *Game) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
}

func (g *Game) stopLocked() {
	if !g.stopped {
		g.stopped = true
		close(g.done)
	}
}

// Status returns the current lifecycle state
func (g *Game) Status() GameStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// SnapshotEnvelope returns the full state as a JSON envelope for callers
// outside the game lock.
func (g *Game) SnapshotEnvelope() Envelope {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Envelope{Type: MsgGameState, Payload: g.snapshotLocked()}
}

// SetAccount links an authenticated account to a joined player
func (g *Game) SetAccount(playerID string, accountID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.players[playerID]; ok {
		p.AccountID = accountID
	}
}

// PlayerCount returns the number of joined players
func (g *Game) PlayerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.players)
}

// update runs one simulation tick: bombs, queued moves, pickups, rejoin
// expiry, win check, snapshot broadcast.
func (g *Game) update() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusRunning {
		return
	}
	now := time.Now()
	dt := now.Sub(g.lastTick).Seconds()
	g.lastTick = now
	g.tick++

	g.tickBombs(dt)
	if g.status != StatusRunning {
		// A detonation ended the match; nothing may follow gameOver
		return
	}
	g.drainMoves(now)
	g.collectPowerUps()
	g.expireRejoinWindows(now)
	g.checkWinCondition()

	if g.status == StatusRunning {
		g.broadcastSnapshotLocked()
	}
}

// PlaceBomb validates and applies a bomb placement. Rejections are silent:
// no state change, no broadcast.
func (g *Game) PlaceBomb(playerID string, pos Position) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusRunning {
		return
	}
	p, ok := g.players[playerID]
	if !ok || p.IsDead {
		return
	}
	if p.ActiveBombs >= p.MaxBombs {
		return
	}

	x, y := pos.Cell()
	px, py := p.Cell()
	// The reported cell must be where the server believes the player stands,
	// give or take one cell of lag.
	if abs(x-px) > 1 || abs(y-py) > 1 {
		return
	}
	if !g.level.InBounds(x, y) || g.level.IsWall(x, y) {
		return
	}
	key := CellKey(x, y)
	if g.blocks[key] {
		return
	}
	for _, b := range g.bombs {
		bx, by := b.Position.Cell()
		if bx == x && by == y {
			return
		}
	}

	bomb := &Bomb{
		ID:            GenerateID(4),
		Position:      Position{X: float64(x), Y: float64(y)},
		OwnerID:       p.ID,
		Range:         p.FlameRange,
		TimeRemaining: BombFuseSeconds,
	}
	g.bombs[bomb.ID] = bomb
	p.ActiveBombs++
	p.BombsPlaced++

	g.broadcastLocked(Envelope{Type: MsgBombPlaced, Payload: BombPlacedMsg{Bomb: bomb.ToState()}})
}

// HandleChat relays a chat line to the whole session
func (g *Game) HandleChat(playerID, message string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.players[playerID]
	if !ok {
		return
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	if len(message) > maxChatLen {
		message = message[:maxChatLen]
	}
	g.broadcastLocked(Envelope{Type: MsgChat, Payload: ChatBroadcast{
		PlayerID: p.ID,
		Nickname: p.Nickname,
		Message:  message,
	}})
}

// SendSync unicasts the full authoritative snapshot to one player
func (g *Game) SendSync(playerID string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.sendSnapshotToLocked(playerID)
}

// expireRejoinWindows removes players whose rejoin grace period lapsed.
// Their Player object stays in the map so live bombs keep crediting kills.
func (g *Game) expireRejoinWindows(now time.Time) {
	for _, p := range g.players {
		if p.Disconnected && !p.RejoinDeadline.IsZero() && now.After(p.RejoinDeadline) {
			p.RejoinDeadline = time.Time{}
			p.IsDead = true
			p.Lives = 0
		}
	}
}

// collectPowerUps applies pickups by cell proximity
func (g *Game) collectPowerUps() {
	for _, id := range g.order {
		p := g.players[id]
		if p == nil || p.IsDead {
			continue
		}
		x, y := p.Cell()
		key := CellKey(x, y)
		pu, ok := g.powerUps[key]
		if !ok {
			continue
		}
		delete(g.powerUps, key)
		ApplyPowerUp(p, pu.Type)
		g.trackEvent(EvtPowerUp, p.AccountID, p.ID)
		g.broadcastLocked(Envelope{Type: MsgPowerUpCollected, Payload: PowerUpCollectedMsg{
			PlayerID: p.ID,
			Type:     pu.Type,
			Stats:    p.Stats(),
		}})
	}
}

// broadcast-side helpers. Callers must hold mu (read or write).

func (g *Game) broadcastLocked(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	for _, client := range g.clients {
		client.SendRaw(data)
	}
}

// broadcast is bomb.go's entry point; detonation runs under the write lock
// held by update, so this just forwards.
func (g *Game) broadcast(env Envelope) {
	g.broadcastLocked(env)
}

func (g *Game) sendTo(playerID string, env Envelope) {
	if client, ok := g.clients[playerID]; ok {
		client.SendJSON(env)
	}
}

// snapshotLocked assembles the full authoritative state message
func (g *Game) snapshotLocked() GameStateMsg {
	msg := GameStateMsg{
		Players:       make([]PlayerState, 0, len(g.players)),
		ReadyPlayers:  make([]string, 0, len(g.players)),
		LevelVotes:    make(map[string]string, len(g.players)),
		SelectedLevel: g.selectedLevel,
		GameStatus:    string(g.status),
		Blocks:        make([]string, 0, len(g.blocks)),
		Bombs:         make([]BombState, 0, len(g.bombs)),
		PowerUps:      make([]PowerUpState, 0, len(g.powerUps)),
		Tick:          g.tick,
		Timestamp:     time.Now().UnixMilli(),
	}
	for _, id := range g.order {
		p := g.players[id]
		if p == nil {
			continue
		}
		msg.Players = append(msg.Players, p.ToState())
		if p.Ready {
			msg.ReadyPlayers = append(msg.ReadyPlayers, p.ID)
		}
		if p.VotedLevel != "" {
			msg.LevelVotes[p.ID] = p.VotedLevel
		}
	}
	for key := range g.blocks {
		msg.Blocks = append(msg.Blocks, key)
	}
	for _, b := range g.bombs {
		msg.Bombs = append(msg.Bombs, b.ToState())
	}
	for _, pu := range g.powerUps {
		msg.PowerUps = append(msg.PowerUps, pu.ToState())
	}
	if g.level != nil {
		msg.Grid = g.level.Rows()
	}
	return msg
}

// broadcastSnapshotLocked sends the snapshot to every connected client:
// msgpack binary frames for clients that opted in, JSON otherwise.
func (g *Game) broadcastSnapshotLocked() {
	snap := g.snapshotLocked()

	var jsonData, binData []byte
	for _, client := range g.clients {
		if client.PrefersBinary() {
			if binData == nil {
				var err error
				binData, err = msgpack.Marshal(snap)
				if err != nil {
					log.Printf("msgpack marshal error: %v", err)
					continue
				}
			}
			client.SendBinary(binData)
			continue
		}
		if jsonData == nil {
			var err error
			jsonData, err = json.Marshal(Envelope{Type: MsgGameState, Payload: snap})
			if err != nil {
				log.Printf("marshal error: %v", err)
				return
			}
		}
		client.SendRaw(jsonData)
	}
}

func (g *Game) sendSnapshotToLocked(playerID string) {
	client, ok := g.clients[playerID]
	if !ok {
		return
	}
	snap := g.snapshotLocked()
	if client.PrefersBinary() {
		if data, err := msgpack.Marshal(snap); err == nil {
			client.SendBinary(data)
		}
		return
	}
	client.SendJSON(Envelope{Type: MsgGameState, Payload: snap})
}

func (g *Game) trackEvent(evtType string, accountID int64, playerID string) {
	if g.analytics != nil {
		g.analytics.Track(evtType, accountID, g.matchID, playerID)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
