package main

import (
	"fmt"
	"log"
	"sort"
	"time"
)

const (
	SessionCapacity  = MaxPlayers
	CountdownSeconds = 3
	minPlayersToRun  = 2
)

// AddPlayer validates a join request and adds the player to the lobby.
// The returned error text is sent verbatim to the offending client.
func (g *Game) AddPlayer(nickname, sessionID string, client Broadcaster) (*Player, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusWaiting {
		return nil, fmt.Errorf("game already started")
	}
	if nickname == "" {
		return nil, fmt.Errorf("invalid join request: missing nickname")
	}
	if len(g.players) >= SessionCapacity {
		return nil, fmt.Errorf("game is full")
	}
	for _, p := range g.players {
		if p.Nickname == nickname {
			return nil, fmt.Errorf("nickname already taken")
		}
	}

	id := sessionID
	if id == "" {
		id = GenerateUUID()
	}
	if _, taken := g.players[id]; taken {
		return nil, fmt.Errorf("session id already in use")
	}

	lvl := g.levels[g.selectedLevel]
	p := NewPlayer(id, nickname, lvl.Spawn(len(g.order)))
	g.players[id] = p
	g.order = append(g.order, id)
	g.clients[id] = client
	g.trackEvent(EvtPlayerJoin, 0, id)

	g.sendSnapshotToLocked(id)
	g.broadcastLocked(Envelope{Type: MsgPlayerJoined, Payload: PlayerJoinedMsg{
		Player:      p.ToState(),
		PlayerCount: len(g.players),
	}})
	return p, nil
}

// Rejoin reattaches a dropped client to its player within the grace window
func (g *Game) Rejoin(nickname, playerID string, client Broadcaster) (*Player, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.players[playerID]
	if !ok || p.Nickname != nickname {
		return nil, fmt.Errorf("no session to rejoin")
	}
	if !p.Disconnected {
		return nil, fmt.Errorf("player already connected")
	}
	if p.IsDead {
		return nil, fmt.Errorf("rejoin window expired")
	}

	p.Disconnected = false
	p.RejoinDeadline = time.Time{}
	g.clients[playerID] = client

	g.sendSnapshotToLocked(playerID)
	g.broadcastLocked(Envelope{Type: MsgPlayerJoined, Payload: PlayerJoinedMsg{
		Player:      p.ToState(),
		PlayerCount: len(g.players),
	}})
	return p, nil
}

// RemoveClient handles a disconnect. Mid-match the player gets a rejoin
// grace window; in the lobby they are removed outright.
func (g *Game) RemoveClient(playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.players[playerID]
	if !ok {
		return
	}
	delete(g.clients, playerID)

	if g.status == StatusRunning && !p.IsDead {
		p.Disconnected = true
		p.RejoinDeadline = time.Now().Add(RejoinWindow)
		g.broadcastLocked(Envelope{Type: MsgPlayerLeave, Payload: PlayerLeaveMsg{
			PlayerID:    playerID,
			PlayerCount: len(g.players),
		}})
		return
	}

	delete(g.players, playerID)
	for i, id := range g.order {
		if id == playerID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.broadcastLocked(Envelope{Type: MsgPlayerLeave, Payload: PlayerLeaveMsg{
		PlayerID:    playerID,
		PlayerCount: len(g.players),
	}})

	if g.status == StatusWaiting {
		// The departure may leave everyone remaining ready
		g.checkStartLocked()
	}
}

// HandleReady marks a player ready and starts the countdown once every
// joined player is ready (minimum two).
func (g *Game) HandleReady(playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusWaiting {
		return
	}
	p, ok := g.players[playerID]
	if !ok {
		return
	}
	p.Ready = true
	g.broadcastLocked(Envelope{Type: MsgPlayerReady, Payload: PlayerReadyMsg{PlayerID: playerID}})
	g.resolveLevelIfComplete()
	g.checkStartLocked()
}

// HandleUnready clears the ready flag and the player's level vote
func (g *Game) HandleUnready(playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusWaiting {
		return
	}
	p, ok := g.players[playerID]
	if !ok {
		return
	}
	p.Ready = false
	p.VotedLevel = ""
	g.broadcastLocked(Envelope{Type: MsgPlayerUnready, Payload: PlayerReadyMsg{PlayerID: playerID}})
}

// HandleVote casts a level vote. Any joined player may vote while the
// session is waiting, but only ready players' votes are counted when the
// level resolves. One vote per player; unready clears it.
func (g *Game) HandleVote(playerID, level string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusWaiting {
		return fmt.Errorf("level voting is closed")
	}
	p, ok := g.players[playerID]
	if !ok {
		return nil // unknown player, ignored
	}
	if p.VotedLevel != "" {
		return fmt.Errorf("vote already cast")
	}
	if _, known := g.levels[level]; !known {
		return fmt.Errorf("unknown level %s", level)
	}

	p.VotedLevel = level
	g.broadcastLocked(Envelope{Type: MsgLevelVoted, Payload: LevelVotedMsg{
		PlayerID: playerID,
		Level:    level,
	}})
	g.resolveLevelIfComplete()
	return nil
}

// resolveLevelIfComplete recomputes the winning level as soon as every ready
// player has voted, so joining clients can preload assets before the match.
func (g *Game) resolveLevelIfComplete() {
	ready, voted := 0, 0
	for _, p := range g.players {
		if p.Ready {
			ready++
			if p.VotedLevel != "" {
				voted++
			}
		}
	}
	if ready == 0 || voted < ready {
		return
	}
	g.resolveLevelLocked()
	g.broadcastLocked(Envelope{Type: MsgLevelSelected, Payload: LevelSelectedMsg{Level: g.selectedLevel}})
}

// resolveLevelLocked picks the majority vote among ready players; ties are
// broken by uniform random choice among the tied levels.
func (g *Game) resolveLevelLocked() {
	tally := make(map[string]int)
	for _, p := range g.players {
		if p.Ready && p.VotedLevel != "" {
			tally[p.VotedLevel]++
		}
	}
	if len(tally) == 0 {
		return
	}
	best := 0
	for _, n := range tally {
		if n > best {
			best = n
		}
	}
	tied := make([]string, 0, len(tally))
	for level, n := range tally {
		if n == best {
			tied = append(tied, level)
		}
	}
	sort.Strings(tied)
	g.selectedLevel = tied[g.rng.Intn(len(tied))]
}

// checkStartLocked fires waiting -> starting when the ready set is the full
// player set and holds at least two players.
func (g *Game) checkStartLocked() {
	if g.status != StatusWaiting || len(g.players) < minPlayersToRun {
		return
	}
	for _, p := range g.players {
		if !p.Ready {
			return
		}
	}
	g.status = StatusStarting
	go g.runCountdown()
}

// runCountdown broadcasts one gameStarting per second, then starts the match
func (g *Game) runCountdown() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := CountdownSeconds
	g.mu.Lock()
	g.broadcastLocked(Envelope{Type: MsgGameStarting, Payload: GameStartingMsg{Countdown: remaining}})
	g.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			remaining--
			if remaining <= 0 {
				g.startMatch()
				return
			}
			g.mu.Lock()
			g.broadcastLocked(Envelope{Type: MsgGameStarting, Payload: GameStartingMsg{Countdown: remaining}})
			g.mu.Unlock()
		case <-g.done:
			return
		}
	}
}

// startMatch is the starting -> running transition: resolve the level, load
// the grid, reset entities, fire up the tick loop.
func (g *Game) startMatch() {
	g.mu.Lock()
	if g.status != StatusStarting {
		g.mu.Unlock()
		return
	}
	g.resolveLevelLocked()
	g.level = g.levels[g.selectedLevel]
	g.blocks = g.level.InitialBlocks()
	g.bombs = make(map[string]*Bomb)
	g.powerUps = make(map[string]*PowerUp)
	for i, id := range g.order {
		g.players[id].ResetForMatch(g.level.Spawn(i))
	}
	g.status = StatusRunning
	g.matchID = GenerateUUID()
	g.startedAt = time.Now()
	g.trackEvent(EvtMatchStart, 0, "")

	g.broadcastLocked(Envelope{Type: MsgGameStarted, Payload: GameStartedMsg{Level: g.selectedLevel}})
	g.broadcastSnapshotLocked()
	g.mu.Unlock()

	go g.Run()
}

// checkWinCondition fires running -> ended once at most one player is left
// standing. Callers hold the write lock.
func (g *Game) checkWinCondition() {
	if g.status != StatusRunning {
		return
	}
	var winner *Player
	alive := 0
	for _, p := range g.players {
		if !p.IsDead {
			alive++
			winner = p
		}
	}
	if alive > 1 {
		return
	}
	if alive == 0 {
		winner = nil
	}
	g.endGameLocked(winner)
}

// endGameLocked is the terminal transition: broadcast the result, persist
// the match, stop the loop, let the hub schedule a fresh lobby.
func (g *Game) endGameLocked(winner *Player) {
	g.status = StatusEnded

	stats := make([]PlayerFinalStats, 0, len(g.order))
	for _, id := range g.order {
		if p := g.players[id]; p != nil {
			stats = append(stats, p.FinalStats())
		}
	}
	msg := GameOverMsg{Stats: stats}
	if winner != nil {
		ws := winner.FinalStats()
		msg.Winner = &ws
	}
	g.broadcastLocked(Envelope{Type: MsgGameOver, Payload: msg})
	g.trackEvent(EvtMatchEnd, 0, "")

	if g.db != nil {
		result := g.matchResultLocked(winner)
		go func() {
			if err := g.db.RecordMatch(result); err != nil {
				log.Printf("record match error: %v", err)
			}
		}()
	}

	g.stopLocked()
	if g.onEnded != nil {
		go g.onEnded()
	}
}

// matchResultLocked captures everything the persistence layer needs so the
// write can happen off the game lock.
func (g *Game) matchResultLocked(winner *Player) *MatchResult {
	res := &MatchResult{
		MatchID:  g.matchID,
		Level:    g.selectedLevel,
		Duration: time.Since(g.startedAt).Seconds(),
	}
	if winner != nil {
		res.WinnerID = winner.ID
		res.WinnerNickname = winner.Nickname
	}
	for _, id := range g.order {
		p := g.players[id]
		if p == nil {
			continue
		}
		res.Players = append(res.Players, MatchPlayerResult{
			PlayerID:          p.ID,
			Nickname:          p.Nickname,
			AccountID:         p.AccountID,
			KillCount:         p.KillCount,
			PowerUpsCollected: p.PowerUpsCollected,
			BombsPlaced:       p.BombsPlaced,
			Died:              p.IsDead,
			Won:               winner != nil && winner.ID == p.ID,
		})
	}
	return res
}
