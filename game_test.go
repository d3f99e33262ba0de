package main

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockClient records every message it receives, normalized to type + raw
// payload so tests can unmarshal into the concrete payload structs.
type mockClient struct {
	mu     sync.Mutex
	msgs   []InEnvelope
	frames [][]byte // binary snapshot frames
	binary bool
}

func (m *mockClient) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	m.SendRaw(data)
}

func (m *mockClient) SendRaw(data []byte) {
	var env InEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	m.mu.Lock()
	m.msgs = append(m.msgs, env)
	m.mu.Unlock()
}

func (m *mockClient) SendBinary(data []byte) {
	m.mu.Lock()
	m.frames = append(m.frames, data)
	m.mu.Unlock()
}

func (m *mockClient) PrefersBinary() bool { return m.binary }

func (m *mockClient) count(msgType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, env := range m.msgs {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

func (m *mockClient) last(msgType string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if m.msgs[i].Type == msgType {
			return m.msgs[i].Payload, true
		}
	}
	return nil, false
}

func (m *mockClient) waitFor(t *testing.T, msgType string, timeout time.Duration) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if payload, ok := m.last(msgType); ok {
			return payload
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %q message within %v", msgType, timeout)
	return nil
}

func newTestGame(t *testing.T) *Game {
	t.Helper()
	levels, err := LoadLevels("")
	if err != nil {
		t.Fatalf("LoadLevels: %v", err)
	}
	g := NewGame(levels, nil, nil)
	g.rng = rand.New(rand.NewSource(42))
	return g
}

// buildLevel constructs an explicit 15x13 grid: full wall border, empty
// interior, then mutate places '-' blocks or '*' walls.
func buildLevel(t *testing.T, mutate func(rows [][]byte)) *Level {
	t.Helper()
	rows := make([][]byte, LevelHeight)
	for y := range rows {
		rows[y] = bytes.Repeat([]byte{' '}, LevelWidth)
		for x := 0; x < LevelWidth; x++ {
			if x == 0 || x == LevelWidth-1 || y == 0 || y == LevelHeight-1 {
				rows[y][x] = '*'
			}
		}
	}
	if mutate != nil {
		mutate(rows)
	}
	lines := make([]string, LevelHeight)
	for y, row := range rows {
		lines[y] = string(row)
	}
	lvl, err := ParseLevel("test", strings.Join(lines, "\n"))
	if err != nil {
		t.Fatalf("ParseLevel: %v", err)
	}
	return lvl
}

// startRunning forces the session straight into the running state without
// the countdown goroutine or the tick loop, so tests stay deterministic.
func startRunning(t *testing.T, g *Game) {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.level = g.levels[g.selectedLevel]
	g.blocks = g.level.InitialBlocks()
	g.bombs = make(map[string]*Bomb)
	g.powerUps = make(map[string]*PowerUp)
	for i, id := range g.order {
		g.players[id].ResetForMatch(g.level.Spawn(i))
	}
	g.status = StatusRunning
	g.lastTick = time.Now()
}

func newRunningGame(t *testing.T, lvl *Level, nicknames ...string) (*Game, map[string]*Player, map[string]*mockClient) {
	t.Helper()
	g := NewGame(map[string]*Level{"test": lvl}, nil, nil)
	g.rng = rand.New(rand.NewSource(7))
	players := make(map[string]*Player)
	clients := make(map[string]*mockClient)
	for _, nick := range nicknames {
		mc := &mockClient{}
		p, err := g.AddPlayer(nick, "", mc)
		if err != nil {
			t.Fatalf("AddPlayer(%s): %v", nick, err)
		}
		players[nick] = p
		clients[nick] = mc
	}
	startRunning(t, g)
	return g, players, clients
}

func TestAddPlayerCapacityAndValidation(t *testing.T) {
	g := newTestGame(t)

	for _, nick := range []string{"p1", "p2", "p3", "p4"} {
		if _, err := g.AddPlayer(nick, "", &mockClient{}); err != nil {
			t.Fatalf("AddPlayer(%s): %v", nick, err)
		}
	}
	if _, err := g.AddPlayer("p5", "", &mockClient{}); err == nil || err.Error() != "game is full" {
		t.Errorf("fifth join: got %v, want game is full", err)
	}
	if g.PlayerCount() != 4 {
		t.Errorf("player count = %d, want 4", g.PlayerCount())
	}
}

func TestAddPlayerRejectsDuplicateNickname(t *testing.T) {
	g := newTestGame(t)
	if _, err := g.AddPlayer("alice", "", &mockClient{}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddPlayer("alice", "", &mockClient{}); err == nil || err.Error() != "nickname already taken" {
		t.Errorf("duplicate nickname: got %v", err)
	}
	if _, err := g.AddPlayer("", "", &mockClient{}); err == nil {
		t.Error("empty nickname accepted")
	}
}

func TestAddPlayerReusesClientSessionID(t *testing.T) {
	g := newTestGame(t)
	p, err := g.AddPlayer("alice", "my-session", &mockClient{})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "my-session" {
		t.Errorf("player ID = %q, want my-session", p.ID)
	}
	if _, err := g.AddPlayer("bob", "my-session", &mockClient{}); err == nil {
		t.Error("duplicate session id accepted")
	}
}

func TestJoinSendsSnapshotAndAnnounces(t *testing.T) {
	g := newTestGame(t)
	alice := &mockClient{}
	if _, err := g.AddPlayer("alice", "", alice); err != nil {
		t.Fatal(err)
	}
	if alice.count(MsgGameState) == 0 {
		t.Error("joiner did not receive the initial snapshot")
	}

	bob := &mockClient{}
	if _, err := g.AddPlayer("bob", "", bob); err != nil {
		t.Fatal(err)
	}
	payload, ok := alice.last(MsgPlayerJoined)
	if !ok {
		t.Fatal("existing player did not receive playerJoined")
	}
	var joined PlayerJoinedMsg
	if err := json.Unmarshal(payload, &joined); err != nil {
		t.Fatal(err)
	}
	if joined.Player.Nickname != "bob" || joined.PlayerCount != 2 {
		t.Errorf("playerJoined = %+v", joined)
	}
}

func TestReadyAllWithTwoPlayersStartsCountdown(t *testing.T) {
	g := newTestGame(t)
	alice := &mockClient{}
	a, _ := g.AddPlayer("alice", "", alice)
	b, _ := g.AddPlayer("bob", "", &mockClient{})

	g.HandleReady(a.ID)
	if g.Status() != StatusWaiting {
		t.Fatalf("status after one ready = %s, want waiting", g.Status())
	}
	g.HandleReady(b.ID)
	if g.Status() != StatusStarting {
		t.Fatalf("status after all ready = %s, want starting", g.Status())
	}

	// The countdown goroutine broadcasts the first step right away
	payload := alice.waitFor(t, MsgGameStarting, time.Second)
	var starting GameStartingMsg
	if err := json.Unmarshal(payload, &starting); err != nil {
		t.Fatal(err)
	}
	if starting.Countdown != CountdownSeconds {
		t.Errorf("first countdown = %d, want %d", starting.Countdown, CountdownSeconds)
	}

	// Joining a starting session is rejected
	if _, err := g.AddPlayer("carol", "", &mockClient{}); err == nil || err.Error() != "game already started" {
		t.Errorf("join during countdown: got %v", err)
	}
	g.Stop()
}

func TestSingleReadyPlayerDoesNotStart(t *testing.T) {
	g := newTestGame(t)
	a, _ := g.AddPlayer("alice", "", &mockClient{})
	g.HandleReady(a.ID)
	if g.Status() != StatusWaiting {
		t.Errorf("lone ready player started the game: %s", g.Status())
	}
}

func TestStatusEndedIsTerminal(t *testing.T) {
	lvl := buildLevel(t, nil)
	g, players, clients := newRunningGame(t, lvl, "alice", "bob")

	g.mu.Lock()
	for _, p := range g.players {
		p.IsDead = true
	}
	g.checkWinCondition()
	g.mu.Unlock()

	if g.Status() != StatusEnded {
		t.Fatalf("status = %s, want ended", g.Status())
	}
	if clients["alice"].count(MsgGameOver) != 1 {
		t.Errorf("gameOver count = %d, want 1", clients["alice"].count(MsgGameOver))
	}

	// Every transition out of ended must be refused
	g.HandleReady(players["alice"].ID)
	if g.Status() != StatusEnded {
		t.Error("HandleReady escaped the ended state")
	}
	if _, err := g.AddPlayer("carol", "", &mockClient{}); err == nil {
		t.Error("join accepted after the game ended")
	}
	g.mu.Lock()
	g.checkWinCondition()
	g.mu.Unlock()
	if clients["alice"].count(MsgGameOver) != 1 {
		t.Error("second win check produced a second gameOver")
	}
}

func TestVoteMajorityWins(t *testing.T) {
	g := newTestGame(t)
	a, _ := g.AddPlayer("alice", "", &mockClient{})
	b, _ := g.AddPlayer("bob", "", &mockClient{})
	carol := &mockClient{}
	c, _ := g.AddPlayer("carol", "", carol)

	if err := g.HandleVote(a.ID, "L1"); err != nil {
		t.Fatal(err)
	}
	if err := g.HandleVote(b.ID, "L1"); err != nil {
		t.Fatal(err)
	}
	if err := g.HandleVote(c.ID, "L2"); err != nil {
		t.Fatal(err)
	}
	g.HandleReady(a.ID)
	g.HandleReady(b.ID)
	g.HandleReady(c.ID)
	g.Stop() // abort the countdown, the vote already resolved

	payload, ok := carol.last(MsgLevelSelected)
	if !ok {
		t.Fatal("no levelSelected broadcast")
	}
	var sel LevelSelectedMsg
	if err := json.Unmarshal(payload, &sel); err != nil {
		t.Fatal(err)
	}
	if sel.Level != "L1" {
		t.Errorf("selected level = %q, want L1 (2 votes vs 1)", sel.Level)
	}
}

func TestVoteTieBreaksAmongTiedLevels(t *testing.T) {
	g := newTestGame(t)
	a, _ := g.AddPlayer("alice", "", &mockClient{})
	b, _ := g.AddPlayer("bob", "", &mockClient{})

	g.HandleVote(a.ID, "L1")
	g.HandleVote(b.ID, "L2")
	g.HandleReady(a.ID)
	g.HandleReady(b.ID)
	g.Stop()

	g.mu.RLock()
	selected := g.selectedLevel
	g.mu.RUnlock()
	if selected != "L1" && selected != "L2" {
		t.Errorf("tie broke to %q, want one of the tied levels", selected)
	}
}

func TestVoteValidation(t *testing.T) {
	g := newTestGame(t)
	a, _ := g.AddPlayer("alice", "", &mockClient{})

	if err := g.HandleVote(a.ID, "NoSuchLevel"); err == nil {
		t.Error("unknown level accepted")
	}
	if err := g.HandleVote(a.ID, "L1"); err != nil {
		t.Fatal(err)
	}
	if err := g.HandleVote(a.ID, "L2"); err == nil || err.Error() != "vote already cast" {
		t.Errorf("second vote: got %v", err)
	}
	if err := g.HandleVote("ghost", "L1"); err != nil {
		t.Errorf("unknown player vote should be silently ignored, got %v", err)
	}

	g.mu.Lock()
	g.status = StatusStarting
	g.mu.Unlock()
	if err := g.HandleVote(a.ID, "L2"); err == nil || err.Error() != "level voting is closed" {
		t.Errorf("vote after lobby closed: got %v", err)
	}
}

func TestUnreadyClearsVote(t *testing.T) {
	g := newTestGame(t)
	a, _ := g.AddPlayer("alice", "", &mockClient{})

	g.HandleVote(a.ID, "L1")
	g.HandleReady(a.ID)
	g.HandleUnready(a.ID)

	g.mu.RLock()
	defer g.mu.RUnlock()
	p := g.players[a.ID]
	if p.Ready || p.VotedLevel != "" {
		t.Errorf("after unready: ready=%v vote=%q, want cleared", p.Ready, p.VotedLevel)
	}
}

func TestOnlyReadyVotesAreCounted(t *testing.T) {
	g := newTestGame(t)
	a, _ := g.AddPlayer("alice", "", &mockClient{})
	b, _ := g.AddPlayer("bob", "", &mockClient{})

	// Bob votes but never readies up; his vote must not outweigh Alice's.
	g.HandleVote(b.ID, "L1")
	g.HandleVote(a.ID, "L2")
	g.HandleReady(a.ID)

	g.mu.RLock()
	selected := g.selectedLevel
	g.mu.RUnlock()
	if selected != "L2" {
		t.Errorf("selected = %q, want L2 (only ready players' votes count)", selected)
	}
}

func TestRunIsIdempotentAndStops(t *testing.T) {
	lvl := buildLevel(t, nil)
	g, _, _ := newRunningGame(t, lvl, "alice", "bob")

	go g.Run()
	go g.Run() // second call is a no-op
	time.Sleep(100 * time.Millisecond)

	g.mu.RLock()
	tick := g.tick
	g.mu.RUnlock()
	if tick == 0 {
		t.Fatal("tick loop never advanced")
	}

	g.Stop()
	g.Stop() // stopping twice must not panic
	time.Sleep(50 * time.Millisecond)
	g.mu.RLock()
	stopped := g.tick
	g.mu.RUnlock()
	time.Sleep(50 * time.Millisecond)
	g.mu.RLock()
	after := g.tick
	g.mu.RUnlock()
	if after != stopped {
		t.Errorf("tick advanced after Stop: %d -> %d", stopped, after)
	}
}

func TestTickCounterAdvancesPerUpdate(t *testing.T) {
	lvl := buildLevel(t, nil)
	g, _, _ := newRunningGame(t, lvl, "alice", "bob")

	g.update()
	g.update()
	g.update()

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.tick != 3 {
		t.Errorf("tick = %d, want 3", g.tick)
	}
}

func TestDisconnectDuringMatchOpensRejoinWindow(t *testing.T) {
	lvl := buildLevel(t, nil)
	g, players, clients := newRunningGame(t, lvl, "alice", "bob")
	a := players["alice"]

	g.RemoveClient(a.ID)

	g.mu.RLock()
	if !a.Disconnected || a.RejoinDeadline.IsZero() {
		t.Error("mid-match disconnect did not open the rejoin window")
	}
	if _, still := g.players[a.ID]; !still {
		t.Error("disconnected player was removed from the match")
	}
	g.mu.RUnlock()
	if clients["bob"].count(MsgPlayerLeave) == 0 {
		t.Error("no playerLeave broadcast")
	}

	// Wrong nickname cannot steal the slot
	if _, err := g.Rejoin("mallory", a.ID, &mockClient{}); err == nil {
		t.Error("rejoin with wrong nickname accepted")
	}
	// The rightful owner reattaches
	if _, err := g.Rejoin("alice", a.ID, &mockClient{}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if a.Disconnected {
		t.Error("player still flagged disconnected after rejoin")
	}
}

func TestRejoinWindowExpiryKillsPlayer(t *testing.T) {
	lvl := buildLevel(t, nil)
	g, players, _ := newRunningGame(t, lvl, "alice", "bob", "carol")
	a := players["alice"]

	g.RemoveClient(a.ID)
	g.mu.Lock()
	a.RejoinDeadline = time.Now().Add(-time.Second)
	g.expireRejoinWindows(time.Now())
	g.mu.Unlock()

	if !a.IsDead {
		t.Fatal("expired player not marked dead")
	}
	if _, err := g.Rejoin("alice", a.ID, &mockClient{}); err == nil {
		t.Error("rejoin accepted after the window expired")
	}
}

func TestLobbyDisconnectRemovesPlayer(t *testing.T) {
	g := newTestGame(t)
	a, _ := g.AddPlayer("alice", "", &mockClient{})
	g.AddPlayer("bob", "", &mockClient{})

	g.RemoveClient(a.ID)
	if g.PlayerCount() != 1 {
		t.Errorf("player count = %d, want 1", g.PlayerCount())
	}
	// The same nickname is free again
	if _, err := g.AddPlayer("alice", "", &mockClient{}); err != nil {
		t.Errorf("nickname not released: %v", err)
	}
}

func TestLobbyDisconnectCanCompleteReadySet(t *testing.T) {
	g := newTestGame(t)
	a, _ := g.AddPlayer("alice", "", &mockClient{})
	b, _ := g.AddPlayer("bob", "", &mockClient{})
	c, _ := g.AddPlayer("carol", "", &mockClient{})

	g.HandleReady(a.ID)
	g.HandleReady(b.ID)
	if g.Status() != StatusWaiting {
		t.Fatal("started with an unready player present")
	}
	g.RemoveClient(c.ID)
	if g.Status() != StatusStarting {
		t.Errorf("status = %s, want starting once the unready player left", g.Status())
	}
	g.Stop()
}

func TestChatBroadcast(t *testing.T) {
	g := newTestGame(t)
	alice := &mockClient{}
	a, _ := g.AddPlayer("alice", "", alice)
	bob := &mockClient{}
	g.AddPlayer("bob", "", bob)

	g.HandleChat(a.ID, "  hello there  ")
	payload, ok := bob.last(MsgChat)
	if !ok {
		t.Fatal("chat not relayed")
	}
	var chat ChatBroadcast
	if err := json.Unmarshal(payload, &chat); err != nil {
		t.Fatal(err)
	}
	if chat.Message != "hello there" || chat.Nickname != "alice" {
		t.Errorf("chat = %+v", chat)
	}

	g.HandleChat(a.ID, "   ")
	if bob.count(MsgChat) != 1 {
		t.Error("blank chat line was relayed")
	}

	g.HandleChat(a.ID, strings.Repeat("x", 500))
	payload, _ = bob.last(MsgChat)
	json.Unmarshal(payload, &chat)
	if len(chat.Message) != maxChatLen {
		t.Errorf("long chat len = %d, want %d", len(chat.Message), maxChatLen)
	}
}

func TestSnapshotContents(t *testing.T) {
	lvl := buildLevel(t, func(rows [][]byte) {
		rows[5][6] = '-'
	})
	g, players, clients := newRunningGame(t, lvl, "alice", "bob")

	g.mu.Lock()
	g.broadcastSnapshotLocked()
	g.mu.Unlock()

	payload := clients["alice"].waitFor(t, MsgGameState, time.Second)
	var snap GameStateMsg
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.GameStatus != string(StatusRunning) {
		t.Errorf("gameStatus = %q", snap.GameStatus)
	}
	if len(snap.Players) != 2 {
		t.Fatalf("players = %d, want 2", len(snap.Players))
	}
	// Join order is preserved so spawn slots are stable
	if snap.Players[0].ID != players["alice"].ID {
		t.Error("players not in join order")
	}
	if len(snap.Grid) != LevelHeight || len(snap.Grid[0]) != LevelWidth {
		t.Errorf("grid = %dx%d", len(snap.Grid), len(snap.Grid[0]))
	}
	found := false
	for _, b := range snap.Blocks {
		if b == "6,5" {
			found = true
		}
	}
	if !found {
		t.Error("snapshot missing block 6,5")
	}
}

func TestBinarySnapshotGoesToOptedInClients(t *testing.T) {
	lvl := buildLevel(t, nil)
	g := NewGame(map[string]*Level{"test": lvl}, nil, nil)
	g.rng = rand.New(rand.NewSource(7))

	text := &mockClient{}
	bin := &mockClient{binary: true}
	g.AddPlayer("alice", "", text)
	g.AddPlayer("bob", "", bin)
	startRunning(t, g)

	g.mu.Lock()
	g.broadcastSnapshotLocked()
	g.mu.Unlock()

	if len(bin.frames) == 0 {
		t.Error("binary client received no msgpack frame")
	}
	if text.count(MsgGameState) == 0 {
		t.Error("text client received no JSON snapshot")
	}
}

func TestTickStopsAfterFatalDetonation(t *testing.T) {
	lvl := buildLevel(t, nil)
	g, players, clients := newRunningGame(t, lvl, "alice", "bob")

	victim := players["alice"]
	winner := players["bob"]
	g.mu.Lock()
	victim.Lives = 1
	wx, wy := winner.Cell()
	g.powerUps[CellKey(wx, wy)] = &PowerUp{
		Position: Position{X: float64(wx), Y: float64(wy)},
		Type:     PowerUpFlame,
	}
	g.lastTick = time.Now().Add(-100 * time.Millisecond)
	g.mu.Unlock()

	vx, vy := victim.Cell()
	plantBomb(g, winner, vx, vy, 1, 0.05)
	g.update()

	if g.Status() != StatusEnded {
		t.Fatalf("status = %s, want ended", g.Status())
	}
	if n := clients["bob"].count(MsgGameOver); n != 1 {
		t.Errorf("gameOver broadcasts = %d, want 1", n)
	}
	// The winner stands on a power-up, but the pickup must not happen in
	// the same tick that ended the match.
	if n := clients["bob"].count(MsgPowerUpCollected); n != 0 {
		t.Errorf("powerUpCollected broadcasts after gameOver = %d, want 0", n)
	}
	g.mu.RLock()
	_, still := g.powerUps[CellKey(wx, wy)]
	g.mu.RUnlock()
	if !still {
		t.Error("power-up consumed after the match ended")
	}
}
