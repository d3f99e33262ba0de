package main

import "time"

const (
	StartLives      = 3
	StartSpeed      = 1.0 // cells per second
	StartMaxBombs   = 1
	StartFlameRange = 1

	MaxBombCap   = 8
	FlameCap     = 8
	SpeedCap     = 2.5
	SpeedStep    = 0.2
	RejoinWindow = 5 * time.Second
)

// PendingMove is one queued client position sample
type PendingMove struct {
	Position  Position
	Timestamp int64 // client clock, unix ms
}

// Player is the authoritative per-player state. Owned exclusively by the
// Game; created on join, mutated only under the game lock.
type Player struct {
	ID       string
	Nickname string
	Position Position

	Lives       int
	Speed       float64
	MaxBombs    int
	ActiveBombs int
	FlameRange  int
	IsDead      bool

	Ready      bool
	VotedLevel string

	KillCount         int
	PowerUpsCollected int
	BombsPlaced       int

	PendingMoves      []PendingMove
	LastMoveTimestamp int64

	// Zero unless the client dropped mid-match; the player is removed from
	// play when the deadline passes without a rejoin.
	Disconnected   bool
	RejoinDeadline time.Time

	AccountID int64 // 0 = guest
}

// NewPlayer creates a player at the given spawn position
func NewPlayer(id, nickname string, spawn Position) *Player {
	return &Player{
		ID:         id,
		Nickname:   nickname,
		Position:   spawn,
		Lives:      StartLives,
		Speed:      StartSpeed,
		MaxBombs:   StartMaxBombs,
		FlameRange: StartFlameRange,
	}
}

// Cell returns the player's current grid cell
func (p *Player) Cell() (int, int) {
	return p.Position.Cell()
}

// TakeHit removes one life and returns true if the player died from it
func (p *Player) TakeHit() bool {
	if p.IsDead {
		return false
	}
	p.Lives--
	if p.Lives <= 0 {
		p.Lives = 0
		p.IsDead = true
		return true
	}
	return false
}

// ResetForMatch clears transient state when the simulation starts
func (p *Player) ResetForMatch(spawn Position) {
	p.Position = spawn
	p.Lives = StartLives
	p.Speed = StartSpeed
	p.MaxBombs = StartMaxBombs
	p.ActiveBombs = 0
	p.FlameRange = StartFlameRange
	p.IsDead = false
	p.KillCount = 0
	p.PowerUpsCollected = 0
	p.BombsPlaced = 0
	p.PendingMoves = nil
	p.LastMoveTimestamp = 0
}

// Stats returns the power-up stat block for broadcasts
func (p *Player) Stats() PowerUpStats {
	return PowerUpStats{
		MaxBombs:   p.MaxBombs,
		FlameRange: p.FlameRange,
		Speed:      p.Speed,
	}
}

// FinalStats returns the end-of-match stat line
func (p *Player) FinalStats() PlayerFinalStats {
	return PlayerFinalStats{
		PlayerID:          p.ID,
		Nickname:          p.Nickname,
		KillCount:         p.KillCount,
		PowerUpsCollected: p.PowerUpsCollected,
		BombsPlaced:       p.BombsPlaced,
	}
}

// ToState converts to protocol state
func (p *Player) ToState() PlayerState {
	return PlayerState{
		ID:                p.ID,
		Nickname:          p.Nickname,
		Position:          p.Position,
		Lives:             p.Lives,
		Speed:             p.Speed,
		MaxBombs:          p.MaxBombs,
		ActiveBombs:       p.ActiveBombs,
		FlameRange:        p.FlameRange,
		IsDead:            p.IsDead,
		Ready:             p.Ready,
		KillCount:         p.KillCount,
		PowerUpsCollected: p.PowerUpsCollected,
		Disconnected:      p.Disconnected,
	}
}
