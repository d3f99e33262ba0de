package main

import (
	"sort"
	"time"
)

const (
	BombFuseSeconds   = 3.0
	ChainDelaySeconds = 0.1
)

// Bomb is an armed bomb on an integer cell. TimeRemaining is advanced by the
// tick loop; a blast covering the cell clamps it to the chain delay instead
// of detonating re-entrantly.
type Bomb struct {
	ID            string
	Position      Position
	OwnerID       string
	Range         int
	TimeRemaining float64
	Chained       bool
}

// ToState converts to protocol state
func (b *Bomb) ToState() BombState {
	return BombState{
		ID:            b.ID,
		Position:      b.Position,
		OwnerID:       b.OwnerID,
		Range:         b.Range,
		TimeRemaining: b.TimeRemaining,
	}
}

// tickBombs advances all fuses by dt and detonates the expired ones.
// Chain reactions only shorten fuses, so a single tick's work is bounded by
// the number of bombs that were already due when it started.
func (g *Game) tickBombs(dt float64) {
	due := make([]*Bomb, 0)
	for _, b := range g.bombs {
		b.TimeRemaining -= dt
		if b.TimeRemaining <= 0 {
			due = append(due, b)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	for _, b := range due {
		g.detonate(b)
	}
}

// detonate resolves one explosion: blast area, block destruction, power-up
// rolls, player damage, chain scheduling. Always followed by a win check.
func (g *Game) detonate(b *Bomb) {
	if _, ok := g.bombs[b.ID]; !ok {
		return
	}
	delete(g.bombs, b.ID)
	if owner, ok := g.players[b.OwnerID]; ok && owner.ActiveBombs > 0 {
		owner.ActiveBombs--
	}

	bx, by := b.Position.Cell()
	affected := []Position{b.Position}
	destroyed := []string{}
	spawned := []*PowerUp{}

	dirs := [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	for _, d := range dirs {
		for dist := 1; dist <= b.Range; dist++ {
			x := bx + d[0]*dist
			y := by + d[1]*dist
			if g.level.IsWall(x, y) {
				break
			}
			cell := Position{X: float64(x), Y: float64(y)}
			key := CellKey(x, y)
			affected = append(affected, cell)

			if g.blocks[key] {
				delete(g.blocks, key)
				destroyed = append(destroyed, key)
				delete(g.powerUps, key)
				if g.rng.Float64() < g.powerUpChance {
					pu := &PowerUp{Position: cell, Type: powerUpTypes[g.rng.Intn(len(powerUpTypes))]}
					g.powerUps[key] = pu
					spawned = append(spawned, pu)
				}
				break
			}
			// Blast wipes out any exposed power-up it crosses
			delete(g.powerUps, key)
		}
	}

	// Chain reactions: clamp covered fuses to the chain delay, never detonate
	// inline. The delay keeps cascades visible and bounds per-tick work.
	chain := false
	for _, cell := range affected {
		for _, other := range g.bombs {
			if other.Position == cell {
				chain = true
				if other.TimeRemaining > ChainDelaySeconds {
					other.TimeRemaining = ChainDelaySeconds
				}
				other.Chained = true
			}
		}
	}

	// Player damage. A disconnected owner still gets kill credit; the
	// bookkeeping survives even though no message reaches that client.
	affectedSet := make(map[string]bool, len(affected))
	for _, cell := range affected {
		x, y := cell.Cell()
		affectedSet[CellKey(x, y)] = true
	}
	hit := []string{}
	for _, p := range g.players {
		if p.IsDead {
			continue
		}
		px, py := p.Cell()
		if !affectedSet[CellKey(px, py)] {
			continue
		}
		hit = append(hit, p.ID)
		if p.TakeHit() && b.OwnerID != p.ID {
			if owner, ok := g.players[b.OwnerID]; ok {
				owner.KillCount++
				g.trackEvent(EvtPlayerKill, owner.AccountID, owner.ID)
			}
			g.trackEvent(EvtPlayerDeath, p.AccountID, p.ID)
		}
	}
	sort.Strings(hit)

	g.broadcast(Envelope{Type: MsgBombExplosion, Payload: BombExplosionMsg{
		BombID:            b.ID,
		AffectedPositions: affected,
		DestroyedBlocks:   destroyed,
		AffectedPlayers:   hit,
		ChainReaction:     chain,
		Timestamp:         time.Now().UnixMilli(),
	}})
	for _, pu := range spawned {
		g.broadcast(Envelope{Type: MsgPowerUpSpawned, Payload: PowerUpSpawnedMsg{
			Position: pu.Position,
			Type:     pu.Type,
		}})
	}

	g.checkWinCondition()
}
