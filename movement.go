package main

import "time"

const (
	// MoveTolerance gives 50% slack over the player's speed budget so
	// legitimate network jitter passes while gross teleports are rejected.
	MoveTolerance = 1.5

	// Stale client timestamps never buy more than one second of travel.
	maxMoveWindowMs = 1000
)

// QueueMove appends a client move intent to the player's FIFO queue. Moves
// are never applied inline; the tick loop drains them so per-player ordering
// survives concurrent inbound I/O.
func (g *Game) QueueMove(playerID string, pos Position, timestamp int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusRunning {
		return
	}
	p, ok := g.players[playerID]
	if !ok || p.IsDead {
		return
	}
	p.PendingMoves = append(p.PendingMoves, PendingMove{Position: pos, Timestamp: timestamp})
}

// drainMoves reconciles every queued move in FIFO order. Rejected moves keep
// the authoritative position and trigger a unicast forcePosition correction.
func (g *Game) drainMoves(now time.Time) {
	nowMs := now.UnixMilli()
	for _, p := range g.players {
		if len(p.PendingMoves) == 0 {
			continue
		}
		moves := p.PendingMoves
		p.PendingMoves = nil
		if p.IsDead {
			continue
		}
		corrected := false
		for _, m := range moves {
			if g.acceptMove(p, m, nowMs) {
				p.Position = m.Position
				p.LastMoveTimestamp = m.Timestamp
			} else {
				corrected = true
			}
		}
		if corrected {
			g.sendTo(p.ID, Envelope{Type: MsgForcePosition, Payload: ForcePositionMsg{
				Position:  p.Position,
				Timestamp: nowMs,
			}})
		}
	}
}

// acceptMove applies the distance/time plausibility bound. This is a coarse
// check, not collision raytracing: it only rejects out-of-grid targets, wall
// cells, and displacements that exceed speed * elapsed * tolerance.
func (g *Game) acceptMove(p *Player, m PendingMove, nowMs int64) bool {
	x, y := m.Position.Cell()
	if !g.level.InBounds(x, y) || g.level.IsWall(x, y) {
		return false
	}
	elapsed := nowMs - m.Timestamp
	if elapsed < 0 {
		return false
	}
	if elapsed > maxMoveWindowMs {
		elapsed = maxMoveWindowMs
	}
	maxAllowed := p.Speed * float64(elapsed) / 1000.0 * MoveTolerance
	dist := Distance(p.Position.X, p.Position.Y, m.Position.X, m.Position.Y)
	return dist <= maxAllowed
}
