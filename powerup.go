package main

// Power-up types
const (
	PowerUpBomb  = "bomb"
	PowerUpFlame = "flame"
	PowerUpSpeed = "speed"
)

// PowerUpSpawnChance is the probability that a destroyed block drops one
const PowerUpSpawnChance = 0.3

var powerUpTypes = []string{PowerUpBomb, PowerUpFlame, PowerUpSpeed}

// PowerUp sits on a cell until collected or blown away
type PowerUp struct {
	Position Position
	Type     string
}

// ToState converts to protocol state
func (pu *PowerUp) ToState() PowerUpState {
	return PowerUpState{Position: pu.Position, Type: pu.Type}
}

// ApplyPowerUp applies the effect to the player, respecting stat caps,
// and increments the collection counter.
func ApplyPowerUp(p *Player, typ string) {
	switch typ {
	case PowerUpBomb:
		if p.MaxBombs < MaxBombCap {
			p.MaxBombs++
		}
	case PowerUpFlame:
		if p.FlameRange < FlameCap {
			p.FlameRange++
		}
	case PowerUpSpeed:
		p.Speed = Clamp(p.Speed+SpeedStep, StartSpeed, SpeedCap)
	default:
		return
	}
	p.PowerUpsCollected++
}
