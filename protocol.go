package main

import "encoding/json"

// Client -> Server message types
const (
	MsgJoin        = "join"
	MsgReady       = "ready"
	MsgUnready     = "unready"
	MsgVoteLevel   = "voteLevel"
	MsgMove        = "move"
	MsgBomb        = "bomb"
	MsgChat        = "chat"
	MsgRequestSync = "requestSync"
	MsgRejoin      = "rejoin"
	MsgRegister    = "register"
	MsgLogin       = "login"
	MsgAuth        = "auth"
	MsgProfile     = "profile"
)

// Server -> Client message types
const (
	MsgGameState        = "gameState"
	MsgPlayerJoined     = "playerJoined"
	MsgPlayerLeave      = "playerLeave"
	MsgPlayerReady      = "playerReady"
	MsgPlayerUnready    = "playerUnready"
	MsgLevelVoted       = "levelVoted"
	MsgLevelSelected    = "levelSelected"
	MsgGameStarting     = "gameStarting"
	MsgGameStarted      = "gameStarted"
	MsgBombPlaced       = "bombPlaced"
	MsgBombExplosion    = "bombExplosion"
	MsgPowerUpSpawned   = "powerUpSpawned"
	MsgPowerUpCollected = "powerUpCollected"
	MsgForcePosition    = "forcePosition"
	MsgGameOver         = "gameOver"
	MsgError            = "error"
	MsgAuthOK           = "authOk"
	MsgProfileData      = "profileData"
)

// Envelope wraps all outgoing messages
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// InEnvelope is used for incoming messages — json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Position is a continuous 2D coordinate in grid units
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Cell returns the integer grid cell containing the position
func (p Position) Cell() (int, int) {
	return int(p.X), int(p.Y)
}

// JoinMsg requests entry into the lobby. SessionID is the client-generated
// stable identifier that becomes the player ID. Binary opts the client into
// msgpack snapshot frames.
type JoinMsg struct {
	Nickname  string `json:"nickname"`
	SessionID string `json:"sessionId"`
	Binary    bool   `json:"binary,omitempty"`
}

// RejoinMsg reattaches a disconnected client to its player
type RejoinMsg struct {
	Nickname string `json:"nickname"`
	PlayerID string `json:"playerId"`
}

// VoteLevelMsg casts a level vote
type VoteLevelMsg struct {
	Level    string `json:"level"`
	Nickname string `json:"nickname,omitempty"`
}

// MoveMsg reports a client position sample
type MoveMsg struct {
	Position  Position `json:"position"`
	Timestamp int64    `json:"timestamp"` // client clock, unix ms
}

// BombMsg requests a bomb placement
type BombMsg struct {
	Position Position `json:"position"`
}

// ChatMsg carries a lobby/in-game chat line
type ChatMsg struct {
	Message string `json:"message"`
}

// RegisterMsg creates an account
type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginMsg authenticates with credentials
type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthMsg authenticates with a previously issued token
type AuthMsg struct {
	Token string `json:"token"`
}

// PlayerState is the per-player slice of a snapshot
type PlayerState struct {
	ID                string   `json:"id"`
	Nickname          string   `json:"nickname"`
	Position          Position `json:"position"`
	Lives             int      `json:"lives"`
	Speed             float64  `json:"speed"`
	MaxBombs          int      `json:"maxBombs"`
	ActiveBombs       int      `json:"activeBombs"`
	FlameRange        int      `json:"flameRange"`
	IsDead            bool     `json:"isDead"`
	Ready             bool     `json:"ready"`
	KillCount         int      `json:"killCount"`
	PowerUpsCollected int      `json:"powerUpsCollected"`
	Disconnected      bool     `json:"disconnected,omitempty"`
}

// BombState is the per-bomb slice of a snapshot
type BombState struct {
	ID            string   `json:"id"`
	Position      Position `json:"position"`
	OwnerID       string   `json:"playerId"`
	Range         int      `json:"range"`
	TimeRemaining float64  `json:"timeRemaining"`
}

// PowerUpState is the per-power-up slice of a snapshot
type PowerUpState struct {
	Position Position `json:"position"`
	Type     string   `json:"type"`
}

// GameStateMsg is the full authoritative snapshot
type GameStateMsg struct {
	Players       []PlayerState     `json:"players"`
	ReadyPlayers  []string          `json:"readyPlayers"`
	LevelVotes    map[string]string `json:"levelVotes"`
	SelectedLevel string            `json:"selectedLevel,omitempty"`
	GameStatus    string            `json:"gameStatus"`
	Blocks        []string          `json:"blocks"`
	Grid          []string          `json:"grid,omitempty"`
	Bombs         []BombState       `json:"bombs"`
	PowerUps      []PowerUpState    `json:"powerUps"`
	Tick          uint64            `json:"tick"`
	Timestamp     int64             `json:"timestamp"`
}

// PlayerJoinedMsg announces a new (or rejoined) player
type PlayerJoinedMsg struct {
	Player      PlayerState `json:"player"`
	PlayerCount int         `json:"playerCount"`
}

// PlayerLeaveMsg announces a departure
type PlayerLeaveMsg struct {
	PlayerID    string `json:"playerId"`
	PlayerCount int    `json:"playerCount"`
}

// PlayerReadyMsg announces a ready/unready toggle
type PlayerReadyMsg struct {
	PlayerID string `json:"playerId"`
}

// LevelVotedMsg announces a cast vote
type LevelVotedMsg struct {
	PlayerID string `json:"playerId"`
	Level    string `json:"level"`
}

// LevelSelectedMsg announces the resolved level
type LevelSelectedMsg struct {
	Level string `json:"level"`
}

// GameStartingMsg carries one countdown step
type GameStartingMsg struct {
	Countdown int `json:"countdown"`
}

// GameStartedMsg announces the transition to running
type GameStartedMsg struct {
	Level string `json:"level"`
}

// BombPlacedMsg announces an accepted bomb placement
type BombPlacedMsg struct {
	Bomb BombState `json:"bomb"`
}

// BombExplosionMsg announces one detonation and its effects
type BombExplosionMsg struct {
	BombID            string     `json:"bombId"`
	AffectedPositions []Position `json:"affectedPositions"`
	DestroyedBlocks   []string   `json:"destroyedBlocks"`
	AffectedPlayers   []string   `json:"affectedPlayers"`
	ChainReaction     bool       `json:"chainReaction"`
	Timestamp         int64      `json:"timestamp"`
}

// PowerUpSpawnedMsg announces a power-up dropped by a destroyed block
type PowerUpSpawnedMsg struct {
	Position Position `json:"position"`
	Type     string   `json:"type"`
}

// PowerUpStats is the stat block sent after a collection
type PowerUpStats struct {
	MaxBombs   int     `json:"maxBombs"`
	FlameRange int     `json:"flameRange"`
	Speed      float64 `json:"speed"`
}

// PowerUpCollectedMsg announces a pickup
type PowerUpCollectedMsg struct {
	PlayerID string       `json:"playerId"`
	Type     string       `json:"type"`
	Stats    PowerUpStats `json:"stats"`
}

// ForcePositionMsg is the unicast correction for an implausible move
type ForcePositionMsg struct {
	Position  Position `json:"position"`
	Timestamp int64    `json:"timestamp"`
}

// PlayerFinalStats is the per-player entry in the game-over report
type PlayerFinalStats struct {
	PlayerID          string `json:"playerId"`
	Nickname          string `json:"nickname"`
	KillCount         int    `json:"killCount"`
	PowerUpsCollected int    `json:"powerUpsCollected"`
	BombsPlaced       int    `json:"bombsPlaced"`
}

// GameOverMsg names the winner (nil when nobody survived)
type GameOverMsg struct {
	Winner *PlayerFinalStats  `json:"winner"`
	Stats  []PlayerFinalStats `json:"stats"`
}

// ChatBroadcast relays a chat line to the session
type ChatBroadcast struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Message  string `json:"message"`
}

// ErrorMsg sends a validation error to the offending client only
type ErrorMsg struct {
	Message string `json:"message"`
}

// AuthOKMsg confirms register/login/token auth
type AuthOKMsg struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	PlayerID int64  `json:"playerId"`
}

// ProfileDataMsg carries lifetime account stats
type ProfileDataMsg struct {
	Username string `json:"username"`
	Wins     int    `json:"wins"`
	Kills    int    `json:"kills"`
	Deaths   int    `json:"deaths"`
	PowerUps int    `json:"powerUps"`
	Matches  int    `json:"matches"`
}
