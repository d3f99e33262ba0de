package main

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 120 // move samples arrive fast
	maxNicknameLen    = 16
)

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Session binding, guarded by sessionMu: written by the read pump on
	// join/rejoin and by the hub's match-reset timer.
	sessionMu sync.Mutex
	playerID  string
	nickname  string

	remoteAddr string
	binary     bool // msgpack snapshot frames
	msgCount   int
	msgResetAt time.Time
	// Auth state
	accountID    int64  // 0 = unauthenticated/guest
	authUsername string // "" = unauthenticated
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
	}
}

// session returns the bound player ID, empty until join
func (c *Client) session() string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.playerID
}

// bindSession attaches the client to a player
func (c *Client) bindSession(playerID, nickname string) {
	c.sessionMu.Lock()
	c.playerID = playerID
	c.nickname = nickname
	c.sessionMu.Unlock()
}

// resetSession detaches the client from its player binding (fresh lobby)
func (c *Client) resetSession() {
	c.bindSession("", "")
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// 0xFF marker from SendBinary distinguishes msgpack frames
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message. Non-blocking: a
// stalled client drops the message rather than delaying the game tick.
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message.
// Prefixes a 0xFF marker byte so WritePump can distinguish from text.
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

// PrefersBinary reports whether the client opted into msgpack snapshots
func (c *Client) PrefersBinary() bool {
	return c.binary
}

func (c *Client) sendError(message string) {
	c.SendJSON(Envelope{Type: MsgError, Payload: ErrorMsg{Message: message}})
}

// handleMessage routes incoming envelopes (single-pass decode via InEnvelope).
// Malformed JSON and unknown types are logged and ignored; the connection
// stays open and other clients are unaffected.
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}

	switch env.Type {
	case MsgJoin:
		c.handleJoin(env.Payload)
	case MsgRejoin:
		c.handleRejoin(env.Payload)
	case MsgReady:
		c.handleReady()
	case MsgUnready:
		c.handleUnready()
	case MsgVoteLevel:
		c.handleVoteLevel(env.Payload)
	case MsgMove:
		c.handleMove(env.Payload)
	case MsgBomb:
		c.handleBomb(env.Payload)
	case MsgChat:
		c.handleChat(env.Payload)
	case MsgRequestSync:
		c.handleRequestSync()
	case MsgRegister:
		c.handleRegister(env.Payload)
	case MsgLogin:
		c.handleLogin(env.Payload)
	case MsgAuth:
		c.handleAuth(env.Payload)
	case MsgProfile:
		c.handleProfile()
	default:
		log.Printf("unknown message type: %q", env.Type)
	}
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}
	if c.session() != "" {
		c.sendError("already joined")
		return
	}
	if len(msg.Nickname) > maxNicknameLen {
		msg.Nickname = msg.Nickname[:maxNicknameLen]
	}

	c.binary = msg.Binary
	player, err := c.hub.Game().AddPlayer(msg.Nickname, msg.SessionID, c)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.bindSession(player.ID, player.Nickname)
	if c.accountID != 0 {
		c.hub.Game().SetAccount(player.ID, c.accountID)
	}
}

func (c *Client) handleRejoin(data json.RawMessage) {
	var msg RejoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}
	if c.session() != "" {
		c.sendError("already joined")
		return
	}
	player, err := c.hub.Game().Rejoin(msg.Nickname, msg.PlayerID, c)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.bindSession(player.ID, player.Nickname)
}

func (c *Client) handleReady() {
	if id := c.session(); id != "" {
		c.hub.Game().HandleReady(id)
	}
}

func (c *Client) handleUnready() {
	if id := c.session(); id != "" {
		c.hub.Game().HandleUnready(id)
	}
}

func (c *Client) handleVoteLevel(data json.RawMessage) {
	id := c.session()
	if id == "" {
		return
	}
	var msg VoteLevelMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}
	if err := c.hub.Game().HandleVote(id, msg.Level); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handleMove(data json.RawMessage) {
	id := c.session()
	if id == "" {
		return
	}
	var msg MoveMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}
	c.hub.Game().QueueMove(id, msg.Position, msg.Timestamp)
}

func (c *Client) handleBomb(data json.RawMessage) {
	id := c.session()
	if id == "" {
		return
	}
	var msg BombMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}
	c.hub.Game().PlaceBomb(id, msg.Position)
}

func (c *Client) handleChat(data json.RawMessage) {
	id := c.session()
	if id == "" {
		return
	}
	var msg ChatMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}
	c.hub.Game().HandleChat(id, msg.Message)
}

func (c *Client) handleRequestSync() {
	id := c.session()
	if id == "" {
		// Not joined yet; still useful for lobby screens
		c.SendJSON(c.hub.Game().SnapshotEnvelope())
		return
	}
	c.hub.Game().SendSync(id)
}

func (c *Client) handleRegister(data json.RawMessage) {
	if c.hub.auth == nil {
		c.sendError("accounts are disabled")
		return
	}
	var msg RegisterMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.setAccount(id, msg.Username)
	c.SendJSON(Envelope{Type: MsgAuthOK, Payload: AuthOKMsg{
		Token:    token,
		Username: msg.Username,
		PlayerID: id,
	}})
}

func (c *Client) handleLogin(data json.RawMessage) {
	if c.hub.auth == nil {
		c.sendError("accounts are disabled")
		return
	}
	var msg LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.setAccount(id, msg.Username)
	c.SendJSON(Envelope{Type: MsgAuthOK, Payload: AuthOKMsg{
		Token:    token,
		Username: msg.Username,
		PlayerID: id,
	}})
}

func (c *Client) handleAuth(data json.RawMessage) {
	if c.hub.auth == nil {
		c.sendError("accounts are disabled")
		return
	}
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, username, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.sendError("invalid token")
		return
	}
	c.setAccount(id, username)
	c.SendJSON(Envelope{Type: MsgAuthOK, Payload: AuthOKMsg{
		Token:    msg.Token,
		Username: username,
		PlayerID: id,
	}})
}

func (c *Client) setAccount(id int64, username string) {
	c.accountID = id
	c.authUsername = username
	if playerID := c.session(); playerID != "" {
		c.hub.Game().SetAccount(playerID, id)
	}
}

func (c *Client) handleProfile() {
	if c.hub.db == nil || c.accountID == 0 {
		c.sendError("not authenticated")
		return
	}
	stats, err := c.hub.db.GetAccountStats(c.accountID)
	if err != nil || stats == nil {
		c.sendError("profile not found")
		return
	}
	c.SendJSON(Envelope{Type: MsgProfileData, Payload: ProfileDataMsg{
		Username: c.authUsername,
		Wins:     stats.Wins,
		Kills:    stats.Kills,
		Deaths:   stats.Deaths,
		PowerUps: stats.PowerUps,
		Matches:  stats.Matches,
	}})
}
