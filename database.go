package main

import (
	"database/sql"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// AccountRow represents a registered account
type AccountRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// AccountStatsRow represents lifetime account stats
type AccountStatsRow struct {
	AccountID int64
	Wins      int
	Kills     int
	Deaths    int
	PowerUps  int
	Matches   int
}

// MatchResult is one completed match ready for persistence
type MatchResult struct {
	MatchID        string
	Level          string
	Duration       float64
	WinnerID       string
	WinnerNickname string
	Players        []MatchPlayerResult
}

// MatchPlayerResult is one player's line in a match result
type MatchPlayerResult struct {
	PlayerID          string
	Nickname          string
	AccountID         int64 // 0 = guest
	KillCount         int
	PowerUpsCollected int
	BombsPlaced       int
	Died              bool
	Won               bool
}

// LeaderboardEntry is one row of the public leaderboard
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Wins     int    `json:"wins"`
	Kills    int    `json:"kills"`
	Deaths   int    `json:"deaths"`
	Matches  int    `json:"matches"`
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL for better concurrency between the game loop and analytics writer
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS account_stats (
		account_id INTEGER PRIMARY KEY REFERENCES accounts(id),
		wins INTEGER NOT NULL DEFAULT 0,
		kills INTEGER NOT NULL DEFAULT 0,
		deaths INTEGER NOT NULL DEFAULT 0,
		powerups INTEGER NOT NULL DEFAULT 0,
		matches INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS matches (
		id TEXT PRIMARY KEY,
		level TEXT NOT NULL DEFAULT '',
		duration REAL NOT NULL DEFAULT 0,
		winner_id TEXT NOT NULL DEFAULT '',
		winner_nickname TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS match_players (
		match_id TEXT NOT NULL REFERENCES matches(id),
		player_id TEXT NOT NULL,
		nickname TEXT NOT NULL DEFAULT '',
		account_id INTEGER,
		kills INTEGER NOT NULL DEFAULT 0,
		powerups INTEGER NOT NULL DEFAULT 0,
		bombs INTEGER NOT NULL DEFAULT 0,
		died INTEGER NOT NULL DEFAULT 0,
		won INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (match_id, player_id)
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		account_id INTEGER,
		match_id TEXT,
		data TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_match_players_account ON match_players(account_id);
	CREATE INDEX IF NOT EXISTS idx_analytics_created ON analytics_events(created_at);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// CreateAccount creates a new account with its stats row (returns account ID)
func (db *DB) CreateAccount(username, passHash string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO accounts (username, pass_hash) VALUES (?, ?)",
		username, passHash,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	_, err = db.conn.Exec("INSERT INTO account_stats (account_id) VALUES (?)", id)
	return id, err
}

// GetAccountByUsername returns an account by username, nil if absent
func (db *DB) GetAccountByUsername(username string) (*AccountRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM accounts WHERE username = ?",
		username,
	)
	a := &AccountRow{}
	err := row.Scan(&a.ID, &a.Username, &a.PassHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// UsernameExists reports whether the username is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM accounts WHERE username = ?", username).Scan(&n)
	return n > 0, err
}

// GetAccountStats returns lifetime stats, nil if absent
func (db *DB) GetAccountStats(accountID int64) (*AccountStatsRow, error) {
	row := db.conn.QueryRow(
		"SELECT account_id, wins, kills, deaths, powerups, matches FROM account_stats WHERE account_id = ?",
		accountID,
	)
	s := &AccountStatsRow{}
	err := row.Scan(&s.AccountID, &s.Wins, &s.Kills, &s.Deaths, &s.PowerUps, &s.Matches)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// RecordMatch persists a completed match and folds per-player results into
// lifetime account stats for non-guest players.
func (db *DB) RecordMatch(result *MatchResult) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO matches (id, level, duration, winner_id, winner_nickname) VALUES (?, ?, ?, ?, ?)",
		result.MatchID, result.Level, result.Duration, result.WinnerID, result.WinnerNickname,
	)
	if err != nil {
		return err
	}

	for _, p := range result.Players {
		acct := sql.NullInt64{Int64: p.AccountID, Valid: p.AccountID > 0}
		_, err = tx.Exec(
			`INSERT INTO match_players (match_id, player_id, nickname, account_id, kills, powerups, bombs, died, won)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.MatchID, p.PlayerID, p.Nickname, acct,
			p.KillCount, p.PowerUpsCollected, p.BombsPlaced, boolInt(p.Died), boolInt(p.Won),
		)
		if err != nil {
			return err
		}
		if p.AccountID > 0 {
			_, err = tx.Exec(
				`UPDATE account_stats SET
					wins = wins + ?,
					kills = kills + ?,
					deaths = deaths + ?,
					powerups = powerups + ?,
					matches = matches + 1
				 WHERE account_id = ?`,
				boolInt(p.Won), p.KillCount, boolInt(p.Died), p.PowerUpsCollected, p.AccountID,
			)
			if err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// GetLeaderboard returns top accounts sorted by the given field
func (db *DB) GetLeaderboard(orderBy string, limit int) ([]LeaderboardEntry, error) {
	// Whitelist valid order columns
	validCols := map[string]string{
		"wins": "s.wins", "kills": "s.kills", "matches": "s.matches",
	}
	col, ok := validCols[orderBy]
	if !ok {
		col = "s.wins"
	}

	query := `SELECT a.username, s.wins, s.kills, s.deaths, s.matches
		FROM account_stats s JOIN accounts a ON a.id = s.account_id
		ORDER BY ` + col + ` DESC, a.username ASC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Wins, &e.Kills, &e.Deaths, &e.Matches); err != nil {
			return nil, err
		}
		e.Rank = rank
		rank++
		result = append(result, e)
	}
	return result, rows.Err()
}

// GetSetting returns a settings value, empty string if absent
func (db *DB) GetSetting(key string) string {
	var value string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return ""
	}
	return value
}

// SetSetting upserts a settings value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
