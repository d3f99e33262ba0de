package main

import (
	"embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	LevelWidth  = 15
	LevelHeight = 13
	MaxPlayers  = 4
)

//go:embed levels/*.txt
var embeddedLevels embed.FS

// Level is the static per-match terrain: indestructible walls, the initial
// destructible block layout, and the four spawn cells.
type Level struct {
	Name   string
	Width  int
	Height int

	walls  [][]bool
	blocks map[string]bool
	spawns [MaxPlayers]Position
	rows   []string // normalized static grid ('*' walls, ' ' otherwise)
}

// ParseLevel parses the plain-text level format: one row per line, '*' wall,
// '-' destructible block, digits 1-4 spawn markers, space empty. Unrecognized
// characters are treated as empty with a warning. Border cells are always
// walls regardless of the file content.
func ParseLevel(name, text string) (*Level, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) != LevelHeight {
		return nil, fmt.Errorf("level %s: expected %d rows, got %d", name, LevelHeight, len(lines))
	}

	lvl := &Level{
		Name:   name,
		Width:  LevelWidth,
		Height: LevelHeight,
		blocks: make(map[string]bool),
	}
	// Default spawns are the classic corners; digit markers override them.
	lvl.spawns = [MaxPlayers]Position{
		{X: 1, Y: 1},
		{X: float64(LevelWidth - 2), Y: 1},
		{X: 1, Y: float64(LevelHeight - 2)},
		{X: float64(LevelWidth - 2), Y: float64(LevelHeight - 2)},
	}

	lvl.walls = make([][]bool, LevelHeight)
	lvl.rows = make([]string, LevelHeight)
	for y := 0; y < LevelHeight; y++ {
		line := lines[y]
		if len(line) > LevelWidth {
			line = line[:LevelWidth]
		}
		for len(line) < LevelWidth {
			line += " "
		}
		lvl.walls[y] = make([]bool, LevelWidth)
		row := make([]byte, LevelWidth)
		for x := 0; x < LevelWidth; x++ {
			border := x == 0 || x == LevelWidth-1 || y == 0 || y == LevelHeight-1
			ch := line[x]
			row[x] = ' '
			switch {
			case border || ch == '*':
				lvl.walls[y][x] = true
				row[x] = '*'
			case ch == '-':
				lvl.blocks[CellKey(x, y)] = true
			case ch >= '1' && ch <= '4':
				lvl.spawns[ch-'1'] = Position{X: float64(x), Y: float64(y)}
			case ch == ' ':
			default:
				log.Printf("level %s: unrecognized character %q at %d,%d, treating as empty", name, ch, x, y)
			}
		}
		lvl.rows[y] = string(row)
	}
	return lvl, nil
}

// InBounds reports whether the cell lies inside the grid
func (l *Level) InBounds(x, y int) bool {
	return x >= 0 && x < l.Width && y >= 0 && y < l.Height
}

// IsWall reports whether the cell is an indestructible wall.
// Out-of-bounds cells count as walls.
func (l *Level) IsWall(x, y int) bool {
	if !l.InBounds(x, y) {
		return true
	}
	return l.walls[y][x]
}

// Spawn returns the spawn position for player slot i (0-3)
func (l *Level) Spawn(i int) Position {
	return l.spawns[i%MaxPlayers]
}

// InitialBlocks returns a fresh copy of the destructible block set
func (l *Level) InitialBlocks() map[string]bool {
	blocks := make(map[string]bool, len(l.blocks))
	for k := range l.blocks {
		blocks[k] = true
	}
	return blocks
}

// Rows returns the static terrain rows for snapshot payloads
func (l *Level) Rows() []string {
	return l.rows
}

// LoadLevels loads all levels from dir, or the embedded set when dir is
// empty. Unparseable files are skipped with a warning.
func LoadLevels(dir string) (map[string]*Level, error) {
	levels := make(map[string]*Level)

	readFile := func(name string, data []byte) {
		base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		lvl, err := ParseLevel(base, string(data))
		if err != nil {
			log.Printf("skipping level file %s: %v", name, err)
			return
		}
		levels[base] = lvl
	}

	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, err
			}
			readFile(e.Name(), data)
		}
	} else {
		entries, err := embeddedLevels.ReadDir("levels")
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			data, err := embeddedLevels.ReadFile("levels/" + e.Name())
			if err != nil {
				return nil, err
			}
			readFile(e.Name(), data)
		}
	}

	if len(levels) == 0 {
		return nil, fmt.Errorf("no playable levels found")
	}
	return levels, nil
}

// LevelNames returns the sorted level identifiers
func LevelNames(levels map[string]*Level) []string {
	names := make([]string, 0, len(levels))
	for name := range levels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
