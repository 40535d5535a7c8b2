package main

import (
	"crypto/rand"
	"sync"
	"time"
)

// Player is one participant in a room. ID is the connection identifier,
// stable for the lifetime of the websocket.
type Player struct {
	ID    string
	Name  string
	Score int
}

// Room is one in-progress trivia match. Players are kept in join order;
// the first entry is always the host's at creation time.
type Room struct {
	ID       string
	HostID   string
	Players  []Player
	Capacity int
	Ready    bool

	mu         sync.Mutex
	createdAt  time.Time
	lastActive time.Time
}

// Touch records activity, deferring the idle reaper.
func (rm *Room) Touch() {
	rm.mu.Lock()
	rm.lastActive = time.Now()
	rm.mu.Unlock()
}

func (rm *Room) idleSince() time.Time {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.lastActive
}

// FindPlayer returns the player with the given connection ID, or nil.
func (rm *Room) FindPlayer(id string) *Player {
	for i := range rm.Players {
		if rm.Players[i].ID == id {
			return &rm.Players[i]
		}
	}
	return nil
}

// RemovePlayer drops the player with the given connection ID, preserving
// join order, and reports whether anything changed.
func (rm *Room) RemovePlayer(id string) bool {
	dst := rm.Players[:0]
	changed := false
	for _, p := range rm.Players {
		if p.ID == id {
			changed = true
			continue
		}
		dst = append(dst, p)
	}
	rm.Players = dst
	return changed
}

// Leader returns the maximum-score player, ties broken by join order.
// Returns nil for an empty room.
func (rm *Room) Leader() *Player {
	var leader *Player
	for i := range rm.Players {
		if leader == nil || rm.Players[i].Score > leader.Score {
			leader = &rm.Players[i]
		}
	}
	return leader
}

// Registry owns every live room, keyed by game ID. IDs are unique among
// live rooms for as long as the room is registered.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func newRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

// CreateRoom constructs a room with a fresh ID and the host as its sole
// player, stores it, and returns it.
func (g *Registry) CreateRoom(hostID, hostName string, capacity int) *Room {
	now := time.Now()
	room := &Room{
		HostID:     hostID,
		Players:    []Player{{ID: hostID, Name: hostName}},
		Capacity:   capacity,
		createdAt:  now,
		lastActive: now,
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	room.ID = g.newGameIDLocked()
	g.rooms[room.ID] = room

	return room
}

// GetRoom looks up a room by ID. A missing ID is an expected outcome.
func (g *Registry) GetRoom(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[id]
	return room, ok
}

// RemoveRoom deletes a room. Removing an absent ID is a no-op.
func (g *Registry) RemoveRoom(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.rooms, id)
}

// NewGameID generates a crypto-random game ID that does not collide with
// any live room.
func (g *Registry) NewGameID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.newGameIDLocked()
}

func (g *Registry) newGameIDLocked() string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 6)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 6)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		if _, exists := g.rooms[id]; !exists {
			return id
		}
	}
}

// reaperLoop periodically removes rooms that have been idle longer than
// idleTimeout. Rooms normally disappear when their last player leaves;
// this catches the ones that never do.
func (g *Registry) reaperLoop(cfg *Config, idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout / 2)
	for range ticker.C {
		g.reapIdle(cfg, idleTimeout)
	}
}

func (g *Registry) reapIdle(cfg *Config, idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout)

	g.mu.Lock()
	defer g.mu.Unlock()

	for id, room := range g.rooms {
		if room.idleSince().Before(cutoff) {
			delete(g.rooms, id)
			logf(cfg, "GAMES: Reaped idle game %s", id)
		}
	}
}
