// Quizrace Trivia Game
//
// Players race through a shared, ordered sequence of puzzles. A host creates
// a room with a target player count; guests join by game ID. Once the room
// fills (or any player presses Ready), everyone starts answering. Each
// player advances independently: their score is their index into the puzzle
// sequence. The first player to clear the whole sequence ends the game, and
// the room's highest scorer wins.
//
// Features:
// - Single websocket endpoint per game page: /path/:gameid/ws
// - Rooms created on demand with random 6-char IDs, server-side collision check
// - Ready and game-over events delivered to room members only
// - Global chat across all connected players, prefixed by connection ID
// - Wrong answers are retryable without limit and never mutate state
// - Rooms are deleted when their last player leaves, and idle rooms are reaped
// - In-browser QR button to share the current game URL, backed by go-qrcode

package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type       string `json:"type"`                  // "createGame", "joinGame", "readyToStart", "submit", "exitGame", "chatMessage"
	PlayerName string `json:"player_name,omitempty"` // createGame / joinGame
	NumPlayers string `json:"num_players,omitempty"` // createGame, string-encoded integer straight from the form field
	GameID     string `json:"game_id,omitempty"`     // joinGame / readyToStart / submit
	Answer     string `json:"answer,omitempty"`      // submit
	Text       string `json:"text,omitempty"`        // chatMessage
}

// GameCreatedMessage is sent to the host once their room exists.
type GameCreatedMessage struct {
	Type   string `json:"type"` // "gameCreated"
	GameID string `json:"game_id"`
}

// GameJoinedMessage is sent to a guest who joined a room.
type GameJoinedMessage struct {
	Type   string `json:"type"` // "gameJoined"
	GameID string `json:"game_id"`
}

// JoinFailedMessage is sent to a single client whose join was rejected.
type JoinFailedMessage struct {
	Type    string `json:"type"`    // "joinFailed"
	Message string `json:"message"` // user-facing text
}

// ErrorMessage reports a rejected or malformed intent to its sender.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// GameReadyMessage tells room members the match can begin.
type GameReadyMessage struct {
	Type string `json:"type"` // "gameReady"
}

// PuzzleMessage carries a player's next question. The answer stays
// server-side.
type PuzzleMessage struct {
	Type     string `json:"type"` // "puzzle"
	Question string `json:"question"`
	Index    int    `json:"index"`
}

type PlayerScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// ScoreboardMessage carries the room's players and scores, in join order.
type ScoreboardMessage struct {
	Type    string        `json:"type"` // "updateScores"
	Players []PlayerScore `json:"players"`
}

// IncorrectMessage is sent to a player whose answer did not match.
type IncorrectMessage struct {
	Type string `json:"type"` // "incorrect"
}

// GameOverMessage announces the room's winner.
type GameOverMessage struct {
	Type   string      `json:"type"` // "gameOver"
	Winner PlayerScore `json:"player"`
}

// GameExitedMessage confirms an exit to the leaving player.
type GameExitedMessage struct {
	Type string `json:"type"` // "gameExited"
}

// ChatBroadcastMessage carries a chat line to every connected client.
type ChatBroadcastMessage struct {
	Type string `json:"type"` // "chatMessage"
	Text string `json:"text"`
}

type Client struct {
	conn   *websocket.Conn
	send   chan any
	connID string
}

type intent struct {
	client *Client
	msg    ClientMessage
}

// Hub is the session coordinator. A single run loop serializes every
// room mutation, so handlers never race each other.
type Hub struct {
	cfg       *Config
	registry  *Registry
	questions []Question

	clients  map[*Client]bool
	sessions map[*Client]string // client -> current game ID

	register chan *Client
	unreg    chan *Client
	intents  chan intent

	handlers map[string]func(*Client, ClientMessage)
}

func newHub(cfg *Config, registry *Registry, questions []Question) *Hub {
	h := &Hub{
		cfg:       cfg,
		registry:  registry,
		questions: questions,
		clients:   make(map[*Client]bool),
		sessions:  make(map[*Client]string),
		register:  make(chan *Client),
		unreg:     make(chan *Client),
		intents:   make(chan intent),
	}

	h.handlers = map[string]func(*Client, ClientMessage){
		"createGame":   h.handleCreate,
		"joinGame":     h.handleJoin,
		"readyToStart": h.handleReady,
		"submit":       h.handleSubmit,
		"exitGame":     h.handleExit,
		"chatMessage":  h.handleChat,
	}

	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true

		case c := <-h.unreg:
			h.handleDisconnect(c)

		case in := <-h.intents:
			h.dispatch(in.client, in.msg)
		}
	}
}

// dispatch routes an intent to its handler; unknown types are ignored.
func (h *Hub) dispatch(c *Client, msg ClientMessage) {
	if handler, ok := h.handlers[msg.Type]; ok {
		handler(c, msg)
	}
}

// send delivers to one client, dropping the connection if its buffer is full.
func (h *Hub) send(c *Client, msg any) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcastRoom delivers to every connected client that is a member of room.
func (h *Hub) broadcastRoom(room *Room, msg any) {
	for client := range h.clients {
		if room.FindPlayer(client.connID) != nil {
			h.send(client, msg)
		}
	}
}

// broadcastAll delivers to every connected client, in or out of a room.
func (h *Hub) broadcastAll(msg any) {
	for client := range h.clients {
		h.send(client, msg)
	}
}

func scoreboard(room *Room) ScoreboardMessage {
	players := make([]PlayerScore, 0, len(room.Players))
	for _, p := range room.Players {
		players = append(players, PlayerScore{Name: p.Name, Score: p.Score})
	}
	return ScoreboardMessage{
		Type:    "updateScores",
		Players: players,
	}
}

// handleCreate processes "createGame" messages.
func (h *Hub) handleCreate(c *Client, msg ClientMessage) {
	name := strings.TrimSpace(msg.PlayerName)
	if name == "" {
		h.send(c, ErrorMessage{
			Type:    "error",
			Message: "A player name is required.",
		})
		return
	}

	capacity, err := strconv.Atoi(strings.TrimSpace(msg.NumPlayers))
	if err != nil {
		h.send(c, ErrorMessage{
			Type:    "error",
			Message: "The player count must be a whole number.",
		})
		return
	}
	if capacity < 2 || capacity > h.cfg.maxPlayers {
		h.send(c, ErrorMessage{
			Type:    "error",
			Message: fmt.Sprintf("The player count must be between 2 and %d.", h.cfg.maxPlayers),
		})
		return
	}

	room := h.registry.CreateRoom(c.connID, name, capacity)
	h.sessions[c] = room.ID

	h.send(c, GameCreatedMessage{
		Type:   "gameCreated",
		GameID: room.ID,
	})
	h.broadcastRoom(room, scoreboard(room))

	logf(h.cfg, "GAMES: %q created game %s (capacity %d)", name, room.ID, capacity)
}

// handleJoin processes "joinGame" messages.
func (h *Hub) handleJoin(c *Client, msg ClientMessage) {
	name := strings.TrimSpace(msg.PlayerName)
	if name == "" {
		h.send(c, JoinFailedMessage{
			Type:    "joinFailed",
			Message: "A player name is required.",
		})
		return
	}

	room, ok := h.registry.GetRoom(msg.GameID)
	if !ok {
		h.send(c, JoinFailedMessage{
			Type:    "joinFailed",
			Message: "Invalid Game ID.",
		})
		return
	}

	// A connection holds at most one seat per room, so a repeated join
	// just re-acknowledges the existing membership.
	if room.FindPlayer(c.connID) != nil {
		h.sessions[c] = room.ID
		h.send(c, GameJoinedMessage{
			Type:   "gameJoined",
			GameID: room.ID,
		})
		return
	}

	if len(room.Players) >= room.Capacity {
		h.send(c, JoinFailedMessage{
			Type:    "joinFailed",
			Message: "Game is full.",
		})
		return
	}

	room.Players = append(room.Players, Player{ID: c.connID, Name: name})
	room.Touch()
	h.sessions[c] = room.ID

	h.send(c, GameJoinedMessage{
		Type:   "gameJoined",
		GameID: room.ID,
	})
	h.broadcastRoom(room, scoreboard(room))

	// Reaching capacity is the implicit ready signal.
	if len(room.Players) == room.Capacity {
		room.Ready = true
		h.broadcastRoom(room, GameReadyMessage{Type: "gameReady"})
		h.sendPuzzles(room)
	}

	logf(h.cfg, "GAMES: %q joined game %s (%d/%d)", name, room.ID, len(room.Players), room.Capacity)
}

// handleReady processes explicit "readyToStart" messages.
func (h *Hub) handleReady(c *Client, msg ClientMessage) {
	room, ok := h.registry.GetRoom(msg.GameID)
	if !ok {
		h.send(c, ErrorMessage{
			Type:    "error",
			Message: "That game no longer exists.",
		})
		return
	}

	room.Ready = true
	room.Touch()
	h.broadcastRoom(room, GameReadyMessage{Type: "gameReady"})
	h.sendPuzzles(room)
}

// sendPuzzles gives each room member their current question privately.
func (h *Hub) sendPuzzles(room *Room) {
	for client := range h.clients {
		player := room.FindPlayer(client.connID)
		if player == nil || player.Score >= len(h.questions) {
			continue
		}
		h.send(client, PuzzleMessage{
			Type:     "puzzle",
			Question: h.questions[player.Score].Question,
			Index:    player.Score,
		})
	}
}

// handleSubmit processes "submit" messages carrying a puzzle answer.
func (h *Hub) handleSubmit(c *Client, msg ClientMessage) {
	room, ok := h.registry.GetRoom(msg.GameID)
	if !ok {
		h.send(c, ErrorMessage{
			Type:    "error",
			Message: "That game no longer exists.",
		})
		return
	}

	player := room.FindPlayer(c.connID)
	if player == nil {
		h.send(c, ErrorMessage{
			Type:    "error",
			Message: "You are not a player in that game.",
		})
		return
	}

	if player.Score >= len(h.questions) {
		h.send(c, ErrorMessage{
			Type:    "error",
			Message: "The game is already over.",
		})
		return
	}

	// Exact, case-sensitive match against the player's current question.
	if msg.Answer != h.questions[player.Score].Answer {
		h.send(c, IncorrectMessage{Type: "incorrect"})
		return
	}

	player.Score++
	room.Touch()

	if player.Score < len(h.questions) {
		h.send(c, PuzzleMessage{
			Type:     "puzzle",
			Question: h.questions[player.Score].Question,
			Index:    player.Score,
		})
	} else {
		winner := room.Leader()
		h.broadcastRoom(room, GameOverMessage{
			Type:   "gameOver",
			Winner: PlayerScore{Name: winner.Name, Score: winner.Score},
		})
		logf(h.cfg, "GAMES: Game %s over, won by %q with %d", room.ID, winner.Name, winner.Score)
	}

	h.broadcastRoom(room, scoreboard(room))
}

// handleExit processes voluntary "exitGame" messages. Only the leaving
// player is removed; the room survives until it has no players left.
func (h *Hub) handleExit(c *Client, msg ClientMessage) {
	if gameID, ok := h.sessions[c]; ok {
		delete(h.sessions, c)
		h.leaveRoom(c, gameID)
	}

	h.send(c, GameExitedMessage{Type: "gameExited"})
}

// handleChat processes "chatMessage" messages. Chat is global: every
// connected client receives it, in or out of a room.
func (h *Hub) handleChat(c *Client, msg ClientMessage) {
	h.broadcastAll(ChatBroadcastMessage{
		Type: "chatMessage",
		Text: c.connID + ": " + msg.Text,
	})
}

// handleDisconnect runs when a client's socket goes away.
func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}

	if gameID, ok := h.sessions[c]; ok {
		delete(h.sessions, c)
		h.leaveRoom(c, gameID)
	}

	logf(h.cfg, "GAMES: Player %s disconnected", c.connID)
}

// leaveRoom removes the client's player from a room, deleting the room
// once empty and otherwise letting the remaining members know.
func (h *Hub) leaveRoom(c *Client, gameID string) {
	room, ok := h.registry.GetRoom(gameID)
	if !ok {
		return
	}

	if !room.RemovePlayer(c.connID) {
		return
	}

	if len(room.Players) == 0 {
		h.registry.RemoveRoom(room.ID)
		logf(h.cfg, "GAMES: Removed empty game %s", room.ID)
		return
	}

	room.Touch()
	h.broadcastRoom(room, scoreboard(room))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// newConnID generates the identifier for one websocket connection.
func newConnID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// serveWS upgrades the request and runs the client's pumps against the hub.
func serveWS(cfg *Config, hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:   conn,
			send:   make(chan any, 8),
			connID: newConnID(),
		}

		logf(cfg, "GAMES: Player %s connected from %s", client.connID, realIP(r))

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		h.intents <- intent{
			client: c,
			msg:    msg,
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed assets/trivia/index.html
var triviaHTML []byte

//go:embed assets/trivia/app.css
var triviaCSS []byte

//go:embed assets/trivia/app.js
var triviaJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(triviaHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(triviaCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(triviaJS)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// (with server-side collision detection) and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, registry *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := registry.NewGameID()
		logf(cfg, "GAMES: Redirecting to %s/%s", path, gameID)
		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerTriviaGame sets up routes so that:
//   - $path                  → redirects to a fresh random game page
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket into the coordinator
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerTriviaGame(cfg *Config, path string, questions []Question, mux *httprouter.Router) {
	registry := newRegistry()
	hub := newHub(cfg, registry, questions)
	go hub.run()

	if cfg.sessionTimeout > 0 {
		go registry.reaperLoop(cfg, cfg.sessionTimeout)
	}

	// Root path → redirect to a fresh game page
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, registry))

	// Per-game client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/trivia/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/trivia/app.js", getJsHandler(cfg))

	// Per-game websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWS(cfg, hub))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)
}
