package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	cfg := &Config{maxPlayers: 8}
	return newHub(cfg, newRegistry(), defaultQuestions)
}

func newTestClient(h *Hub, connID string) *Client {
	c := &Client{
		send:   make(chan any, 32),
		connID: connID,
	}
	h.clients[c] = true
	return c
}

// received drains and returns everything currently buffered for a client.
func received(c *Client) []any {
	var out []any
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func countType[T any](msgs []any) int {
	n := 0
	for _, m := range msgs {
		if _, ok := m.(T); ok {
			n++
		}
	}
	return n
}

// createRoom drives the host through createGame and returns the new room.
func createRoom(t *testing.T, h *Hub, host *Client, name, numPlayers string) *Room {
	t.Helper()

	h.dispatch(host, ClientMessage{Type: "createGame", PlayerName: name, NumPlayers: numPlayers})

	msgs := received(host)
	require.NotEmpty(t, msgs)
	created, ok := msgs[0].(GameCreatedMessage)
	require.True(t, ok, "expected gameCreated, got %T", msgs[0])

	room, found := h.registry.GetRoom(created.GameID)
	require.True(t, found)
	return room
}

func TestCreateGame(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")

	room := createRoom(t, h, host, "alice", "2")

	assert.Equal(t, "host", room.HostID)
	assert.Equal(t, 2, room.Capacity)
	assert.False(t, room.Ready)
	require.Len(t, room.Players, 1)
	assert.Equal(t, "alice", room.Players[0].Name)

	assert.Equal(t, room.ID, h.sessions[host])
}

func TestCreateGameValidation(t *testing.T) {
	h := newTestHub()

	for _, tc := range []struct {
		name       string
		playerName string
		numPlayers string
	}{
		{"empty name", "", "2"},
		{"blank name", "   ", "2"},
		{"non-numeric capacity", "alice", "lots"},
		{"empty capacity", "alice", ""},
		{"capacity of one", "alice", "1"},
		{"zero capacity", "alice", "0"},
		{"negative capacity", "alice", "-3"},
		{"capacity above limit", "alice", "99"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(h, "conn-"+tc.name)
			h.dispatch(c, ClientMessage{Type: "createGame", PlayerName: tc.playerName, NumPlayers: tc.numPlayers})

			msgs := received(c)
			require.Len(t, msgs, 1)
			_, ok := msgs[0].(ErrorMessage)
			assert.True(t, ok, "expected error, got %T", msgs[0])

			_, inRoom := h.sessions[c]
			assert.False(t, inRoom)
		})
	}

	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()
	assert.Empty(t, h.registry.rooms, "rejected creates must not leave rooms behind")
}

func TestJoinGame(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	guest := newTestClient(h, "guest")

	room := createRoom(t, h, host, "alice", "3")

	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})

	msgs := received(guest)
	require.NotEmpty(t, msgs)
	joined, ok := msgs[0].(GameJoinedMessage)
	require.True(t, ok, "expected gameJoined, got %T", msgs[0])
	assert.Equal(t, room.ID, joined.GameID)

	require.Len(t, room.Players, 2)
	assert.Equal(t, "bob", room.Players[1].Name)
	assert.Equal(t, room.ID, h.sessions[guest])

	// Two of three seats filled: not ready yet.
	assert.False(t, room.Ready)
	assert.Zero(t, countType[GameReadyMessage](msgs))
}

func TestJoinTwiceSameConnection(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	guest := newTestClient(h, "guest")
	late := newTestClient(h, "late")

	room := createRoom(t, h, host, "alice", "3")

	// A double-submitted join must not consume a second seat.
	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})
	received(guest)
	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})

	msgs := received(guest)
	require.Len(t, msgs, 1)
	joined, ok := msgs[0].(GameJoinedMessage)
	require.True(t, ok, "expected gameJoined, got %T", msgs[0])
	assert.Equal(t, room.ID, joined.GameID)

	require.Len(t, room.Players, 2)
	assert.False(t, room.Ready)

	// The third seat stays available for an actual third player.
	h.dispatch(late, ClientMessage{Type: "joinGame", PlayerName: "carol", GameID: room.ID})

	msgs = received(late)
	require.NotEmpty(t, msgs)
	_, ok = msgs[0].(GameJoinedMessage)
	require.True(t, ok, "expected gameJoined, got %T", msgs[0])

	require.Len(t, room.Players, 3)
	assert.True(t, room.Ready)

	seen := make(map[string]bool)
	for _, p := range room.Players {
		assert.False(t, seen[p.ID], "duplicate player id %q", p.ID)
		seen[p.ID] = true
	}
}

func TestJoinUnknownGame(t *testing.T) {
	h := newTestHub()
	guest := newTestClient(h, "guest")

	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: "nosuch"})

	msgs := received(guest)
	require.Len(t, msgs, 1)
	failed, ok := msgs[0].(JoinFailedMessage)
	require.True(t, ok, "expected joinFailed, got %T", msgs[0])
	assert.Equal(t, "Invalid Game ID.", failed.Message)

	_, inRoom := h.sessions[guest]
	assert.False(t, inRoom)
}

func TestJoinFullGame(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	guest := newTestClient(h, "guest")
	late := newTestClient(h, "late")

	room := createRoom(t, h, host, "alice", "2")
	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})
	received(guest)

	h.dispatch(late, ClientMessage{Type: "joinGame", PlayerName: "carol", GameID: room.ID})

	msgs := received(late)
	require.Len(t, msgs, 1)
	failed, ok := msgs[0].(JoinFailedMessage)
	require.True(t, ok, "expected joinFailed, got %T", msgs[0])
	assert.Equal(t, "Game is full.", failed.Message)

	// The room is untouched by the rejected join.
	require.Len(t, room.Players, 2)
	_, inRoom := h.sessions[late]
	assert.False(t, inRoom)
}

func TestReadyFiresExactlyOnceAtCapacity(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")

	room := createRoom(t, h, host, "alice", "3")
	received(host)

	guests := []*Client{newTestClient(h, "g1"), newTestClient(h, "g2")}
	for i, g := range guests {
		h.dispatch(g, ClientMessage{Type: "joinGame", PlayerName: fmt.Sprintf("guest%d", i), GameID: room.ID})
	}

	// Only the capacity-reaching join announces readiness, to each member once.
	assert.Equal(t, 1, countType[GameReadyMessage](received(host)))
	assert.Equal(t, 1, countType[GameReadyMessage](received(guests[0])))
	assert.Equal(t, 1, countType[GameReadyMessage](received(guests[1])))
	assert.True(t, room.Ready)
}

func TestReadyToStart(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	guest := newTestClient(h, "guest")

	room := createRoom(t, h, host, "alice", "3")
	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})
	received(host)
	received(guest)

	h.dispatch(host, ClientMessage{Type: "readyToStart", GameID: room.ID})

	assert.True(t, room.Ready)

	hostMsgs := received(host)
	assert.Equal(t, 1, countType[GameReadyMessage](hostMsgs))
	assert.Equal(t, 1, countType[PuzzleMessage](hostMsgs))

	guestMsgs := received(guest)
	assert.Equal(t, 1, countType[GameReadyMessage](guestMsgs))
	assert.Equal(t, 1, countType[PuzzleMessage](guestMsgs))
}

func TestReadyToStartUnknownGame(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, "conn")

	h.dispatch(c, ClientMessage{Type: "readyToStart", GameID: "nosuch"})

	msgs := received(c)
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(ErrorMessage)
	assert.True(t, ok, "expected error, got %T", msgs[0])
}

func TestSubmitWrongAnswer(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	guest := newTestClient(h, "guest")

	room := createRoom(t, h, host, "alice", "2")
	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})
	received(host)
	received(guest)

	h.dispatch(host, ClientMessage{Type: "submit", Answer: "wrong", GameID: room.ID})

	msgs := received(host)
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(IncorrectMessage)
	assert.True(t, ok, "expected incorrect, got %T", msgs[0])

	// No state changed: the same question is still current.
	assert.Equal(t, 0, room.Players[0].Score)
	assert.Equal(t, 0, room.Players[1].Score)
	assert.Empty(t, received(guest))
}

func TestSubmitCorrectAnswer(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	guest := newTestClient(h, "guest")

	room := createRoom(t, h, host, "alice", "2")
	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})
	received(host)
	received(guest)

	h.dispatch(host, ClientMessage{Type: "submit", Answer: defaultQuestions[0].Answer, GameID: room.ID})

	msgs := received(host)
	require.NotEmpty(t, msgs)
	puzzle, ok := msgs[0].(PuzzleMessage)
	require.True(t, ok, "expected puzzle, got %T", msgs[0])
	assert.Equal(t, 1, puzzle.Index)
	assert.Equal(t, defaultQuestions[1].Question, puzzle.Question)

	// Exactly one player's score moved.
	assert.Equal(t, 1, room.Players[0].Score)
	assert.Equal(t, 0, room.Players[1].Score)

	// The room hears the new scores, not the puzzle.
	guestMsgs := received(guest)
	assert.Equal(t, 1, countType[ScoreboardMessage](guestMsgs))
	assert.Zero(t, countType[PuzzleMessage](guestMsgs))
}

func TestSubmitUnknownGame(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, "conn")

	h.dispatch(c, ClientMessage{Type: "submit", Answer: "next", GameID: "nosuch"})

	msgs := received(c)
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(ErrorMessage)
	assert.True(t, ok, "expected error, got %T", msgs[0])
}

func TestSubmitNotInRoom(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	outsider := newTestClient(h, "outsider")

	room := createRoom(t, h, host, "alice", "2")

	h.dispatch(outsider, ClientMessage{Type: "submit", Answer: "next", GameID: room.ID})

	msgs := received(outsider)
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(ErrorMessage)
	assert.True(t, ok, "expected error, got %T", msgs[0])
}

func TestGameOver(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	guest := newTestClient(h, "guest")

	room := createRoom(t, h, host, "alice", "2")
	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})
	received(host)
	received(guest)

	// Put the guest one answer away from the finish line.
	last := len(defaultQuestions) - 1
	room.Players[0].Score = 2
	room.Players[1].Score = last

	h.dispatch(guest, ClientMessage{Type: "submit", Answer: defaultQuestions[last].Answer, GameID: room.ID})

	guestMsgs := received(guest)
	require.Equal(t, 1, countType[GameOverMessage](guestMsgs))

	hostMsgs := received(host)
	require.Equal(t, 1, countType[GameOverMessage](hostMsgs))

	for _, m := range hostMsgs {
		if over, ok := m.(GameOverMessage); ok {
			assert.Equal(t, "bob", over.Winner.Name)
			assert.Equal(t, len(defaultQuestions), over.Winner.Score)
		}
	}

	// A finished player cannot keep submitting.
	h.dispatch(guest, ClientMessage{Type: "submit", Answer: "anything", GameID: room.ID})
	msgs := received(guest)
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(ErrorMessage)
	assert.True(t, ok, "expected error, got %T", msgs[0])
}

func TestExitRemovesOnlyExitingPlayer(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	guest := newTestClient(h, "guest")

	room := createRoom(t, h, host, "alice", "2")
	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})
	received(host)
	received(guest)

	h.dispatch(host, ClientMessage{Type: "exitGame"})

	msgs := received(host)
	require.Equal(t, 1, countType[GameExitedMessage](msgs))

	// The room survives for the remaining player.
	got, ok := h.registry.GetRoom(room.ID)
	require.True(t, ok)
	require.Len(t, got.Players, 1)
	assert.Equal(t, "bob", got.Players[0].Name)
	assert.Equal(t, 1, countType[ScoreboardMessage](received(guest)))

	// The last player's exit deletes the room.
	h.dispatch(guest, ClientMessage{Type: "exitGame"})
	_, ok = h.registry.GetRoom(room.ID)
	assert.False(t, ok)
}

func TestExitWithoutRoom(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, "conn")

	h.dispatch(c, ClientMessage{Type: "exitGame"})

	msgs := received(c)
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(GameExitedMessage)
	assert.True(t, ok, "expected gameExited, got %T", msgs[0])
}

func TestDisconnectKeepsRoomWhileOccupied(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	guest := newTestClient(h, "guest")

	room := createRoom(t, h, host, "alice", "2")
	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})
	received(host)
	received(guest)

	h.handleDisconnect(host)

	got, ok := h.registry.GetRoom(room.ID)
	require.True(t, ok, "room must remain resolvable after a disconnect")
	require.Len(t, got.Players, 1)
	assert.Equal(t, "bob", got.Players[0].Name)
	assert.NotContains(t, h.clients, host)

	// The last disconnect cleans the room up.
	h.handleDisconnect(guest)
	_, ok = h.registry.GetRoom(room.ID)
	assert.False(t, ok)
}

func TestChatIsGlobal(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	guest := newTestClient(h, "guest")
	lurker := newTestClient(h, "lurker")

	room := createRoom(t, h, host, "alice", "2")
	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})
	received(host)
	received(guest)

	h.dispatch(host, ClientMessage{Type: "chatMessage", Text: "hello there"})

	for _, c := range []*Client{host, guest, lurker} {
		msgs := received(c)
		require.Equal(t, 1, countType[ChatBroadcastMessage](msgs), "client %s", c.connID)
		for _, m := range msgs {
			if chat, ok := m.(ChatBroadcastMessage); ok {
				assert.Equal(t, "host: hello there", chat.Text)
			}
		}
	}
}

func TestDispatchIgnoresUnknownTypes(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h, "conn")

	h.dispatch(c, ClientMessage{Type: "restart"})
	h.dispatch(c, ClientMessage{})

	assert.Empty(t, received(c))
}

// Walks the scenario end to end: create, fill, wrong answer, right answer.
func TestTwoPlayerScenario(t *testing.T) {
	h := newTestHub()
	host := newTestClient(h, "host")
	guest := newTestClient(h, "guest")

	room := createRoom(t, h, host, "alice", "2")
	h.dispatch(guest, ClientMessage{Type: "joinGame", PlayerName: "bob", GameID: room.ID})

	assert.Equal(t, 1, countType[GameReadyMessage](received(host)))
	assert.Equal(t, 1, countType[GameReadyMessage](received(guest)))

	h.dispatch(host, ClientMessage{Type: "submit", Answer: "x", GameID: room.ID})
	msgs := received(host)
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(IncorrectMessage)
	require.True(t, ok, "expected incorrect, got %T", msgs[0])
	assert.Equal(t, 0, room.Players[0].Score)

	h.dispatch(host, ClientMessage{Type: "submit", Answer: "next", GameID: room.ID})
	msgs = received(host)
	require.NotEmpty(t, msgs)
	puzzle, ok := msgs[0].(PuzzleMessage)
	require.True(t, ok, "expected puzzle, got %T", msgs[0])
	assert.Equal(t, 1, puzzle.Index)
	assert.Equal(t, 1, room.Players[0].Score)
}
