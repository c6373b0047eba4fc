package table

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/thencandesigns/tictac/internal/game/board"
)

func newTable() *Table {
	return New(zap.NewNop())
}

func TestCreateSession(t *testing.T) {
	tbl := newTable()
	a, b := uuid.New(), uuid.New()

	snap, err := tbl.CreateSession(a, b)
	require.NoError(t, err)
	assert.Equal(t, [2]uuid.UUID{a, b}, snap.Players)
	assert.Equal(t, board.CellX, snap.Turn, "first mover is X")
	assert.False(t, snap.GameOver())
	assert.Equal(t, 1, tbl.SessionCount())
	assert.True(t, tbl.InSession(a))
	assert.True(t, tbl.InSession(b))
}

func TestCreateSession_AlreadyInSession(t *testing.T) {
	tbl := newTable()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	_, err := tbl.CreateSession(a, b)
	require.NoError(t, err)

	_, err = tbl.CreateSession(a, c)
	assert.ErrorIs(t, err, ErrAlreadyInSession)
	_, err = tbl.CreateSession(c, b)
	assert.ErrorIs(t, err, ErrAlreadyInSession)
}

func TestMakeMove_SessionNotFound(t *testing.T) {
	tbl := newTable()
	_, err := tbl.MakeMove(uuid.New(), uuid.New(), 0, 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMakeMove_TurnEnforcement(t *testing.T) {
	tbl := newTable()
	a, b := uuid.New(), uuid.New()
	snap, err := tbl.CreateSession(a, b)
	require.NoError(t, err)

	// O may not move first, and strangers may never move.
	_, err = tbl.MakeMove(snap.SessionID, b, 0, 0)
	assert.ErrorIs(t, err, ErrNotYourTurn)
	_, err = tbl.MakeMove(snap.SessionID, uuid.New(), 0, 0)
	assert.ErrorIs(t, err, ErrNotYourTurn)

	next, err := tbl.MakeMove(snap.SessionID, a, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, board.CellO, next.Turn)

	// X may not move twice in a row.
	_, err = tbl.MakeMove(snap.SessionID, a, 1, 1)
	assert.ErrorIs(t, err, ErrNotYourTurn)
}

func TestMakeMove_BoardErrorsPassThrough(t *testing.T) {
	tbl := newTable()
	a, b := uuid.New(), uuid.New()
	snap, err := tbl.CreateSession(a, b)
	require.NoError(t, err)

	_, err = tbl.MakeMove(snap.SessionID, a, 3, 0)
	assert.ErrorIs(t, err, board.ErrOutOfBounds)

	_, err = tbl.MakeMove(snap.SessionID, a, 0, 0)
	require.NoError(t, err)
	_, err = tbl.MakeMove(snap.SessionID, b, 0, 0)
	assert.ErrorIs(t, err, board.ErrCellOccupied)

	// Rejections never advance the turn.
	cur, ok := tbl.Session(snap.SessionID)
	require.True(t, ok)
	assert.Equal(t, board.CellO, cur.Turn)
}

func TestMakeMove_WinScenario(t *testing.T) {
	tbl := newTable()
	a, b := uuid.New(), uuid.New()
	snap, err := tbl.CreateSession(a, b)
	require.NoError(t, err)
	id := snap.SessionID

	moves := []struct {
		player uuid.UUID
		x, y   int
	}{
		{a, 0, 0}, {b, 1, 1}, {a, 0, 1}, {b, 2, 2},
	}
	wantTurns := []board.Cell{board.CellO, board.CellX, board.CellO, board.CellX}
	for i, m := range moves {
		s, err := tbl.MakeMove(id, m.player, m.x, m.y)
		require.NoError(t, err)
		assert.Equal(t, wantTurns[i], s.Turn, "move %d", i)
		assert.False(t, s.GameOver())
	}

	final, err := tbl.MakeMove(id, a, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, board.CellX, final.Winner)
	assert.True(t, final.GameOver())
	assert.False(t, final.Draw)

	// Terminal sessions reject further moves but stay addressable.
	_, err = tbl.MakeMove(id, b, 2, 0)
	assert.ErrorIs(t, err, ErrGameOver)

	// Both players are free for a new game.
	assert.False(t, tbl.InSession(a))
	assert.False(t, tbl.InSession(b))
	_, err = tbl.CreateSession(a, b)
	assert.NoError(t, err)
}

func TestMakeMove_Draw(t *testing.T) {
	tbl := newTable()
	a, b := uuid.New(), uuid.New()
	snap, err := tbl.CreateSession(a, b)
	require.NoError(t, err)
	id := snap.SessionID

	// X O X / X O O / O X X — filled with no line of three.
	moves := []struct {
		player uuid.UUID
		x, y   int
	}{
		{a, 0, 0}, {b, 0, 1}, {a, 0, 2},
		{b, 1, 1}, {a, 1, 0}, {b, 1, 2},
		{a, 2, 1}, {b, 2, 0}, {a, 2, 2},
	}
	var final Snapshot
	for i, m := range moves {
		final, err = tbl.MakeMove(id, m.player, m.x, m.y)
		require.NoError(t, err, "move %d", i)
	}
	assert.True(t, final.Draw)
	assert.Equal(t, board.CellEmpty, final.Winner)
	assert.True(t, final.GameOver())
}

func TestRemovePlayerSessions(t *testing.T) {
	tbl := newTable()
	a, b := uuid.New(), uuid.New()
	snap, err := tbl.CreateSession(a, b)
	require.NoError(t, err)

	torn := tbl.RemovePlayerSessions(a)
	require.Len(t, torn, 1)
	assert.Equal(t, snap.SessionID, torn[0].SessionID)
	assert.Equal(t, b, torn[0].Opponent)

	_, err = tbl.MakeMove(snap.SessionID, b, 0, 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, tbl.SessionCount())
	assert.False(t, tbl.InSession(b))
}

func TestRemovePlayerSessions_NoSessions(t *testing.T) {
	tbl := newTable()
	assert.Empty(t, tbl.RemovePlayerSessions(uuid.New()))
}

func TestRemovePlayerSessions_FinishedGameNotReported(t *testing.T) {
	tbl := newTable()
	a, b := uuid.New(), uuid.New()
	snap, err := tbl.CreateSession(a, b)
	require.NoError(t, err)
	id := snap.SessionID

	// X wins the top row.
	for _, m := range []struct {
		player uuid.UUID
		x, y   int
	}{
		{a, 0, 0}, {b, 1, 0}, {a, 0, 1}, {b, 1, 1}, {a, 0, 2},
	} {
		_, err := tbl.MakeMove(id, m.player, m.x, m.y)
		require.NoError(t, err)
	}

	// Disconnecting after the game ended needs no opponent notice.
	assert.Empty(t, tbl.RemovePlayerSessions(a))
	assert.Equal(t, 0, tbl.SessionCount())
}

func TestMakeMove_ConcurrentSameTurnSlot(t *testing.T) {
	// Both players race to move for the same turn slot; exactly one
	// move may win each slot.
	tbl := newTable()
	a, b := uuid.New(), uuid.New()
	snap, err := tbl.CreateSession(a, b)
	require.NoError(t, err)
	id := snap.SessionID

	const attempts = 20
	var wg sync.WaitGroup
	accepted := make(chan Snapshot, attempts*2)
	for i := 0; i < attempts; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if s, err := tbl.MakeMove(id, a, i%3, (i/3)%3); err == nil {
				accepted <- s
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			if s, err := tbl.MakeMove(id, b, (i+1)%3, (i/3)%3); err == nil {
				accepted <- s
			}
		}(i)
	}
	wg.Wait()
	close(accepted)

	// Accepted moves must alternate marks strictly; count via the
	// turn sequence: snapshots are totally ordered by board fill.
	var snaps []Snapshot
	for s := range accepted {
		snaps = append(snaps, s)
	}
	filled := make(map[int]bool)
	for _, s := range snaps {
		n := 0
		for x := 0; x < board.Size; x++ {
			for y := 0; y < board.Size; y++ {
				if s.Board[x][y] != board.CellEmpty {
					n++
				}
			}
		}
		require.False(t, filled[n], "two accepted moves produced the same fill count %d", n)
		filled[n] = true
	}
}

func TestMakeMove_DistinctSessionsDoNotInterfere(t *testing.T) {
	tbl := newTable()
	type game struct {
		id   uuid.UUID
		a, b uuid.UUID
	}
	var games []game
	for i := 0; i < 8; i++ {
		a, b := uuid.New(), uuid.New()
		snap, err := tbl.CreateSession(a, b)
		require.NoError(t, err)
		games = append(games, game{id: snap.SessionID, a: a, b: b})
	}

	var wg sync.WaitGroup
	for _, g := range games {
		wg.Add(1)
		go func(g game) {
			defer wg.Done()
			_, err := tbl.MakeMove(g.id, g.a, 0, 0)
			assert.NoError(t, err)
			_, err = tbl.MakeMove(g.id, g.b, 1, 1)
			assert.NoError(t, err)
		}(g)
	}
	wg.Wait()

	for _, g := range games {
		snap, ok := tbl.Session(g.id)
		require.True(t, ok)
		assert.Equal(t, board.CellX, snap.Board[0][0])
		assert.Equal(t, board.CellO, snap.Board[1][1])
	}
}

func TestPropertyPlayerSessionConsistency(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tbl := newTable()

		numPlayers := rapid.IntRange(2, 10).Draw(rt, "num_players")
		players := make([]uuid.UUID, numPlayers)
		for i := range players {
			players[i] = uuid.New()
		}
		sessions := make(map[uuid.UUID]bool)

		numOps := rapid.IntRange(1, 40).Draw(rt, "num_ops")
		for i := 0; i < numOps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				a := players[rapid.IntRange(0, numPlayers-1).Draw(rt, "a")]
				b := players[rapid.IntRange(0, numPlayers-1).Draw(rt, "b")]
				if a == b {
					continue
				}
				busy := tbl.InSession(a) || tbl.InSession(b)
				snap, err := tbl.CreateSession(a, b)
				if busy {
					assert.ErrorIs(rt, err, ErrAlreadyInSession)
				} else if assert.NoError(rt, err) {
					sessions[snap.SessionID] = true
				}
			case 1:
				p := players[rapid.IntRange(0, numPlayers-1).Draw(rt, "mover")]
				x := rapid.IntRange(0, 2).Draw(rt, "x")
				y := rapid.IntRange(0, 2).Draw(rt, "y")
				for id := range sessions {
					_, _ = tbl.MakeMove(id, p, x, y)
				}
			case 2:
				p := players[rapid.IntRange(0, numPlayers-1).Draw(rt, "leaver")]
				for _, torn := range tbl.RemovePlayerSessions(p) {
					delete(sessions, torn.SessionID)
				}
				assert.False(rt, tbl.InSession(p),
					"removed player must have no live session")
			}
		}

		// No player may ever hold more than one live session.
		for _, p := range players {
			live := 0
			for id := range sessions {
				snap, ok := tbl.Session(id)
				if !ok || snap.GameOver() {
					continue
				}
				if snap.Players[0] == p || snap.Players[1] == p {
					live++
				}
			}
			assert.LessOrEqual(rt, live, 1)
		}
	})
}
