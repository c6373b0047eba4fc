// Package table owns all in-progress game sessions. It mediates every
// read and mutation of board state so that no two moves are ever
// applied concurrently to the same board, while moves against
// different sessions never block each other.
package table

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thencandesigns/tictac/internal/game/board"
)

// Game rule violations surfaced to the acting client. Board-level
// rejections (board.ErrOutOfBounds, board.ErrCellOccupied) pass
// through unchanged.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrGameOver         = errors.New("game is over")
	ErrAlreadyInSession = errors.New("player already in a session")
)

// Snapshot is an immutable copy of a session's state taken under its
// lock, safe to read and transmit after the lock is released.
type Snapshot struct {
	SessionID uuid.UUID
	Players   [2]uuid.UUID
	Board     board.Board
	Turn      board.Cell
	Winner    board.Cell
	Draw      bool
}

// GameOver reports whether the session has reached a terminal state.
func (s Snapshot) GameOver() bool {
	return s.Winner != board.CellEmpty || s.Draw
}

// Opponent returns the other player's id.
//
// Precondition: clientID must be one of s.Players.
func (s Snapshot) Opponent(clientID uuid.UUID) uuid.UUID {
	if s.Players[0] == clientID {
		return s.Players[1]
	}
	return s.Players[0]
}

// Terminated describes a session torn down by a disconnect, so the
// caller can notify the remaining player.
type Terminated struct {
	SessionID uuid.UUID
	Opponent  uuid.UUID
}

// gameSession is one live game. Its mutex serializes all board access
// for this session only.
type gameSession struct {
	mu         sync.Mutex
	id         uuid.UUID
	players    [2]uuid.UUID // players[0] moves first as X
	board      board.Board
	turn       board.Cell
	winner     board.Cell
	draw       bool
	terminated bool
}

// snapshotLocked copies the session state. Callers must hold s.mu.
func (s *gameSession) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID: s.id,
		Players:   s.players,
		Board:     s.board,
		Turn:      s.turn,
		Winner:    s.winner,
		Draw:      s.draw,
	}
}

// Table tracks all active game sessions. All methods are safe for
// concurrent use. The table mutex guards only the maps; board
// mutation happens under the per-session mutex, so unrelated games do
// not serialize on each other. Lock order is always table before
// session.
type Table struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*gameSession
	byPlayer map[uuid.UUID]uuid.UUID // player id → live session id
	logger   *zap.Logger
}

// New creates an empty Table.
//
// Precondition: logger must be non-nil.
func New(logger *zap.Logger) *Table {
	return &Table{
		sessions: make(map[uuid.UUID]*gameSession),
		byPlayer: make(map[uuid.UUID]uuid.UUID),
		logger:   logger,
	}
}

// CreateSession starts a game between two players. playerA moves
// first as X.
//
// Precondition: playerA and playerB must differ.
// Postcondition: Returns the initial snapshot, or ErrAlreadyInSession
// if either player already has a live session.
func (t *Table) CreateSession(playerA, playerB uuid.UUID) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.byPlayer[playerA]; busy {
		return Snapshot{}, ErrAlreadyInSession
	}
	if _, busy := t.byPlayer[playerB]; busy {
		return Snapshot{}, ErrAlreadyInSession
	}

	sess := &gameSession{
		id:      uuid.New(),
		players: [2]uuid.UUID{playerA, playerB},
		turn:    board.CellX,
	}
	t.sessions[sess.id] = sess
	t.byPlayer[playerA] = sess.id
	t.byPlayer[playerB] = sess.id

	t.logger.Info("session created",
		zap.String("session_id", sess.id.String()),
		zap.String("player_x", playerA.String()),
		zap.String("player_o", playerB.String()),
	)

	return sess.snapshotLocked(), nil
}

// MakeMove applies a move by clientID to the given session.
//
// Postcondition: On success returns the post-move snapshot with turn
// advanced (or a terminal winner/draw state). On error the session is
// unchanged; possible errors are ErrSessionNotFound, ErrNotYourTurn,
// ErrGameOver, board.ErrOutOfBounds, and board.ErrCellOccupied.
func (t *Table) MakeMove(sessionID, clientID uuid.UUID, x, y int) (Snapshot, error) {
	t.mu.RLock()
	sess, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}

	sess.mu.Lock()
	snap, err := t.applyLocked(sess, clientID, x, y)
	sess.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}

	if snap.GameOver() {
		t.releasePlayers(sess.id, sess.players)
		t.logger.Info("session finished",
			zap.String("session_id", sess.id.String()),
			zap.String("winner", snap.Winner.String()),
			zap.Bool("draw", snap.Draw),
		)
	}
	return snap, nil
}

// applyLocked validates and applies a single move. Callers must hold
// sess.mu.
func (t *Table) applyLocked(sess *gameSession, clientID uuid.UUID, x, y int) (Snapshot, error) {
	if sess.terminated {
		// Torn down by a disconnect between lookup and lock.
		return Snapshot{}, ErrSessionNotFound
	}
	if sess.winner != board.CellEmpty || sess.draw {
		return Snapshot{}, ErrGameOver
	}

	var mark board.Cell
	switch clientID {
	case sess.players[0]:
		mark = board.CellX
	case sess.players[1]:
		mark = board.CellO
	default:
		return Snapshot{}, ErrNotYourTurn
	}
	if mark != sess.turn {
		return Snapshot{}, ErrNotYourTurn
	}

	out, err := board.ApplyMove(&sess.board, mark, x, y)
	if err != nil {
		return Snapshot{}, err
	}

	sess.winner = out.Winner
	sess.draw = out.Draw
	if !sess.draw && sess.winner == board.CellEmpty {
		sess.turn = sess.turn.Opponent()
	}
	return sess.snapshotLocked(), nil
}

// releasePlayers clears the players' live-session entries once a game
// ends, freeing them to start another. The finished session stays in
// the table so late moves are rejected with ErrGameOver rather than
// ErrSessionNotFound.
func (t *Table) releasePlayers(sessionID uuid.UUID, players [2]uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range players {
		if t.byPlayer[p] == sessionID {
			delete(t.byPlayer, p)
		}
	}
}

// RemovePlayerSessions tears down every session containing clientID.
// Called on disconnect.
//
// Postcondition: The sessions are removed from the table; each one
// that was still in progress is reported with its opponent so the
// caller can send an opponent-left notice. Safe to call for clients
// with no sessions.
func (t *Table) RemovePlayerSessions(clientID uuid.UUID) []Terminated {
	t.mu.Lock()
	var torn []Terminated
	for id, sess := range t.sessions {
		if sess.players[0] != clientID && sess.players[1] != clientID {
			continue
		}
		delete(t.sessions, id)
		for _, p := range sess.players {
			if t.byPlayer[p] == id {
				delete(t.byPlayer, p)
			}
		}

		sess.mu.Lock()
		over := sess.winner != board.CellEmpty || sess.draw
		sess.terminated = true
		opponent := sess.players[0]
		if opponent == clientID {
			opponent = sess.players[1]
		}
		sess.mu.Unlock()

		if !over {
			torn = append(torn, Terminated{SessionID: id, Opponent: opponent})
		}
	}
	t.mu.Unlock()

	for _, tn := range torn {
		t.logger.Info("session terminated by disconnect",
			zap.String("session_id", tn.SessionID.String()),
			zap.String("client_id", clientID.String()),
		)
	}
	return torn
}

// Session returns a snapshot of the given session, if present.
func (t *Table) Session(sessionID uuid.UUID) (Snapshot, bool) {
	t.mu.RLock()
	sess, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked(), true
}

// SessionCount returns the number of sessions currently tracked.
func (t *Table) SessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// InSession reports whether the client currently has a live session.
func (t *Table) InSession(clientID uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byPlayer[clientID]
	return ok
}
