// Package match implements lobby matchmaking: a lobby member requests
// a game against another member, who accepts or declines. Accepting
// creates the session in the game table and deals the initial state
// to both players.
package match

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thencandesigns/tictac/internal/game/board"
	"github.com/thencandesigns/tictac/internal/game/table"
	"github.com/thencandesigns/tictac/internal/protocol"
)

// Request rejections surfaced to the acting client.
var (
	ErrSelfRequest         = errors.New("cannot request a game against yourself")
	ErrNotInLobby          = errors.New("join the lobby before requesting a game")
	ErrOpponentUnavailable = errors.New("opponent is not in the lobby")
	ErrOpponentBusy        = errors.New("opponent is already in a game")
	ErrRequestNotFound     = errors.New("game request not found")
)

// Sender is the slice of the client registry the matchmaker needs.
type Sender interface {
	SendTo(clientID uuid.UUID, msg protocol.Message) error
	InLobby(clientID uuid.UUID) bool
	DisplayName(clientID uuid.UUID) (string, bool)
}

type pendingRequest struct {
	from uuid.UUID
	to   uuid.UUID
}

// Matchmaker tracks pending game requests. All methods are safe for
// concurrent use; resolution of a request is idempotent (the second
// responder gets ErrRequestNotFound).
type Matchmaker struct {
	mu      sync.Mutex
	pending map[uuid.UUID]pendingRequest
	table   *table.Table
	sender  Sender
	logger  *zap.Logger
}

// New creates a Matchmaker.
//
// Precondition: tbl, sender, and logger must be non-nil.
func New(tbl *table.Table, sender Sender, logger *zap.Logger) *Matchmaker {
	return &Matchmaker{
		pending: make(map[uuid.UUID]pendingRequest),
		table:   tbl,
		sender:  sender,
		logger:  logger,
	}
}

// Request records a game request from one lobby member to another and
// notifies the target.
//
// Postcondition: On success a GameRequest message has been sent to
// the opponent and the request is pending. Errors: ErrSelfRequest,
// ErrNotInLobby, ErrOpponentUnavailable, ErrOpponentBusy, and
// table.ErrAlreadyInSession for a requester already in a game.
func (m *Matchmaker) Request(from, to uuid.UUID) error {
	if from == to {
		return ErrSelfRequest
	}
	if !m.sender.InLobby(from) {
		return ErrNotInLobby
	}
	if !m.sender.InLobby(to) {
		return ErrOpponentUnavailable
	}
	if m.table.InSession(from) {
		return table.ErrAlreadyInSession
	}
	if m.table.InSession(to) {
		return ErrOpponentBusy
	}

	id := uuid.New()
	m.mu.Lock()
	m.pending[id] = pendingRequest{from: from, to: to}
	m.mu.Unlock()

	fromName, _ := m.sender.DisplayName(from)
	if err := m.sender.SendTo(to, protocol.NewGameRequest(id, from, fromName)); err != nil {
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return ErrOpponentUnavailable
	}

	m.logger.Info("game requested",
		zap.String("request_id", id.String()),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	return nil
}

// Respond resolves a pending request. Only the requested opponent may
// respond; anyone else sees ErrRequestNotFound.
//
// Postcondition: The request is no longer pending. On acceptance a
// session exists and both players have received the initial
// GameStateUpdate; on decline the requester has received GameDeclined.
func (m *Matchmaker) Respond(responder, requestID uuid.UUID, accept bool) error {
	m.mu.Lock()
	req, ok := m.pending[requestID]
	if !ok || req.to != responder {
		m.mu.Unlock()
		return ErrRequestNotFound
	}
	delete(m.pending, requestID)
	m.mu.Unlock()

	if !accept {
		_ = m.sender.SendTo(req.from, protocol.NewGameDeclined(requestID))
		m.logger.Info("game request declined",
			zap.String("request_id", requestID.String()),
		)
		return nil
	}

	snap, err := m.table.CreateSession(req.from, req.to)
	if err != nil {
		// Requester raced into another game; unblock them anyway.
		_ = m.sender.SendTo(req.from, protocol.NewGameDeclined(requestID))
		return err
	}

	update := stateUpdate(snap)
	_ = m.sender.SendTo(req.from, update)
	_ = m.sender.SendTo(req.to, update)

	m.logger.Info("game request accepted",
		zap.String("request_id", requestID.String()),
		zap.String("session_id", snap.SessionID.String()),
	)
	return nil
}

// DropClient discards every pending request the client is party to.
// Called when a client disconnects or leaves the lobby.
func (m *Matchmaker) DropClient(clientID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, req := range m.pending {
		if req.from == clientID || req.to == clientID {
			delete(m.pending, id)
		}
	}
}

// PendingCount returns the number of unresolved requests.
func (m *Matchmaker) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func stateUpdate(snap table.Snapshot) protocol.GameStateUpdate {
	winner := ""
	if snap.Winner != board.CellEmpty {
		winner = snap.Winner.String()
	}
	return protocol.NewGameStateUpdate(
		snap.SessionID,
		snap.Board.String(),
		snap.Turn.String(),
		snap.GameOver(),
		winner,
	)
}
