package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thencandesigns/tictac/internal/game/board"
	"github.com/thencandesigns/tictac/internal/game/match"
	"github.com/thencandesigns/tictac/internal/game/table"
	"github.com/thencandesigns/tictac/internal/protocol"
)

// Transport is the already-upgraded, message-oriented duplex channel
// handed over by the transport layer. ReadMessage blocks until the
// next inbound text frame, a receive error, or closure; WriteMessage
// sends one outbound frame. Close must unblock a pending ReadMessage.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// State is the lifecycle state of a single connection.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Handler runs the per-connection control loop: a read duty decoding
// inbound frames into actions, and a write duty draining the client's
// conduit back to the transport. The two duties run concurrently and
// cancel each other on termination; cleanup runs exactly once.
type Handler struct {
	registry *Registry
	table    *table.Table
	matcher  *match.Matchmaker
	logger   *zap.Logger
}

// NewHandler creates a Handler over the shared broker state.
//
// Precondition: all arguments must be non-nil.
func NewHandler(registry *Registry, tbl *table.Table, matcher *match.Matchmaker, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		table:    tbl,
		matcher:  matcher,
		logger:   logger,
	}
}

// clientConn is the per-connection state shared by the two duties.
type clientConn struct {
	id        uuid.UUID
	h         *Handler
	transport Transport
	conduit   *Conduit
	logger    *zap.Logger
	state     atomic.Int32
	closing   sync.Once
}

func (c *clientConn) setState(s State) {
	c.state.Store(int32(s))
}

// State returns the connection's current lifecycle state.
func (c *clientConn) State() State {
	return State(c.state.Load())
}

// Handle runs one connection to completion: register, serve both
// duties, tear down. It blocks until the connection terminates.
//
// Postcondition: The client is unregistered, its sessions are
// terminated (opponents notified), pending game requests are dropped,
// and the transport is closed. Returns the read error that ended the
// connection, or nil when ended by ctx cancellation.
func (h *Handler) Handle(ctx context.Context, t Transport) error {
	clientID := uuid.New()
	c := &clientConn{
		id:        clientID,
		h:         h,
		transport: t,
		logger:    h.logger.With(zap.String("client_id", clientID.String())),
	}

	c.conduit = h.registry.Register(clientID)
	c.setState(StateActive)
	c.logger.Debug("connection active")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// External cancellation must unblock the pending read.
	go func() {
		<-ctx.Done()
		_ = t.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(cancel)
	}()

	err := c.readLoop(ctx)
	cancelled := ctx.Err() != nil

	c.teardown()
	cancel()
	wg.Wait()
	c.setState(StateClosed)
	c.logger.Debug("connection closed")

	if cancelled {
		return nil
	}
	return err
}

// readLoop is the read duty: decode inbound frames and dispatch them.
// Malformed payloads are logged and dropped; only transport errors
// end the loop.
func (c *clientConn) readLoop(ctx context.Context) error {
	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("read ended", zap.Error(err))
			}
			return err
		}

		action, err := protocol.DecodeAction(data)
		if err != nil {
			c.logger.Warn("dropping malformed action",
				zap.Error(err),
				zap.ByteString("payload", data),
			)
			continue
		}
		c.dispatch(action)
	}
}

// writeLoop is the write duty: drain the conduit in FIFO order and
// write frames to the transport. It exits when the conduit closes
// (teardown) or a write fails, cancelling the read duty either way.
func (c *clientConn) writeLoop(cancel context.CancelFunc) {
	for frame := range c.conduit.Frames() {
		if err := c.transport.WriteMessage(frame); err != nil {
			c.logger.Debug("write ended", zap.Error(err))
			cancel()
			return
		}
	}
}

// teardown runs connection cleanup exactly once: drop pending game
// requests, terminate sessions and notify opponents, unregister
// (which closes the conduit and updates the lobby roster).
func (c *clientConn) teardown() {
	c.closing.Do(func() {
		c.setState(StateClosing)

		c.h.matcher.DropClient(c.id)

		for _, torn := range c.h.table.RemovePlayerSessions(c.id) {
			_ = c.h.registry.SendTo(torn.Opponent, protocol.NewOpponentLeft(torn.SessionID))
		}

		c.h.registry.Unregister(c.id)
	})
}

// dispatch routes one decoded action. Game rule violations and
// matchmaking rejections are surfaced to this client only, as Error
// messages; they never affect other clients or the connection.
func (c *clientConn) dispatch(action protocol.Action) {
	switch a := action.(type) {
	case protocol.ChatAction:
		c.h.registry.Broadcast(c.id, protocol.NewChatMessage(c.id, a.Content), ScopeAllExceptSender)

	case protocol.MoveAction:
		snap, err := c.h.table.MakeMove(a.SessionID, c.id, a.X, a.Y)
		if err != nil {
			c.sendError(err)
			return
		}
		update := stateUpdate(snap)
		for _, p := range snap.Players {
			_ = c.h.registry.SendTo(p, update)
		}

	case protocol.JoinLobbyAction:
		if a.Name == "" {
			c.sendError(errors.New("display name required"))
			return
		}
		if err := c.h.registry.JoinLobby(c.id, a.Name); err != nil {
			c.sendError(err)
		}

	case protocol.LeaveLobbyAction:
		c.h.matcher.DropClient(c.id)
		c.h.registry.LeaveLobby(c.id)

	case protocol.RequestGameAction:
		if err := c.h.matcher.Request(c.id, a.OpponentID); err != nil {
			c.sendError(err)
		}

	case protocol.RespondGameAction:
		if err := c.h.matcher.Respond(c.id, a.RequestID, a.Accept); err != nil {
			c.sendError(err)
		}
	}
}

// sendError reports a rejected request back to the acting client.
func (c *clientConn) sendError(err error) {
	_ = c.h.registry.SendTo(c.id, protocol.NewErrorMessage(err.Error()))
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
