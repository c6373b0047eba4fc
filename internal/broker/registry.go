package broker

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thencandesigns/tictac/internal/protocol"
)

// ErrUnknownClient is returned by SendTo when the target is no longer
// registered. Callers treat delivery as best-effort: the error is
// logged, never propagated as fatal.
var ErrUnknownClient = errors.New("unknown client")

// Scope selects the recipients of a Broadcast.
type Scope int

const (
	// ScopeAllExceptSender targets every connected client but the sender.
	ScopeAllExceptSender Scope = iota
	// ScopeLobbyOnly targets all lobby members, the sender included.
	ScopeLobbyOnly
)

// handle is one live connection's registry entry. The registry owns
// it exclusively; connection handlers hold only the conduit.
type handle struct {
	id      uuid.UUID
	conduit *Conduit
	name    string
}

// Registry maps client ids to their outbound conduits and owns lobby
// membership. All methods are safe for concurrent use. The lock is
// held only for map access, never across a conduit push, so one slow
// consumer cannot block unrelated registry operations.
type Registry struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]*handle
	lobby      map[uuid.UUID]bool
	bufferSize int
	logger     *zap.Logger
}

// NewRegistry creates an empty Registry. bufferSize is the conduit
// buffer allocated per client.
//
// Precondition: logger must be non-nil.
func NewRegistry(bufferSize int, logger *zap.Logger) *Registry {
	return &Registry{
		clients:    make(map[uuid.UUID]*handle),
		lobby:      make(map[uuid.UUID]bool),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Register creates a handle and conduit for a newly connected client.
//
// Precondition: clientID must be freshly generated and unique. Ids
// are random 128-bit values; a duplicate means broken state, so this
// panics rather than corrupt the registry.
// Postcondition: Returns the client's outbound conduit.
func (r *Registry) Register(clientID uuid.UUID) *Conduit {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[clientID]; exists {
		panic(fmt.Sprintf("broker: duplicate client id %s", clientID))
	}

	h := &handle{id: clientID, conduit: NewConduit(r.bufferSize)}
	r.clients[clientID] = h

	r.logger.Debug("client registered",
		zap.String("client_id", clientID.String()),
		zap.Int("connected", len(r.clients)),
	)
	return h.conduit
}

// Unregister removes a client from the connection map and the lobby
// and closes its conduit. Idempotent: unknown or already-removed ids
// are a no-op.
func (r *Registry) Unregister(clientID uuid.UUID) {
	r.mu.Lock()
	h, exists := r.clients[clientID]
	wasInLobby := r.lobby[clientID]
	delete(r.clients, clientID)
	delete(r.lobby, clientID)
	r.mu.Unlock()

	if !exists {
		return
	}
	h.conduit.Close()

	r.logger.Debug("client unregistered",
		zap.String("client_id", clientID.String()),
	)

	if wasInLobby {
		r.broadcastPlayerList()
	}
}

// SendTo encodes a message and pushes it onto the client's conduit.
//
// Postcondition: Returns ErrUnknownClient if the client is gone, a
// conduit error if its buffer is closed or full, nil otherwise. All
// failures are best-effort conditions, already logged here.
func (r *Registry) SendTo(clientID uuid.UUID, msg protocol.Message) error {
	r.mu.RLock()
	h, ok := r.clients[clientID]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("send to unknown client",
			zap.String("client_id", clientID.String()),
		)
		return ErrUnknownClient
	}

	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := h.conduit.Push(frame); err != nil {
		r.logger.Warn("dropping outbound message",
			zap.String("client_id", clientID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Broadcast encodes the message once and delivers it to every client
// in scope. The recipient list is a snapshot taken under lock; sends
// happen outside the lock, and each recipient's failure is contained
// to that recipient.
func (r *Registry) Broadcast(senderID uuid.UUID, msg protocol.Message, scope Scope) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("encoding broadcast", zap.Error(err))
		return
	}

	r.mu.RLock()
	targets := make([]*handle, 0, len(r.clients))
	for id, h := range r.clients {
		switch scope {
		case ScopeAllExceptSender:
			if id == senderID {
				continue
			}
		case ScopeLobbyOnly:
			if !r.lobby[id] {
				continue
			}
		}
		targets = append(targets, h)
	}
	r.mu.RUnlock()

	for _, h := range targets {
		if err := h.conduit.Push(frame); err != nil {
			// Target raced a disconnect or stalled; skip it.
			r.logger.Debug("broadcast delivery failed",
				zap.String("client_id", h.id.String()),
				zap.Error(err),
			)
		}
	}
}

// JoinLobby adds the client to the lobby under the given display name
// and broadcasts the updated roster to all lobby members, the joiner
// included.
//
// Postcondition: Returns ErrUnknownClient if the client is not
// registered. Joining twice updates the display name.
func (r *Registry) JoinLobby(clientID uuid.UUID, displayName string) error {
	r.mu.Lock()
	h, ok := r.clients[clientID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownClient
	}
	h.name = displayName
	r.lobby[clientID] = true
	r.mu.Unlock()

	r.logger.Info("client joined lobby",
		zap.String("client_id", clientID.String()),
		zap.String("name", displayName),
	)

	r.broadcastPlayerList()
	return nil
}

// LeaveLobby removes the client from the lobby (the connection stays
// up) and broadcasts the updated roster. A client not in the lobby is
// a no-op.
func (r *Registry) LeaveLobby(clientID uuid.UUID) {
	r.mu.Lock()
	wasMember := r.lobby[clientID]
	delete(r.lobby, clientID)
	r.mu.Unlock()

	if !wasMember {
		return
	}
	r.logger.Info("client left lobby",
		zap.String("client_id", clientID.String()),
	)
	r.broadcastPlayerList()
}

// broadcastPlayerList sends the current roster to every lobby member.
func (r *Registry) broadcastPlayerList() {
	r.Broadcast(uuid.Nil, protocol.NewPlayerList(r.LobbyMembers()), ScopeLobbyOnly)
}

// LobbyMembers returns a snapshot of the lobby roster, ordered by
// display name (ties broken by id) so roster messages are stable.
func (r *Registry) LobbyMembers() []protocol.PlayerInfo {
	r.mu.RLock()
	members := make([]protocol.PlayerInfo, 0, len(r.lobby))
	for id := range r.lobby {
		if h, ok := r.clients[id]; ok {
			members = append(members, protocol.PlayerInfo{ID: id, Name: h.name})
		}
	}
	r.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		if members[i].Name != members[j].Name {
			return members[i].Name < members[j].Name
		}
		return members[i].ID.String() < members[j].ID.String()
	})
	return members
}

// InLobby reports whether the client is currently a lobby member.
func (r *Registry) InLobby(clientID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lobby[clientID]
}

// DisplayName returns the client's lobby display name.
//
// Postcondition: Returns (name, true) for a registered client, or
// ("", false) otherwise.
func (r *Registry) DisplayName(clientID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.clients[clientID]
	if !ok {
		return "", false
	}
	return h.name, true
}

// ClientCount returns the number of registered connections.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
