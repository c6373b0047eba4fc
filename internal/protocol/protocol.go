// Package protocol defines the JSON wire format exchanged with
// clients: inbound actions decoded from text frames, and outbound
// messages encoded back. Actions form a closed tagged-variant set
// decoded once at the boundary and matched exhaustively by the
// connection handler.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnknownAction is returned when the inbound "type" tag is not part
// of the action set.
var ErrUnknownAction = errors.New("unknown action type")

// Action is an inbound client request decoded from a text frame.
type Action interface {
	isAction()
}

// ChatAction broadcasts a chat line to the rest of the lobby.
type ChatAction struct {
	Content string `json:"content"`
}

// MoveAction plays a cell in an active game session.
type MoveAction struct {
	SessionID uuid.UUID `json:"session_id"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
}

// JoinLobbyAction enters the lobby under a display name.
type JoinLobbyAction struct {
	Name string `json:"name"`
}

// LeaveLobbyAction exits the lobby without disconnecting.
type LeaveLobbyAction struct{}

// RequestGameAction asks another lobby member for a game.
type RequestGameAction struct {
	OpponentID uuid.UUID `json:"opponent_id"`
}

// RespondGameAction accepts or declines a pending game request.
type RespondGameAction struct {
	RequestID uuid.UUID `json:"request_id"`
	Accept    bool      `json:"accept"`
}

func (ChatAction) isAction()        {}
func (MoveAction) isAction()        {}
func (JoinLobbyAction) isAction()   {}
func (LeaveLobbyAction) isAction()  {}
func (RequestGameAction) isAction() {}
func (RespondGameAction) isAction() {}

// DecodeAction parses an inbound text frame into its action variant.
//
// Postcondition: Returns one of the Action types above, or an error
// (ErrUnknownAction for an unrecognized tag, a json error otherwise).
func DecodeAction(data []byte) (Action, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding action envelope: %w", err)
	}

	var (
		action Action
		err    error
	)
	switch env.Type {
	case "ChatMessage":
		var a ChatAction
		err = json.Unmarshal(data, &a)
		action = a
	case "MakeMove":
		var a MoveAction
		err = json.Unmarshal(data, &a)
		action = a
	case "JoinLobby":
		var a JoinLobbyAction
		err = json.Unmarshal(data, &a)
		action = a
	case "LeaveLobby":
		action = LeaveLobbyAction{}
	case "RequestGame":
		var a RequestGameAction
		err = json.Unmarshal(data, &a)
		action = a
	case "RespondGame":
		var a RespondGameAction
		err = json.Unmarshal(data, &a)
		action = a
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s action: %w", env.Type, err)
	}
	return action, nil
}

// Message is an outbound server message. Construct values through the
// New* helpers so the "type" tag is always set.
type Message interface {
	isMessage()
}

// ChatMessage relays a chat line to a recipient.
type ChatMessage struct {
	Type    string    `json:"type"`
	From    uuid.UUID `json:"from"`
	Content string    `json:"content"`
}

// GameStateUpdate carries a full game snapshot after a move or at
// session start.
type GameStateUpdate struct {
	Type      string    `json:"type"`
	SessionID uuid.UUID `json:"session_id"`
	Board     string    `json:"board"`
	Turn      string    `json:"turn"`
	GameOver  bool      `json:"game_over"`
	Winner    *string   `json:"winner"`
}

// PlayerInfo is one lobby member in a PlayerList.
type PlayerInfo struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// PlayerList is the current lobby roster, sent to all lobby members
// whenever membership changes.
type PlayerList struct {
	Type    string       `json:"type"`
	Players []PlayerInfo `json:"players"`
}

// ErrorMessage reports a rejected request back to the acting client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// GameRequest notifies a lobby member that another player wants a game.
type GameRequest struct {
	Type      string    `json:"type"`
	RequestID uuid.UUID `json:"request_id"`
	From      uuid.UUID `json:"from"`
	FromName  string    `json:"from_name"`
}

// GameDeclined notifies a requester that their request was declined.
type GameDeclined struct {
	Type      string    `json:"type"`
	RequestID uuid.UUID `json:"request_id"`
}

// OpponentLeft notifies the remaining player that their opponent
// disconnected and the session was terminated.
type OpponentLeft struct {
	Type      string    `json:"type"`
	SessionID uuid.UUID `json:"session_id"`
}

func (ChatMessage) isMessage()     {}
func (GameStateUpdate) isMessage() {}
func (PlayerList) isMessage()      {}
func (ErrorMessage) isMessage()    {}
func (GameRequest) isMessage()     {}
func (GameDeclined) isMessage()    {}
func (OpponentLeft) isMessage()    {}

// NewChatMessage builds a ChatMessage from a sender and content.
func NewChatMessage(from uuid.UUID, content string) ChatMessage {
	return ChatMessage{Type: "ChatMessage", From: from, Content: content}
}

// NewGameStateUpdate builds a GameStateUpdate. winner must be "X" or
// "O" when the game has been won, empty otherwise (encoded as null).
func NewGameStateUpdate(sessionID uuid.UUID, boardStr, turn string, gameOver bool, winner string) GameStateUpdate {
	var w *string
	if winner != "" {
		w = &winner
	}
	return GameStateUpdate{
		Type:      "GameStateUpdate",
		SessionID: sessionID,
		Board:     boardStr,
		Turn:      turn,
		GameOver:  gameOver,
		Winner:    w,
	}
}

// NewPlayerList builds a PlayerList from the lobby roster.
func NewPlayerList(players []PlayerInfo) PlayerList {
	if players == nil {
		players = []PlayerInfo{}
	}
	return PlayerList{Type: "PlayerList", Players: players}
}

// NewErrorMessage builds an ErrorMessage.
func NewErrorMessage(message string) ErrorMessage {
	return ErrorMessage{Type: "Error", Message: message}
}

// NewGameRequest builds a GameRequest notification.
func NewGameRequest(requestID, from uuid.UUID, fromName string) GameRequest {
	return GameRequest{Type: "GameRequest", RequestID: requestID, From: from, FromName: fromName}
}

// NewGameDeclined builds a GameDeclined notification.
func NewGameDeclined(requestID uuid.UUID) GameDeclined {
	return GameDeclined{Type: "GameDeclined", RequestID: requestID}
}

// NewOpponentLeft builds an OpponentLeft notification.
func NewOpponentLeft(sessionID uuid.UUID) OpponentLeft {
	return OpponentLeft{Type: "OpponentLeft", SessionID: sessionID}
}

// Encode marshals an outbound message to its JSON frame.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", m, err)
	}
	return data, nil
}
