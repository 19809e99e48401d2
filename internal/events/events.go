package events

import (
	"encoding/json"

	"chatroom/internal/domain"
)

// Frame types. Client to server: join, send, get_users. Everything else flows
// server to client.
const (
	TypeJoin     = "join"
	TypeSend     = "send"
	TypeGetUsers = "get_users"

	TypeWelcome      = "welcome"
	TypeMessage      = "message"
	TypeUsersList    = "users_list"
	TypeHistory      = "history"
	TypeForcedLogout = "forced_logout"
	TypeError        = "error"
)

// Envelope is the JSON frame exchanged on the socket.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Inbound is an envelope whose payload is decoded lazily by type.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Welcome struct {
	ConnID        string `json:"connId"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
	Username      string `json:"username,omitempty"`
}

type ForcedLogout struct {
	Reason string `json:"reason"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func Message(m domain.Message) Envelope { return Envelope{Type: TypeMessage, Data: m} }

func UsersList(roster []domain.Presence) Envelope {
	if roster == nil {
		roster = []domain.Presence{}
	}
	return Envelope{Type: TypeUsersList, Data: roster}
}

func History(msgs []domain.Message) Envelope {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return Envelope{Type: TypeHistory, Data: msgs}
}

func Forced(reason string) Envelope {
	return Envelope{Type: TypeForcedLogout, Data: ForcedLogout{Reason: reason}}
}

func Err(code, msg string) Envelope {
	return Envelope{Type: TypeError, Data: Error{Code: code, Message: msg}}
}

// Eviction reasons carried by forced_logout.
const (
	ReasonNewDevice = "signed in from another device"
)
