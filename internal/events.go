package internal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event type names exchanged over the websocket.
const (
	EventAuthenticate   = "authenticate"
	EventAuthenticated  = "authenticated"
	EventAuthError      = "authentication-error"
	EventJoinRoom       = "join-room"
	EventGetOnlineUsers = "get-online-users"
	EventOnlineUsers    = "online-users"
	EventUserOnline     = "user-online"
	EventUserOffline    = "user-offline"
)

// Event is the json envelope both sides exchange on the presence socket.
// Only the fields relevant to a given Type are populated. UserIDs must not
// use omitempty: an empty snapshot still carries "userIds":[] on the wire.
type Event struct {
	Type    string   `json:"type"`
	Token   string   `json:"token,omitempty"`
	UserID  string   `json:"userId,omitempty"`
	UserIDs []string `json:"userIds"`
	Message string   `json:"message,omitempty"`
}

var errUnknownEvent = errors.New("unknown event type")

// decodeClientEvent parses and validates an inbound payload at the wire
// boundary. Only client-originated event types are accepted.
func decodeClientEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("malformed event: %w", err)
	}
	switch ev.Type {
	case EventAuthenticate:
		if ev.Token == "" {
			return Event{}, errors.New("authenticate requires a token")
		}
	case EventJoinRoom:
		if ev.UserID == "" {
			return Event{}, errors.New("join-room requires a userId")
		}
	case EventGetOnlineUsers:
		// no payload
	default:
		return Event{}, fmt.Errorf("%w: %q", errUnknownEvent, ev.Type)
	}
	return ev, nil
}

func authenticatedEvent(userID string) Event {
	return Event{Type: EventAuthenticated, UserID: userID}
}

func authErrorEvent(message string) Event {
	return Event{Type: EventAuthError, Message: message}
}

func userOnlineEvent(userID string) Event {
	return Event{Type: EventUserOnline, UserID: userID}
}

func userOfflineEvent(userID string) Event {
	return Event{Type: EventUserOffline, UserID: userID}
}

func onlineUsersEvent(userIDs []string) Event {
	if userIDs == nil {
		userIDs = []string{}
	}
	return Event{Type: EventOnlineUsers, UserIDs: userIDs}
}

func encodeEvent(ev Event) []byte {
	payload, err := json.Marshal(ev)
	if err != nil {
		// the envelope contains only plain strings; this cannot fail at runtime
		panic(fmt.Sprintf("encode event: %v", err))
	}
	return payload
}
