package models

import "encoding/json"

// Client to server events
const (
	EventGetInitialData   = "get_initial_data"
	EventLoadChatHistory  = "load_chat_history"
	EventSendMessage      = "send_message"
	EventSearchUser       = "search_user"
	EventSendFriendReq    = "send_friend_request"
	EventRespondFriendReq = "respond_to_friend_request"
)

// Server to client events
const (
	EventInitialData      = "initial_data_response"
	EventChatHistory      = "chat_history_response"
	EventReceiveMessage   = "receive_message"
	EventReloadData       = "reload_data"
	EventSearchResults    = "search_results"
	EventFriendReqSent    = "friend_request_sent"
	EventNewFriendRequest = "new_friend_request"
	EventStatusChange     = "status_change"
	EventAvatarUpdated    = "avatar_updated"
)

// Local connection lifecycle events, never sent over the wire
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// WebSocketMessage is the envelope for every real-time event
type WebSocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewWebSocketMessage marshals data into an envelope for event
func NewWebSocketMessage(event string, data interface{}) (WebSocketMessage, error) {
	msg := WebSocketMessage{Event: event}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return msg, err
	}
	msg.Data = raw
	return msg, nil
}

// Decode unmarshals the event data into v
func (m WebSocketMessage) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

type LoadHistoryRequest struct {
	ContactUsername string `json:"contact_username"`
}

type SearchRequest struct {
	Query string `json:"query"`
}

type FriendRequestPayload struct {
	Username string `json:"username"`
}

type RespondRequest struct {
	Username string `json:"username"`
	Accept   bool   `json:"accept"`
}

type ChatHistory struct {
	Contact string    `json:"contact"`
	History []Message `json:"history"`
}

type StatusChange struct {
	Username string `json:"username"`
	Status   Status `json:"status"`
}

type AvatarUpdate struct {
	Username     string `json:"username"`
	NewAvatarURL string `json:"new_avatar_url"`
}

type FriendRequestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
