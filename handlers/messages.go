package handlers

import (
	"github.com/pkg/errors"

	"scuffedchat/models"
)

var errNotFriends = errors.New("recipient is not a friend")

func (s *Server) dispatchTable() map[string]eventHandler {
	return map[string]eventHandler{
		models.EventGetInitialData:   s.onGetInitialData,
		models.EventLoadChatHistory:  s.onLoadChatHistory,
		models.EventSendMessage:      s.onSendMessage,
		models.EventSearchUser:       s.onSearchUser,
		models.EventSendFriendReq:    s.onSendFriendRequest,
		models.EventRespondFriendReq: s.onRespondToFriendRequest,
	}
}

// onSendMessage relays a message between friends. Text and completed
// transfers are stored and echoed to the sender; transfer placeholders and
// cancellations are only relayed.
func (s *Server) onSendMessage(c *Client, ev models.WebSocketMessage) error {
	var in models.OutgoingMessage
	if err := ev.Decode(&in); err != nil {
		return errors.Wrap(err, "decode send_message")
	}
	if in.Recipient == "" {
		return errors.New("missing recipient")
	}
	friends, err := s.store.AreFriends(c.Username, in.Recipient)
	if err != nil {
		return err
	}
	if !friends {
		return errNotFriends
	}
	sender, err := s.store.GetUser(c.Username)
	if err != nil {
		return err
	}

	kind := in.Kind
	switch kind {
	case "", "message":
		kind = models.KindText
	case "cancelled":
		kind = models.KindCancelled
	}

	msg := models.Message{
		TempID:         in.TempID,
		Sender:         c.Username,
		Recipient:      in.Recipient,
		SenderNickname: sender.Nickname,
		SenderAvatar:   sender.AvatarURL,
		Kind:           kind,
		Timestamp:      models.Timestamp{Time: s.now()},
	}
	persist := false
	switch {
	case kind == models.KindText:
		if in.Text == "" {
			return errors.New("empty text message")
		}
		msg.Content = in.Text
		persist = true
	case kind == models.KindCancelled:
	case kind.IsUploading():
		msg.Filename = in.Filename
	case kind == models.KindImage, kind == models.KindVideo, kind == models.KindFile:
		if in.URL == "" {
			return errors.Errorf("%s message without url", kind)
		}
		msg.URL = in.URL
		msg.Filename = in.Filename
		persist = true
	default:
		return errors.Errorf("unknown message type %q", kind)
	}

	if persist {
		if err := s.store.SaveMessage(msg); err != nil {
			return err
		}
	}
	if s.hub.Online(msg.Recipient) {
		s.hub.SendTo(msg.Recipient, models.EventReceiveMessage, msg)
	}
	if persist {
		s.hub.SendTo(c.Username, models.EventReceiveMessage, msg)
	}
	return nil
}

func (s *Server) onLoadChatHistory(c *Client, ev models.WebSocketMessage) error {
	var req models.LoadHistoryRequest
	if err := ev.Decode(&req); err != nil {
		return errors.Wrap(err, "decode load_chat_history")
	}
	if req.ContactUsername == "" {
		return errors.New("missing contact")
	}
	history, err := s.store.ChatHistory(c.Username, req.ContactUsername)
	if err != nil {
		return err
	}
	s.hub.SendTo(c.Username, models.EventChatHistory, models.ChatHistory{
		Contact: req.ContactUsername,
		History: history,
	})
	return nil
}
