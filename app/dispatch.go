package app

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"scuffedchat/models"
)

// handler applies one server event to the session
type handler func(s *Session, ev models.WebSocketMessage) error

func (c *Controller) dispatchTable() map[string]handler {
	return map[string]handler{
		models.EventConnect:          c.onConnect,
		models.EventInitialData:      c.onInitialData,
		models.EventChatHistory:      c.onChatHistory,
		models.EventReceiveMessage:   c.onReceiveMessage,
		models.EventReloadData:       c.onReloadData,
		models.EventSearchResults:    c.onSearchResults,
		models.EventFriendReqSent:    c.onFriendRequestSent,
		models.EventNewFriendRequest: c.onNewFriendRequest,
		models.EventStatusChange:     c.onStatusChange,
		models.EventAvatarUpdated:    c.onAvatarUpdated,
	}
}

// dispatch runs on the event loop. Events from a connection the session no
// longer owns are dropped.
func (c *Controller) dispatch(s *Session, conn Channel, ev models.WebSocketMessage) {
	if s != c.session {
		return
	}
	if ev.Event == models.EventDisconnect {
		if s.conn == conn {
			s.conn = nil
			c.ui.SetConnected(false)
			c.ui.Notice(c.strings.Get(TextDisconnected))
		}
		return
	}
	if s.conn != conn {
		return
	}

	h, ok := c.handlers[ev.Event]
	if !ok {
		log.Debug().Str("event", ev.Event).Msg("[app] unhandled event")
		return
	}
	if err := h(s, ev); err != nil {
		log.Warn().Err(err).Str("event", ev.Event).Msg("[app] event dropped")
	}
}

func (c *Controller) onConnect(s *Session, _ models.WebSocketMessage) error {
	c.ui.SetConnected(true)
	return s.Emit(models.EventGetInitialData, nil)
}

func (c *Controller) onInitialData(s *Session, ev models.WebSocketMessage) error {
	var data models.InitialData
	if err := ev.Decode(&data); err != nil {
		return errors.Wrap(err, "decode initial data")
	}
	s.Roster.Load(data)
	return nil
}

func (c *Controller) onChatHistory(s *Session, ev models.WebSocketMessage) error {
	var history models.ChatHistory
	if err := ev.Decode(&history); err != nil {
		return errors.Wrap(err, "decode chat history")
	}
	if history.Contact != s.Active() {
		return nil
	}
	s.Messages.Reset()
	for _, msg := range history.History {
		s.Messages.Render(msg)
	}
	s.Messages.ScrollToLatest()
	return nil
}

func (c *Controller) onReceiveMessage(s *Session, ev models.WebSocketMessage) error {
	var msg models.Message
	if err := ev.Decode(&msg); err != nil {
		return errors.Wrap(err, "decode message")
	}
	if msg.Kind == models.KindCancelled {
		s.Messages.Remove(msg.TempID)
		return nil
	}
	if s.InConversation(msg) {
		s.Messages.Render(msg)
		return nil
	}
	if msg.Sender != s.Self() && !msg.Kind.IsUploading() {
		s.Roster.MarkUnread(msg.Sender)
	}
	return nil
}

func (c *Controller) onReloadData(s *Session, _ models.WebSocketMessage) error {
	return s.Emit(models.EventGetInitialData, nil)
}

func (c *Controller) onSearchResults(s *Session, ev models.WebSocketMessage) error {
	var results []models.SearchResult
	if err := ev.Decode(&results); err != nil {
		return errors.Wrap(err, "decode search results")
	}
	s.Roster.SetSearchResults(results)
	return nil
}

func (c *Controller) onFriendRequestSent(_ *Session, ev models.WebSocketMessage) error {
	var res models.FriendRequestResult
	if err := ev.Decode(&res); err != nil {
		return errors.Wrap(err, "decode friend request result")
	}
	if !res.Success {
		text := res.Message
		if text == "" {
			text = c.strings.Get(TextFriendRequestFailed)
		}
		c.ui.Notice(text)
	}
	return nil
}

func (c *Controller) onNewFriendRequest(s *Session, ev models.WebSocketMessage) error {
	var from models.UserRef
	if err := ev.Decode(&from); err != nil {
		return errors.Wrap(err, "decode friend request")
	}
	if from.Username == "" {
		return errors.New("friend request without username")
	}
	s.Roster.AddRequest(from)
	return nil
}

func (c *Controller) onStatusChange(s *Session, ev models.WebSocketMessage) error {
	var change models.StatusChange
	if err := ev.Decode(&change); err != nil {
		return errors.Wrap(err, "decode status change")
	}
	s.Roster.SetStatus(change.Username, change.Status)
	return nil
}

func (c *Controller) onAvatarUpdated(s *Session, ev models.WebSocketMessage) error {
	var update models.AvatarUpdate
	if err := ev.Decode(&update); err != nil {
		return errors.Wrap(err, "decode avatar update")
	}
	s.Roster.UpdateAvatar(update.Username, update.NewAvatarURL)
	s.Messages.UpdateAvatar(update.Username, update.NewAvatarURL)
	return nil
}
