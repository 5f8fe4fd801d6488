package app

import (
	"scuffedchat/models"
	"scuffedchat/presence"
	"scuffedchat/reconciler"
	"scuffedchat/upload"
)

// Session is the state of one signed-in user: the contact projection, the
// open conversation and the upload slot. It is owned by the event loop.
type Session struct {
	Roster   *presence.Roster
	Messages *reconciler.Reconciler
	Uploads  *upload.Coordinator

	conn Channel
}

// Self returns the username of the signed-in user
func (s *Session) Self() string {
	return s.Roster.CurrentUser().Username
}

// Active returns the username of the open conversation
func (s *Session) Active() string {
	return s.Roster.ActiveUsername()
}

// Connected reports whether the real-time channel is up
func (s *Session) Connected() bool {
	return s.conn != nil
}

// Emit sends an event over the real-time channel of the session
func (s *Session) Emit(event string, data interface{}) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	return s.conn.Emit(event, data)
}

// InConversation reports whether msg belongs to the open conversation
func (s *Session) InConversation(msg models.Message) bool {
	active, self := s.Active(), s.Self()
	if active == "" {
		return false
	}
	return (msg.Sender == active && msg.Recipient == self) ||
		(msg.Sender == self && msg.Recipient == active)
}

// conversation renders upload messages only while their conversation is open
type conversation struct {
	s *Session
}

func (c conversation) Render(msg models.Message) {
	if c.s.InConversation(msg) {
		c.s.Messages.Render(msg)
	}
}

func (c conversation) Remove(tempID string) {
	c.s.Messages.Remove(tempID)
}

// sessionUI forwards element and upload updates only while its session is
// the current one, so work finishing after a logout stays off the screen.
// Like the session, it is only used on the event loop.
type sessionUI struct {
	c *Controller
	s *Session
}

func (u sessionUI) live() bool {
	return u.c.session == u.s
}

func (u sessionUI) Insert(e reconciler.Element) {
	if u.live() {
		u.c.ui.Insert(e)
	}
}

func (u sessionUI) Replace(e reconciler.Element) {
	if u.live() {
		u.c.ui.Replace(e)
	}
}

func (u sessionUI) Remove(e reconciler.Element) {
	if u.live() {
		u.c.ui.Remove(e)
	}
}

func (u sessionUI) Clear() {
	if u.live() {
		u.c.ui.Clear()
	}
}

func (u sessionUI) ScrollToLatest() {
	if u.live() {
		u.c.ui.ScrollToLatest()
	}
}

func (u sessionUI) ShowProgress(filename string, percent int) {
	if u.live() {
		u.c.ui.ShowProgress(filename, percent)
	}
}

func (u sessionUI) HideProgress() {
	if u.live() {
		u.c.ui.HideProgress()
	}
}

func (u sessionUI) Notice(text string) {
	if u.live() {
		u.c.ui.Notice(text)
	}
}
