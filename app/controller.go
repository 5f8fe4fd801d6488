// Package app owns the signed-in session and runs every state mutation on a
// single event loop goroutine. User intents and channel events are posted to
// the loop; network calls run on the caller's goroutine.
package app

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"scuffedchat/api"
	"scuffedchat/channel"
	"scuffedchat/models"
	"scuffedchat/presence"
	"scuffedchat/reconciler"
	"scuffedchat/upload"
)

var (
	// ErrNotConnected is returned when an intent needs the real-time channel
	ErrNotConnected = errors.New("not connected")

	// ErrNoActiveContact is returned when an intent needs an open conversation
	ErrNoActiveContact = errors.New("no conversation is open")

	// ErrUnknownContact is returned when selecting a user who is not a friend
	ErrUnknownContact = errors.New("unknown contact")

	// ErrPasswordMismatch is returned by Register before any network call
	ErrPasswordMismatch = errors.New("passwords do not match")

	// ErrStopped is returned once the event loop has exited
	ErrStopped = errors.New("event loop stopped")
)

const loopBuffer = 256

// Backend is the HTTP side of the server
type Backend interface {
	Login(ctx context.Context, username, password string) (*api.LoginResponse, error)
	Register(ctx context.Context, req api.RegisterRequest) error
	Logout(ctx context.Context) error
	UploadFile(ctx context.Context, f api.Upload, progress api.ProgressFunc) (string, error)
	UploadAvatar(ctx context.Context, f api.Upload) (string, error)
	WebSocketURL() string
	Jar() http.CookieJar
}

// Channel is one real-time connection
type Channel interface {
	Events() <-chan models.WebSocketMessage
	Emit(event string, data interface{}) error
	Close() error
}

// Dialer opens a Channel authenticated by the cookies in jar
type Dialer func(ctx context.Context, wsURL string, jar http.CookieJar) (Channel, error)

// DialWebSocket is the Dialer backed by the channel package
func DialWebSocket(ctx context.Context, wsURL string, jar http.CookieJar) (Channel, error) {
	return channel.Dial(ctx, wsURL, jar)
}

// UI is everything the controller renders to
type UI interface {
	reconciler.View
	presence.View
	upload.Display
	SetConnected(connected bool)
}

// Options configure a Controller
type Options struct {
	Backend Backend
	UI      UI
	Dial    Dialer
	Strings Strings
	NewID   func() string
}

// Controller turns user intents and channel events into session mutations
type Controller struct {
	backend  Backend
	ui       UI
	dial     Dialer
	strings  Strings
	newID    func() string
	handlers map[string]handler

	loop    chan func()
	stopped chan struct{}

	session *Session
}

// NewController returns a Controller with a fresh, signed-out session. Run
// must be started before any intent is called.
func NewController(opts Options) *Controller {
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	if opts.Strings == nil {
		opts.Strings = English
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "temp_" + uuid.NewString() }
	}
	c := &Controller{
		backend: opts.Backend,
		ui:      opts.UI,
		dial:    opts.Dial,
		strings: opts.Strings,
		newID:   opts.NewID,
		loop:    make(chan func(), loopBuffer),
		stopped: make(chan struct{}),
	}
	c.handlers = c.dispatchTable()
	c.session = c.newSession()
	return c
}

func (c *Controller) newSession() *Session {
	s := &Session{Roster: presence.New(c.ui)}
	scoped := sessionUI{c: c, s: s}
	s.Messages = reconciler.New(scoped, s.Roster)
	s.Uploads = upload.New(upload.Config{
		Transport: c.backend,
		Emitter:   s,
		Renderer:  conversation{s: s},
		Display:   scoped,
		Texts: upload.Texts{
			Wait:        c.strings.Get(TextUploadWait),
			Failed:      c.strings.Get(TextUploadFailed),
			FailedAt:    c.strings.Get(TextUploadFailedServer),
			Interrupted: c.strings.Get(TextUploadInterrupted),
		},
		Self:  s.Self,
		Post:  c.Post,
		NewID: c.newID,
	})
	return s
}

// Run executes posted work until ctx is done
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.loop:
			fn()
		case <-ctx.Done():
			c.teardown(c.session)
			return ctx.Err()
		}
	}
}

// Post schedules fn on the event loop. It is dropped once the loop stopped.
func (c *Controller) Post(fn func()) {
	select {
	case c.loop <- fn:
	case <-c.stopped:
	}
}

// call runs fn on the event loop and waits for its result. It must not be
// used from the loop itself.
func (c *Controller) call(fn func(s *Session) error) error {
	errc := make(chan error, 1)
	select {
	case c.loop <- func() { errc <- fn(c.session) }:
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-c.stopped:
		return ErrStopped
	}
}

// Do runs fn against the current session on the event loop and waits for it
func (c *Controller) Do(fn func(s *Session)) error {
	return c.call(func(s *Session) error {
		fn(s)
		return nil
	})
}

func (c *Controller) notice(text string) {
	c.Post(func() { c.ui.Notice(text) })
}

// Login authenticates, projects the initial data returned with the login and
// connects the real-time channel.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	resp, err := c.backend.Login(ctx, username, password)
	if err != nil {
		var rejected *api.RejectedError
		if !errors.As(err, &rejected) {
			c.notice(c.strings.Get(TextErrorNetwork))
		}
		return err
	}

	err = c.call(func(old *Session) error {
		c.teardown(old)
		s := c.newSession()
		c.session = s
		if resp.InitialData != nil {
			s.Roster.Load(*resp.InitialData)
		} else {
			s.Roster.SetCurrentUser(models.UserRef{Username: username})
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("username", username).Msg("[app] logged in")
	return c.Connect(ctx)
}

// Register creates an account. A password confirmation mismatch fails
// without contacting the server.
func (c *Controller) Register(ctx context.Context, req api.RegisterRequest) error {
	if req.Password != req.PasswordConfirm {
		return ErrPasswordMismatch
	}
	return c.backend.Register(ctx, req)
}

// Logout drops the channel, forgets the session and ends the server session
func (c *Controller) Logout(ctx context.Context) error {
	err := c.call(func(old *Session) error {
		c.teardown(old)
		c.session = c.newSession()
		return nil
	})
	if err != nil {
		return err
	}
	return c.backend.Logout(ctx)
}

// teardown aborts the upload and closes the channel of s. In-flight
// optimistic messages are abandoned.
func (c *Controller) teardown(s *Session) {
	s.Uploads.Cancel()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.Messages.Reset()
	s.Roster.Clear()
	c.ui.SetConnected(false)
}

// Connect opens the real-time channel, replacing any previous connection
func (c *Controller) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx, c.backend.WebSocketURL(), c.backend.Jar())
	if err != nil {
		c.notice(c.strings.Get(TextErrorNetwork))
		return errors.Wrap(err, "connect")
	}

	var owner *Session
	err = c.call(func(s *Session) error {
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.conn = conn
		owner = s
		return nil
	})
	if err != nil {
		_ = conn.Close()
		return err
	}
	go c.pump(owner, conn)
	return nil
}

func (c *Controller) pump(s *Session, conn Channel) {
	for ev := range conn.Events() {
		ev := ev
		c.Post(func() { c.dispatch(s, conn, ev) })
	}
}

// SelectContact opens the conversation with username and requests its history
func (c *Controller) SelectContact(username string) error {
	return c.call(func(s *Session) error {
		if !s.Roster.SetActive(username) {
			return errors.WithMessage(ErrUnknownContact, username)
		}
		s.Messages.Reset()
		return s.Emit(models.EventLoadChatHistory, models.LoadHistoryRequest{ContactUsername: username})
	})
}

// CloseConversation clears the open conversation
func (c *Controller) CloseConversation() error {
	return c.call(func(s *Session) error {
		s.Roster.SetActive("")
		s.Messages.Reset()
		return nil
	})
}

// SendText renders text optimistically and sends it to the open conversation.
// The server echo carrying the same temp_id is reconciled in place.
func (c *Controller) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.call(func(s *Session) error {
		recipient := s.Active()
		if recipient == "" {
			c.ui.Notice(c.strings.Get(TextNoActiveConversation))
			return ErrNoActiveContact
		}
		if !s.Connected() {
			return ErrNotConnected
		}

		tempID := c.newID()
		s.Messages.Render(models.Message{
			TempID:    tempID,
			Sender:    s.Self(),
			Recipient: recipient,
			Kind:      models.KindText,
			Content:   text,
			Timestamp: models.Now(),
		})
		err := s.Emit(models.EventSendMessage, models.OutgoingMessage{
			Recipient: recipient,
			Kind:      models.KindText,
			Text:      text,
			TempID:    tempID,
		})
		if err != nil {
			s.Messages.Remove(tempID)
			c.ui.Notice(c.strings.Get(TextSendFailed))
			return errors.Wrap(err, "send message")
		}
		return nil
	})
}

// SendFile starts uploading the file at path to the open conversation
func (c *Controller) SendFile(path string) (string, error) {
	src, err := upload.OpenFile(path)
	if err != nil {
		return "", err
	}
	var tempID string
	err = c.call(func(s *Session) error {
		if !s.Connected() {
			return ErrNotConnected
		}
		id, err := s.Uploads.Start(s.Active(), src)
		if errors.Is(err, upload.ErrNoRecipient) {
			c.ui.Notice(c.strings.Get(TextNoActiveConversation))
			return ErrNoActiveContact
		}
		tempID = id
		return err
	})
	return tempID, err
}

// CancelUpload aborts the active upload, if any
func (c *Controller) CancelUpload() (bool, error) {
	var cancelled bool
	err := c.call(func(s *Session) error {
		cancelled = s.Uploads.Cancel()
		return nil
	})
	return cancelled, err
}

// UploadAvatar replaces the avatar of the signed-in user
func (c *Controller) UploadAvatar(ctx context.Context, path string) error {
	src, err := upload.OpenFile(path)
	if err != nil {
		return err
	}
	body, err := src.Open()
	if err != nil {
		return errors.Wrap(err, "open avatar")
	}
	defer body.Close()

	url, err := c.backend.UploadAvatar(ctx, api.Upload{
		Name:      src.Name(),
		MediaType: src.MediaType(),
		Size:      src.Size(),
		Body:      body,
	})
	if err != nil {
		var rejected *api.UploadFailedError
		if errors.As(err, &rejected) {
			c.notice(c.strings.Get(TextAvatarUploadFailed) + rejected.Reason)
		} else {
			c.notice(c.strings.Get(TextAvatarUploadError))
		}
		return err
	}

	return c.call(func(s *Session) error {
		self := s.Self()
		s.Roster.UpdateAvatar(self, url)
		s.Messages.UpdateAvatar(self, url)
		return nil
	})
}

// Search looks users up by name
func (c *Controller) Search(query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	return c.call(func(s *Session) error {
		return s.Emit(models.EventSearchUser, models.SearchRequest{Query: query})
	})
}

// SendFriendRequest asks username to become a friend
func (c *Controller) SendFriendRequest(username string) error {
	return c.call(func(s *Session) error {
		if err := s.Emit(models.EventSendFriendReq, models.FriendRequestPayload{Username: username}); err != nil {
			return err
		}
		s.Roster.MarkRequested(username)
		return nil
	})
}

// RespondToRequest accepts or declines the pending request from username
func (c *Controller) RespondToRequest(username string, accept bool) error {
	return c.call(func(s *Session) error {
		err := s.Emit(models.EventRespondFriendReq, models.RespondRequest{Username: username, Accept: accept})
		if err != nil {
			return err
		}
		s.Roster.Respond(username, accept)
		return nil
	})
}

// OpenRequests returns the pending requests and clears the badge
func (c *Controller) OpenRequests() ([]models.FriendRequest, error) {
	var reqs []models.FriendRequest
	err := c.call(func(s *Session) error {
		reqs = s.Roster.OpenRequests()
		return nil
	})
	return reqs, err
}

// Contacts returns a snapshot of the contact list
func (c *Controller) Contacts() ([]presence.Contact, error) {
	var contacts []presence.Contact
	err := c.call(func(s *Session) error {
		contacts = s.Roster.Contacts()
		return nil
	})
	return contacts, err
}
