package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"scuffedchat/api"
	"scuffedchat/models"
	"scuffedchat/presence"
	"scuffedchat/reconciler"
	"scuffedchat/upload"
)

const waitFor = 2 * time.Second

type fakeBackend struct {
	mu         sync.Mutex
	login      *api.LoginResponse
	loginErr   error
	registered []api.RegisterRequest
	loggedOut  bool
	fileURL    string
	uploadErr  error
	holdUpload bool
	avatarURL  string
	avatarErr  error
}

func (b *fakeBackend) Login(context.Context, string, string) (*api.LoginResponse, error) {
	return b.login, b.loginErr
}

func (b *fakeBackend) Register(_ context.Context, req api.RegisterRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = append(b.registered, req)
	return nil
}

func (b *fakeBackend) Logout(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loggedOut = true
	return nil
}

func (b *fakeBackend) UploadFile(ctx context.Context, f api.Upload, progress api.ProgressFunc) (string, error) {
	if b.holdUpload {
		<-ctx.Done()
		return "", ctx.Err()
	}
	progress(f.Size, f.Size)
	return b.fileURL, b.uploadErr
}

func (b *fakeBackend) UploadAvatar(context.Context, api.Upload) (string, error) {
	return b.avatarURL, b.avatarErr
}

func (b *fakeBackend) WebSocketURL() string { return "ws://chat.test/ws" }
func (b *fakeBackend) Jar() http.CookieJar  { return nil }

type fakeChannel struct {
	events chan models.WebSocketMessage

	mu      sync.Mutex
	emitted []models.WebSocketMessage
	closed  bool
	failAll bool
}

func newFakeChannel() *fakeChannel {
	ch := &fakeChannel{events: make(chan models.WebSocketMessage, 64)}
	ch.events <- models.WebSocketMessage{Event: models.EventConnect}
	return ch
}

func (ch *fakeChannel) Events() <-chan models.WebSocketMessage { return ch.events }

func (ch *fakeChannel) Emit(event string, data interface{}) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.failAll {
		return errors.New("send buffer full")
	}
	msg, err := models.NewWebSocketMessage(event, data)
	if err != nil {
		return err
	}
	ch.emitted = append(ch.emitted, msg)
	return nil
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.closed {
		ch.closed = true
		ch.events <- models.WebSocketMessage{Event: models.EventDisconnect}
		close(ch.events)
	}
	return nil
}

func (ch *fakeChannel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *fakeChannel) push(t *testing.T, event string, data interface{}) {
	msg, err := models.NewWebSocketMessage(event, data)
	require.NoError(t, err)
	ch.events <- msg
}

func (ch *fakeChannel) sent(event string) []models.WebSocketMessage {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	var out []models.WebSocketMessage
	for _, m := range ch.emitted {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (ch *fakeChannel) outgoing(t *testing.T) []models.OutgoingMessage {
	var out []models.OutgoingMessage
	for _, m := range ch.sent(models.EventSendMessage) {
		var msg models.OutgoingMessage
		require.NoError(t, json.Unmarshal(m.Data, &msg))
		out = append(out, msg)
	}
	return out
}

// fakeUI is only touched on the event loop
type fakeUI struct {
	connected bool
	notices   []string
	header    models.UserRef
	requests  []models.FriendRequest
	results   []models.SearchResult
	progress  []int
	hides     int
}

func (u *fakeUI) Insert(reconciler.Element)                       {}
func (u *fakeUI) Replace(reconciler.Element)                      {}
func (u *fakeUI) Remove(reconciler.Element)                       {}
func (u *fakeUI) Clear()                                          {}
func (u *fakeUI) ScrollToLatest()                                 {}
func (u *fakeUI) ShowCurrentUser(ref models.UserRef)              { u.header = ref }
func (u *fakeUI) ShowContacts([]presence.Contact)                 {}
func (u *fakeUI) UpdateContact(presence.Contact)                  {}
func (u *fakeUI) ShowRequests(reqs []models.FriendRequest, _ int) { u.requests = reqs }
func (u *fakeUI) ShowSearchResults(results []models.SearchResult) { u.results = results }
func (u *fakeUI) ShowProgress(_ string, percent int)              { u.progress = append(u.progress, percent) }
func (u *fakeUI) HideProgress()                                   { u.hides++ }
func (u *fakeUI) Notice(text string)                              { u.notices = append(u.notices, text) }
func (u *fakeUI) SetConnected(connected bool)                     { u.connected = connected }

type harness struct {
	t       *testing.T
	ctrl    *Controller
	backend *fakeBackend
	ui      *fakeUI
	chans   []*fakeChannel
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t: t,
		backend: &fakeBackend{
			login: &api.LoginResponse{
				Success: true,
				InitialData: &models.InitialData{
					CurrentUser: models.UserRef{Username: "alice", Nickname: "Alice"},
					Friends: []models.Friend{
						{UserRef: models.UserRef{Username: "bob", Nickname: "Bob"}},
						{UserRef: models.UserRef{Username: "carol", Nickname: "Carol"}},
					},
				},
			},
			fileURL: "/uploads/notes.txt",
		},
		ui: &fakeUI{},
	}
	ids := 0
	h.ctrl = NewController(Options{
		Backend: h.backend,
		UI:      h.ui,
		Dial: func(context.Context, string, http.CookieJar) (Channel, error) {
			ch := newFakeChannel()
			h.chans = append(h.chans, ch)
			return ch, nil
		},
		NewID: func() string {
			ids++
			return "temp_" + strconv.Itoa(ids)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.ctrl.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// loggedIn signs alice in and waits for the channel to come up
func loggedIn(t *testing.T) (*harness, *fakeChannel) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Login(context.Background(), "alice", "pw"))
	require.Len(t, h.chans, 1)
	ch := h.chans[0]
	require.Eventually(t, func() bool { return len(ch.sent(models.EventGetInitialData)) == 1 }, waitFor, time.Millisecond)
	return h, ch
}

// eventually polls cond on the event loop
func (h *harness) eventually(cond func(s *Session) bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		var ok bool
		if err := h.ctrl.Do(func(s *Session) { ok = cond(s) }); err != nil {
			return false
		}
		return ok
	}, waitFor, time.Millisecond)
}

func (h *harness) inspect(fn func(s *Session)) {
	h.t.Helper()
	require.NoError(h.t, h.ctrl.Do(fn))
}

func TestLogin_ProjectsInitialDataAndConnects(t *testing.T) {
	h, _ := loggedIn(t)

	h.eventually(func(*Session) bool { return h.ui.connected })
	h.inspect(func(s *Session) {
		require.Equal(t, "alice", s.Self())
		bob, ok := s.Roster.Contact("bob")
		require.True(t, ok)
		require.Equal(t, models.StatusOffline, bob.Status)
		require.Equal(t, "Alice", h.ui.header.Nickname)
	})
}

func TestLogin_Rejected(t *testing.T) {
	h := newHarness(t)
	h.backend.login = nil
	h.backend.loginErr = &api.RejectedError{Message: "Invalid username or password"}

	err := h.ctrl.Login(context.Background(), "alice", "wrong")
	var rejected *api.RejectedError
	require.True(t, errors.As(err, &rejected))
	require.Empty(t, h.chans)
	h.inspect(func(*Session) { require.Empty(t, h.ui.notices) })
}

func TestRegister_PasswordMismatch(t *testing.T) {
	h := newHarness(t)
	err := h.ctrl.Register(context.Background(), api.RegisterRequest{
		Username: "dave", Password: "a", PasswordConfirm: "b", Nickname: "Dave",
	})
	require.ErrorIs(t, err, ErrPasswordMismatch)
	require.Empty(t, h.backend.registered)

	err = h.ctrl.Register(context.Background(), api.RegisterRequest{
		Username: "dave", Password: "a", PasswordConfirm: "a", Nickname: "Dave",
	})
	require.NoError(t, err)
	require.Len(t, h.backend.registered, 1)
}

func TestInitialDataResponse_ReplacesStatuses(t *testing.T) {
	h, ch := loggedIn(t)
	ch.push(t, models.EventInitialData, models.InitialData{
		CurrentUser: models.UserRef{Username: "alice", Nickname: "Alice"},
		Friends: []models.Friend{
			{UserRef: models.UserRef{Username: "bob"}, Status: models.StatusOnline},
		},
		PendingRequests: []models.UserRef{{Username: "eve"}},
	})

	h.eventually(func(s *Session) bool {
		bob, _ := s.Roster.Contact("bob")
		return bob.Status == models.StatusOnline
	})
	h.inspect(func(s *Session) {
		require.Len(t, s.Roster.Contacts(), 1)
		require.Len(t, s.Roster.Requests(), 1)
	})
}

func TestSelectContact_LoadsHistory(t *testing.T) {
	h, ch := loggedIn(t)
	require.NoError(t, h.ctrl.SelectContact("bob"))

	sent := ch.sent(models.EventLoadChatHistory)
	require.Len(t, sent, 1)
	var req models.LoadHistoryRequest
	require.NoError(t, sent[0].Decode(&req))
	require.Equal(t, "bob", req.ContactUsername)

	ch.push(t, models.EventChatHistory, models.ChatHistory{Contact: "carol", History: []models.Message{
		{Sender: "carol", Recipient: "alice", Kind: models.KindText, Content: "not for this view"},
	}})
	ch.push(t, models.EventChatHistory, models.ChatHistory{Contact: "bob", History: []models.Message{
		{Sender: "bob", Recipient: "alice", Kind: models.KindText, Content: "hey"},
		{Sender: "alice", Recipient: "bob", Kind: models.KindImage, URL: "/uploads/cat.png"},
	}})

	h.eventually(func(s *Session) bool { return s.Messages.Len() == 2 })
	h.inspect(func(s *Session) {
		els := s.Messages.Elements()
		require.Equal(t, "hey", els[0].Bubble.Text)
		require.True(t, els[1].Sent)
	})
}

func TestSelectContact_Unknown(t *testing.T) {
	h, _ := loggedIn(t)
	require.ErrorIs(t, h.ctrl.SelectContact("mallory"), ErrUnknownContact)
}

func TestSendText_ReconciledByEcho(t *testing.T) {
	h, ch := loggedIn(t)
	require.NoError(t, h.ctrl.SelectContact("bob"))
	require.NoError(t, h.ctrl.SendText("  hello bob "))

	out := ch.outgoing(t)
	require.Len(t, out, 1)
	require.Equal(t, models.OutgoingMessage{
		Recipient: "bob", Kind: models.KindText, Text: "hello bob", TempID: "temp_1",
	}, out[0])
	h.inspect(func(s *Session) { require.Equal(t, 1, s.Messages.Len()) })

	ch.push(t, models.EventReceiveMessage, models.Message{
		TempID: "temp_1", Sender: "alice", Recipient: "bob",
		Kind: models.KindText, Content: "hello bob", Timestamp: models.Now(),
	})
	ch.push(t, models.EventReceiveMessage, models.Message{
		Sender: "bob", Recipient: "alice", Kind: models.KindText, Content: "hi!",
	})

	h.eventually(func(s *Session) bool { return s.Messages.Len() == 2 })
	h.inspect(func(s *Session) {
		el, ok := s.Messages.Lookup("temp_1")
		require.True(t, ok)
		require.Equal(t, "hello bob", el.Bubble.Text)
		require.Equal(t, "temp_1", s.Messages.Elements()[0].TempID)
	})
}

func TestSendText_Errors(t *testing.T) {
	h, ch := loggedIn(t)
	require.NoError(t, h.ctrl.SendText("   "))
	require.ErrorIs(t, h.ctrl.SendText("hi"), ErrNoActiveContact)

	require.NoError(t, h.ctrl.SelectContact("bob"))
	ch.mu.Lock()
	ch.failAll = true
	ch.mu.Unlock()

	require.Error(t, h.ctrl.SendText("hi"))
	h.inspect(func(s *Session) {
		require.Equal(t, 0, s.Messages.Len(), "failed send leaves no placeholder")
		require.Contains(t, h.ui.notices, English.Get(TextSendFailed))
	})
}

func TestReceiveMessage_OtherConversationMarksUnread(t *testing.T) {
	h, ch := loggedIn(t)
	require.NoError(t, h.ctrl.SelectContact("bob"))

	ch.push(t, models.EventReceiveMessage, models.Message{
		TempID: "temp_c", Sender: "carol", Recipient: "alice", Kind: models.KindImageUploading,
	})
	ch.push(t, models.EventReceiveMessage, models.Message{
		Sender: "carol", Recipient: "alice", Kind: models.KindText, Content: "psst",
	})

	h.eventually(func(s *Session) bool {
		carol, _ := s.Roster.Contact("carol")
		return carol.Unread == 1
	})
	h.inspect(func(s *Session) { require.Equal(t, 0, s.Messages.Len()) })
}

func TestReceiveMessage_CancelledRemovesPlaceholder(t *testing.T) {
	h, ch := loggedIn(t)
	require.NoError(t, h.ctrl.SelectContact("bob"))

	ch.push(t, models.EventReceiveMessage, models.Message{
		TempID: "temp_b", Sender: "bob", Recipient: "alice", Kind: models.KindVideoUploading, Filename: "clip.mp4",
	})
	h.eventually(func(s *Session) bool { return s.Messages.Len() == 1 })

	ch.push(t, models.EventReceiveMessage, models.Message{
		TempID: "temp_b", Sender: "bob", Recipient: "alice", Kind: models.KindCancelled,
	})
	h.eventually(func(s *Session) bool { return s.Messages.Len() == 0 })
}

func TestStatusChange_LastEventWins(t *testing.T) {
	h, ch := loggedIn(t)
	ch.push(t, models.EventStatusChange, models.StatusChange{Username: "bob", Status: models.StatusOffline})
	ch.push(t, models.EventStatusChange, models.StatusChange{Username: "bob", Status: models.StatusOnline})

	h.eventually(func(s *Session) bool {
		bob, _ := s.Roster.Contact("bob")
		return bob.Status == models.StatusOnline
	})
}

func TestAvatarUpdated(t *testing.T) {
	h, ch := loggedIn(t)
	require.NoError(t, h.ctrl.SelectContact("bob"))
	ch.push(t, models.EventReceiveMessage, models.Message{
		Sender: "bob", Recipient: "alice", Kind: models.KindText, Content: "hey",
	})
	ch.push(t, models.EventAvatarUpdated, models.AvatarUpdate{Username: "bob", NewAvatarURL: "/uploads/avatar_bob.png"})

	h.eventually(func(s *Session) bool {
		ref, _ := s.Roster.Lookup("bob")
		return ref.AvatarURL == "/uploads/avatar_bob.png"
	})
	h.inspect(func(s *Session) {
		require.Equal(t, "/uploads/avatar_bob.png", s.Messages.Elements()[0].Sender.AvatarURL)
	})
}

func TestFriendRequests(t *testing.T) {
	h, ch := loggedIn(t)

	ch.push(t, models.EventNewFriendRequest, models.UserRef{Username: "eve", Nickname: "Eve"})
	h.eventually(func(s *Session) bool { return s.Roster.Badge() == 1 })

	reqs, err := h.ctrl.OpenRequests()
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	require.NoError(t, h.ctrl.RespondToRequest("eve", true))
	sent := ch.sent(models.EventRespondFriendReq)
	require.Len(t, sent, 1)
	var resp models.RespondRequest
	require.NoError(t, sent[0].Decode(&resp))
	require.Equal(t, models.RespondRequest{Username: "eve", Accept: true}, resp)

	ch.push(t, models.EventReloadData, nil)
	require.Eventually(t, func() bool { return len(ch.sent(models.EventGetInitialData)) == 2 }, waitFor, time.Millisecond)
	h.inspect(func(s *Session) { require.Empty(t, s.Roster.Requests()) })
}

func TestSearchAndSendFriendRequest(t *testing.T) {
	h, ch := loggedIn(t)
	require.NoError(t, h.ctrl.Search("fr"))
	require.Len(t, ch.sent(models.EventSearchUser), 1)

	ch.push(t, models.EventSearchResults, []models.SearchResult{
		{UserRef: models.UserRef{Username: "frank"}, FriendshipStatus: models.FriendStatusNone},
	})
	h.eventually(func(s *Session) bool { return len(s.Roster.SearchResults()) == 1 })

	require.NoError(t, h.ctrl.SendFriendRequest("frank"))
	h.inspect(func(s *Session) { require.True(t, s.Roster.SearchResults()[0].Requested) })

	ch.push(t, models.EventFriendReqSent, models.FriendRequestResult{Success: false, Message: "Request already exists"})
	h.eventually(func(*Session) bool {
		return len(h.ui.notices) > 0 && h.ui.notices[len(h.ui.notices)-1] == "Request already exists"
	})
}

func TestSendFile_Completes(t *testing.T) {
	h, ch := loggedIn(t)
	require.NoError(t, h.ctrl.SelectContact("bob"))

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("meeting notes"), 0o600))

	tempID, err := h.ctrl.SendFile(path)
	require.NoError(t, err)
	require.Equal(t, "temp_1", tempID)

	require.Eventually(t, func() bool { return len(ch.outgoing(t)) == 2 }, waitFor, time.Millisecond)
	out := ch.outgoing(t)
	require.Equal(t, models.KindFileUploading, out[0].Kind)
	require.Equal(t, models.OutgoingMessage{
		Recipient: "bob", Kind: models.KindFile, URL: "/uploads/notes.txt", Filename: "notes.txt", TempID: "temp_1",
	}, out[1])

	h.eventually(func(s *Session) bool { return s.Uploads.State().String() == "idle" })
	h.inspect(func(s *Session) {
		el, ok := s.Messages.Lookup("temp_1")
		require.True(t, ok)
		require.Equal(t, "/uploads/notes.txt", el.Bubble.Link)
		require.Equal(t, 1, s.Messages.Len())
		require.Equal(t, []int{100}, h.ui.progress)
	})
}

func TestSendFile_NotConnected(t *testing.T) {
	h, ch := loggedIn(t)
	require.NoError(t, h.ctrl.SelectContact("bob"))
	require.NoError(t, ch.Close())
	h.eventually(func(s *Session) bool { return !s.Connected() })

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	_, err := h.ctrl.SendFile(path)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestUploadAvatar(t *testing.T) {
	h, _ := loggedIn(t)
	h.backend.avatarURL = "/uploads/avatar_alice_1.png"

	path := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o600))
	require.NoError(t, h.ctrl.UploadAvatar(context.Background(), path))

	h.inspect(func(s *Session) {
		require.Equal(t, "/uploads/avatar_alice_1.png", s.Roster.CurrentUser().AvatarURL)
		require.Equal(t, "/uploads/avatar_alice_1.png", h.ui.header.AvatarURL)
	})
}

func TestUploadAvatar_Rejected(t *testing.T) {
	h, _ := loggedIn(t)
	h.backend.avatarErr = &api.UploadFailedError{Reason: "Invalid file type"}

	path := filepath.Join(t.TempDir(), "me.bmp")
	require.NoError(t, os.WriteFile(path, []byte("BM"), 0o600))
	require.Error(t, h.ctrl.UploadAvatar(context.Background(), path))

	h.eventually(func(*Session) bool {
		return len(h.ui.notices) == 1 && h.ui.notices[0] == English.Get(TextAvatarUploadFailed)+"Invalid file type"
	})
}

func TestDisconnect(t *testing.T) {
	h, ch := loggedIn(t)
	require.NoError(t, h.ctrl.SelectContact("bob"))
	require.NoError(t, ch.Close())

	h.eventually(func(s *Session) bool { return !s.Connected() })
	h.inspect(func(*Session) {
		require.False(t, h.ui.connected)
		require.Contains(t, h.ui.notices, English.Get(TextDisconnected))
	})
	require.ErrorIs(t, h.ctrl.SendText("anyone?"), ErrNotConnected)
}

func TestReconnect_IgnoresStaleConnection(t *testing.T) {
	h, old := loggedIn(t)
	require.NoError(t, h.ctrl.Connect(context.Background()))
	require.Len(t, h.chans, 2)
	fresh := h.chans[1]
	require.Eventually(t, func() bool { return len(fresh.sent(models.EventGetInitialData)) == 1 }, waitFor, time.Millisecond)

	h.inspect(func(s *Session) { require.True(t, s.Connected()) })
	require.True(t, old.isClosed())
}

func TestLogout(t *testing.T) {
	h, ch := loggedIn(t)
	require.NoError(t, h.ctrl.Logout(context.Background()))

	require.True(t, h.backend.loggedOut)
	require.True(t, ch.isClosed())
	h.inspect(func(s *Session) {
		require.False(t, s.Connected())
		require.Empty(t, s.Roster.Contacts())
		require.Equal(t, "", s.Self())
	})
}

func TestLogout_StaleUploadStaysOffScreen(t *testing.T) {
	h, _ := loggedIn(t)
	h.backend.holdUpload = true
	require.NoError(t, h.ctrl.SelectContact("bob"))

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("meeting notes"), 0o600))
	_, err := h.ctrl.SendFile(path)
	require.NoError(t, err)

	var old *Session
	h.inspect(func(s *Session) { old = s })
	require.NoError(t, h.ctrl.Logout(context.Background()))

	h.eventually(func(*Session) bool { return old.Uploads.LastOutcome() == upload.Cancelled })
	h.inspect(func(s *Session) {
		require.NotSame(t, old, s)
		require.Zero(t, h.ui.hides)
	})
}
