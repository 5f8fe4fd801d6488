package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"scuffedchat/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createUsers(t *testing.T, s *Store, names ...string) {
	t.Helper()
	for _, name := range names {
		_, err := s.CreateUser(name, "hash", name+" nick", "")
		require.NoError(t, err)
	}
}

func TestCreateUser(t *testing.T) {
	s := openTestStore(t)

	u, err := s.CreateUser("alice", "hash", "Alice", "")
	require.NoError(t, err)
	require.Equal(t, "Alice", u.Nickname)
	require.Equal(t, DefaultAvatar("alice"), u.AvatarURL)

	_, err = s.CreateUser("alice", "hash", "Other", "")
	require.ErrorIs(t, err, ErrUsernameTaken)

	_, err = s.GetUser("nobody")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpdateAvatar("alice", "/uploads/avatar_alice_1.png"))
	u, err = s.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, "/uploads/avatar_alice_1.png", u.AvatarURL)
	require.ErrorIs(t, s.UpdateAvatar("nobody", "/x.png"), ErrNotFound)
}

func TestSessions(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s, "alice")

	require.NoError(t, s.CreateSession("live", "alice", time.Now().Add(time.Hour)))
	require.NoError(t, s.CreateSession("stale", "alice", time.Now().Add(-time.Hour)))

	u, err := s.SessionUser("live")
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)

	_, err = s.SessionUser("stale")
	require.ErrorIs(t, err, ErrNotFound)

	n, err := s.DeleteExpiredSessions(time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, s.DeleteSession("live"))
	_, err = s.SessionUser("live")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFriendRequests(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s, "alice", "bob", "carol")

	require.ErrorIs(t, s.AddFriendRequest("alice", "alice"), ErrSelfRequest)
	require.ErrorIs(t, s.AddFriendRequest("alice", "nobody"), ErrNotFound)

	require.NoError(t, s.AddFriendRequest("bob", "alice"))
	require.ErrorIs(t, s.AddFriendRequest("alice", "bob"), ErrAlreadyRequested)

	pending, err := s.PendingRequests("alice")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "bob", pending[0].Username)

	pending, err = s.PendingRequests("bob")
	require.NoError(t, err)
	require.Empty(t, pending, "the requester sees no request")

	ok, err := s.AreFriends("alice", "bob")
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, s.RespondToFriendRequest("bob", "alice", true), ErrNotFound, "only the recipient answers")
	require.NoError(t, s.RespondToFriendRequest("alice", "bob", true))

	ok, err = s.AreFriends("bob", "alice")
	require.NoError(t, err)
	require.True(t, ok)

	friends, err := s.Friends("alice")
	require.NoError(t, err)
	require.Equal(t, []models.UserRef{{Username: "bob", Nickname: "bob nick", AvatarURL: DefaultAvatar("bob")}}, friends)

	require.NoError(t, s.AddFriendRequest("carol", "alice"))
	require.NoError(t, s.RespondToFriendRequest("alice", "carol", false))
	pending, err = s.PendingRequests("alice")
	require.NoError(t, err)
	require.Empty(t, pending)
	require.NoError(t, s.AddFriendRequest("carol", "alice"), "a declined request can be sent again")
}

func TestSearchUsers(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s, "alice", "alfred", "al_x", "bob")
	require.NoError(t, s.AddAcceptedFriendship("alice", "alfred"))
	require.NoError(t, s.AddFriendRequest("alice", "al_x"))

	results, err := s.SearchUsers("al", "alice")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "al_x", results[0].Username)
	require.Equal(t, models.FriendStatusPending, results[0].FriendshipStatus)
	require.Equal(t, "alfred", results[1].Username)
	require.Equal(t, models.FriendStatusAccepted, results[1].FriendshipStatus)

	results, err = s.SearchUsers("al_", "bob")
	require.NoError(t, err)
	require.Len(t, results, 1, "underscore is matched literally")
	require.Equal(t, models.FriendStatusNone, results[0].FriendshipStatus)

	results, err = s.SearchUsers("zzz", "alice")
	require.NoError(t, err)
	require.NotNil(t, results)
	require.Empty(t, results)
}

func TestChatHistory(t *testing.T) {
	s := openTestStore(t)
	createUsers(t, s, "alice", "bob", "carol")

	sent := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, s.SaveMessage(models.Message{
		Sender: "alice", Recipient: "bob", Kind: models.KindText, Content: "hi",
		Timestamp: models.Timestamp{Time: sent},
	}))
	require.NoError(t, s.SaveMessage(models.Message{
		Sender: "bob", Recipient: "alice", Kind: models.KindImage, URL: "/uploads/1-cat.png", Filename: "cat.png",
	}))
	require.NoError(t, s.SaveMessage(models.Message{
		Sender: "carol", Recipient: "alice", Kind: models.KindText, Content: "elsewhere",
	}))

	history, err := s.ChatHistory("bob", "alice")
	require.NoError(t, err)
	require.Len(t, history, 2)

	require.Equal(t, "hi", history[0].Content)
	require.Equal(t, "alice nick", history[0].SenderNickname)
	require.True(t, sent.Equal(history[0].Timestamp.Time))

	require.Equal(t, models.KindImage, history[1].Kind)
	require.Equal(t, "/uploads/1-cat.png", history[1].MediaRef())
	require.Equal(t, "cat.png", history[1].Filename)
}

func TestSeed(t *testing.T) {
	s := openTestStore(t)
	users := []SeedUser{
		{Username: "u1", Password: "pw", Nickname: "One"},
		{Username: "u2", Password: "pw", Nickname: "Two"},
		{Username: "u3", Password: "pw", Nickname: "Three"},
	}
	require.NoError(t, s.Seed(users))
	require.NoError(t, s.Seed(users), "seeding twice is a no-op")

	u, err := s.GetUser("u2")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("pw")))

	friends, err := s.Friends("u1")
	require.NoError(t, err)
	require.Len(t, friends, 2)
}
