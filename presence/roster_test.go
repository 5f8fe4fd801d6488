package presence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"scuffedchat/models"
)

type countingView struct {
	updates  []Contact
	requests [][]models.FriendRequest
	badges   []int
	results  [][]models.SearchResult
	header   models.UserRef
}

func (v *countingView) ShowCurrentUser(u models.UserRef) { v.header = u }
func (v *countingView) ShowContacts([]Contact)           {}
func (v *countingView) UpdateContact(c Contact)          { v.updates = append(v.updates, c) }
func (v *countingView) ShowRequests(reqs []models.FriendRequest, badge int) {
	v.requests = append(v.requests, reqs)
	v.badges = append(v.badges, badge)
}
func (v *countingView) ShowSearchResults(res []models.SearchResult) { v.results = append(v.results, res) }

func loadedRoster() (*Roster, *countingView) {
	view := &countingView{}
	r := New(view)
	r.Load(models.InitialData{
		CurrentUser: models.UserRef{Username: "alice", Nickname: "Alice", AvatarURL: "/a.png"},
		Friends: []models.Friend{
			{UserRef: models.UserRef{Username: "bob", Nickname: "Bob"}, Status: models.StatusOnline},
			{UserRef: models.UserRef{Username: "carol", Nickname: "Carol"}},
		},
		PendingRequests: []models.UserRef{{Username: "dave"}},
	})
	return r, view
}

func TestLoad(t *testing.T) {
	r, view := loadedRoster()

	require.Equal(t, "alice", view.header.Username)
	bob, ok := r.Contact("bob")
	require.True(t, ok)
	require.Equal(t, models.StatusOnline, bob.Status)
	carol, _ := r.Contact("carol")
	require.Equal(t, models.StatusOffline, carol.Status, "missing status shows offline")
	require.Len(t, r.Requests(), 1)
	require.Equal(t, 0, r.Badge(), "initial requests do not raise the badge")
}

func TestLoad_KeepsActiveAndUnread(t *testing.T) {
	r, _ := loadedRoster()
	r.MarkUnread("carol")
	r.SetActive("bob")

	r.Load(models.InitialData{
		CurrentUser: models.UserRef{Username: "alice"},
		Friends: []models.Friend{
			{UserRef: models.UserRef{Username: "bob"}},
			{UserRef: models.UserRef{Username: "carol"}},
		},
	})

	require.Equal(t, "bob", r.ActiveUsername())
	carol, _ := r.Contact("carol")
	require.Equal(t, 1, carol.Unread)
}

func TestSetStatus_LastEventWins(t *testing.T) {
	r, view := loadedRoster()

	require.True(t, r.SetStatus("carol", models.StatusOffline))
	require.True(t, r.SetStatus("carol", models.StatusOnline))

	carol, _ := r.Contact("carol")
	require.Equal(t, models.StatusOnline, carol.Status)
	require.Len(t, r.Contacts(), 2, "still one entry per contact")
	require.Equal(t, models.StatusOnline, view.updates[len(view.updates)-1].Status)
}

func TestSetStatus_UnknownIgnored(t *testing.T) {
	r, view := loadedRoster()
	require.False(t, r.SetStatus("mallory", models.StatusOnline))
	require.Empty(t, view.updates)
}

func TestSetActive(t *testing.T) {
	r, _ := loadedRoster()
	require.Equal(t, 1, r.MarkUnread("bob"))
	require.Equal(t, 2, r.MarkUnread("bob"))

	require.True(t, r.SetActive("bob"))
	bob, _ := r.Contact("bob")
	require.True(t, bob.Active)
	require.Equal(t, 0, bob.Unread)
	require.Equal(t, 0, r.MarkUnread("bob"), "active conversation has no unread")

	require.False(t, r.SetActive(""))
	require.Equal(t, "", r.ActiveUsername())
}

func TestFriendRequests(t *testing.T) {
	r, view := loadedRoster()
	eve := models.UserRef{Username: "eve", Nickname: "Eve"}

	require.True(t, r.AddRequest(eve))
	require.False(t, r.AddRequest(eve), "duplicate request")
	require.Equal(t, 1, r.Badge())
	require.Len(t, r.Requests(), 2)

	r.OpenRequests()
	require.Equal(t, 0, r.Badge())

	req, ok := r.Respond("eve", true)
	require.True(t, ok)
	require.Equal(t, models.FriendStatusAccepted, req.Status)
	req, ok = r.Respond("dave", false)
	require.True(t, ok)
	require.Equal(t, models.FriendStatusDeclined, req.Status)
	require.Empty(t, r.Requests())
	_, ok = r.Respond("dave", true)
	require.False(t, ok)

	require.Empty(t, view.requests[len(view.requests)-1])
}

func TestUpdateAvatar(t *testing.T) {
	r, view := loadedRoster()

	require.True(t, r.UpdateAvatar("alice", "/a2.png"))
	require.Equal(t, "/a2.png", view.header.AvatarURL)
	require.Equal(t, "/a2.png", r.CurrentUser().AvatarURL)

	require.True(t, r.UpdateAvatar("bob", "/b2.png"))
	ref, ok := r.Lookup("bob")
	require.True(t, ok)
	require.Equal(t, "/b2.png", ref.AvatarURL)

	require.False(t, r.UpdateAvatar("stranger", "/s.png"))
}

func TestSearchResults(t *testing.T) {
	r, _ := loadedRoster()
	r.SetSearchResults([]models.SearchResult{
		{UserRef: models.UserRef{Username: "frank"}, FriendshipStatus: models.FriendStatusNone},
		{UserRef: models.UserRef{Username: "bob"}, FriendshipStatus: models.FriendStatusAccepted},
	})

	require.True(t, r.MarkRequested("frank"))
	require.False(t, r.MarkRequested("frank"), "already requested")
	require.False(t, r.MarkRequested("bob"), "already friends")
	require.True(t, r.SearchResults()[0].Requested)
}

func TestClear(t *testing.T) {
	r, _ := loadedRoster()
	r.Clear()
	require.Empty(t, r.Contacts())
	_, ok := r.Lookup("alice")
	require.False(t, ok)
}
