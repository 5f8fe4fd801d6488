// Package presence keeps the client-side projection of contacts, their
// presence, pending friend requests and search results. Nothing here is
// authoritative: every mutation mirrors the latest server-pushed fact.
package presence

import "scuffedchat/models"

// Contact is one entry of the contact list
type Contact struct {
	models.UserRef
	Status models.Status
	Unread int
	Active bool
}

// View renders the roster
type View interface {
	ShowCurrentUser(u models.UserRef)
	ShowContacts(contacts []Contact)
	UpdateContact(c Contact)
	ShowRequests(requests []models.FriendRequest, badge int)
	ShowSearchResults(results []models.SearchResult)
}

// Roster is not safe for concurrent use
type Roster struct {
	view     View
	self     models.UserRef
	contacts []*Contact
	byName   map[string]*Contact
	requests []models.FriendRequest
	badge    int
	results  []models.SearchResult
}

func New(view View) *Roster {
	if view == nil {
		view = nopView{}
	}
	return &Roster{view: view, byName: make(map[string]*Contact)}
}

// CurrentUser returns the signed-in user
func (r *Roster) CurrentUser() models.UserRef {
	return r.self
}

// SetCurrentUser replaces the signed-in user profile
func (r *Roster) SetCurrentUser(u models.UserRef) {
	r.self = u
	r.view.ShowCurrentUser(u)
}

// Load replaces the roster with a server snapshot. Friends without a reported
// status are shown offline. The active contact survives a reload.
func (r *Roster) Load(data models.InitialData) {
	active := r.ActiveUsername()
	unread := make(map[string]int, len(r.contacts))
	for _, c := range r.contacts {
		unread[c.Username] = c.Unread
	}

	r.SetCurrentUser(data.CurrentUser)
	r.contacts = r.contacts[:0]
	r.byName = make(map[string]*Contact, len(data.Friends))
	for _, f := range data.Friends {
		if _, dup := r.byName[f.Username]; dup {
			continue
		}
		status := f.Status
		if status == "" {
			status = models.StatusOffline
		}
		c := &Contact{
			UserRef: f.UserRef,
			Status:  status,
			Unread:  unread[f.Username],
			Active:  f.Username == active,
		}
		r.contacts = append(r.contacts, c)
		r.byName[f.Username] = c
	}
	r.view.ShowContacts(r.Contacts())

	r.requests = r.requests[:0]
	for _, from := range data.PendingRequests {
		r.requests = append(r.requests, models.FriendRequest{From: from, Status: models.FriendStatusPending})
	}
	r.view.ShowRequests(r.Requests(), r.badge)
}

// Lookup resolves a username to the cached profile of the user or a contact
func (r *Roster) Lookup(username string) (models.UserRef, bool) {
	if r.self.Username != "" && r.self.Username == username {
		return r.self, true
	}
	if c, ok := r.byName[username]; ok {
		return c.UserRef, true
	}
	return models.UserRef{}, false
}

// Contact returns the contact entry for username
func (r *Roster) Contact(username string) (Contact, bool) {
	c, ok := r.byName[username]
	if !ok {
		return Contact{}, false
	}
	return *c, true
}

// Contacts returns a snapshot in server order
func (r *Roster) Contacts() []Contact {
	out := make([]Contact, len(r.contacts))
	for i, c := range r.contacts {
		out[i] = *c
	}
	return out
}

// ActiveUsername returns the open conversation, if any
func (r *Roster) ActiveUsername() string {
	for _, c := range r.contacts {
		if c.Active {
			return c.Username
		}
	}
	return ""
}

// SetActive marks username as the open conversation and clears its unread
// counter. An empty username closes the conversation.
func (r *Roster) SetActive(username string) bool {
	found := false
	for _, c := range r.contacts {
		was := c.Active
		c.Active = c.Username == username
		if c.Active {
			found = true
			c.Unread = 0
		}
		if was != c.Active || c.Active {
			r.view.UpdateContact(*c)
		}
	}
	return found
}

// SetStatus records the presence of a contact. Unknown usernames are ignored.
func (r *Roster) SetStatus(username string, status models.Status) bool {
	c, ok := r.byName[username]
	if !ok {
		return false
	}
	c.Status = status
	r.view.UpdateContact(*c)
	return true
}

// MarkUnread bumps the unread counter of a contact and returns the new value
func (r *Roster) MarkUnread(username string) int {
	c, ok := r.byName[username]
	if !ok || c.Active {
		return 0
	}
	c.Unread++
	r.view.UpdateContact(*c)
	return c.Unread
}

// UpdateAvatar points every cached profile of username at url
func (r *Roster) UpdateAvatar(username, url string) bool {
	changed := false
	if r.self.Username == username {
		r.self.AvatarURL = url
		r.view.ShowCurrentUser(r.self)
		changed = true
	}
	if c, ok := r.byName[username]; ok {
		c.AvatarURL = url
		r.view.UpdateContact(*c)
		changed = true
	}
	for i := range r.requests {
		if r.requests[i].From.Username == username {
			r.requests[i].From.AvatarURL = url
		}
	}
	for i := range r.results {
		if r.results[i].Username == username {
			r.results[i].AvatarURL = url
		}
	}
	return changed
}

// AddRequest records an incoming friend request. A request already listed
// for the same user is not duplicated and does not bump the badge.
func (r *Roster) AddRequest(from models.UserRef) bool {
	for _, req := range r.requests {
		if req.From.Username == from.Username {
			return false
		}
	}
	r.requests = append(r.requests, models.FriendRequest{From: from, Status: models.FriendStatusPending})
	r.badge++
	r.view.ShowRequests(r.Requests(), r.badge)
	return true
}

// Respond removes the request from username after the user answered it
func (r *Roster) Respond(username string, accept bool) (models.FriendRequest, bool) {
	for i, req := range r.requests {
		if req.From.Username != username {
			continue
		}
		r.requests = append(r.requests[:i], r.requests[i+1:]...)
		req.Status = models.FriendStatusDeclined
		if accept {
			req.Status = models.FriendStatusAccepted
		}
		r.view.ShowRequests(r.Requests(), r.badge)
		return req, true
	}
	return models.FriendRequest{}, false
}

// OpenRequests clears the badge, as when the requests list is viewed
func (r *Roster) OpenRequests() []models.FriendRequest {
	r.badge = 0
	r.view.ShowRequests(r.Requests(), r.badge)
	return r.Requests()
}

// Requests returns the pending requests
func (r *Roster) Requests() []models.FriendRequest {
	out := make([]models.FriendRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// Badge returns the number of requests received since the list was last opened
func (r *Roster) Badge() int {
	return r.badge
}

// SetSearchResults replaces the search results
func (r *Roster) SetSearchResults(results []models.SearchResult) {
	r.results = append(r.results[:0], results...)
	r.view.ShowSearchResults(r.SearchResults())
}

// MarkRequested flags a search result once a friend request was sent to it
func (r *Roster) MarkRequested(username string) bool {
	for i := range r.results {
		res := &r.results[i]
		if res.Username != username {
			continue
		}
		if res.Requested || res.FriendshipStatus == models.FriendStatusPending || res.FriendshipStatus == models.FriendStatusAccepted {
			return false
		}
		res.Requested = true
		r.view.ShowSearchResults(r.SearchResults())
		return true
	}
	return false
}

// SearchResults returns the latest search results
func (r *Roster) SearchResults() []models.SearchResult {
	out := make([]models.SearchResult, len(r.results))
	copy(out, r.results)
	return out
}

// Clear forgets everything, e.g. on logout
func (r *Roster) Clear() {
	r.self = models.UserRef{}
	r.contacts = nil
	r.byName = make(map[string]*Contact)
	r.requests = nil
	r.badge = 0
	r.results = nil
	r.view.ShowContacts(nil)
}

type nopView struct{}

func (nopView) ShowCurrentUser(models.UserRef)           {}
func (nopView) ShowContacts([]Contact)                   {}
func (nopView) UpdateContact(Contact)                    {}
func (nopView) ShowRequests([]models.FriendRequest, int) {}
func (nopView) ShowSearchResults([]models.SearchResult)  {}
