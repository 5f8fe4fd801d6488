// Package terminal is a line-oriented front end. UI prints every view
// mutation as a transcript line and Shell turns typed commands into
// controller intents.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"scuffedchat/models"
	"scuffedchat/presence"
	"scuffedchat/reconciler"
)

const (
	timeLayout     = "15:04"
	progressBucket = 25
)

// UI writes to out. Methods may be called from the controller loop and the
// shell concurrently.
type UI struct {
	mu        sync.Mutex
	out       io.Writer
	resolve   func(ref string) string
	statuses  map[string]models.Status
	progress  int
	connected bool
}

// NewUI returns a UI writing to out. resolve turns server-relative links into
// absolute URLs; nil keeps them unchanged.
func NewUI(out io.Writer, resolve func(string) string) *UI {
	if resolve == nil {
		resolve = func(ref string) string { return ref }
	}
	return &UI{
		out:      out,
		resolve:  resolve,
		statuses: make(map[string]models.Status),
		progress: -1,
	}
}

func (u *UI) printf(format string, args ...interface{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.out, format+"\n", args...)
}

// Connected reports the last connection state shown
func (u *UI) Connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.connected
}

func (u *UI) Insert(e reconciler.Element)  { u.printf("%s", u.formatElement(e)) }
func (u *UI) Replace(e reconciler.Element) { u.printf("~ %s", u.formatElement(e)) }
func (u *UI) Remove(e reconciler.Element)  { u.printf("- %s withdrawn", describe(e.Bubble)) }
func (u *UI) Clear()                       { u.printf("----") }
func (u *UI) ScrollToLatest()              {}

func (u *UI) formatElement(e reconciler.Element) string {
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString("[" + e.Time.Local().Format(timeLayout) + "] ")
	}
	if e.Sent {
		b.WriteString("you")
	} else {
		b.WriteString(e.Sender.DisplayName())
	}
	b.WriteString(": ")

	bubble := e.Bubble
	switch {
	case bubble.Kind == models.KindText:
		b.WriteString(bubble.Text)
	case bubble.Pending:
		fmt.Fprintf(&b, "%s %s (sending)", reconciler.IconPending, bubble.Filename)
	case bubble.Kind.IsMedia():
		fmt.Fprintf(&b, "[%s] %s", bubble.Kind, bubble.Filename)
		if ref := u.resolve(bubble.MediaRef); ref != "" {
			b.WriteString(" " + ref)
		}
	default:
		fmt.Fprintf(&b, "%s %s", bubble.Icon, bubble.Filename)
		if bubble.Link != "" {
			b.WriteString(" " + u.resolve(bubble.Link))
		}
	}
	return b.String()
}

func describe(b reconciler.Bubble) string {
	if b.Kind == models.KindText {
		return "message"
	}
	return b.Filename
}

func (u *UI) ShowCurrentUser(user models.UserRef) {
	if user.Username == "" {
		return
	}
	u.printf("signed in as %s (%s)", user.DisplayName(), user.Username)
}

func (u *UI) ShowContacts(contacts []presence.Contact) {
	u.mu.Lock()
	u.statuses = make(map[string]models.Status, len(contacts))
	for _, c := range contacts {
		u.statuses[c.Username] = c.Status
	}
	u.mu.Unlock()

	if len(contacts) == 0 {
		u.printf("no contacts")
		return
	}
	u.printf("contacts:")
	for _, c := range contacts {
		u.printf("  %s", formatContact(c))
	}
}

// UpdateContact prints presence changes and unread counters. Other updates
// are silent.
func (u *UI) UpdateContact(c presence.Contact) {
	u.mu.Lock()
	previous, known := u.statuses[c.Username]
	u.statuses[c.Username] = c.Status
	u.mu.Unlock()

	if known && previous != c.Status {
		u.printf("* %s is %s", c.DisplayName(), c.Status)
	}
	if c.Unread > 0 && !c.Active {
		u.printf("* %d unread from %s", c.Unread, c.DisplayName())
	}
}

func formatContact(c presence.Contact) string {
	line := fmt.Sprintf("%-16s %-12s %s", c.Username, c.DisplayName(), c.Status)
	if c.Active {
		line += " (open)"
	}
	if c.Unread > 0 {
		line += fmt.Sprintf(" [%d]", c.Unread)
	}
	return line
}

func (u *UI) ShowRequests(requests []models.FriendRequest, badge int) {
	if badge > 0 {
		u.printf("* %d new friend request(s), /requests to list", badge)
	}
}

func (u *UI) ShowSearchResults(results []models.SearchResult) {
	if len(results) == 0 {
		u.printf("no users found")
		return
	}
	for _, r := range results {
		status := string(r.FriendshipStatus)
		if r.Requested {
			status = "requested"
		}
		u.printf("  %-16s %-12s %s", r.Username, r.DisplayName(), status)
	}
}

// ShowProgress prints one line per quarter of the transfer
func (u *UI) ShowProgress(filename string, percent int) {
	bucket := percent / progressBucket * progressBucket
	u.mu.Lock()
	if bucket <= u.progress {
		u.mu.Unlock()
		return
	}
	u.progress = bucket
	u.mu.Unlock()
	u.printf("  %s %d%%", filename, bucket)
}

func (u *UI) HideProgress() {
	u.mu.Lock()
	u.progress = -1
	u.mu.Unlock()
}

func (u *UI) Notice(text string) {
	u.printf("! %s", text)
}

func (u *UI) SetConnected(connected bool) {
	u.mu.Lock()
	changed := u.connected != connected
	u.connected = connected
	u.mu.Unlock()
	if changed && connected {
		u.printf("* connected")
	}
}
