// Package reconciler projects chat messages onto an ordered list of view
// elements. A message carrying a correlation id (temp_id) updates the element
// already rendered for that id in place; any other message appends a new one.
package reconciler

import (
	"time"

	"scuffedchat/models"
)

// Icons shown in file bubbles
const (
	IconFile    = "📄"
	IconPending = "⏳"
)

const defaultFilename = "File"

// Bubble is the kind-specific content of one element
type Bubble struct {
	Kind     models.Kind
	Text     string
	MediaRef string
	Filename string
	Icon     string
	// Link is set only once a remote URL exists.
	Link    string
	Pending bool
}

// Element is the rendered form of a message. Handle is stable for the life of
// the element and never reused.
type Element struct {
	Handle int
	TempID string
	Sent   bool
	Sender models.UserRef
	Bubble Bubble
	Time   time.Time
}

// View receives element mutations. Implementations must not call back into
// the Reconciler.
type View interface {
	Insert(e Element)
	Replace(e Element)
	Remove(e Element)
	Clear()
	ScrollToLatest()
}

// Directory resolves the people shown next to messages
type Directory interface {
	CurrentUser() models.UserRef
	Lookup(username string) (models.UserRef, bool)
}

// Reconciler owns the mapping from correlation id to element. It is not safe
// for concurrent use; callers serialize access on one goroutine.
type Reconciler struct {
	view     View
	dir      Directory
	elements []*Element
	byTempID map[string]*Element
	next     int
}

// New returns an empty Reconciler rendering into view
func New(view View, dir Directory) *Reconciler {
	if view == nil {
		view = nopView{}
	}
	return &Reconciler{
		view:     view,
		dir:      dir,
		byTempID: make(map[string]*Element),
	}
}

// Render inserts msg or updates the element already holding its correlation
// id. It returns the resulting element and false when nothing is displayed,
// which is the case for cancellations.
func (r *Reconciler) Render(msg models.Message) (Element, bool) {
	if msg.Kind == models.KindCancelled {
		r.Remove(msg.TempID)
		return Element{}, false
	}

	sent, sender := r.resolveSender(msg)
	bubble := BuildBubble(msg)
	ts := msg.Timestamp.Time

	if msg.TempID != "" {
		if el, ok := r.byTempID[msg.TempID]; ok {
			// An untimed record keeps the time of its first render.
			if ts.IsZero() {
				ts = el.Time
			}
			updated := Element{
				Handle: el.Handle,
				TempID: el.TempID,
				Sent:   sent,
				Sender: sender,
				Bubble: bubble,
				Time:   ts,
			}
			if updated == *el {
				return *el, true
			}
			*el = updated
			r.view.Replace(*el)
			r.autoScroll(msg.Kind)
			return *el, true
		}
	}

	if ts.IsZero() {
		ts = time.Now()
	}
	r.next++
	el := &Element{
		Handle: r.next,
		TempID: msg.TempID,
		Sent:   sent,
		Sender: sender,
		Bubble: bubble,
		Time:   ts,
	}
	r.elements = append(r.elements, el)
	if msg.TempID != "" {
		r.byTempID[msg.TempID] = el
	}
	r.view.Insert(*el)
	r.autoScroll(msg.Kind)
	return *el, true
}

// Pending media is still decoding; scrolling now would jump again later.
func (r *Reconciler) autoScroll(kind models.Kind) {
	if !kind.IsUploading() {
		r.view.ScrollToLatest()
	}
}

// Remove deletes the element keyed by tempID, reporting whether one existed
func (r *Reconciler) Remove(tempID string) bool {
	if tempID == "" {
		return false
	}
	el, ok := r.byTempID[tempID]
	if !ok {
		return false
	}
	delete(r.byTempID, tempID)
	for i, e := range r.elements {
		if e == el {
			r.elements = append(r.elements[:i], r.elements[i+1:]...)
			break
		}
	}
	r.view.Remove(*el)
	return true
}

// Reset drops every element, e.g. before a conversation history is rendered
func (r *Reconciler) Reset() {
	r.elements = nil
	r.byTempID = make(map[string]*Element)
	r.view.Clear()
}

// ScrollToLatest asks the view to show the newest element
func (r *Reconciler) ScrollToLatest() {
	r.view.ScrollToLatest()
}

// UpdateAvatar points every element attributed to username at url and
// returns how many changed.
func (r *Reconciler) UpdateAvatar(username, url string) int {
	n := 0
	for _, el := range r.elements {
		if el.Sender.Username != username || el.Sender.AvatarURL == url {
			continue
		}
		el.Sender.AvatarURL = url
		r.view.Replace(*el)
		n++
	}
	return n
}

// Lookup returns the element keyed by tempID
func (r *Reconciler) Lookup(tempID string) (Element, bool) {
	el, ok := r.byTempID[tempID]
	if !ok {
		return Element{}, false
	}
	return *el, true
}

// Elements returns a snapshot in display order
func (r *Reconciler) Elements() []Element {
	out := make([]Element, len(r.elements))
	for i, el := range r.elements {
		out[i] = *el
	}
	return out
}

// Len returns the number of displayed elements
func (r *Reconciler) Len() int {
	return len(r.elements)
}

func (r *Reconciler) resolveSender(msg models.Message) (bool, models.UserRef) {
	fallback := models.UserRef{
		Username:  msg.Sender,
		Nickname:  msg.SenderNickname,
		AvatarURL: msg.SenderAvatar,
	}
	if r.dir == nil {
		return false, fallback
	}
	if self := r.dir.CurrentUser(); self.Username != "" && self.Username == msg.Sender {
		return true, self
	}
	if ref, ok := r.dir.Lookup(msg.Sender); ok {
		return false, ref
	}
	return false, fallback
}

// BuildBubble is the pure per-kind projection of a message
func BuildBubble(msg models.Message) Bubble {
	b := Bubble{Kind: msg.Kind, Pending: msg.Kind.IsUploading()}

	switch msg.Kind {
	case models.KindImage, models.KindImageUploading, models.KindVideo, models.KindVideoUploading:
		b.MediaRef = msg.MediaRef()
		b.Filename = msg.Filename
		if !b.Pending {
			b.Link = msg.RemoteURL()
		}
	case models.KindFileUploading:
		b.Filename = msg.Filename
		b.Icon = IconPending
	case models.KindFile:
		b.Filename = msg.Filename
		if b.Filename == "" {
			b.Filename = defaultFilename
		}
		b.Icon = IconFile
		b.Link = msg.RemoteURL()
	default:
		b.Kind = models.KindText
		b.Text = msg.Content
	}
	return b
}

type nopView struct{}

func (nopView) Insert(Element)  {}
func (nopView) Replace(Element) {}
func (nopView) Remove(Element)  {}
func (nopView) Clear()          {}
func (nopView) ScrollToLatest() {}
