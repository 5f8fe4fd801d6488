// Package upload drives one binary transfer at a time from file selection to
// a terminal state, keeping the optimistic placeholder message and the peer's
// in-flight indicator in step with it.
package upload

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"scuffedchat/api"
	"scuffedchat/models"
)

// State of the coordinator slot
type State int

const (
	Idle State = iota
	Uploading
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Uploading:
		return "uploading"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrUploadInProgress is returned when a transfer is already active
	ErrUploadInProgress = errors.New("an upload is already in progress")

	// ErrNoRecipient is returned when no conversation is open
	ErrNoRecipient = errors.New("no recipient for upload")
)

// Transport streams the file. It must honour ctx cancellation.
type Transport interface {
	UploadFile(ctx context.Context, f api.Upload, progress api.ProgressFunc) (string, error)
}

// Emitter sends events over the real-time channel
type Emitter interface {
	Emit(event string, data interface{}) error
}

// Renderer shows and retracts local messages
type Renderer interface {
	Render(msg models.Message)
	Remove(tempID string)
}

// Display shows upload progress and user-facing notices
type Display interface {
	ShowProgress(filename string, percent int)
	HideProgress()
	Notice(text string)
}

// Texts are the user-facing notices. Failed is followed by the server reason.
type Texts struct {
	Wait        string
	Failed      string
	FailedAt    string
	Interrupted string
}

// DefaultTexts are used for zero fields of Config.Texts
var DefaultTexts = Texts{
	Wait:        "Please wait for the current upload to finish.",
	Failed:      "Upload failed: ",
	FailedAt:    "Upload failed: the server could not store the file.",
	Interrupted: "Upload failed: the network connection was interrupted.",
}

// Config wires a Coordinator to its collaborators
type Config struct {
	Transport Transport
	Emitter   Emitter
	Renderer  Renderer
	Display   Display
	Previews  Previews
	Texts     Texts

	// Self returns the username of the current user.
	Self func() string

	// Post schedules fn on the goroutine that owns the coordinator. Transport
	// callbacks are delivered through it.
	Post func(fn func())

	// NewID generates correlation ids. Defaults to temp_<uuid>.
	NewID func() string
}

type transfer struct {
	tempID    string
	recipient string
	source    Source
	kind      models.Kind
	preview   string
	cancel    context.CancelFunc
	aborted   bool
	percent   int
}

// Coordinator holds the single upload slot. All methods must be called from
// the goroutine Post schedules onto.
type Coordinator struct {
	cfg     Config
	slot    *transfer
	outcome State
}

// New returns an idle Coordinator
func New(cfg Config) *Coordinator {
	if cfg.Post == nil {
		cfg.Post = func(fn func()) { fn() }
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return "temp_" + uuid.NewString() }
	}
	if cfg.Self == nil {
		cfg.Self = func() string { return "" }
	}
	if cfg.Previews == nil {
		cfg.Previews = NewPreviewRegistry()
	}
	if cfg.Display == nil {
		cfg.Display = nopDisplay{}
	}
	cfg.Texts = withDefaults(cfg.Texts)
	return &Coordinator{cfg: cfg, outcome: Idle}
}

func withDefaults(t Texts) Texts {
	if t.Wait == "" {
		t.Wait = DefaultTexts.Wait
	}
	if t.Failed == "" {
		t.Failed = DefaultTexts.Failed
	}
	if t.FailedAt == "" {
		t.FailedAt = DefaultTexts.FailedAt
	}
	if t.Interrupted == "" {
		t.Interrupted = DefaultTexts.Interrupted
	}
	return t
}

// State returns Uploading while the slot is occupied, Idle otherwise
func (c *Coordinator) State() State {
	if c.slot != nil {
		return Uploading
	}
	return Idle
}

// LastOutcome returns the terminal state of the most recent transfer
func (c *Coordinator) LastOutcome() State {
	return c.outcome
}

// Active returns the correlation id of the transfer in the slot
func (c *Coordinator) Active() (string, bool) {
	if c.slot == nil {
		return "", false
	}
	return c.slot.tempID, true
}

// Percent returns the last displayed progress of the active transfer
func (c *Coordinator) Percent() int {
	if c.slot == nil || c.slot.percent < 0 {
		return 0
	}
	return c.slot.percent
}

// Start begins uploading src to recipient. If a transfer is already active
// the user is told to wait and nothing else changes.
func (c *Coordinator) Start(recipient string, src Source) (string, error) {
	if c.slot != nil {
		c.cfg.Display.Notice(c.cfg.Texts.Wait)
		return "", ErrUploadInProgress
	}
	if recipient == "" {
		return "", ErrNoRecipient
	}

	final := models.KindForMediaType(src.MediaType())
	t := &transfer{
		tempID:    c.cfg.NewID(),
		recipient: recipient,
		source:    src,
		kind:      final,
		percent:   -1,
	}
	if final.IsMedia() {
		ref, err := c.cfg.Previews.Create(src)
		if err != nil {
			log.Warn().Err(err).Str("file", src.Name()).Msg("[upload] no local preview")
		}
		t.preview = ref
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	c.slot = t

	placeholder := final.Uploading()
	c.cfg.Renderer.Render(models.Message{
		TempID:          t.tempID,
		Sender:          c.cfg.Self(),
		Recipient:       recipient,
		Kind:            placeholder,
		Filename:        src.Name(),
		LocalPreviewURL: t.preview,
		Timestamp:       models.Now(),
	})
	c.emit(models.OutgoingMessage{
		Recipient: recipient,
		Kind:      placeholder,
		Filename:  src.Name(),
		TempID:    t.tempID,
	})

	log.Info().Str("temp_id", t.tempID).Str("file", src.Name()).Int64("size", src.Size()).
		Msg("[upload] started")

	go c.run(ctx, t)
	return t.tempID, nil
}

// Cancel aborts the active transfer. The cancelled transition is applied when
// the transport observes the abort.
func (c *Coordinator) Cancel() bool {
	if c.slot == nil {
		return false
	}
	c.slot.aborted = true
	c.slot.cancel()
	return true
}

func (c *Coordinator) run(ctx context.Context, t *transfer) {
	var url string
	body, err := t.source.Open()
	if err == nil {
		url, err = c.cfg.Transport.UploadFile(ctx, api.Upload{
			Name:      t.source.Name(),
			MediaType: t.source.MediaType(),
			Size:      t.source.Size(),
			Body:      body,
		}, func(sent, total int64) {
			c.cfg.Post(func() { c.progress(t, sent, total) })
		})
		_ = body.Close()
	} else {
		err = errors.Wrap(err, "open upload source")
	}
	c.cfg.Post(func() { c.finish(t, url, err) })
}

func (c *Coordinator) progress(t *transfer, sent, total int64) {
	if c.slot != t || total <= 0 {
		return
	}
	percent := int(sent * 100 / total)
	if percent > 100 {
		percent = 100
	}
	if percent < 0 || percent <= t.percent {
		return
	}
	t.percent = percent
	c.cfg.Display.ShowProgress(t.source.Name(), percent)
}

func (c *Coordinator) finish(t *transfer, url string, err error) {
	if c.slot != t {
		return
	}
	switch {
	case t.aborted || errors.Is(err, context.Canceled):
		c.retract(t)
		c.release(t, Cancelled)
	case err != nil:
		c.fail(t, err)
	default:
		c.complete(t, url)
	}
}

func (c *Coordinator) complete(t *transfer, url string) {
	final := models.OutgoingMessage{
		Recipient: t.recipient,
		Kind:      t.kind,
		URL:       url,
		Filename:  t.source.Name(),
		TempID:    t.tempID,
	}
	if err := c.cfg.Emitter.Emit(models.EventSendMessage, final); err != nil {
		c.fail(t, errors.Wrap(err, "announce uploaded file"))
		return
	}
	c.cfg.Renderer.Render(models.Message{
		TempID:    t.tempID,
		Sender:    c.cfg.Self(),
		Recipient: t.recipient,
		Kind:      t.kind,
		URL:       url,
		Filename:  t.source.Name(),
		Timestamp: models.Now(),
	})
	c.release(t, Completed)
}

func (c *Coordinator) fail(t *transfer, err error) {
	log.Warn().Err(err).Str("temp_id", t.tempID).Msg("[upload] failed")
	c.cfg.Display.Notice(c.describe(err))
	c.retract(t)
	c.release(t, Failed)
}

// retract tells the peer and the local view that the placeholder is gone
func (c *Coordinator) retract(t *transfer) {
	c.emit(models.OutgoingMessage{
		Recipient: t.recipient,
		Kind:      models.KindCancelled,
		TempID:    t.tempID,
	})
	c.cfg.Renderer.Remove(t.tempID)
}

func (c *Coordinator) release(t *transfer, outcome State) {
	t.cancel()
	if t.preview != "" {
		c.cfg.Previews.Revoke(t.preview)
	}
	c.cfg.Display.HideProgress()
	c.slot = nil
	c.outcome = outcome
	log.Info().Str("temp_id", t.tempID).Stringer("outcome", outcome).Msg("[upload] finished")
}

func (c *Coordinator) emit(msg models.OutgoingMessage) {
	if err := c.cfg.Emitter.Emit(models.EventSendMessage, msg); err != nil {
		log.Warn().Err(err).Str("temp_id", msg.TempID).Str("type", string(msg.Kind)).
			Msg("[upload] emit failed")
	}
}

func (c *Coordinator) describe(err error) string {
	var rejected *api.UploadFailedError
	if errors.As(err, &rejected) && rejected.Reason != "" {
		return c.cfg.Texts.Failed + rejected.Reason
	}
	var status *api.StatusError
	if errors.As(err, &status) || rejected != nil {
		return c.cfg.Texts.FailedAt
	}
	return c.cfg.Texts.Interrupted
}

type nopDisplay struct{}

func (nopDisplay) ShowProgress(string, int) {}
func (nopDisplay) HideProgress()            {}
func (nopDisplay) Notice(string)            {}
