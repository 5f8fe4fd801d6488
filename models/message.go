package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Kind is the type of a chat message
type Kind string

const (
	KindText           Kind = "text"
	KindImage          Kind = "image"
	KindImageUploading Kind = "image_uploading"
	KindVideo          Kind = "video"
	KindVideoUploading Kind = "video_uploading"
	KindFile           Kind = "file"
	KindFileUploading  Kind = "file_uploading"
	// KindCancelled keeps the wire name the backend already understands.
	KindCancelled Kind = "file_upload_cancelled"
)

const uploadingSuffix = "_uploading"

// IsUploading reports whether the message is an in-flight transfer placeholder
func (k Kind) IsUploading() bool {
	return strings.HasSuffix(string(k), uploadingSuffix)
}

// Final returns the kind a placeholder resolves to on success
func (k Kind) Final() Kind {
	return Kind(strings.TrimSuffix(string(k), uploadingSuffix))
}

// Uploading returns the placeholder kind for a final media kind
func (k Kind) Uploading() Kind {
	if k.IsUploading() || k == KindText || k == KindCancelled {
		return k
	}
	return k + uploadingSuffix
}

// IsMedia reports whether the message shows an image or video reference
func (k Kind) IsMedia() bool {
	switch k.Final() {
	case KindImage, KindVideo:
		return true
	}
	return false
}

// KindForMediaType maps a MIME type such as "image/jpeg" to its final kind
func KindForMediaType(mediaType string) Kind {
	major, _, _ := strings.Cut(mediaType, "/")
	switch major {
	case "image":
		return KindImage
	case "video":
		return KindVideo
	}
	return KindFile
}

func normalizeKind(k Kind) Kind {
	switch k {
	case "", "message":
		return KindText
	case "cancelled":
		return KindCancelled
	}
	return k
}

// Timestamp accepts epoch milliseconds (live messages) or SQLite datetime text
// (history rows) and always encodes as epoch milliseconds.
type Timestamp struct {
	time.Time
}

const sqliteLayout = "2006-01-02 15:04:05"

// Now returns the current time as a Timestamp
func Now() Timestamp {
	return Timestamp{time.Now()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		t.Time = time.Time{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		for _, layout := range []string{time.RFC3339Nano, sqliteLayout} {
			if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				t.Time = parsed
				return nil
			}
		}
		return &time.ParseError{Layout: sqliteLayout, Value: s}
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}

// Message is a chat message as received over the channel or from history
type Message struct {
	TempID          string    `json:"temp_id,omitempty"`
	Sender          string    `json:"sender_username"`
	Recipient       string    `json:"recipient_username"`
	SenderNickname  string    `json:"sender_nickname,omitempty"`
	SenderAvatar    string    `json:"sender_avatar,omitempty"`
	Kind            Kind      `json:"type"`
	Content         string    `json:"content,omitempty"`
	URL             string    `json:"url,omitempty"`
	FileURL         string    `json:"file_url,omitempty"`
	Filename        string    `json:"filename,omitempty"`
	LocalPreviewURL string    `json:"-"`
	Timestamp       Timestamp `json:"timestamp"`
}

// UnmarshalJSON folds the history row column message_type into Kind
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	aux := struct {
		*plain
		MessageType Kind `json:"message_type"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if m.Kind == "" {
		m.Kind = aux.MessageType
	}
	m.Kind = normalizeKind(m.Kind)
	return nil
}

// MediaRef resolves the reference shown for image and video messages. A local
// preview wins over the remote URL, which wins over the legacy file_url field.
func (m Message) MediaRef() string {
	switch {
	case m.LocalPreviewURL != "":
		return m.LocalPreviewURL
	case m.URL != "":
		return m.URL
	}
	return m.FileURL
}

// RemoteURL returns the server URL of a file once it exists
func (m Message) RemoteURL() string {
	if m.URL != "" {
		return m.URL
	}
	return m.FileURL
}

// Involves reports whether the message belongs to the conversation with username
func (m Message) Involves(username string) bool {
	return m.Sender == username || m.Recipient == username
}

// OutgoingMessage is the send_message payload
type OutgoingMessage struct {
	Recipient string `json:"recipient_username"`
	Kind      Kind   `json:"type"`
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
	Filename  string `json:"filename,omitempty"`
	TempID    string `json:"temp_id,omitempty"`
}
