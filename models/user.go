package models

// Status is the presence of a user as last reported by the server
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// UserRef identifies a user. Username is the unique key; the rest is a cached
// copy of the server-side profile.
type UserRef struct {
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar"`
}

// DisplayName returns the nickname, falling back to the username
func (u UserRef) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}

// Friend is a contact entry as delivered in initial data
type Friend struct {
	UserRef
	Status Status `json:"status,omitempty"`
}

// User is a stored account. Only used by the development backend.
type User struct {
	UserRef
	PasswordHash string `json:"-"` // Never send password in JSON
}

// ToRef converts User to the public UserRef
func (u *User) ToRef() UserRef {
	return u.UserRef
}
