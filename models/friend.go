package models

// FriendStatus represents the status of a friend request or friendship
type FriendStatus string

const (
	FriendStatusPending  FriendStatus = "pending"
	FriendStatusAccepted FriendStatus = "accepted"
	FriendStatusDeclined FriendStatus = "declined"
	FriendStatusNone     FriendStatus = "not_friends"
)

// FriendRequest is the client projection of an incoming friend request.
// Transitions are driven by server events only.
type FriendRequest struct {
	From   UserRef
	Status FriendStatus
}

// SearchResult is one row of a user search
type SearchResult struct {
	UserRef
	FriendshipStatus FriendStatus `json:"friendship_status"`
	Requested        bool         `json:"-"`
}

// InitialData is the payload of initial_data_response and of a successful login
type InitialData struct {
	CurrentUser     UserRef   `json:"currentUser"`
	Friends         []Friend  `json:"friends"`
	PendingRequests []UserRef `json:"pendingRequests"`
}
