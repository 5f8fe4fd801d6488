package app

// Text keys for user-visible strings
const (
	TextAdd                  = "add"
	TextAlreadyFriends       = "already_friends"
	TextAvatarUploadError    = "avatar_upload_error"
	TextAvatarUploadFailed   = "avatar_upload_failed"
	TextDisconnected         = "disconnected"
	TextEnterMessage         = "enter_message"
	TextErrorNetwork         = "error_network"
	TextPasswordMismatch     = "error_password_mismatch"
	TextNoFriendRequests     = "no_friend_requests"
	TextNoUsersFound         = "no_users_found"
	TextOffline              = "offline"
	TextOnline               = "online"
	TextRegisterSuccess      = "register_success"
	TextRequestAlreadySent   = "request_already_sent"
	TextRequestSent          = "request_sent"
	TextUploadInterrupted    = "upload_error_network_interrupted"
	TextUploadFailed         = "upload_failed"
	TextUploadFailedServer   = "upload_failed_server"
	TextUploadWait           = "upload_wait"
	TextUploading            = "uploading"
	TextSendFailed           = "send_failed"
	TextFriendRequestFailed  = "friend_request_failed"
	TextNoActiveConversation = "no_active_conversation"
)

// Strings maps text keys to localized strings
type Strings map[string]string

// English is the default string table
var English = Strings{
	TextAdd:                  "Add",
	TextAlreadyFriends:       "Already friends",
	TextAvatarUploadError:    "Avatar upload failed: network error.",
	TextAvatarUploadFailed:   "Avatar upload failed: ",
	TextDisconnected:         "Disconnected. Reconnect with /connect.",
	TextEnterMessage:         "Type a message...",
	TextErrorNetwork:         "Network error, please try again.",
	TextPasswordMismatch:     "Passwords do not match.",
	TextNoFriendRequests:     "No friend requests.",
	TextNoUsersFound:         "No users found.",
	TextOffline:              "offline",
	TextOnline:               "online",
	TextRegisterSuccess:      "Registration successful, you can now log in.",
	TextRequestAlreadySent:   "Request already sent",
	TextRequestSent:          "Request sent",
	TextUploadInterrupted:    "Upload failed: the network connection was interrupted.",
	TextUploadFailed:         "Upload failed: ",
	TextUploadFailedServer:   "Upload failed: the server could not store the file.",
	TextUploadWait:           "Please wait for the current upload to finish.",
	TextUploading:            "Uploading",
	TextSendFailed:           "Message could not be sent.",
	TextFriendRequestFailed:  "Friend request failed.",
	TextNoActiveConversation: "Open a conversation first.",
}

// Get returns the string for key, falling back to English and then to the key
func (s Strings) Get(key string) string {
	if v, ok := s[key]; ok {
		return v
	}
	if v, ok := English[key]; ok {
		return v
	}
	return key
}

// Status returns the label for a presence status
func (s Strings) Status(online bool) string {
	if online {
		return s.Get(TextOnline)
	}
	return s.Get(TextOffline)
}
