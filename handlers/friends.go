package handlers

import (
	"strings"

	"github.com/pkg/errors"

	"scuffedchat/database"
	"scuffedchat/models"
)

func (s *Server) onGetInitialData(c *Client, _ models.WebSocketMessage) error {
	data, err := s.initialData(c.Username)
	if err != nil {
		return err
	}
	s.hub.SendTo(c.Username, models.EventInitialData, data)
	return nil
}

func (s *Server) onSearchUser(c *Client, ev models.WebSocketMessage) error {
	var req models.SearchRequest
	if err := ev.Decode(&req); err != nil {
		return errors.Wrap(err, "decode search_user")
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil
	}
	results, err := s.store.SearchUsers(query, c.Username)
	if err != nil {
		return err
	}
	s.hub.SendTo(c.Username, models.EventSearchResults, results)
	return nil
}

// onSendFriendRequest answers the sender with friend_request_sent and pushes
// new_friend_request to the recipient when online
func (s *Server) onSendFriendRequest(c *Client, ev models.WebSocketMessage) error {
	var req models.FriendRequestPayload
	if err := ev.Decode(&req); err != nil {
		return errors.Wrap(err, "decode send_friend_request")
	}

	result := models.FriendRequestResult{Success: true, Message: "Friend request sent"}
	err := s.store.AddFriendRequest(c.Username, req.Username)
	switch {
	case err == nil:
	case errors.Is(err, database.ErrSelfRequest):
		result = models.FriendRequestResult{Message: "You cannot add yourself as a friend"}
	case errors.Is(err, database.ErrAlreadyRequested):
		result = models.FriendRequestResult{Message: "Already friends or request already sent"}
	case errors.Is(err, database.ErrNotFound):
		result = models.FriendRequestResult{Message: "User not found"}
	default:
		return err
	}
	s.hub.SendTo(c.Username, models.EventFriendReqSent, result)

	if result.Success && s.hub.Online(req.Username) {
		sender, err := s.store.GetUser(c.Username)
		if err != nil {
			return err
		}
		s.hub.SendTo(req.Username, models.EventNewFriendRequest, sender.ToRef())
	}
	return nil
}

// onRespondToFriendRequest accepts or declines a pending request. Both sides
// reload their data after an accept.
func (s *Server) onRespondToFriendRequest(c *Client, ev models.WebSocketMessage) error {
	var req models.RespondRequest
	if err := ev.Decode(&req); err != nil {
		return errors.Wrap(err, "decode respond_to_friend_request")
	}
	if err := s.store.RespondToFriendRequest(c.Username, req.Username, req.Accept); err != nil {
		return err
	}
	if !req.Accept {
		return nil
	}
	if s.hub.Online(req.Username) {
		s.hub.SendTo(req.Username, models.EventReloadData, nil)
	}
	s.hub.SendTo(c.Username, models.EventReloadData, nil)
	return nil
}
