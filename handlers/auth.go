package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"scuffedchat/database"
	"scuffedchat/middleware"
	"scuffedchat/models"
)

type registerRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	Nickname        string `json:"nickname"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type resultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type loginResponse struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message,omitempty"`
	InitialData *models.InitialData `json:"initial_data,omitempty"`
}

// Register handles user registration
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, resultResponse{Message: "Invalid request body"})
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Nickname = strings.TrimSpace(req.Nickname)
	if req.Username == "" || req.Password == "" || req.Nickname == "" {
		writeJSON(w, http.StatusBadRequest, resultResponse{Message: "All fields are required"})
		return
	}
	if req.Password != req.PasswordConfirm {
		writeJSON(w, http.StatusBadRequest, resultResponse{Message: "Passwords do not match"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, resultResponse{Message: "Server error"})
		return
	}

	_, err = s.store.CreateUser(req.Username, string(hashedPassword), req.Nickname, "")
	if errors.Is(err, database.ErrUsernameTaken) {
		writeJSON(w, http.StatusConflict, resultResponse{Message: "Username already exists"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("username", req.Username).Msg("[devserver] create user")
		writeJSON(w, http.StatusInternalServerError, resultResponse{Message: "Failed to create user"})
		return
	}

	log.Info().Str("username", req.Username).Msg("[devserver] user registered")
	writeJSON(w, http.StatusOK, resultResponse{Success: true, Message: "Registration successful"})
}

// Login handles user authentication. The answer carries the initial data so
// the client can render its contacts before the channel connects.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, loginResponse{Message: "Invalid request body"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	user, err := s.store.GetUser(req.Username)
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
	}
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, loginResponse{Message: "Invalid username or password"})
		return
	}

	sessionID := uuid.NewString()
	expiresAt := s.now().Add(s.cfg.SessionTTL)
	if err := s.store.CreateSession(sessionID, user.Username, expiresAt); err != nil {
		log.Error().Err(err).Msg("[devserver] create session")
		writeJSON(w, http.StatusInternalServerError, loginResponse{Message: "Failed to create session"})
		return
	}

	data, err := s.initialData(user.Username)
	if err != nil {
		log.Warn().Err(err).Str("username", user.Username).Msg("[devserver] initial data")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    sessionID,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	log.Info().Str("username", user.Username).Msg("[devserver] logged in")
	writeJSON(w, http.StatusOK, loginResponse{Success: true, InitialData: data})
}

// Logout handles user logout
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookie); err == nil {
		if err := s.store.DeleteSession(cookie.Value); err != nil {
			log.Warn().Err(err).Msg("[devserver] delete session")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, resultResponse{Success: true})
}
