// Package handlers implements the development backend: the HTTP endpoints
// for authentication and uploads and the real-time channel hub.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"scuffedchat/config"
	"scuffedchat/database"
	"scuffedchat/middleware"
	"scuffedchat/models"
)

const sessionSweepInterval = time.Hour

// Server holds the dependencies of every handler
type Server struct {
	store *database.Store
	hub   *Hub
	cfg   config.Server
	now   func() time.Time
}

// NewServer returns a Server. Run must be started for the channel to work.
func NewServer(store *database.Store, cfg config.Server) *Server {
	s := &Server{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
	s.hub = newHub(s.dispatchTable())
	return s
}

// Router returns the HTTP routes of the backend
func (s *Server) Router() *mux.Router {
	auth := middleware.Auth(s.store)

	r := mux.NewRouter()
	r.HandleFunc("/api/login", s.Login).Methods(http.MethodPost)
	r.HandleFunc("/api/register", s.Register).Methods(http.MethodPost)
	r.HandleFunc("/api/logout", s.Logout).Methods(http.MethodPost)

	r.Handle("/upload", auth(http.HandlerFunc(s.UploadFile))).Methods(http.MethodPost)
	r.Handle("/upload_avatar", auth(http.HandlerFunc(s.UploadAvatar))).Methods(http.MethodPost)
	r.HandleFunc("/uploads/{filename}", s.ServeUpload).Methods(http.MethodGet, http.MethodHead)

	r.Handle("/ws", auth(http.HandlerFunc(s.ServeWebSocket)))
	return r
}

// Run drives the hub and sweeps expired sessions until ctx is done
func (s *Server) Run(ctx context.Context) {
	go s.hub.run(ctx)

	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := s.store.DeleteExpiredSessions(s.now())
			if err != nil {
				log.Warn().Err(err).Msg("[devserver] session sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("sessions", n).Msg("[devserver] expired sessions removed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// initialData is the snapshot sent on login and on get_initial_data
func (s *Server) initialData(username string) (*models.InitialData, error) {
	user, err := s.store.GetUser(username)
	if err != nil {
		return nil, err
	}
	refs, err := s.store.Friends(username)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.PendingRequests(username)
	if err != nil {
		return nil, err
	}

	friends := make([]models.Friend, 0, len(refs))
	for _, ref := range refs {
		status := models.StatusOffline
		if s.hub.Online(ref.Username) {
			status = models.StatusOnline
		}
		friends = append(friends, models.Friend{UserRef: ref, Status: status})
	}
	return &models.InitialData{
		CurrentUser:     user.ToRef(),
		Friends:         friends,
		PendingRequests: pending,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("[devserver] write response")
	}
}
