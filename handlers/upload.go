package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"scuffedchat/middleware"
	"scuffedchat/models"
)

const uploadsPrefix = "/uploads/"

var avatarExtensions = map[string]bool{"png": true, "jpg": true, "jpeg": true, "gif": true}

type uploadResponse struct {
	Success      bool   `json:"success"`
	FileURL      string `json:"file_url,omitempty"`
	NewAvatarURL string `json:"new_avatar_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// UploadFile stores a chat attachment and answers its URL
func (s *Server) UploadFile(w http.ResponseWriter, r *http.Request) {
	file, header, ok := s.formFile(w, r, "file")
	if !ok {
		return
	}
	defer file.Close()

	name := sanitizeFilename(header.Filename)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "No selected file"})
		return
	}

	stored, err := s.save(fmt.Sprintf("%d-%s", s.now().Unix(), name), file)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("[devserver] store upload")
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Error: "File upload failed"})
		return
	}

	log.Info().Str("file", stored).Int64("size", header.Size).Msg("[devserver] file uploaded")
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, FileURL: uploadsPrefix + stored})
}

// UploadAvatar replaces the avatar of the current user and tells online
// friends about it
func (s *Server) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r)
	file, header, ok := s.formFile(w, r, "avatar")
	if !ok {
		return
	}
	defer file.Close()

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !avatarExtensions[ext] {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "File type not allowed"})
		return
	}
	mt, err := mimetype.DetectReader(file)
	if err != nil || !strings.HasPrefix(mt.String(), "image/") {
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "File type not allowed"})
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Error: "Avatar upload failed"})
		return
	}

	name := fmt.Sprintf("avatar_%s_%d.%s", sanitizeFilename(user.Username), s.now().Unix(), ext)
	stored, err := s.save(name, file)
	if err != nil {
		log.Error().Err(err).Str("username", user.Username).Msg("[devserver] store avatar")
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Error: "Avatar upload failed"})
		return
	}

	avatarURL := uploadsPrefix + stored
	if err := s.store.UpdateAvatar(user.Username, avatarURL); err != nil {
		log.Error().Err(err).Str("username", user.Username).Msg("[devserver] update avatar")
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Error: "Avatar upload failed"})
		return
	}
	s.notifyFriends(user.Username, models.EventAvatarUpdated, models.AvatarUpdate{
		Username:     user.Username,
		NewAvatarURL: avatarURL,
	})

	writeJSON(w, http.StatusOK, uploadResponse{Success: true, NewAvatarURL: avatarURL})
}

// ServeUpload serves a stored file
func (s *Server) ServeUpload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.cfg.UploadDir, name))
}

// formFile extracts one multipart file field, answering the error itself
func (s *Server) formFile(w http.ResponseWriter, r *http.Request, field string) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile(field)
	if err == nil {
		return file, header, true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, uploadResponse{Error: "File too large"})
	case errors.Is(err, http.ErrMissingFile):
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "No file part"})
	default:
		writeJSON(w, http.StatusBadRequest, uploadResponse{Error: "Invalid upload"})
	}
	return nil, nil, false
}

// save writes src under name in the upload directory. A name already taken
// gets a random infix. The stored name is returned.
func (s *Server) save(name string, src io.Reader) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create upload dir")
	}

	dst, err := os.OpenFile(filepath.Join(s.cfg.UploadDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		name = uuid.NewString()[:8] + "-" + name
		dst, err = os.OpenFile(filepath.Join(s.cfg.UploadDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", errors.Wrap(err, "create file")
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", errors.Wrap(err, "write file")
	}
	return name, errors.Wrap(dst.Close(), "close file")
}

// sanitizeFilename keeps a base name made of ASCII letters, digits, dots,
// dashes and underscores
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
