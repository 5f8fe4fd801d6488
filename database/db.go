package database

import (
	"database/sql"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"scuffedchat/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")

	// ErrUsernameTaken is returned when registering an existing username
	ErrUsernameTaken = errors.New("username already exists")

	// ErrSelfRequest is returned when a user befriends themselves
	ErrSelfRequest = errors.New("cannot add yourself as a friend")

	// ErrAlreadyRequested is returned when a friendship or request already exists
	ErrAlreadyRequested = errors.New("already friends or request already sent")
)

// Store is the SQLite storage of the development backend
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and creates missing tables
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	// SQLite serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "ping %s", path)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("[database] initialized")
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	tables := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		nickname TEXT NOT NULL,
		avatar TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (username) REFERENCES users(username) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_username TEXT NOT NULL,
		recipient_username TEXT NOT NULL,
		content TEXT,
		message_type TEXT NOT NULL DEFAULT 'text',
		file_url TEXT,
		filename TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS friendships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user1_username TEXT NOT NULL,
		user2_username TEXT NOT NULL,
		status TEXT NOT NULL,
		action_user TEXT NOT NULL,
		UNIQUE(user1_username, user2_username)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_username, recipient_username);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(username);
	`

	_, err := s.db.Exec(tables)
	return errors.Wrap(err, "create tables")
}

// orderPair returns the two usernames in the order friendships are keyed by
func orderPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

// User queries

// DefaultAvatar is the avatar of users who never uploaded one
func DefaultAvatar(username string) string {
	return "https://i.pravatar.cc/150?u=" + username
}

// CreateUser inserts a new user. The password must already be hashed.
func (s *Store) CreateUser(username, passwordHash, nickname, avatar string) (*models.User, error) {
	if avatar == "" {
		avatar = DefaultAvatar(username)
	}
	_, err := s.db.Exec(
		"INSERT INTO users (username, password_hash, nickname, avatar) VALUES (?, ?, ?, ?)",
		username, passwordHash, nickname, avatar,
	)
	if isUniqueViolation(err) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, errors.Wrap(err, "insert user")
	}
	return s.GetUser(username)
}

// GetUser retrieves a user by username
func (s *Store) GetUser(username string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRow(
		"SELECT username, password_hash, nickname, avatar FROM users WHERE username = ?",
		username,
	).Scan(&user.Username, &user.PasswordHash, &user.Nickname, &user.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user")
	}
	return user, nil
}

// UpdateAvatar sets the avatar URL of a user
func (s *Store) UpdateAvatar(username, avatarURL string) error {
	res, err := s.db.Exec("UPDATE users SET avatar = ? WHERE username = ?", avatarURL, username)
	if err != nil {
		return errors.Wrap(err, "update avatar")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchUsers returns users whose username starts with prefix, excluding
// current, with the friendship status between them and current.
func (s *Store) SearchUsers(prefix, current string) ([]models.SearchResult, error) {
	rows, err := s.db.Query(`
		SELECT u.username, u.nickname, u.avatar, COALESCE(f.status, 'not_friends')
		FROM users u
		LEFT JOIN friendships f ON
			(u.username = f.user1_username AND f.user2_username = ?) OR
			(u.username = f.user2_username AND f.user1_username = ?)
		WHERE u.username LIKE ? ESCAPE '\' AND u.username != ?
		ORDER BY u.username LIMIT 20`,
		current, current, escapeLike(prefix)+"%", current,
	)
	if err != nil {
		return nil, errors.Wrap(err, "search users")
	}
	defer rows.Close()

	results := []models.SearchResult{}
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.Username, &r.Nickname, &r.AvatarURL, &r.FriendshipStatus); err != nil {
			return nil, errors.Wrap(err, "scan search result")
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Session queries

// CreateSession creates a new session for a user
func (s *Store) CreateSession(sessionID, username string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO sessions (id, username, expires_at) VALUES (?, ?, ?)",
		sessionID, username, expiresAt.UTC(),
	)
	return errors.Wrap(err, "insert session")
}

// SessionUser returns the user owning an unexpired session
func (s *Store) SessionUser(sessionID string) (*models.User, error) {
	var (
		username  string
		expiresAt time.Time
	)
	err := s.db.QueryRow(
		"SELECT username, expires_at FROM sessions WHERE id = ?",
		sessionID,
	).Scan(&username, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select session")
	}
	if !expiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	return s.GetUser(username)
}

// DeleteSession removes a session
func (s *Store) DeleteSession(sessionID string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", sessionID)
	return errors.Wrap(err, "delete session")
}

// DeleteExpiredSessions removes sessions past their expiry
func (s *Store) DeleteExpiredSessions(now time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM sessions WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "delete expired sessions")
	}
	return res.RowsAffected()
}

// Message queries

// SaveMessage stores a text message or a completed file transfer
func (s *Store) SaveMessage(msg models.Message) error {
	ts := msg.Timestamp.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (sender_username, recipient_username, content, message_type, file_url, filename, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.Sender, msg.Recipient, nullable(msg.Content), string(msg.Kind),
		nullable(msg.RemoteURL()), nullable(msg.Filename), ts.UTC(),
	)
	return errors.Wrap(err, "insert message")
}

// ChatHistory returns the messages between two users, oldest first
func (s *Store) ChatHistory(user1, user2 string) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT m.sender_username, m.recipient_username, COALESCE(m.content, ''), m.message_type,
			COALESCE(m.file_url, ''), COALESCE(m.filename, ''), m.timestamp,
			COALESCE(u.nickname, ''), COALESCE(u.avatar, '')
		FROM messages m
		LEFT JOIN users u ON u.username = m.sender_username
		WHERE (m.sender_username = ? AND m.recipient_username = ?)
			OR (m.sender_username = ? AND m.recipient_username = ?)
		ORDER BY m.id ASC`,
		user1, user2, user2, user1,
	)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	history := []models.Message{}
	for rows.Next() {
		var (
			msg  models.Message
			kind string
			ts   time.Time
		)
		if err := rows.Scan(&msg.Sender, &msg.Recipient, &msg.Content, &kind, &msg.FileURL,
			&msg.Filename, &ts, &msg.SenderNickname, &msg.SenderAvatar); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msg.Kind = models.Kind(kind)
		msg.Timestamp = models.Timestamp{Time: ts}
		history = append(history, msg)
	}
	return history, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Friend queries

// Friends returns the accepted friends of username
func (s *Store) Friends(username string) ([]models.UserRef, error) {
	return s.queryRefs(`
		SELECT u.username, u.nickname, u.avatar
		FROM friendships f
		JOIN users u ON u.username = CASE WHEN f.user1_username = ? THEN f.user2_username ELSE f.user1_username END
		WHERE (f.user1_username = ? OR f.user2_username = ?) AND f.status = 'accepted'
		ORDER BY u.username`,
		username, username, username,
	)
}

// PendingRequests returns the users who asked username to be friends
func (s *Store) PendingRequests(username string) ([]models.UserRef, error) {
	return s.queryRefs(`
		SELECT u.username, u.nickname, u.avatar
		FROM friendships f
		JOIN users u ON u.username = f.action_user
		WHERE (f.user1_username = ? OR f.user2_username = ?) AND f.status = 'pending' AND f.action_user != ?
		ORDER BY f.id`,
		username, username, username,
	)
}

func (s *Store) queryRefs(query string, args ...interface{}) ([]models.UserRef, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select users")
	}
	defer rows.Close()

	refs := []models.UserRef{}
	for rows.Next() {
		var ref models.UserRef
		if err := rows.Scan(&ref.Username, &ref.Nickname, &ref.AvatarURL); err != nil {
			return nil, errors.Wrap(err, "scan user")
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// AddFriendRequest records a pending request from one user to another
func (s *Store) AddFriendRequest(from, to string) error {
	if from == to {
		return ErrSelfRequest
	}
	if _, err := s.GetUser(to); err != nil {
		return err
	}
	user1, user2 := orderPair(from, to)
	_, err := s.db.Exec(
		"INSERT INTO friendships (user1_username, user2_username, status, action_user) VALUES (?, ?, 'pending', ?)",
		user1, user2, from,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyRequested
	}
	return errors.Wrap(err, "insert friend request")
}

// RespondToFriendRequest accepts or deletes the pending request from
// requester to responder
func (s *Store) RespondToFriendRequest(responder, requester string, accept bool) error {
	user1, user2 := orderPair(responder, requester)
	var (
		res sql.Result
		err error
	)
	if accept {
		res, err = s.db.Exec(
			`UPDATE friendships SET status = 'accepted', action_user = ?
			WHERE user1_username = ? AND user2_username = ? AND status = 'pending' AND action_user = ?`,
			responder, user1, user2, requester,
		)
	} else {
		res, err = s.db.Exec(
			"DELETE FROM friendships WHERE user1_username = ? AND user2_username = ? AND status = 'pending' AND action_user = ?",
			user1, user2, requester,
		)
	}
	if err != nil {
		return errors.Wrap(err, "respond to friend request")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddAcceptedFriendship makes two users friends without a request
func (s *Store) AddAcceptedFriendship(a, b string) error {
	user1, user2 := orderPair(a, b)
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO friendships (user1_username, user2_username, status, action_user) VALUES (?, ?, 'accepted', 'system')",
		user1, user2,
	)
	return errors.Wrap(err, "insert friendship")
}

// AreFriends reports whether two users have an accepted friendship
func (s *Store) AreFriends(a, b string) (bool, error) {
	user1, user2 := orderPair(a, b)
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM friendships WHERE user1_username = ? AND user2_username = ? AND status = 'accepted'",
		user1, user2,
	).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "select friendship")
	}
	return n > 0, nil
}

// Seeding

// SeedUser is a preset account
type SeedUser struct {
	Username string
	Password string
	Nickname string
}

// PresetUsers are created on an empty database
var PresetUsers = []SeedUser{
	{Username: "user1", Password: "pass123", Nickname: "Alice"},
	{Username: "user2", Password: "pass123", Nickname: "Bob"},
	{Username: "user3", Password: "pass123", Nickname: "Charlie"},
	{Username: "user4", Password: "pass123", Nickname: "Diana"},
}

// Seed creates users on an empty database and makes all of them mutual
// friends. It does nothing once any user exists.
func (s *Store) Seed(users []SeedUser) error {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return errors.Wrap(err, "count users")
	}
	if n > 0 {
		return nil
	}

	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return errors.Wrap(err, "hash password")
		}
		if _, err := s.CreateUser(u.Username, string(hash), u.Nickname, ""); err != nil {
			return errors.Wrapf(err, "create %s", u.Username)
		}
	}
	for i := range users {
		for j := i + 1; j < len(users); j++ {
			if err := s.AddAcceptedFriendship(users[i].Username, users[j].Username); err != nil {
				return err
			}
		}
	}
	log.Info().Int("users", len(users)).Msg("[database] seeded preset users")
	return nil
}
