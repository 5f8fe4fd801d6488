// Package api talks to the HTTP side of the chat backend: the session
// endpoints and the two multipart upload endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"scuffedchat/models"
)

const (
	loginPath        = "/api/login"
	registerPath     = "/api/register"
	logoutPath       = "/api/logout"
	uploadPath       = "/upload"
	uploadAvatarPath = "/upload_avatar"
	websocketPath    = "/ws"

	// SessionCookie is the cookie that carries the authenticated session
	SessionCookie = "session"
)

// Error messages.
const (
	errParseServer = "invalid server URL %q: %+v"
	errNewRequest  = "could not build %s request: %+v"
	errDoRequest   = "%s request failed"
	errDecode      = "could not decode %s response (status %d)"
)

// RejectedError is a credential or validation failure reported by the server
// with success:false. Callers show Message next to the form.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "request rejected"
	}
	return e.Message
}

// StatusError is a non-success HTTP status without a usable body
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.Code)
}

// Client is an HTTP client bound to one backend. It keeps the session cookie
// in its jar so the real-time channel can reuse it.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. Its Jar is replaced
// when nil.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient returns a client for the backend at serverURL
func NewClient(serverURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, errors.Errorf(errParseServer, serverURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf(errParseServer, serverURL, "scheme must be http or https")
	}

	c := &Client{base: base, http: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, errors.Wrap(err, "cookie jar")
		}
		c.http.Jar = jar
	}
	return c, nil
}

// Jar returns the cookie jar holding the session
func (c *Client) Jar() http.CookieJar {
	return c.http.Jar
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// WebSocketURL returns the real-time channel endpoint derived from the base URL
func (c *Client) WebSocketURL() string {
	u := c.BaseURL()
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + websocketPath
	return u.String()
}

// Resolve turns a server-relative reference such as /uploads/a.jpg into an
// absolute URL. Absolute references are returned unchanged.
func (c *Client) Resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

// Authenticated reports whether the jar holds a session cookie for the backend
func (c *Client) Authenticated() bool {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == SessionCookie && ck.Value != "" {
			return true
		}
	}
	return false
}

func (c *Client) endpoint(path string) string {
	u := c.BaseURL()
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the body of /api/login
type LoginResponse struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message,omitempty"`
	InitialData *models.InitialData `json:"initial_data,omitempty"`
}

// RegisterRequest is the body of /api/register
type RegisterRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	Nickname        string `json:"nickname"`
}

type resultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Login authenticates and stores the session cookie. A success:false answer
// is returned as *RejectedError.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.postJSON(ctx, loginPath, loginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &RejectedError{Message: resp.Message}
	}
	log.Debug().Str("username", username).Msg("[api] logged in")
	return &resp, nil
}

// Register creates an account. A success:false answer is returned as
// *RejectedError.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	var resp resultResponse
	if err := c.postJSON(ctx, registerPath, req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &RejectedError{Message: resp.Message}
	}
	return nil
}

// Logout ends the session. The body of the answer is ignored.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(logoutPath), nil)
	if err != nil {
		return errors.Errorf(errNewRequest, logoutPath, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, errDoRequest, logoutPath)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return &StatusError{Endpoint: logoutPath, Code: resp.StatusCode}
	}
	return nil
}

// postJSON posts body and decodes the JSON answer into out. Error statuses
// still carry a JSON body on this backend, so decoding is attempted first.
func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "encode %s request", path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return errors.Errorf(errNewRequest, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, errDoRequest, path)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Endpoint: path, Code: resp.StatusCode}
		}
		return errors.Wrapf(err, errDecode, path, resp.StatusCode)
	}
	return nil
}
