package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/pkg/errors"
)

// Multipart field names expected by the upload endpoints
const (
	FileField   = "file"
	AvatarField = "avatar"
)

// ProgressFunc receives the number of file bytes handed to the transport and
// the total size. It is called from the transport goroutine.
type ProgressFunc func(sent, total int64)

// Upload describes one file to stream. Size is -1 when unknown.
type Upload struct {
	Name      string
	MediaType string
	Size      int64
	Body      io.Reader
}

// UploadFailedError is an application-level failure inside a 200 answer
type UploadFailedError struct {
	Reason string
}

func (e *UploadFailedError) Error() string {
	if e.Reason == "" {
		return "upload failed"
	}
	return "upload failed: " + e.Reason
}

type uploadResponse struct {
	Success      bool   `json:"success"`
	FileURL      string `json:"file_url,omitempty"`
	NewAvatarURL string `json:"new_avatar_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// UploadFile streams f to /upload and returns the server URL of the stored file
func (c *Client) UploadFile(ctx context.Context, f Upload, progress ProgressFunc) (string, error) {
	resp, err := c.upload(ctx, uploadPath, FileField, f, progress)
	if err != nil {
		return "", err
	}
	return resp.FileURL, nil
}

// UploadAvatar streams f to /upload_avatar and returns the new avatar URL
func (c *Client) UploadAvatar(ctx context.Context, f Upload) (string, error) {
	resp, err := c.upload(ctx, uploadAvatarPath, AvatarField, f, nil)
	if err != nil {
		return "", err
	}
	return resp.NewAvatarURL, nil
}

// upload streams the multipart body through a pipe so large files are never
// buffered. Cancelling ctx aborts the request and the writer goroutine.
func (c *Client) upload(ctx context.Context, path, field string, f Upload, progress ProgressFunc) (*uploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writePart(mw, field, f, progress)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), pr)
	if err != nil {
		pr.Close()
		return nil, errors.Errorf(errNewRequest, path, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, errors.Wrapf(err, errDoRequest, path)
	}
	defer resp.Body.Close()

	var out uploadResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && out.Error != "" {
			return nil, &UploadFailedError{Reason: out.Error}
		}
		return nil, &StatusError{Endpoint: path, Code: resp.StatusCode}
	}
	if decodeErr != nil {
		return nil, errors.Wrapf(decodeErr, errDecode, path, resp.StatusCode)
	}
	if !out.Success {
		return nil, &UploadFailedError{Reason: out.Error}
	}
	return &out, nil
}

func writePart(mw *multipart.Writer, field string, f Upload, progress ProgressFunc) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(field), escapeQuotes(f.Name)))
	mediaType := f.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	h.Set("Content-Type", mediaType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	body := f.Body
	if progress != nil {
		body = &progressReader{r: f.Body, total: f.Size, fn: progress}
	}
	_, err = io.Copy(part, body)
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
