package upload

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

// Source is a file chosen for upload
type Source interface {
	Name() string
	// MediaType is a MIME type such as "image/jpeg".
	MediaType() string
	// Size is -1 when unknown.
	Size() int64
	Open() (io.ReadCloser, error)
}

// FileSource is a Source backed by a local file
type FileSource struct {
	path      string
	mediaType string
	size      int64
}

// OpenFile stats path and sniffs its media type from the content
func OpenFile(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		return nil, errors.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "detect media type of %s", path)
	}
	return &FileSource{path: path, mediaType: mt.String(), size: info.Size()}, nil
}

func (f *FileSource) Name() string      { return filepath.Base(f.path) }
func (f *FileSource) MediaType() string { return f.mediaType }
func (f *FileSource) Size() int64       { return f.size }
func (f *FileSource) Path() string      { return f.path }

func (f *FileSource) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}
