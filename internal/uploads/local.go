package uploads

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const PublicPath = "/uploads"

var ErrUnsupportedType = errors.New("unsupported image type")

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

var imageKinds = map[string]bool{
	"front":         true,
	"side":          true,
	"reference_fit": true,
}

func ValidKind(kind string) bool {
	return imageKinds[kind]
}

type Saved struct {
	Filename    string `json:"filename"`
	URL         string `json:"file_url"`
	ContentType string `json:"content_type"`
}

// LocalStore writes uploaded images under a directory served at PublicPath.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

// Save sniffs the content type from the data itself and stores the file
// under a fresh name prefixed with kind.
func (s *LocalStore) Save(kind string, r io.Reader) (*Saved, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return nil, ErrUnsupportedType
		}
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]

	contentType := http.DetectContentType(head)
	ext, ok := allowedTypes[strings.SplitN(contentType, ";", 2)[0]]
	if !ok {
		return nil, ErrUnsupportedType
	}

	filename := kind + "_" + uuid.New().String() + ext
	f, err := os.OpenFile(filepath.Join(s.dir, filename), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	_, err = f.Write(head)
	if err == nil {
		_, err = io.Copy(f, r)
	}
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &Saved{
		Filename:    filename,
		URL:         PublicPath + "/" + filename,
		ContentType: contentType,
	}, nil
}
