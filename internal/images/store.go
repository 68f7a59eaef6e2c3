package images

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidType = errors.New("file type not allowed")
	ErrTooLarge    = errors.New("file too large")
)

const (
	// MaxSize caps uploads at 5 MiB.
	MaxSize = 5 << 20

	// PublicPrefix is the URL prefix under which stored files are
	// served; Accept returns references below it.
	PublicPrefix = "/uploads/"
)

var allowedExts = map[string]struct{}{
	".jpeg": {},
	".jpg":  {},
	".png":  {},
	".gif":  {},
}

var allowedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
}

// Store keeps uploaded images in a single flat directory with
// collision-free names (uuid + original extension).
type Store struct {
	dir string
	log *zap.Logger
}

func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Accept validates the upload and persists it, returning the public
// reference path. Validation runs before any byte hits the disk.
func (s *Store) Accept(data []byte, originalName, declaredType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if _, ok := allowedExts[ext]; !ok {
		return "", fmt.Errorf("%w: extension %q", ErrInvalidType, ext)
	}

	mt, _, err := mime.ParseMediaType(declaredType)
	if err != nil {
		return "", fmt.Errorf("%w: content type %q", ErrInvalidType, declaredType)
	}
	if _, ok := allowedTypes[mt]; !ok {
		return "", fmt.Errorf("%w: content type %q", ErrInvalidType, mt)
	}

	if len(data) > MaxSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	name := uuid.NewString() + ext
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return PublicPrefix + name, nil
}

// Remove deletes the file behind ref. Best-effort: a missing file is
// fine, anything else is logged and swallowed.
func (s *Store) Remove(ref string) {
	name, ok := s.filename(ref)
	if !ok {
		s.log.Warn("refusing to remove image with unexpected ref", zap.String("ref", ref))
		return
	}

	err := os.Remove(filepath.Join(s.dir, name))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	s.log.Warn("remove image failed", zap.String("ref", ref), zap.Error(err))
}

// Exists reports whether ref currently resolves to a stored file.
func (s *Store) Exists(ref string) bool {
	name, ok := s.filename(ref)
	if !ok {
		return false
	}
	_, err := os.Stat(filepath.Join(s.dir, name))
	return err == nil
}

// filename maps a public ref back to a bare name inside dir; refs
// pointing outside the flat directory are rejected.
func (s *Store) filename(ref string) (string, bool) {
	name := strings.TrimPrefix(ref, PublicPrefix)
	if name == "" || name == ref || name != filepath.Base(name) {
		return "", false
	}
	return name, true
}
