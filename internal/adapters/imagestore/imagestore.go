// Package imagestore reads frames and writes eye crops as JPEG files.
package imagestore

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
)

// DefaultQuality is used when no quality option is given.
const DefaultQuality = 95

// ErrDecode marks a file that is not a readable image.
var ErrDecode = errors.New("decode image")

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithQuality sets the JPEG quality in [1, 100].
func WithQuality(q int) Option {
	return func(s *Store) {
		if q >= 1 && q <= 100 {
			s.quality = q
		}
	}
}

// Store writes images under a root directory.
type Store struct {
	root    string
	quality int
}

// New creates a store rooted at dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{root: dir, quality: DefaultQuality}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Path returns the absolute location of name.
func (s *Store) Path(name string) string { return filepath.Join(s.root, name) }

// Write encodes img as JPEG under name. The file appears atomically.
func (s *Store) Write(name string, img image.Image) (err error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.root, err)
	}
	tmp, err := os.CreateTemp(s.root, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	w := bufio.NewWriter(tmp)
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// ReadBytes returns the encoded bytes of name.
func (s *Store) ReadBytes(name string) ([]byte, error) {
	b, err := os.ReadFile(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return b, nil
}

// Load decodes the JPEG image at path.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	img, err := jpeg.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrDecode, err)
	}
	return img, nil
}
