// Package fsblob is the filesystem-backed blobstore.Store implementation:
// one volume per directory, one file per blob, atomic single-file writes
// via the write-tmp-then-rename idiom.
package fsblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/semindex/blobstore"
)

// Store roots every volume under a single base directory.
type Store struct {
	baseDir string
}

// New creates a Store rooted at baseDir. baseDir is created on first use.
func New(baseDir string) *Store {
	return &Store{baseDir: filepath.Clean(baseDir)}
}

func (s *Store) volumeDir(volume string) (string, error) {
	clean := filepath.Clean(volume)
	if clean == "." || clean == "" || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("fsblob: invalid volume %q", volume)
	}
	return filepath.Join(s.baseDir, clean), nil
}

func (s *Store) filePath(volume, fileName string) (string, error) {
	if fileName == "" || strings.ContainsAny(fileName, "/\\") || fileName == "." || fileName == ".." {
		return "", fmt.Errorf("fsblob: invalid file name %q", fileName)
	}
	dir, err := s.volumeDir(volume)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// CreateVolume implements blobstore.Store.
func (s *Store) CreateVolume(ctx context.Context, volume string) error {
	dir, err := s.volumeDir(volume)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsblob: create volume %s: %w", volume, err)
	}
	return nil
}

// ReadBytes implements blobstore.Store.
func (s *Store) ReadBytes(ctx context.Context, volume, fileName string) ([]byte, error) {
	path, err := s.filePath(volume, fileName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, blobstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fsblob: read %s/%s: %w", volume, fileName, err)
	}
	return data, nil
}

// ReadText implements blobstore.Store.
func (s *Store) ReadText(ctx context.Context, volume, fileName string) (string, error) {
	data, err := s.ReadBytes(ctx, volume, fileName)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// OpenStream implements blobstore.Store.
func (s *Store) OpenStream(ctx context.Context, volume, fileName string) (io.ReadCloser, blobstore.Metadata, error) {
	path, err := s.filePath(volume, fileName)
	if err != nil {
		return nil, blobstore.Metadata{}, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, blobstore.Metadata{}, blobstore.ErrNotFound
	}
	if err != nil {
		return nil, blobstore.Metadata{}, fmt.Errorf("fsblob: open %s/%s: %w", volume, fileName, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, blobstore.Metadata{}, fmt.Errorf("fsblob: stat %s/%s: %w", volume, fileName, err)
	}
	meta := blobstore.Metadata{Size: info.Size(), ModTime: info.ModTime(), MimeType: detectMime(fileName, f)}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, blobstore.Metadata{}, fmt.Errorf("fsblob: seek %s/%s: %w", volume, fileName, err)
	}
	return f, meta, nil
}

// WriteBytes implements blobstore.Store.
func (s *Store) WriteBytes(ctx context.Context, volume, fileName string, data []byte) error {
	path, err := s.filePath(volume, fileName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fsblob: mkdir for %s/%s: %w", volume, fileName, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("fsblob: write tmp for %s/%s: %w", volume, fileName, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fsblob: rename into place for %s/%s: %w", volume, fileName, err)
	}
	return nil
}

// WriteText implements blobstore.Store.
func (s *Store) WriteText(ctx context.Context, volume, fileName, text string) error {
	return s.WriteBytes(ctx, volume, fileName, []byte(text))
}

// WriteStream implements blobstore.Store.
func (s *Store) WriteStream(ctx context.Context, volume, fileName string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("fsblob: drain stream for %s/%s: %w", volume, fileName, err)
	}
	return s.WriteBytes(ctx, volume, fileName, data)
}

// DeleteFile implements blobstore.Store. Deleting a missing file is not an
// error.
func (s *Store) DeleteFile(ctx context.Context, volume, fileName string) error {
	path, err := s.filePath(volume, fileName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsblob: delete %s/%s: %w", volume, fileName, err)
	}
	return nil
}

// ListFileNames implements blobstore.Store.
func (s *Store) ListFileNames(ctx context.Context, volume string) ([]string, error) {
	dir, err := s.volumeDir(volume)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fsblob: list %s: %w", volume, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// DeleteVolume implements blobstore.Store.
func (s *Store) DeleteVolume(ctx context.Context, volume string) error {
	dir, err := s.volumeDir(volume)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("fsblob: delete volume %s: %w", volume, err)
	}
	return nil
}

func detectMime(fileName string, f *os.File) string {
	if m := mime.TypeByExtension(filepath.Ext(fileName)); m != "" {
		return m
	}
	var buf [512]byte
	n, _ := f.Read(buf[:])
	return http.DetectContentType(buf[:n])
}
