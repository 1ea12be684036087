// Package blobstore defines the volume-scoped blob storage contract: keys
// are (volume, fileName) where volume is conventionally
// "<index>/<documentId>", and every write replaces the prior value of its
// key wholesale. A missing key is a distinct, named error from any I/O
// failure, and one file's write is atomic; cross-file atomicity is never
// provided — each write is an independent atomic single-file operation,
// never a multi-file transaction.
package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by ReadBytes/ReadText/OpenStream when the
// requested key does not exist (DeleteFile treats a missing key as success). It is distinct from any I/O error so callers can tell "no such
// file" from "storage is broken".
var ErrNotFound = errors.New("blobstore: not found")

// Metadata describes a stored blob without reading its content.
type Metadata struct {
	Size    int64
	MimeType string
	ModTime time.Time
}

// Store is a volume-scoped blob store. Implementations must make a single
// file's write atomic (a reader never observes a partial write) but are not
// required to coordinate writes across files within the same volume.
type Store interface {
	// CreateVolume ensures volume exists. Idempotent.
	CreateVolume(ctx context.Context, volume string) error

	// ReadBytes returns the complete content of fileName in volume.
	ReadBytes(ctx context.Context, volume, fileName string) ([]byte, error)

	// ReadText is ReadBytes decoded as UTF-8 text.
	ReadText(ctx context.Context, volume, fileName string) (string, error)

	// OpenStream returns a reader for fileName's content plus its metadata.
	// The caller must close the returned reader.
	OpenStream(ctx context.Context, volume, fileName string) (io.ReadCloser, Metadata, error)

	// WriteBytes replaces fileName's content with data.
	WriteBytes(ctx context.Context, volume, fileName string, data []byte) error

	// WriteText is WriteBytes for UTF-8 text.
	WriteText(ctx context.Context, volume, fileName, text string) error

	// WriteStream replaces fileName's content by draining r.
	WriteStream(ctx context.Context, volume, fileName string, r io.Reader) error

	// DeleteFile removes fileName from volume. Deleting a missing file is
	// not an error.
	DeleteFile(ctx context.Context, volume, fileName string) error

	// ListFileNames returns every file name currently stored in volume.
	ListFileNames(ctx context.Context, volume string) ([]string, error)

	// DeleteVolume removes volume and every file inside it.
	DeleteVolume(ctx context.Context, volume string) error
}
