package filesource

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/unit4-bridge/internal/sourcesystem"
)

// ObjectStore is the subset of an S3-compatible API the blob adapter needs.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Remove(ctx context.Context, key string) error
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Blob serves files from an object store; the folder path is a key prefix.
type Blob struct {
	store ObjectStore
	clock func() time.Time
}

// NewBlob wraps an object store.
func NewBlob(store ObjectStore) *Blob {
	return &Blob{store: store, clock: time.Now}
}

// WithClock overrides the internal clock for deterministic tests.
func (b *Blob) WithClock(clock func() time.Time) {
	if b != nil && clock != nil {
		b.clock = clock
	}
}

func blobPrefix(folder string) string {
	folder = strings.Trim(strings.ReplaceAll(folder, `\`, "/"), "/")
	if folder == "" {
		return ""
	}
	return folder + "/"
}

// ListFiles returns matching objects directly below the folder prefix.
func (b *Blob) ListFiles(ctx context.Context, sys sourcesystem.SourceSystem) ([]string, error) {
	prefix := blobPrefix(sys.FolderPath)
	keys, err := b.store.List(ctx, prefix)
	if err != nil {
		return nil, &Error{Op: "list", Name: sys.FolderPath, Err: err}
	}
	var names []string
	for _, key := range keys {
		name := strings.TrimPrefix(key, prefix)
		if name == "" || strings.Contains(name, "/") || !sys.Matches(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Download reads the object as text.
func (b *Blob) Download(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", &Error{Op: "download", Name: name, Err: err}
	}
	data, err := b.store.Get(ctx, blobPrefix(sys.FolderPath)+name)
	if err != nil {
		return "", &Error{Op: "download", Name: name, Err: err}
	}
	return string(data), nil
}

// MoveToArchive copies the object under the archive prefix and removes the original.
func (b *Blob) MoveToArchive(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error) {
	return b.relocate(ctx, sys, name, sys.ArchiveFolder, "archive")
}

// MoveToError copies the object under the error prefix and removes the original.
func (b *Blob) MoveToError(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error) {
	return b.relocate(ctx, sys, name, sys.ErrorFolder, "error")
}

// SaveJSONSidecar uploads body next to the archived object without replacing
// an existing sidecar.
func (b *Blob) SaveJSONSidecar(ctx context.Context, sys sourcesystem.SourceSystem, archivedName string, body []byte) error {
	if err := checkName(archivedName); err != nil {
		return &Error{Op: "sidecar", Name: archivedName, Err: err}
	}
	dir := blobPrefix(path.Join(blobPrefix(sys.FolderPath), sys.ArchiveFolder))
	name, err := UniqueName(SidecarName(archivedName), b.clock(), func(candidate string) (bool, error) {
		return b.store.Exists(ctx, dir+candidate)
	})
	if err != nil {
		return &Error{Op: "sidecar", Name: archivedName, Err: err}
	}
	if err := b.store.Put(ctx, dir+name, body, "application/json"); err != nil {
		return &Error{Op: "sidecar", Name: archivedName, Err: err}
	}
	return nil
}

func (b *Blob) relocate(ctx context.Context, sys sourcesystem.SourceSystem, name, target, op string) (string, error) {
	if err := checkName(name); err != nil {
		return "", &Error{Op: op, Name: name, Err: err}
	}
	src := blobPrefix(sys.FolderPath) + name
	ok, err := b.store.Exists(ctx, src)
	if err != nil {
		return "", &Error{Op: op, Name: name, Err: err}
	}
	if !ok {
		return "", &Error{Op: op, Name: name, Err: ErrNotFound}
	}
	dir := blobPrefix(path.Join(blobPrefix(sys.FolderPath), target))
	dest, err := UniqueName(name, b.clock(), func(candidate string) (bool, error) {
		return b.store.Exists(ctx, dir+candidate)
	})
	if err != nil {
		return "", &Error{Op: op, Name: name, Err: err}
	}
	if err := b.store.Copy(ctx, src, dir+dest); err != nil {
		return "", &Error{Op: op, Name: name, Err: err}
	}
	if err := b.store.Remove(ctx, src); err != nil {
		return "", &Error{Op: op, Name: name, Err: err}
	}
	return dest, nil
}
