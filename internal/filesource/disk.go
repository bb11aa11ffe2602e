package filesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/odyssey-erp/unit4-bridge/internal/sourcesystem"
)

// Disk serves files from a directory tree: local disk or a mounted share.
type Disk struct {
	root     string
	copyMove bool
	clock    func() time.Time
}

// NewLocal serves files below root and relocates them with rename.
func NewLocal(root string) *Disk {
	return &Disk{root: root, clock: time.Now}
}

// NewFileShare serves files below a mounted share. Relocation copies and then
// removes, since renames across share folders are not reliable.
func NewFileShare(mountRoot string) *Disk {
	return &Disk{root: mountRoot, copyMove: true, clock: time.Now}
}

// WithClock overrides the internal clock for deterministic tests.
func (d *Disk) WithClock(clock func() time.Time) {
	if d != nil && clock != nil {
		d.clock = clock
	}
}

func (d *Disk) folder(sys sourcesystem.SourceSystem) string {
	if filepath.IsAbs(sys.FolderPath) || d.root == "" {
		return filepath.Clean(sys.FolderPath)
	}
	return filepath.Join(d.root, filepath.FromSlash(sys.FolderPath))
}

// ListFiles returns matching regular files, sorted by name.
func (d *Disk) ListFiles(ctx context.Context, sys sourcesystem.SourceSystem) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.folder(sys))
	if err != nil {
		return nil, &Error{Op: "list", Name: sys.FolderPath, Err: mapNotExist(err)}
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !sys.Matches(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Download reads the file as text.
func (d *Disk) Download(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkName(name); err != nil {
		return "", &Error{Op: "download", Name: name, Err: err}
	}
	data, err := os.ReadFile(filepath.Join(d.folder(sys), name))
	if err != nil {
		return "", &Error{Op: "download", Name: name, Err: mapNotExist(err)}
	}
	return string(data), nil
}

// MoveToArchive relocates the file into the archive folder.
func (d *Disk) MoveToArchive(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error) {
	return d.relocate(sys, name, sys.ArchiveFolder, "archive")
}

// MoveToError relocates the file into the error folder.
func (d *Disk) MoveToError(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error) {
	return d.relocate(sys, name, sys.ErrorFolder, "error")
}

// SaveJSONSidecar writes body next to the archived file.
func (d *Disk) SaveJSONSidecar(ctx context.Context, sys sourcesystem.SourceSystem, archivedName string, body []byte) error {
	if err := checkName(archivedName); err != nil {
		return &Error{Op: "sidecar", Name: archivedName, Err: err}
	}
	dir := filepath.Join(d.folder(sys), filepath.FromSlash(sys.ArchiveFolder))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Op: "sidecar", Name: archivedName, Err: err}
	}
	name, err := UniqueName(SidecarName(archivedName), d.clock(), existsIn(dir))
	if err != nil {
		return &Error{Op: "sidecar", Name: archivedName, Err: err}
	}
	if err := writeExclusive(filepath.Join(dir, name), body); err != nil {
		return &Error{Op: "sidecar", Name: archivedName, Err: err}
	}
	return nil
}

func existsIn(dir string) func(string) (bool, error) {
	return func(candidate string) (bool, error) {
		_, err := os.Stat(filepath.Join(dir, candidate))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
}

func writeExclusive(dst string, body []byte) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := out.Write(body); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

func (d *Disk) relocate(sys sourcesystem.SourceSystem, name, target, op string) (string, error) {
	if err := checkName(name); err != nil {
		return "", &Error{Op: op, Name: name, Err: err}
	}
	src := filepath.Join(d.folder(sys), name)
	if _, err := os.Stat(src); err != nil {
		return "", &Error{Op: op, Name: name, Err: mapNotExist(err)}
	}
	dir := filepath.Join(d.folder(sys), filepath.FromSlash(target))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &Error{Op: op, Name: name, Err: err}
	}
	dest, err := UniqueName(name, d.clock(), existsIn(dir))
	if err != nil {
		return "", &Error{Op: op, Name: name, Err: err}
	}
	dst := filepath.Join(dir, dest)
	if !d.copyMove {
		if err := os.Rename(src, dst); err == nil {
			return dest, nil
		}
	}
	if err := copyFile(src, dst); err != nil {
		return "", &Error{Op: op, Name: name, Err: err}
	}
	if err := os.Remove(src); err != nil {
		return "", &Error{Op: op, Name: name, Err: fmt.Errorf("remove original: %w", err)}
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

func mapNotExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
