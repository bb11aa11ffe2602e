// Package filesource reads and relocates export files across storage backends.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/odyssey-erp/unit4-bridge/internal/sourcesystem"
)

// FileSource is the storage contract of the import pipeline. Names are base
// names inside the source system's folder.
type FileSource interface {
	ListFiles(ctx context.Context, sys sourcesystem.SourceSystem) ([]string, error)
	Download(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error)
	MoveToArchive(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error)
	MoveToError(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error)
	SaveJSONSidecar(ctx context.Context, sys sourcesystem.SourceSystem, archivedName string, body []byte) error
}

var (
	// ErrNotFound indicates a missing source file.
	ErrNotFound = errors.New("filesource: file not found")
	// ErrUnknownProvider indicates a source system configured for an unregistered backend.
	ErrUnknownProvider = errors.New("filesource: unknown provider")
	// ErrInvalidName indicates a file name that escapes the source folder.
	ErrInvalidName = errors.New("filesource: invalid file name")
)

// Error wraps a storage failure with the operation and file it concerns.
type Error struct {
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("filesource: %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SidecarName returns the JSON sidecar name for an archived file.
func SidecarName(archivedName string) string {
	ext := path.Ext(archivedName)
	return strings.TrimSuffix(archivedName, ext) + ".json"
}

// UniqueName picks a destination name that does not exist yet: the name itself,
// then the name prefixed with the date, then the prefixed name with a counter.
func UniqueName(name string, now time.Time, exists func(string) (bool, error)) (string, error) {
	taken, err := exists(name)
	if err != nil {
		return "", err
	}
	if !taken {
		return name, nil
	}
	dated := now.Format("20060102") + "_" + name
	taken, err = exists(dated)
	if err != nil {
		return "", err
	}
	if !taken {
		return dated, nil
	}
	ext := path.Ext(dated)
	stem := strings.TrimSuffix(dated, ext)
	for i := 1; i < 10000; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		taken, err = exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("filesource: no free name for %s", name)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}
	return nil
}
