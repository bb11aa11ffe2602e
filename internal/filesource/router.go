package filesource

import (
	"context"

	"github.com/odyssey-erp/unit4-bridge/internal/sourcesystem"
)

// Router dispatches to the adapter registered for a source system's provider.
type Router struct {
	sources map[sourcesystem.Provider]FileSource
}

// NewRouter builds an empty router.
func NewRouter() *Router {
	return &Router{sources: make(map[sourcesystem.Provider]FileSource)}
}

// Register binds an adapter to a provider. Nil adapters are ignored.
func (r *Router) Register(provider sourcesystem.Provider, source FileSource) *Router {
	if source != nil {
		r.sources[provider] = source
	}
	return r
}

func (r *Router) resolve(sys sourcesystem.SourceSystem) (FileSource, error) {
	if r != nil {
		if src, ok := r.sources[sys.Provider]; ok {
			return src, nil
		}
	}
	return nil, &Error{Op: "resolve", Name: string(sys.Provider), Err: ErrUnknownProvider}
}

// ListFiles implements FileSource.
func (r *Router) ListFiles(ctx context.Context, sys sourcesystem.SourceSystem) ([]string, error) {
	src, err := r.resolve(sys)
	if err != nil {
		return nil, err
	}
	return src.ListFiles(ctx, sys)
}

// Download implements FileSource.
func (r *Router) Download(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error) {
	src, err := r.resolve(sys)
	if err != nil {
		return "", err
	}
	return src.Download(ctx, sys, name)
}

// MoveToArchive implements FileSource.
func (r *Router) MoveToArchive(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error) {
	src, err := r.resolve(sys)
	if err != nil {
		return "", err
	}
	return src.MoveToArchive(ctx, sys, name)
}

// MoveToError implements FileSource.
func (r *Router) MoveToError(ctx context.Context, sys sourcesystem.SourceSystem, name string) (string, error) {
	src, err := r.resolve(sys)
	if err != nil {
		return "", err
	}
	return src.MoveToError(ctx, sys, name)
}

// SaveJSONSidecar implements FileSource.
func (r *Router) SaveJSONSidecar(ctx context.Context, sys sourcesystem.SourceSystem, archivedName string, body []byte) error {
	src, err := r.resolve(sys)
	if err != nil {
		return err
	}
	return src.SaveJSONSidecar(ctx, sys, archivedName, body)
}
