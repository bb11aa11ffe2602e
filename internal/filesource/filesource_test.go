package filesource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/unit4-bridge/internal/sourcesystem"
)

var fixedNow = time.Date(2024, 3, 5, 10, 15, 30, 0, time.UTC)

func testSystem(provider sourcesystem.Provider, folder string) sourcesystem.SourceSystem {
	sys := sourcesystem.SourceSystem{Code: "HR", Active: true, Provider: provider, FolderPath: folder}
	sys.ApplyDefaults()
	return sys
}

func TestUniqueName(t *testing.T) {
	taken := map[string]bool{}
	exists := func(name string) (bool, error) { return taken[name], nil }

	name, err := UniqueName("a.xml", fixedNow, exists)
	require.NoError(t, err)
	assert.Equal(t, "a.xml", name)

	taken["a.xml"] = true
	name, err = UniqueName("a.xml", fixedNow, exists)
	require.NoError(t, err)
	assert.Equal(t, "20240305_a.xml", name)

	taken["20240305_a.xml"] = true
	taken["20240305_a_1.xml"] = true
	name, err = UniqueName("a.xml", fixedNow, exists)
	require.NoError(t, err)
	assert.Equal(t, "20240305_a_2.xml", name)

	boom := errors.New("boom")
	_, err = UniqueName("a.xml", fixedNow, func(string) (bool, error) { return false, boom })
	require.ErrorIs(t, err, boom)
}

func TestSidecarName(t *testing.T) {
	assert.Equal(t, "gl_0301.json", SidecarName("gl_0301.xml"))
	assert.Equal(t, "20240305_gl.json", SidecarName("20240305_gl.XML"))
	assert.Equal(t, "noext.json", SidecarName("noext"))
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDiskListAndDownload(t *testing.T) {
	root := t.TempDir()
	inbox := filepath.Join(root, "hr")
	writeFile(t, inbox, "b.xml", "<b/>")
	writeFile(t, inbox, "A.XML", "<a/>")
	writeFile(t, inbox, "notes.txt", "skip")
	require.NoError(t, os.MkdirAll(filepath.Join(inbox, "sub.xml"), 0o755))

	disk := NewLocal(root)
	sys := testSystem(sourcesystem.ProviderLocal, "hr")

	names, err := disk.ListFiles(context.Background(), sys)
	require.NoError(t, err)
	assert.Equal(t, []string{"A.XML", "b.xml"}, names)

	body, err := disk.Download(context.Background(), sys, "b.xml")
	require.NoError(t, err)
	assert.Equal(t, "<b/>", body)

	_, err = disk.Download(context.Background(), sys, "missing.xml")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = disk.Download(context.Background(), sys, "../secret.xml")
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestDiskListMissingFolder(t *testing.T) {
	disk := NewLocal(t.TempDir())
	_, err := disk.ListFiles(context.Background(), testSystem(sourcesystem.ProviderLocal, "nope"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDiskRelocateAvoidsCollisions(t *testing.T) {
	for _, tc := range []struct {
		name string
		disk *Disk
	}{
		{name: "local", disk: NewLocal("")},
		{name: "fileshare", disk: NewFileShare("")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			inbox := t.TempDir()
			sys := testSystem(sourcesystem.ProviderLocal, inbox)
			tc.disk.WithClock(func() time.Time { return fixedNow })
			ctx := context.Background()

			writeFile(t, inbox, "gl.xml", "first")
			archived, err := tc.disk.MoveToArchive(ctx, sys, "gl.xml")
			require.NoError(t, err)
			assert.Equal(t, "gl.xml", archived)

			writeFile(t, inbox, "gl.xml", "second")
			archived, err = tc.disk.MoveToArchive(ctx, sys, "gl.xml")
			require.NoError(t, err)
			assert.Equal(t, "20240305_gl.xml", archived)

			writeFile(t, inbox, "gl.xml", "third")
			archived, err = tc.disk.MoveToArchive(ctx, sys, "gl.xml")
			require.NoError(t, err)
			assert.Equal(t, "20240305_gl_1.xml", archived)

			data, err := os.ReadFile(filepath.Join(inbox, "Archive", "gl.xml"))
			require.NoError(t, err)
			assert.Equal(t, "first", string(data))
			_, err = os.Stat(filepath.Join(inbox, "gl.xml"))
			assert.True(t, os.IsNotExist(err))

			writeFile(t, inbox, "bad.xml", "broken")
			moved, err := tc.disk.MoveToError(ctx, sys, "bad.xml")
			require.NoError(t, err)
			assert.Equal(t, "bad.xml", moved)
			_, err = os.Stat(filepath.Join(inbox, "Error", "bad.xml"))
			require.NoError(t, err)

			_, err = tc.disk.MoveToError(ctx, sys, "bad.xml")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDiskSidecar(t *testing.T) {
	inbox := t.TempDir()
	disk := NewLocal("")
	sys := testSystem(sourcesystem.ProviderLocal, inbox)

	require.NoError(t, disk.SaveJSONSidecar(context.Background(), sys, "20240305_gl.xml", []byte(`{"ok":true}`)))
	data, err := os.ReadFile(filepath.Join(inbox, "Archive", "20240305_gl.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestDiskSidecarKeepsExistingRecord(t *testing.T) {
	inbox := t.TempDir()
	disk := NewLocal("")
	disk.WithClock(func() time.Time { return fixedNow })
	sys := testSystem(sourcesystem.ProviderLocal, inbox)
	ctx := context.Background()

	require.NoError(t, disk.SaveJSONSidecar(ctx, sys, "a.xml", []byte(`{"n":1}`)))
	require.NoError(t, disk.SaveJSONSidecar(ctx, sys, "a.txt", []byte(`{"n":2}`)))

	first, err := os.ReadFile(filepath.Join(inbox, "Archive", "a.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(first))
	second, err := os.ReadFile(filepath.Join(inbox, "Archive", "20240305_a.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(second))
}

func TestBlobSidecarKeepsExistingRecord(t *testing.T) {
	store := newMemStore()
	blob := NewBlob(store)
	blob.WithClock(func() time.Time { return fixedNow })
	sys := testSystem(sourcesystem.ProviderBlob, "exports/hr")
	ctx := context.Background()

	require.NoError(t, blob.SaveJSONSidecar(ctx, sys, "a.xml", []byte(`{"n":1}`)))
	require.NoError(t, blob.SaveJSONSidecar(ctx, sys, "a.txt", []byte(`{"n":2}`)))

	assert.Equal(t, []byte(`{"n":1}`), store.objects["exports/hr/Archive/a.json"])
	assert.Equal(t, []byte(`{"n":2}`), store.objects["exports/hr/Archive/20240305_a.json"])
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) Copy(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[src]
	if !ok {
		return ErrNotFound
	}
	m.objects[dst] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func TestBlobLifecycle(t *testing.T) {
	store := newMemStore()
	store.objects["exports/hr/one.xml"] = []byte("<one/>")
	store.objects["exports/hr/two.xml"] = []byte("<two/>")
	store.objects["exports/hr/readme.md"] = []byte("skip")
	store.objects["exports/hr/Archive/one.xml"] = []byte("old")

	blob := NewBlob(store)
	blob.WithClock(func() time.Time { return fixedNow })
	sys := testSystem(sourcesystem.ProviderBlob, "/exports/hr/")
	ctx := context.Background()

	names, err := blob.ListFiles(ctx, sys)
	require.NoError(t, err)
	assert.Equal(t, []string{"one.xml", "two.xml"}, names)

	body, err := blob.Download(ctx, sys, "one.xml")
	require.NoError(t, err)
	assert.Equal(t, "<one/>", body)

	archived, err := blob.MoveToArchive(ctx, sys, "one.xml")
	require.NoError(t, err)
	assert.Equal(t, "20240305_one.xml", archived)
	assert.Equal(t, []byte("<one/>"), store.objects["exports/hr/Archive/20240305_one.xml"])
	assert.NotContains(t, store.objects, "exports/hr/one.xml")

	require.NoError(t, blob.SaveJSONSidecar(ctx, sys, archived, []byte(`{}`)))
	assert.Equal(t, "application/json", store.types["exports/hr/Archive/20240305_one.json"])

	moved, err := blob.MoveToError(ctx, sys, "two.xml")
	require.NoError(t, err)
	assert.Equal(t, "two.xml", moved)
	assert.Contains(t, store.objects, "exports/hr/Error/two.xml")

	_, err = blob.MoveToError(ctx, sys, "two.xml")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRouterDispatchesByProvider(t *testing.T) {
	store := newMemStore()
	store.objects["in/x.xml"] = []byte("<x/>")
	router := NewRouter().Register(sourcesystem.ProviderBlob, NewBlob(store))

	names, err := router.ListFiles(context.Background(), testSystem(sourcesystem.ProviderBlob, "in"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x.xml"}, names)

	_, err = router.ListFiles(context.Background(), testSystem(sourcesystem.ProviderFileShare, "in"))
	require.ErrorIs(t, err, ErrUnknownProvider)
}
