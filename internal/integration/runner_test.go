package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/unit4-bridge/internal/execlog"
	"github.com/odyssey-erp/unit4-bridge/internal/filesource"
	"github.com/odyssey-erp/unit4-bridge/internal/platform/cache"
	"github.com/odyssey-erp/unit4-bridge/internal/processing"
	"github.com/odyssey-erp/unit4-bridge/internal/sourcesystem"
	"github.com/odyssey-erp/unit4-bridge/internal/transform"
	"github.com/odyssey-erp/unit4-bridge/internal/unit4"
)

type fakeLookup struct {
	systems []sourcesystem.SourceSystem
	err     error
}

func (f *fakeLookup) ListActive(context.Context) ([]sourcesystem.SourceSystem, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []sourcesystem.SourceSystem
	for _, s := range f.systems {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeLookup) FindByCode(_ context.Context, code string) (sourcesystem.SourceSystem, error) {
	if f.err != nil {
		return sourcesystem.SourceSystem{}, f.err
	}
	for _, s := range f.systems {
		if strings.EqualFold(s.Code, code) {
			return s, nil
		}
	}
	return sourcesystem.SourceSystem{}, sourcesystem.ErrNotFound
}

type fakeLister struct {
	files map[string][]string
	err   map[string]error
}

func (f *fakeLister) ListFiles(_ context.Context, sys sourcesystem.SourceSystem) ([]string, error) {
	if err := f.err[sys.Code]; err != nil {
		return nil, err
	}
	return f.files[sys.Code], nil
}

type outcome struct {
	status execlog.Status
	err    error
	hook   func()
}

type fakeProcessor struct {
	outcomes map[string]outcome
	calls    []string
}

func (f *fakeProcessor) ProcessFile(_ context.Context, sys sourcesystem.SourceSystem, name string, dryRun bool) (execlog.Entry, error) {
	f.calls = append(f.calls, sys.Code+"/"+name)
	o, ok := f.outcomes[name]
	if !ok {
		o = outcome{status: execlog.StatusSuccess}
	}
	if o.hook != nil {
		o.hook()
	}
	entry := execlog.NewEntry(uuid.Nil, sys.ID, sys.Code, name, dryRun, time.Now())
	entry.Finalize(o.status, string(o.status), time.Now())
	return entry, o.err
}

type memLogs struct {
	mu      sync.Mutex
	batches [][]execlog.Entry
	err     error
}

func (m *memLogs) InsertBatch(_ context.Context, entries []execlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]execlog.Entry(nil), entries...))
	return m.err
}

func (m *memLogs) all() []execlog.Entry {
	var out []execlog.Entry
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func system(id int64, code string, active bool) sourcesystem.SourceSystem {
	sys := sourcesystem.SourceSystem{ID: id, Code: code, Active: active, Provider: sourcesystem.ProviderLocal}
	sys.ApplyDefaults()
	return sys
}

func newRunner(lookup *fakeLookup, lister *fakeLister, proc *fakeProcessor, logs *memLogs) *Runner {
	registry := transform.NewRegistry(transform.NewABWTransformer("SEK"))
	return NewRunner(lookup, lister, registry, proc, logs, nil)
}

func TestRunOnceAggregatesAcrossSystems(t *testing.T) {
	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{system(1, "AP", true), system(2, "HR", true), system(3, "OLD", false)}}
	lister := &fakeLister{files: map[string][]string{"AP": {"a.xml", "b.xml"}, "HR": {"c.xml"}, "OLD": {"z.xml"}}}
	proc := &fakeProcessor{outcomes: map[string]outcome{"b.xml": {status: execlog.StatusError}}}
	logs := &memLogs{}

	summary, err := newRunner(lookup, lister, proc, logs).RunOnce(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.SourceSystems)
	assert.Equal(t, []string{"AP/a.xml", "AP/b.xml", "HR/c.xml"}, proc.calls)

	require.Len(t, logs.batches, 2)
	for _, e := range logs.all() {
		assert.Equal(t, summary.ExecutionID, e.ExecutionID)
	}
}

func TestRunOnceNoFilesWritesSyntheticEntry(t *testing.T) {
	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{system(1, "AP", true)}}
	logs := &memLogs{}

	summary, err := newRunner(lookup, &fakeLister{}, &fakeProcessor{}, logs).RunOnce(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Zero(t, summary.Failed)

	entries := logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, execlog.NoFilesName, entries[0].FileName)
	assert.Equal(t, execlog.StatusSuccess, entries[0].Status)
}

func TestRunOnceCodeFilterSelectsOneSystem(t *testing.T) {
	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{system(1, "AP", true), system(2, "HR", true)}}
	lister := &fakeLister{files: map[string][]string{"AP": {"a.xml"}, "HR": {"c.xml"}}}
	proc := &fakeProcessor{}

	summary, err := newRunner(lookup, lister, proc, &memLogs{}).RunOnce(context.Background(), Filter{SourceSystemCode: " hr "})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{"HR/c.xml"}, proc.calls)
}

func TestRunOnceInactiveOrUnknownCodeIsZeroProcess(t *testing.T) {
	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{system(3, "OLD", false)}}
	lister := &fakeLister{files: map[string][]string{"OLD": {"z.xml"}}}
	proc := &fakeProcessor{}
	runner := newRunner(lookup, lister, proc, &memLogs{})

	for _, code := range []string{"OLD", "MISSING"} {
		summary, err := runner.RunOnce(context.Background(), Filter{SourceSystemCode: code})
		require.NoError(t, err)
		assert.Zero(t, summary.Processed)
		assert.Zero(t, summary.SourceSystems)
	}
	assert.Empty(t, proc.calls)
}

func TestRunOnceFileNameFilter(t *testing.T) {
	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{system(1, "AP", true)}}
	lister := &fakeLister{files: map[string][]string{"AP": {"a.xml", "b.xml"}}}
	proc := &fakeProcessor{}
	logs := &memLogs{}
	runner := newRunner(lookup, lister, proc, logs)

	summary, err := runner.RunOnce(context.Background(), Filter{FileName: "B.XML"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{"AP/b.xml"}, proc.calls)

	summary, err = runner.RunOnce(context.Background(), Filter{FileName: "nope.xml"})
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	last := logs.batches[len(logs.batches)-1]
	require.Len(t, last, 1)
	assert.Equal(t, execlog.NoFilesName, last[0].FileName)
}

func TestRunOnceSystemAbortSkipsRemainingFilesOnly(t *testing.T) {
	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{system(1, "AP", true), system(2, "HR", true)}}
	lister := &fakeLister{files: map[string][]string{"AP": {"a.xml", "b.xml"}, "HR": {"c.xml"}}}
	proc := &fakeProcessor{outcomes: map[string]outcome{
		"a.xml": {status: execlog.StatusError, err: &unit4.ConfigurationError{Setting: "base URL"}},
	}}

	summary, err := newRunner(lookup, lister, proc, &memLogs{}).RunOnce(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"AP/a.xml", "HR/c.xml"}, proc.calls)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunOnceUnsupportedTransformerSkipsSystem(t *testing.T) {
	bad := system(1, "AP", true)
	bad.TransformerType = "SAPIDoc"
	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{bad, system(2, "HR", true)}}
	lister := &fakeLister{files: map[string][]string{"AP": {"a.xml"}, "HR": {"c.xml"}}}
	proc := &fakeProcessor{}
	logs := &memLogs{}

	summary, err := newRunner(lookup, lister, proc, logs).RunOnce(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"HR/c.xml"}, proc.calls)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)

	entries := logs.all()
	require.Len(t, entries, 2)
	assert.Equal(t, execlog.SourceSystemName, entries[0].FileName)
	assert.Equal(t, execlog.StatusError, entries[0].Status)
	assert.Contains(t, entries[0].Message, "SAPIDoc")
}

func TestRunOnceListFailureSkipsOnlyThatSystem(t *testing.T) {
	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{system(1, "AP", true), system(2, "HR", true)}}
	boom := errors.New("share offline")
	lister := &fakeLister{err: map[string]error{"AP": boom}, files: map[string][]string{"HR": {"c.xml"}}}
	proc := &fakeProcessor{}
	logs := &memLogs{}

	summary, err := newRunner(lookup, lister, proc, logs).RunOnce(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"HR/c.xml"}, proc.calls)
	assert.Equal(t, 2, summary.SourceSystems)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)

	entries := logs.all()
	require.Len(t, entries, 2)
	assert.Equal(t, execlog.SourceSystemName, entries[0].FileName)
	assert.Equal(t, execlog.StatusError, entries[0].Status)
	assert.Contains(t, entries[0].Message, "share offline")
}

func TestRunOnceUnconfiguredBlobProviderDoesNotStopLaterSystems(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.xml"), []byte(fmt.Sprintf(exportTemplate, "B-1")), 0o644))

	blob := sourcesystem.SourceSystem{ID: 1, Code: "BLOB", Active: true, Provider: sourcesystem.ProviderBlob, FolderPath: "exports/blob"}
	blob.ApplyDefaults()
	local := sourcesystem.SourceSystem{ID: 2, Code: "LOCAL", Active: true, Provider: sourcesystem.ProviderLocal, FolderPath: dir}
	local.ApplyDefaults()

	registry := transform.NewRegistry(transform.NewABWTransformer("SEK"))
	files := filesource.NewRouter().Register(sourcesystem.ProviderLocal, filesource.NewLocal(""))
	proc := processing.NewProcessor(files, registry, nil, nil)
	logs := &memLogs{}
	runner := NewRunner(&fakeLookup{systems: []sourcesystem.SourceSystem{blob, local}}, files, registry, proc, logs, nil)

	summary, err := runner.RunOnce(context.Background(), Filter{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.SourceSystems)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	entries := logs.all()
	require.Len(t, entries, 2)
	assert.Equal(t, "BLOB", entries[0].SourceSystemCode)
	assert.Equal(t, execlog.SourceSystemName, entries[0].FileName)
	assert.Contains(t, entries[0].Message, filesource.ErrUnknownProvider.Error())
	assert.Equal(t, "LOCAL", entries[1].SourceSystemCode)
	assert.Equal(t, "1.xml", entries[1].FileName)
}

func TestRunOnceLookupFailure(t *testing.T) {
	boom := errors.New("db down")
	_, err := newRunner(&fakeLookup{err: boom}, &fakeLister{}, &fakeProcessor{}, &memLogs{}).RunOnce(context.Background(), Filter{})
	require.ErrorIs(t, err, boom)
}

func TestRunOnceCancellationFlushesAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{system(1, "AP", true), system(2, "HR", true)}}
	lister := &fakeLister{files: map[string][]string{"AP": {"a.xml", "b.xml"}, "HR": {"c.xml"}}}
	proc := &fakeProcessor{outcomes: map[string]outcome{"a.xml": {status: execlog.StatusSuccess, hook: cancel}}}
	logs := &memLogs{}

	summary, err := newRunner(lookup, lister, proc, logs).RunOnce(ctx, Filter{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"AP/a.xml"}, proc.calls)
	assert.Equal(t, 1, summary.Processed)
	require.Len(t, logs.batches, 1)
	assert.Equal(t, "a.xml", logs.batches[0][0].FileName)
}

func TestRunOncePersistenceFailureIsReported(t *testing.T) {
	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{system(1, "AP", true)}}
	lister := &fakeLister{files: map[string][]string{"AP": {"a.xml"}}}
	logs := &memLogs{err: errors.New("insert failed")}

	_, err := newRunner(lookup, lister, &fakeProcessor{}, logs).RunOnce(context.Background(), Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist processing log")

	failing := &fakeProcessor{outcomes: map[string]outcome{"a.xml": {status: execlog.StatusError}}}
	summary, err := newRunner(lookup, lister, failing, logs).RunOnce(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
}

type fakeLocker struct {
	held     map[string]bool
	released []string
}

func (f *fakeLocker) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	if f.held[key] {
		return nil, cache.ErrLockHeld
	}
	f.held[key] = true
	return func(context.Context) error {
		delete(f.held, key)
		f.released = append(f.released, key)
		return nil
	}, nil
}

func TestRunOnceHonoursSourceSystemLock(t *testing.T) {
	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{system(1, "AP", true), system(2, "HR", true)}}
	locker := &fakeLocker{held: map[string]bool{"AP": true}}
	proc := &fakeProcessor{}
	lister := &fakeLister{files: map[string][]string{"AP": {"a.xml"}, "HR": {"c.xml"}}}
	runner := newRunner(lookup, lister, proc, &memLogs{}).WithLocker(locker)

	_, err := runner.RunOnce(context.Background(), Filter{SourceSystemCode: "ap"})
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, proc.calls)

	summary, err := runner.RunOnce(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"HR/c.xml"}, proc.calls)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.SourceSystems)
	assert.Equal(t, []string{"HR"}, locker.released)
}

func TestRunOnceScopedAndUnscopedRunsShareSystemLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	lock := cache.NewRunLock(client, "", time.Minute)

	lookup := &fakeLookup{systems: []sourcesystem.SourceSystem{system(1, "GL", true), system(2, "AP", true)}}
	lister := &fakeLister{files: map[string][]string{"GL": {"g.xml"}, "AP": {"a.xml"}}}
	proc := &fakeProcessor{}
	runner := newRunner(lookup, lister, proc, &memLogs{}).WithLocker(lock)

	var nestedErr error
	proc.outcomes = map[string]outcome{"g.xml": {status: execlog.StatusSuccess, hook: func() {
		_, nestedErr = runner.RunOnce(context.Background(), Filter{SourceSystemCode: "gl"})
	}}}

	summary, err := runner.RunOnce(context.Background(), Filter{})
	require.NoError(t, err)
	require.ErrorIs(t, nestedErr, ErrRunInProgress)
	assert.Equal(t, []string{"GL/g.xml", "AP/a.xml"}, proc.calls)
	assert.Equal(t, 2, summary.Processed)
	assert.False(t, mr.Exists("u4bridge:lock:GL"))

	release, err := lock.Acquire(context.Background(), "GL")
	require.NoError(t, err)
	proc.calls = nil
	proc.outcomes = nil
	summary, err = runner.RunOnce(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"AP/a.xml"}, proc.calls)
	assert.Equal(t, 1, summary.Skipped)
	require.NoError(t, release(context.Background()))
}

func TestSummaryJSON(t *testing.T) {
	payload, err := Summary{Processed: 2, Duration: 1500 * time.Millisecond}.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"durationMs":1500`)
	assert.Contains(t, string(payload), `"processed":2`)
}

const exportTemplate = `<?xml version="1.0" encoding="utf-8"?>
<ABWTransaction xmlns="http://services.agresso.com/schema/ABWTransaction/2011/11/14">
  <Interface>BI</Interface>
  <BatchId>%s</BatchId>
  <Voucher>
    <CompanyCode>01</CompanyCode>
    <Period>202403</Period>
    <Transaction><TransType>GL</TransType><Amounts><DcFlag>1</DcFlag><Amount>100.00</Amount></Amounts></Transaction>
  </Voucher>
</ABWTransaction>`

func pipeline(t *testing.T, handler http.HandlerFunc) (*Runner, string, *memLogs) {
	t.Helper()
	dir := t.TempDir()
	sys := sourcesystem.SourceSystem{ID: 1, Code: "GL", Active: true, Provider: sourcesystem.ProviderLocal, FolderPath: dir}
	sys.ApplyDefaults()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/transaction-batch", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := unit4.NewClient(unit4.ClientConfig{
		BaseURL: srv.URL, TokenURL: srv.URL + "/token", ClientID: "id", ClientSecret: "secret",
	}, nil)
	registry := transform.NewRegistry(transform.NewABWTransformer("SEK"))
	files := filesource.NewRouter().Register(sourcesystem.ProviderLocal, filesource.NewLocal(""))
	proc := processing.NewProcessor(files, registry, client, nil)
	logs := &memLogs{}
	runner := NewRunner(&fakeLookup{systems: []sourcesystem.SourceSystem{sys}}, files, registry, proc, logs, nil)
	return runner, dir, logs
}

func TestPipelineUnavailableApiFailsOneFileAndContinues(t *testing.T) {
	runner, dir, logs := pipeline(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(readBody(r), "B-1") {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"down"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"Success"}`))
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.xml"), []byte(fmt.Sprintf(exportTemplate, "B-1")), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2.xml"), []byte(fmt.Sprintf(exportTemplate, "B-2")), 0o644))

	summary, err := runner.RunOnce(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)

	_, err = os.Stat(filepath.Join(dir, "Error", "1.xml"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "Archive", "2.xml"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "Archive", "2.json"))
	require.NoError(t, err)

	entries := logs.all()
	require.Len(t, entries, 2)
	assert.Equal(t, execlog.StatusError, entries[0].Status)
	assert.Contains(t, entries[0].Message, "down")
}

func TestPipelineDryRunLeavesEveryFile(t *testing.T) {
	posted := 0
	runner, dir, logs := pipeline(t, func(w http.ResponseWriter, _ *http.Request) {
		posted++
		w.WriteHeader(http.StatusOK)
	})
	for i := 1; i <= 3; i++ {
		name := fmt.Sprintf("%d.xml", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(fmt.Sprintf(exportTemplate, name)), 0o644))
	}

	summary, err := runner.RunOnce(context.Background(), Filter{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Zero(t, posted)

	left, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, left, 3)
	for _, e := range logs.all() {
		assert.Equal(t, execlog.StatusSuccess, e.Status)
		assert.True(t, e.DryRun)
	}
}

func readBody(r *http.Request) string {
	body, _ := io.ReadAll(r.Body)
	return string(body)
}
