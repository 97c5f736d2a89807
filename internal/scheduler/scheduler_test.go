package scheduler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	segloadhttp "github.com/tanq16/segload/internal/downloaders/http"
	"github.com/tanq16/segload/internal/engine"
	"github.com/tanq16/segload/internal/history"
	"github.com/tanq16/segload/internal/output"
	"github.com/tanq16/segload/internal/testutils"
	"github.com/tanq16/segload/internal/utils"
)

type memRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (r *memRecorder) Record(e history.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func httpTask(t *testing.T, rawURL, dir, name string) Task {
	t.Helper()
	src, err := segloadhttp.NewSource(rawURL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
	require.NoError(t, err)
	return Task{
		Kind: "http",
		URL:  rawURL,
		Job:  engine.Job{ID: uuid.New(), Source: src, Dir: dir, Filename: name, Connections: 3},
	}
}

func TestRunBatch(t *testing.T) {
	dataA := testutils.GenerateTestData(t, 3000)
	dataB := testutils.GenerateTestData(t, 5000)
	serverA := testutils.NewRangeServer(t, dataA)
	serverB := testutils.NewRangeServer(t, dataB)
	dir := t.TempDir()
	recorder := &memRecorder{}
	var buf bytes.Buffer

	tasks := []Task{
		httpTask(t, serverA.URL+"/a", dir, "a.bin"),
		httpTask(t, serverB.URL+"/b", dir, "b.bin"),
	}
	err := Run(context.Background(), tasks, 2, engine.New(engine.Options{}, engine.Hooks{}), output.NewManager(&buf, false), recorder)
	require.NoError(t, err)

	gotA, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, dataA, gotA)
	gotB, err := os.ReadFile(filepath.Join(dir, "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, dataB, gotB)

	require.Len(t, recorder.entries, 2)
	for _, e := range recorder.entries {
		assert.Equal(t, history.StatusCompleted, e.Status)
		assert.Equal(t, 3, e.Connections)
	}
	assert.Contains(t, buf.String(), "Completed 2 of 2")
}

func TestRunRecordsFailedSegments(t *testing.T) {
	server := testutils.NewRangeServer(t, testutils.GenerateTestData(t, 3000))
	server.FailStart[1000] = true
	dir := t.TempDir()
	recorder := &memRecorder{}
	task := httpTask(t, server.URL+"/f", dir, "f.bin")
	task.Job.SplitOversized = true
	mgr := output.NewManager(&bytes.Buffer{}, false)

	err := Run(context.Background(), []Task{task}, 1, engine.New(engine.Options{}, engine.Hooks{}), mgr, recorder)
	require.Error(t, err)
	var jobErr *engine.JobError
	assert.True(t, errors.As(err, &jobErr))

	require.Len(t, recorder.entries, 1)
	entry := recorder.entries[0]
	assert.Equal(t, task.Job.ID, entry.ID)
	assert.Equal(t, history.StatusFailed, entry.Status)
	assert.Equal(t, []int{1}, entry.FailedSegments)
	assert.True(t, entry.SplitOversized)
	_, failures := mgr.Counts()
	assert.Equal(t, 1, failures)
}

func TestRunWithoutRecorder(t *testing.T) {
	server := testutils.NewRangeServer(t, testutils.GenerateTestData(t, 100))
	task := httpTask(t, server.URL+"/x", t.TempDir(), "x.bin")
	err := Run(context.Background(), []Task{task}, 4, engine.New(engine.Options{}, engine.Hooks{}), output.NewManager(&bytes.Buffer{}, false), nil)
	assert.NoError(t, err)
}
