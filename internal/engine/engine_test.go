package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	segloadhttp "github.com/tanq16/segload/internal/downloaders/http"
	"github.com/tanq16/segload/internal/partstore"
	"github.com/tanq16/segload/internal/segment"
	"github.com/tanq16/segload/internal/testutils"
	"github.com/tanq16/segload/internal/utils"
)

type memSource struct {
	data  []byte
	delay time.Duration
	fail  map[int64]error // keyed by range start
	block bool            // OpenRange waits for ctx to end
	// onClose runs when the body of the range starting at start is closed.
	onClose func(start int64)

	mu        sync.Mutex
	ranges    []string
	active    int
	maxActive int
}

func newMemSource(data []byte) *memSource {
	return &memSource{data: data, fail: map[int64]error{}}
}

func (m *memSource) Probe(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(len(m.data)), nil
}

func (m *memSource) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	m.mu.Lock()
	m.ranges = append(m.ranges, fmt.Sprintf("%d-%d", start, end))
	err := m.fail[start]
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	m.active++
	m.maxActive = max(m.maxActive, m.active)
	m.mu.Unlock()
	time.Sleep(m.delay)
	return &trackedBody{Reader: bytes.NewReader(m.data[start : end+1]), src: m, start: start}, nil
}

func (m *memSource) String() string { return "mem://test" }

func (m *memSource) Ranges() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ranges...)
}

type trackedBody struct {
	io.Reader
	src   *memSource
	start int64
	once  sync.Once
}

func (b *trackedBody) Close() error {
	b.once.Do(func() {
		b.src.mu.Lock()
		b.src.active--
		b.src.mu.Unlock()
		if b.src.onClose != nil {
			b.src.onClose(b.start)
		}
	})
	return nil
}

func newJob(src Source, dir string, connections int) Job {
	return Job{ID: uuid.New(), Source: src, Dir: dir, Filename: "file.bin", Connections: connections}
}

func writePart(t *testing.T, dir string, seg segment.Segment, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(partstore.PartPath(dir, "file.bin", seg), data, 0644))
}

func TestRunOverHTTP(t *testing.T) {
	data := testutils.GenerateTestData(t, 10000)
	server := testutils.NewRangeServer(t, data)
	src, err := segloadhttp.NewSource(server.URL+"/file.bin", utils.NewHTTPClient(utils.HTTPClientConfig{}))
	require.NoError(t, err)
	dir := t.TempDir()

	var progressed int64
	var completed string
	eng := New(Options{BufferSize: 512}, Hooks{
		OnProgress: func(p Progress) { progressed += p.Bytes },
		OnComplete: func(path string) { completed = path },
	})
	result, err := eng.Run(context.Background(), newJob(src, dir, 4))
	require.NoError(t, err)

	got, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, filepath.Join(dir, "file.bin"), completed)
	assert.Equal(t, int64(10000), progressed)
	assert.Equal(t, int64(10000), result.TotalSize)
	assert.Len(t, server.Ranges(), 4)
	assert.Equal(t, 1, server.Heads())
	for _, status := range result.Segments {
		assert.Equal(t, segment.Completed, status.State)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "file.bin_part*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRunCreatesDestinationDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	result, err := New(Options{}, Hooks{}).Run(context.Background(), newJob(newMemSource([]byte("hello world")), dir, 2))
	require.NoError(t, err)
	assert.FileExists(t, result.Path)
}

func TestRunSkipsCompleteSegment(t *testing.T) {
	data := testutils.GenerateTestData(t, 4000)
	src := newMemSource(data)
	dir := t.TempDir()
	segments, err := segment.Plan(4000, 4, 4000)
	require.NoError(t, err)
	writePart(t, dir, segments[0], data[:1000])

	result, err := New(Options{}, Hooks{}).Run(context.Background(), newJob(src, dir, 4))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"1000-1999", "2000-2999", "3000-3999"}, src.Ranges())
	assert.Equal(t, segment.Skipped, result.Segments[0].State)
	assert.Equal(t, int64(1000), result.Segments[0].Resumed)
	got, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRunResumesPartialSegment(t *testing.T) {
	data := testutils.GenerateTestData(t, 4000)
	src := newMemSource(data)
	dir := t.TempDir()
	segments, err := segment.Plan(4000, 4, 4000)
	require.NoError(t, err)
	writePart(t, dir, segments[1], data[1000:1300])

	var resumed, fresh int64
	eng := New(Options{}, Hooks{OnProgress: func(p Progress) {
		if p.Resumed {
			resumed += p.Bytes
		} else {
			fresh += p.Bytes
		}
	}})
	result, err := eng.Run(context.Background(), newJob(src, dir, 4))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"0-999", "1300-1999", "2000-2999", "3000-3999"}, src.Ranges())
	assert.Equal(t, int64(300), resumed)
	assert.Equal(t, int64(3700), fresh)
	got, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestResumeAfterFailedRun(t *testing.T) {
	data := testutils.GenerateTestData(t, 8000)
	server := testutils.NewRangeServer(t, data)
	server.FailStart[4000] = true
	src, err := segloadhttp.NewSource(server.URL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
	require.NoError(t, err)
	dir := t.TempDir()
	eng := New(Options{}, Hooks{})

	var failedHook *JobError
	_, err = eng.WithHooks(Hooks{OnFailed: func(e *JobError) { failedHook = e }}).Run(context.Background(), newJob(src, dir, 4))
	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, []int{2}, jobErr.FailedIndices())
	assert.Equal(t, SegmentFailure{Index: 2, Start: 4000, End: 5999, Err: jobErr.Failures[0].Err}, jobErr.Failures[0])
	var transportErr *SegmentTransportError
	assert.True(t, errors.As(err, &transportErr))
	assert.Same(t, jobErr, failedHook)
	assert.NoFileExists(t, filepath.Join(dir, "file.bin"))

	firstRun := len(server.Ranges())
	server.FailStart = map[int64]bool{}
	result, err := eng.Run(context.Background(), newJob(src, dir, 4))
	require.NoError(t, err)

	assert.Equal(t, []string{"bytes=4000-5999"}, server.Ranges()[firstRun:])
	got, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRunRangeIgnoredIsNotRetried(t *testing.T) {
	server := testutils.NewRangeServer(t, testutils.GenerateTestData(t, 1000))
	server.IgnoreRanges = true
	src, err := segloadhttp.NewSource(server.URL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
	require.NoError(t, err)

	_, err = New(Options{Retries: 3, RetryBackoff: time.Millisecond}, Hooks{}).Run(context.Background(), newJob(src, t.TempDir(), 2))
	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, []int{0, 1}, jobErr.FailedIndices())
	assert.ErrorIs(t, err, segloadhttp.ErrRangeIgnored)
	assert.Len(t, server.Ranges(), 2)
}

func TestRetryRequestsOnlyMissingSuffix(t *testing.T) {
	data := testutils.GenerateTestData(t, 4000)
	server := testutils.NewRangeServer(t, data)
	server.ShortStart[2000] = true
	src, err := segloadhttp.NewSource(server.URL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
	require.NoError(t, err)

	result, err := New(Options{Retries: 1, RetryBackoff: time.Millisecond}, Hooks{}).Run(context.Background(), newJob(src, t.TempDir(), 2))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"bytes=0-1999", "bytes=2000-3999", "bytes=3000-3999"}, server.Ranges())
	got, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestShortBodyWithoutRetriesFails(t *testing.T) {
	data := testutils.GenerateTestData(t, 4000)
	server := testutils.NewRangeServer(t, data)
	server.ShortStart[2000] = true
	src, err := segloadhttp.NewSource(server.URL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
	require.NoError(t, err)
	dir := t.TempDir()

	_, err = New(Options{}, Hooks{}).Run(context.Background(), newJob(src, dir, 2))
	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, []int{1}, jobErr.FailedIndices())

	// Bytes that did arrive stay on disk for the next run.
	size, ok, err := partstore.ExistingLength(partstore.PartPath(dir, "file.bin", segment.Segment{Index: 1, Start: 2000, End: 3999}))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1000), size)
}

func TestRunOversizedPartFailsOnlyThatSegment(t *testing.T) {
	data := testutils.GenerateTestData(t, 4000)
	src := newMemSource(data)
	dir := t.TempDir()
	segments, err := segment.Plan(4000, 4, 4000)
	require.NoError(t, err)
	writePart(t, dir, segments[1], make([]byte, 1500))

	_, err = New(Options{}, Hooks{}).Run(context.Background(), newJob(src, dir, 4))
	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, []int{1}, jobErr.FailedIndices())
	var mismatch *partstore.PartialPartMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, int64(1500), mismatch.Size)
	assert.ElementsMatch(t, []string{"0-999", "2000-2999", "3000-3999"}, src.Ranges())
}

func TestRunRefusesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.bin"), []byte("old"), 0644))
	src := newMemSource([]byte("new content"))

	_, err := New(Options{}, Hooks{}).Run(context.Background(), newJob(src, dir, 2))
	assert.ErrorIs(t, err, ErrOutputExists)
	assert.Empty(t, src.Ranges())

	result, err := New(Options{Overwrite: true}, Hooks{}).Run(context.Background(), newJob(src, dir, 2))
	require.NoError(t, err)
	got, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(got))
}

func TestRunProbeError(t *testing.T) {
	server := testutils.NewRangeServer(t, []byte("abc"))
	server.OmitLength = true
	src, err := segloadhttp.NewSource(server.URL, utils.NewHTTPClient(utils.HTTPClientConfig{}))
	require.NoError(t, err)

	_, err = New(Options{}, Hooks{}).Run(context.Background(), newJob(src, t.TempDir(), 2))
	var probeErr *ProbeError
	require.True(t, errors.As(err, &probeErr))
	assert.ErrorIs(t, err, segloadhttp.ErrNoContentLength)
}

func TestRunPlanningError(t *testing.T) {
	_, err := New(Options{}, Hooks{}).Run(context.Background(), newJob(newMemSource([]byte("abc")), t.TempDir(), 8))
	var planErr *segment.PlanningError
	assert.True(t, errors.As(err, &planErr))
}

func TestRunInvalidJob(t *testing.T) {
	eng := New(Options{}, Hooks{})
	src := newMemSource([]byte("abc"))
	for name, job := range map[string]Job{
		"no source":      {Filename: "f", Connections: 1},
		"no filename":    {Source: src, Connections: 1},
		"path filename":  {Source: src, Filename: "a/b", Connections: 1},
		"no connections": {Source: src, Filename: "f"},
		"bad limit":      {Source: src, Filename: "f", Connections: 1, Concurrency: -1},
	} {
		_, err := eng.Run(context.Background(), job)
		assert.Error(t, err, name)
	}
	assert.Empty(t, src.Ranges())
}

func TestConcurrencyLimit(t *testing.T) {
	data := testutils.GenerateTestData(t, 8000)
	src := newMemSource(data)
	src.delay = 20 * time.Millisecond
	job := newJob(src, t.TempDir(), 8)
	job.Concurrency = 2

	result, err := New(Options{}, Hooks{}).Run(context.Background(), job)
	require.NoError(t, err)
	assert.Len(t, src.Ranges(), 8)
	assert.LessOrEqual(t, src.maxActive, 2)
	assert.GreaterOrEqual(t, src.maxActive, 1)
	got, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCancellationKeepsParts(t *testing.T) {
	data := testutils.GenerateTestData(t, 4000)
	dir := t.TempDir()
	segments, err := segment.Plan(4000, 4, 4000)
	require.NoError(t, err)
	writePart(t, dir, segments[0], data[:1000])

	src := newMemSource(data)
	src.block = true
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(src.Ranges()) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	job := newJob(src, dir, 4)
	job.Concurrency = 1

	_, err = New(Options{}, Hooks{}).Run(ctx, job)
	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.ErrorIs(t, jobErr.Cause, context.Canceled)
	assert.Equal(t, []int{1, 2, 3}, jobErr.FailedIndices())
	assert.Len(t, src.Ranges(), 1)
	assert.NoFileExists(t, filepath.Join(dir, "file.bin"))
	assert.FileExists(t, partstore.PartPath(dir, "file.bin", segments[0]))
}

func TestFailFastCancelsSiblings(t *testing.T) {
	src := newMemSource(testutils.GenerateTestData(t, 4000))
	src.block = true
	boom := errors.New("connection reset")
	src.fail[0] = boom

	_, err := New(Options{FailFast: true}, Hooks{}).Run(context.Background(), newJob(src, t.TempDir(), 4))
	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, []int{0, 1, 2, 3}, jobErr.FailedIndices())
	assert.ErrorIs(t, jobErr.Failures[0].Err, boom)
	assert.ErrorIs(t, jobErr.Failures[1].Err, context.Canceled)
}

func TestFailFastReportsUnstartedAfterMismatch(t *testing.T) {
	src := newMemSource(testutils.GenerateTestData(t, 4000))
	dir := t.TempDir()
	segments, err := segment.Plan(4000, 4, 4000)
	require.NoError(t, err)
	writePart(t, dir, segments[1], make([]byte, 1500))

	_, err = New(Options{FailFast: true}, Hooks{}).Run(context.Background(), newJob(src, dir, 4))
	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, []int{0, 1, 2, 3}, jobErr.FailedIndices())
	var mismatch *partstore.PartialPartMismatchError
	assert.ErrorAs(t, jobErr.Failures[1].Err, &mismatch)
	assert.ErrorIs(t, jobErr.Failures[0].Err, context.Canceled)
	assert.ErrorIs(t, jobErr.Failures[3].Err, context.Canceled)
	assert.Empty(t, src.Ranges())
}

func TestRunPartMissingAtMerge(t *testing.T) {
	data := testutils.GenerateTestData(t, 4000)
	src := newMemSource(data)
	dir := t.TempDir()
	segments, err := segment.Plan(4000, 4, 4000)
	require.NoError(t, err)
	src.onClose = func(start int64) {
		if start == segments[3].Start {
			os.Remove(partstore.PartPath(dir, "file.bin", segments[2]))
		}
	}
	job := newJob(src, dir, 4)
	job.Concurrency = 1

	var failed *JobError
	_, err = New(Options{}, Hooks{OnFailed: func(e *JobError) { failed = e }}).Run(context.Background(), job)
	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, []int{2}, jobErr.FailedIndices())
	var missing *partstore.MissingPartError
	assert.ErrorAs(t, jobErr.Cause, &missing)
	assert.Same(t, jobErr, failed)
	assert.NoFileExists(t, filepath.Join(dir, "file.bin"))
	assert.FileExists(t, partstore.PartPath(dir, "file.bin", segments[3]))
}

func TestRunSplitOversizedIsPerJob(t *testing.T) {
	data := testutils.GenerateTestData(t, 1050)
	src := newMemSource(data)
	dir := t.TempDir()
	job := newJob(src, dir, 2)
	job.MaxSegmentSize = 500
	job.SplitOversized = true

	result, err := New(Options{}, Hooks{}).Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, result.Segments, 3)
	assert.ElementsMatch(t, []string{"0-499", "500-999", "1000-1049"}, src.Ranges())
	got, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRateLimit(t *testing.T) {
	data := testutils.GenerateTestData(t, 6000)
	start := time.Now()
	_, err := New(Options{RateLimit: 10000, BufferSize: 1000}, Hooks{}).Run(context.Background(), newJob(newMemSource(data), t.TempDir(), 2))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestSpeedSamples(t *testing.T) {
	data := testutils.GenerateTestData(t, 4000)
	src := newMemSource(data)
	src.delay = 30 * time.Millisecond
	var samples []SpeedSample
	eng := New(Options{SpeedInterval: 10 * time.Millisecond}, Hooks{OnSpeed: func(s SpeedSample) { samples = append(samples, s) }})
	_, err := eng.Run(context.Background(), newJob(src, t.TempDir(), 2))
	require.NoError(t, err)

	require.NotEmpty(t, samples)
	var windowed int64
	for _, s := range samples {
		windowed += s.Bytes
		assert.Equal(t, int64(4000), s.Total)
	}
	assert.Equal(t, int64(4000), windowed)
	assert.Equal(t, int64(4000), samples[len(samples)-1].Downloaded)
}

func TestSpeed(t *testing.T) {
	assert.Equal(t, 2048.0, Speed(4096, 2*time.Second))
	assert.Equal(t, 0.0, Speed(100, 0))
}

func TestJobErrorMessage(t *testing.T) {
	err := &JobError{
		Failures: []SegmentFailure{{Index: 2, Start: 20, End: 29, Err: errors.New("x")}},
		Cause:    context.Canceled,
	}
	assert.Equal(t, "job failed: 1 segment(s) not completed: 2 [20-29]: context canceled", err.Error())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "job failed: boom", (&JobError{Cause: errors.New("boom")}).Error())
}
