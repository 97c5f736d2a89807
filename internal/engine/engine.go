package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/tanq16/segload/internal/partstore"
	"github.com/tanq16/segload/internal/segment"
	"github.com/tanq16/segload/internal/utils"
)

// Engine runs segmented downloads. It holds no per-job state, so one Engine
// can run many jobs concurrently.
type Engine struct {
	opts  Options
	hooks Hooks
}

func New(opts Options, hooks Hooks) *Engine {
	if opts.BufferSize <= 0 {
		opts.BufferSize = utils.DefaultBufferSize
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Engine{opts: opts, hooks: hooks}
}

// WithHooks returns a copy of the engine that reports to hooks.
func (e *Engine) WithHooks(hooks Hooks) *Engine {
	return &Engine{opts: e.opts, hooks: hooks}
}

func validateJob(job Job) error {
	switch {
	case job.Source == nil:
		return errors.New("job has no source")
	case job.Filename == "":
		return errors.New("job has no filename")
	case job.Filename != filepath.Base(job.Filename):
		return fmt.Errorf("filename must not contain a path: %s", job.Filename)
	case job.Connections < 1:
		return fmt.Errorf("invalid connection count: %d", job.Connections)
	case job.Concurrency < 0:
		return fmt.Errorf("invalid concurrency limit: %d", job.Concurrency)
	case job.MaxSegmentSize < 0:
		return fmt.Errorf("invalid max segment size: %d", job.MaxSegmentSize)
	}
	return nil
}

// Run downloads one job: probe, plan, reconcile existing parts, fetch the
// missing ranges in parallel, and merge once every segment is complete. A
// segment failure fails the job with a *JobError; part files are kept so a
// later Run with the same job resumes where this one stopped.
func (e *Engine) Run(ctx context.Context, job Job) (*Result, error) {
	began := time.Now()
	if err := validateJob(job); err != nil {
		return nil, err
	}
	dir := job.Dir
	if dir == "" {
		dir = "."
	}
	log := utils.GetLogger("engine").With().Str("job", job.ID.String()).Str("file", job.Filename).Logger()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating destination directory: %w", err)
	}

	total, err := job.Source.Probe(ctx)
	if err != nil {
		return nil, &ProbeError{Source: job.Source.String(), Err: err}
	}
	maxSegment := job.MaxSegmentSize
	if maxSegment == 0 {
		maxSegment = total
	}
	segments, err := segment.Plan(total, job.Connections, maxSegment)
	if err != nil {
		return nil, err
	}
	if job.SplitOversized {
		segments = segment.SplitOversized(segments, maxSegment)
	}
	finalPath := filepath.Join(dir, job.Filename)
	if !e.opts.Overwrite {
		if _, err := os.Stat(finalPath); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrOutputExists, finalPath)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	log.Info().Int64("size", total).Int("segments", len(segments)).Str("source", job.Source.String()).Msg("Starting download")
	if e.hooks.OnStart != nil {
		e.hooks.OnStart(total, segments)
	}

	events := make(chan Progress, 64)
	done := make(chan int64, 1)
	go e.aggregate(total, events, done)

	statuses := make([]SegmentStatus, len(segments))
	var pending []segment.Segment
	var failures []SegmentFailure
	for i, seg := range segments {
		statuses[i] = SegmentStatus{Segment: seg, State: segment.Pending}
		written, err := partstore.Reconcile(partstore.PartPath(dir, job.Filename, seg), seg)
		if err != nil {
			log.Warn().Err(err).Int("segment", seg.Index).Msg("Existing part does not match its segment")
			statuses[i].State = segment.Failed
			failures = append(failures, SegmentFailure{Index: seg.Index, Start: seg.Start, End: seg.End, Err: err})
			continue
		}
		statuses[i].Resumed = written
		if written > 0 {
			events <- Progress{Segment: seg.Index, Bytes: written, Resumed: true}
		}
		if seg.Complete(written) {
			log.Debug().Int("segment", seg.Index).Msg("Part already complete, skipping")
			statuses[i].State = segment.Skipped
			continue
		}
		pending = append(pending, seg)
	}

	limit := job.Concurrency
	if limit == 0 {
		limit = job.Connections
	}
	f := &fetcher{
		source:   job.Source,
		dir:      dir,
		filename: job.Filename,
		buffer:   e.opts.BufferSize,
		retries:  e.opts.Retries,
		backoff:  e.opts.RetryBackoff,
		limiter:  e.newLimiter(),
		events:   events,
	}
	poolCtx, cancelPool := context.WithCancel(ctx)
	defer cancelPool()
	if len(failures) > 0 && e.opts.FailFast {
		cancelPool()
	}
	failures = append(failures, runPool(poolCtx, pending, limit, e.opts.FailFast, f.fetch)...)
	close(events)
	downloaded := <-done

	failed := make(map[int]bool, len(failures))
	for _, fl := range failures {
		failed[fl.Index] = true
	}
	for _, seg := range pending {
		if failed[seg.Index] {
			statuses[seg.Index].State = segment.Failed
		} else {
			statuses[seg.Index].State = segment.Completed
		}
	}

	if len(failures) > 0 {
		slices.SortFunc(failures, func(a, b SegmentFailure) int { return a.Index - b.Index })
		jobErr := &JobError{Failures: failures, Cause: ctx.Err()}
		log.Error().Ints("failedSegments", jobErr.FailedIndices()).Int64("downloaded", downloaded).Msg("Download failed")
		return nil, e.failed(jobErr)
	}

	path, err := partstore.Merge(dir, job.Filename, segments)
	if err != nil {
		jobErr := &JobError{Cause: err}
		var missing *partstore.MissingPartError
		var mismatch *partstore.PartialPartMismatchError
		switch {
		case errors.As(err, &missing):
			seg := segments[missing.Index]
			jobErr.Failures = []SegmentFailure{{Index: seg.Index, Start: seg.Start, End: seg.End, Err: err}}
		case errors.As(err, &mismatch):
			seg := segments[mismatch.Index]
			jobErr.Failures = []SegmentFailure{{Index: seg.Index, Start: seg.Start, End: seg.End, Err: err}}
		}
		log.Error().Err(err).Msg("Merge failed")
		return nil, e.failed(jobErr)
	}
	log.Info().Str("path", path).Int64("size", total).Dur("elapsed", time.Since(began)).Msg("Download completed")
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(path)
	}
	return &Result{Path: path, TotalSize: total, Segments: statuses, Elapsed: time.Since(began)}, nil
}

func (e *Engine) failed(jobErr *JobError) error {
	if e.hooks.OnFailed != nil {
		e.hooks.OnFailed(jobErr)
	}
	return jobErr
}

func (e *Engine) newLimiter() *rate.Limiter {
	if e.opts.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(e.opts.RateLimit), e.opts.BufferSize)
}
