package engine

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/tanq16/segload/internal/segment"
)

// Source is a remote object that can report its size and serve byte ranges.
type Source interface {
	Probe(ctx context.Context) (int64, error)
	OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error)
	String() string
}

type Job struct {
	ID       uuid.UUID
	Source   Source
	Dir      string
	Filename string

	Connections int
	// MaxSegmentSize caps the planned chunk size; 0 means no cap.
	MaxSegmentSize int64
	// Concurrency bounds in-flight segment fetches; 0 means Connections.
	Concurrency int
	// SplitOversized breaks segments above MaxSegmentSize into extra ones.
	// It changes part names, so a resumed job must reuse the original value.
	SplitOversized bool
}

type Options struct {
	FailFast      bool
	Retries       int
	RetryBackoff  time.Duration
	RateLimit     int64 // bytes per second shared by all segments, 0 = unlimited
	Overwrite     bool
	SpeedInterval time.Duration
	BufferSize    int
}

// Hooks receive job events. Each hook is optional. Hooks of one job are never
// called concurrently, and every OnProgress call happens before OnComplete or OnFailed.
type Hooks struct {
	OnStart    func(total int64, segments []segment.Segment)
	OnProgress func(Progress)
	OnSpeed    func(SpeedSample)
	OnComplete func(path string)
	OnFailed   func(*JobError)
}

type SegmentStatus struct {
	segment.Segment
	State segment.State
	// Resumed is the number of bytes found on disk before fetching began.
	Resumed int64
}

type Result struct {
	Path      string
	TotalSize int64
	Segments  []SegmentStatus
	Elapsed   time.Duration
}
