package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tanq16/segload/internal/segment"
)

var ErrOutputExists = errors.New("output file already exists")

// ProbeError wraps a failure to learn the size of the source.
type ProbeError struct {
	Source string
	Err    error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("error probing %s: %v", e.Source, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// SegmentTransportError is a network, status or write failure while fetching one segment.
type SegmentTransportError struct {
	Segment  segment.Segment
	Attempts int
	Err      error
}

func (e *SegmentTransportError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Segment, e.Attempts, e.Err)
}

func (e *SegmentTransportError) Unwrap() error { return e.Err }

type SegmentFailure struct {
	Index int
	Start int64
	End   int64
	Err   error
}

// JobError is the terminal failure of a job. Failures lists every segment
// that did not complete, in index order. Cause is set when the job failed for
// a reason outside any single segment, such as cancellation or a merge error.
type JobError struct {
	Failures []SegmentFailure
	Cause    error
}

func (e *JobError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("job failed: %v", e.Cause)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%d [%d-%d]", f.Index, f.Start, f.End))
	}
	msg := fmt.Sprintf("job failed: %d segment(s) not completed: %s", len(e.Failures), strings.Join(parts, ", "))
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap exposes the cause and each segment error to errors.Is and errors.As.
func (e *JobError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func (e *JobError) FailedIndices() []int {
	indices := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		indices[i] = f.Index
	}
	return indices
}
