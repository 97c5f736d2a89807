package segment

import "fmt"

type State string

const (
	Pending   State = "pending"
	Fetching  State = "fetching"
	Completed State = "completed"
	Failed    State = "failed"
	Skipped   State = "skipped" // complete part found on disk at job start
)

// Segment is one contiguous, inclusive byte range of the target file.
type Segment struct {
	Index int
	Start int64
	End   int64
}

func (s Segment) Len() int64 {
	return s.End - s.Start + 1
}

func (s Segment) Complete(written int64) bool {
	return written == s.Len()
}

func (s Segment) String() string {
	return fmt.Sprintf("segment %d [%d-%d]", s.Index, s.Start, s.End)
}

// PlanningError reports planner inputs that cannot produce positive-length segments.
type PlanningError struct {
	TotalSize      int64
	Connections    int
	MaxSegmentSize int64
	Reason         string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("cannot plan %d bytes over %d connections (max segment %d): %s",
		e.TotalSize, e.Connections, e.MaxSegmentSize, e.Reason)
}

// Plan splits totalSize into numConnections segments. Chunk size is
// min(totalSize/numConnections, maxSegmentSize) and the last segment absorbs the
// remainder. The result depends only on the inputs, which is what lets a
// restarted job find the part files of an earlier run.
func Plan(totalSize int64, numConnections int, maxSegmentSize int64) ([]Segment, error) {
	fail := func(reason string) error {
		return &PlanningError{TotalSize: totalSize, Connections: numConnections, MaxSegmentSize: maxSegmentSize, Reason: reason}
	}
	switch {
	case totalSize <= 0:
		return nil, fail("total size must be positive")
	case numConnections < 1:
		return nil, fail("connection count must be at least 1")
	case maxSegmentSize < 1:
		return nil, fail("max segment size must be at least 1 byte")
	case totalSize < int64(numConnections):
		return nil, fail("fewer bytes than connections")
	}
	chunkSize := min(totalSize/int64(numConnections), maxSegmentSize)
	segments := make([]Segment, numConnections)
	for i := range numConnections {
		start := int64(i) * chunkSize
		end := start + chunkSize - 1
		if i == numConnections-1 {
			end = totalSize - 1
		}
		segments[i] = Segment{Index: i, Start: start, End: end}
	}
	return segments, nil
}

// SplitOversized breaks any segment longer than maxSegmentSize into
// maxSegmentSize pieces (the final piece takes what is left) and re-indexes the
// result. In a plan from Plan only the last segment can be oversized.
func SplitOversized(segments []Segment, maxSegmentSize int64) []Segment {
	if maxSegmentSize < 1 {
		return segments
	}
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		for start := s.Start; start <= s.End; start += maxSegmentSize {
			end := min(start+maxSegmentSize-1, s.End)
			out = append(out, Segment{Index: len(out), Start: start, End: end})
		}
	}
	return out
}
