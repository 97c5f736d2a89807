package engine

import (
	"context"
	"sync"

	"github.com/tanq16/segload/internal/segment"
)

// runPool fetches segments with at most limit in flight and returns the
// failures. Segments still queued when ctx ends are reported with ctx.Err()
// and never started. With failFast the first failure cancels the rest.
func runPool(ctx context.Context, segments []segment.Segment, limit int, failFast bool, fetch func(context.Context, segment.Segment) error) []SegmentFailure {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan segment.Segment, len(segments))
	for _, seg := range segments {
		queue <- seg
	}
	close(queue)

	var mu sync.Mutex
	var failures []SegmentFailure
	fail := func(seg segment.Segment, err error) {
		mu.Lock()
		failures = append(failures, SegmentFailure{Index: seg.Index, Start: seg.Start, End: seg.End, Err: err})
		mu.Unlock()
		if failFast {
			cancel()
		}
	}

	var wg sync.WaitGroup
	for range min(limit, len(segments)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range queue {
				if err := ctx.Err(); err != nil {
					fail(seg, err)
					continue
				}
				if err := fetch(ctx, seg); err != nil {
					fail(seg, err)
				}
			}
		}()
	}
	wg.Wait()
	return failures
}
