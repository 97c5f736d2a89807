package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	segloadhttp "github.com/tanq16/segload/internal/downloaders/http"
	"github.com/tanq16/segload/internal/partstore"
	"github.com/tanq16/segload/internal/segment"
	"github.com/tanq16/segload/internal/utils"
)

const defaultRetryBackoff = 500 * time.Millisecond

var errShortBody = errors.New("response body ended before the segment was complete")

type fetcher struct {
	source   Source
	dir      string
	filename string
	buffer   int
	retries  int
	backoff  time.Duration
	limiter  *rate.Limiter
	events   chan<- Progress
}

// fetch brings the part of seg up to its full length. Each attempt reconciles
// the part on disk first and requests only the missing suffix.
func (f *fetcher) fetch(ctx context.Context, seg segment.Segment) error {
	log := utils.GetLogger("fetch").With().Int("segment", seg.Index).Logger()
	path := partstore.PartPath(f.dir, f.filename, seg)
	var lastErr error
	attempts := 0
	for attempt := range f.retries + 1 {
		if attempt > 0 {
			wait := time.Duration(attempt) * f.backoff
			log.Debug().Int("attempt", attempt+1).Dur("backoff", wait).Msg("Retrying segment")
			select {
			case <-ctx.Done():
				return &SegmentTransportError{Segment: seg, Attempts: attempts, Err: ctx.Err()}
			case <-time.After(wait):
			}
		}
		written, err := partstore.Reconcile(path, seg)
		if err != nil {
			return &SegmentTransportError{Segment: seg, Attempts: attempts, Err: err}
		}
		if seg.Complete(written) {
			return nil
		}
		attempts++
		lastErr = f.fetchOnce(ctx, seg, path, written)
		if lastErr == nil {
			return nil
		}
		log.Debug().Err(lastErr).Int("attempt", attempt+1).Msg("Error fetching segment")
		if ctx.Err() != nil || errors.Is(lastErr, segloadhttp.ErrRangeIgnored) {
			break
		}
	}
	return &SegmentTransportError{Segment: seg, Attempts: attempts, Err: lastErr}
}

func (f *fetcher) fetchOnce(ctx context.Context, seg segment.Segment, path string, offset int64) (err error) {
	log := utils.GetLogger("fetch").With().Int("segment", seg.Index).Logger()
	w, err := partstore.OpenWriter(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, w.Close())
	}()

	start := seg.Start + offset
	body, err := f.source.OpenRange(ctx, start, seg.End)
	if err != nil {
		return err
	}
	defer body.Close()
	if offset > 0 {
		log.Debug().Int64("resumeOffset", offset).Str("range", fmt.Sprintf("%d-%d", start, seg.End)).Msg("Resuming partial segment")
	}

	remaining := seg.End - start + 1
	buf := make([]byte, f.buffer)
	var received int64
	for received < remaining {
		n, readErr := body.Read(buf[:min(int64(len(buf)), remaining-received)])
		if n > 0 {
			if f.limiter != nil {
				if err := f.limiter.WaitN(ctx, n); err != nil {
					return err
				}
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("error writing part file: %w", err)
			}
			received += int64(n)
			f.events <- Progress{Segment: seg.Index, Bytes: int64(n)}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	if received != remaining {
		return fmt.Errorf("%w: got %d of %d bytes", errShortBody, received, remaining)
	}
	log.Debug().Int64("bytes", received).Msg("Segment fetched")
	return nil
}
