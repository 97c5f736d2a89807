package engine

import (
	"time"
)

// Progress is one successful append to a part file. Resumed events report
// bytes that were already on disk when the job started.
type Progress struct {
	Segment int
	Bytes   int64
	Resumed bool
}

type SpeedSample struct {
	Bytes          int64 // bytes fetched during the window
	Window         time.Duration
	BytesPerSecond float64
	Downloaded     int64 // job total so far, resumed bytes included
	Total          int64
}

// Speed converts bytes observed over window into bytes per second.
func Speed(bytes int64, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	return float64(bytes) / window.Seconds()
}

// aggregate drains events until the channel is closed, forwarding each to
// OnProgress and emitting a speed sample every interval. Resumed bytes count
// toward Downloaded but not toward the window.
func (e *Engine) aggregate(total int64, events <-chan Progress, done chan<- int64) {
	interval := e.opts.SpeedInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var downloaded, windowBytes int64
	windowStart := time.Now()
	sample := func(now time.Time) {
		if e.hooks.OnSpeed == nil {
			return
		}
		window := now.Sub(windowStart)
		e.hooks.OnSpeed(SpeedSample{
			Bytes:          windowBytes,
			Window:         window,
			BytesPerSecond: Speed(windowBytes, window),
			Downloaded:     downloaded,
			Total:          total,
		})
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				sample(time.Now())
				done <- downloaded
				return
			}
			downloaded += ev.Bytes
			if !ev.Resumed {
				windowBytes += ev.Bytes
			}
			if e.hooks.OnProgress != nil {
				e.hooks.OnProgress(ev)
			}
		case now := <-ticker.C:
			sample(now)
			windowBytes = 0
			windowStart = now
		}
	}
}
