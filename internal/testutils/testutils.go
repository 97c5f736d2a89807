// Package testutils provides shared test infrastructure: generated payloads and
// an HTTP server with byte-range support that records what it was asked for.
package testutils

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// GenerateTestData returns size bytes of a deterministic, non-repeating-per-segment pattern.
func GenerateTestData(t *testing.T, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*7 + i/251) % 256)
	}
	return data
}

// RangeServer serves Data over HEAD and ranged GET requests.
type RangeServer struct {
	*httptest.Server
	Data []byte

	// IgnoreRanges makes GET answer 200 with the whole body.
	IgnoreRanges bool
	// OmitLength drops Content-Length from HEAD responses.
	OmitLength bool
	// FailStart makes any GET whose range starts at one of these offsets answer 500.
	FailStart map[int64]bool
	// ShortStart makes any GET whose range starts at one of these offsets
	// declare the full length but send only half of it.
	ShortStart map[int64]bool

	mu     sync.Mutex
	ranges []string
	heads  int
}

func NewRangeServer(t *testing.T, data []byte) *RangeServer {
	t.Helper()
	s := &RangeServer{Data: data, FailStart: map[int64]bool{}, ShortStart: map[int64]bool{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *RangeServer) handle(w http.ResponseWriter, r *http.Request) {
	size := int64(len(s.Data))
	if r.Method == http.MethodHead {
		s.mu.Lock()
		s.heads++
		s.mu.Unlock()
		if !s.OmitLength {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		}
		w.Header().Set("Accept-Ranges", "bytes")
		return
	}

	rangeHeader := r.Header.Get("Range")
	s.mu.Lock()
	s.ranges = append(s.ranges, rangeHeader)
	s.mu.Unlock()

	if rangeHeader == "" || s.IgnoreRanges {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Write(s.Data)
		return
	}

	parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
	start, _ := strconv.ParseInt(parts[0], 10, 64)
	end, _ := strconv.ParseInt(parts[1], 10, 64)
	if end >= size {
		end = size - 1
	}
	if start > end {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if s.FailStart[start] {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	body := s.Data[start : end+1]
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusPartialContent)
	if s.ShortStart[start] {
		body = body[:len(body)/2]
	}
	w.Write(body)
}

// Ranges returns the Range header of every GET served so far.
func (s *RangeServer) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func (s *RangeServer) Heads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads
}
