package segloadhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tanq16/segload/internal/utils"
)

// OpenRange requests bytes [start, end] and returns the response body.
// Only a 206 whose Content-Range matches the request is accepted.
func (s *Source) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	log := utils.GetLogger("http-range")
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, end)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Range", rangeHeader)
	req.Header.Set("Connection", "keep-alive")
	log.Debug().Str("range", rangeHeader).Msg("Sending range request")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		resp.Body.Close()
		return nil, ErrRangeIgnored
	default:
		resp.Body.Close()
		return nil, &StatusError{Method: http.MethodGet, StatusCode: resp.StatusCode}
	}
	contentRange := resp.Header.Get("Content-Range")
	if contentRange == "" {
		resp.Body.Close()
		return nil, errors.New("missing Content-Range header")
	}
	gotStart, gotEnd, _, err := ParseContentRange(contentRange)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	if gotStart != start || gotEnd != end {
		resp.Body.Close()
		return nil, fmt.Errorf("server returned range %d-%d, requested %d-%d", gotStart, gotEnd, start, end)
	}
	return resp.Body, nil
}

// ParseContentRange parses "bytes start-end/total". Total is -1 when the server sends "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	span, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if size == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	return start, end, total, nil
}
