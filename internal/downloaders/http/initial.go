package segloadhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tanq16/segload/internal/utils"
)

var (
	ErrNoContentLength = errors.New("server didn't provide a usable Content-Length header")
	ErrRangeIgnored    = errors.New("server does not honor range requests")
)

// StatusError is an unexpected HTTP status from the origin.
type StatusError struct {
	Method     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned unexpected status code: %d", e.Method, e.StatusCode)
}

// Source reads byte ranges of one URL. The client is shared by every segment.
type Source struct {
	url    string
	client utils.HTTPDoer
}

func NewSource(rawURL string, client utils.HTTPDoer) (*Source, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}
	return &Source{url: rawURL, client: client}, nil
}

func (s *Source) String() string {
	return s.url
}

// Probe issues a HEAD request and returns the Content-Length.
func (s *Source) Probe(ctx context.Context) (int64, error) {
	log := utils.GetLogger("http-probe")
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &StatusError{Method: http.MethodHead, StatusCode: resp.StatusCode}
	}
	if resp.Header.Get("Accept-Ranges") == "none" {
		return 0, ErrRangeIgnored
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return 0, ErrNoContentLength
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoContentLength, contentLength)
	}
	log.Debug().Str("url", s.url).Int64("size", size).Str("acceptRanges", resp.Header.Get("Accept-Ranges")).Msg("Probed remote file")
	return size, nil
}
