package utils

import (
	"net/url"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
)

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

// SplitProxyAuth removes user info from a proxy URL and returns it separately.
func SplitProxyAuth(proxyURL string) (string, string, string) {
	parsed, err := url.Parse(proxyURL)
	if proxyURL == "" || err != nil || parsed.User == nil {
		return proxyURL, "", ""
	}
	username := parsed.User.Username()
	password, _ := parsed.User.Password()
	parsed.User = nil
	return parsed.String(), username, password
}

// FallbackFilename is the last path element of rawURL, or "download".
func FallbackFilename(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}

func FormatBytes(bytes uint64) string {
	return humanize.IBytes(bytes)
}

func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// ParseBytes accepts sizes such as "8MiB", "1MB" or "1048576".
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
