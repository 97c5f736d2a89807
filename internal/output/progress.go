package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/tanq16/segload/internal/utils"
)

func ProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"] + strings.Repeat(StyleSymbols["hline"], filled) + strings.Repeat(" ", width-filled) + StyleSymbols["bullet"]
	return fmt.Sprintf("%s %.1f%%", bar, percent*100)
}

// ETA estimates the time left at the current speed; zero when unknown.
func ETA(downloaded, total int64, bytesPerSecond float64) time.Duration {
	if bytesPerSecond <= 0 || downloaded >= total {
		return 0
	}
	return time.Duration(float64(total-downloaded) / bytesPerSecond * float64(time.Second)).Round(time.Second)
}

// progressLine renders "bar • 1.2 MiB / 4.0 MiB • 512 KiB/s • 6s left".
func progressLine(downloaded, total int64, bytesPerSecond float64) string {
	parts := []string{
		ProgressBar(downloaded, total, 30),
		fmt.Sprintf("%s / %s", utils.FormatBytes(uint64(max(downloaded, 0))), utils.FormatBytes(uint64(max(total, 0)))),
		utils.FormatSpeed(bytesPerSecond),
	}
	if eta := ETA(downloaded, total, bytesPerSecond); eta > 0 {
		parts = append(parts, eta.String()+" left")
	}
	return strings.Join(parts, " "+StyleSymbols["bullet"]+" ")
}

func terminalHeight() int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return 24
	}
	return height
}
