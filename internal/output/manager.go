package output

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/segload/internal/engine"
	"github.com/tanq16/segload/internal/segment"
	"github.com/tanq16/segload/internal/utils"
)

type JobOutput struct {
	ID         int
	Name       string
	Status     string
	Message    string
	Total      int64
	Downloaded int64
	Speed      float64
	Segments   int
	Complete   bool
	StartTime  time.Time
	Updated    time.Time
	Error      error
}

type ErrorReport struct {
	Name  string
	Error error
	Time  time.Time
}

// Manager renders one line per job, plus a progress line for active jobs.
// When live is false nothing is redrawn and only the summary is printed.
type Manager struct {
	out         io.Writer
	live        bool
	jobs        map[int]*JobOutput
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	jobCount    int
	displayWg   sync.WaitGroup
}

func NewManager(out io.Writer, live bool) *Manager {
	return &Manager{
		out:         out,
		live:        live,
		jobs:        make(map[int]*JobOutput),
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
	}
}

func (m *Manager) Register(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobCount++
	m.jobs[m.jobCount] = &JobOutput{
		ID:        m.jobCount,
		Name:      name,
		Status:    "pending",
		StartTime: time.Now(),
		Updated:   time.Now(),
	}
	return m.jobCount
}

func (m *Manager) update(id int, fn func(*JobOutput)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, ok := m.jobs[id]; ok {
		fn(info)
		info.Updated = time.Now()
	}
}

func (m *Manager) SetMessage(id int, message string) {
	m.update(id, func(info *JobOutput) { info.Message = message })
}

func (m *Manager) Start(id int, total int64, segments int) {
	m.update(id, func(info *JobOutput) {
		info.Status = "active"
		info.Total = total
		info.Segments = segments
		info.StartTime = time.Now()
		info.Message = fmt.Sprintf("Downloading %s in %d segments", info.Name, segments)
	})
}

func (m *Manager) Progress(id int, downloaded int64, bytesPerSecond float64) {
	m.update(id, func(info *JobOutput) {
		info.Downloaded = downloaded
		info.Speed = bytesPerSecond
	})
}

func (m *Manager) Complete(id int, message string) {
	m.update(id, func(info *JobOutput) {
		if message == "" {
			message = fmt.Sprintf("Completed %s", info.Name)
		}
		info.Message = message
		info.Complete = true
		info.Status = "success"
	})
}

func (m *Manager) ReportError(id int, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, ok := m.jobs[id]; ok {
		info.Complete = true
		info.Status = "error"
		info.Error = err
		info.Message = fmt.Sprintf("Failed %s", info.Name)
		info.Updated = time.Now()
		m.errors = append(m.errors, ErrorReport{Name: info.Name, Error: err, Time: info.Updated})
	}
}

// Hooks feeds engine events for job id into the manager.
func (m *Manager) Hooks(id int) engine.Hooks {
	return engine.Hooks{
		OnStart: func(total int64, segments []segment.Segment) {
			m.Start(id, total, len(segments))
		},
		OnSpeed: func(s engine.SpeedSample) {
			m.Progress(id, s.Downloaded, s.BytesPerSecond)
		},
	}
}

// Counts returns the number of succeeded and failed jobs.
func (m *Manager) Counts() (int, int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var success, failures int
	for _, info := range m.jobs {
		switch info.Status {
		case "success":
			success++
		case "error":
			failures++
		}
	}
	return success, failures
}

func statusIndicator(status string) string {
	switch status {
	case "success":
		return successStyle.Render(StyleSymbols["pass"])
	case "error":
		return errorStyle.Render(StyleSymbols["fail"])
	case "pending":
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["arrow"])
	}
}

func styleMessage(status, message string) string {
	switch status {
	case "success":
		return successStyle.Render(message)
	case "error":
		return errorStyle.Render(message)
	default:
		return pendingStyle.Render(message)
	}
}

// render lays out at most maxLines lines: active jobs first, then pending,
// then the most recent completed ones.
func (m *Manager) render(maxLines int) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ordered := make([]*JobOutput, 0, len(m.jobs))
	for _, info := range m.jobs {
		ordered = append(ordered, info)
	}
	slices.SortFunc(ordered, func(a, b *JobOutput) int { return a.ID - b.ID })

	var active, pending, completed []*JobOutput
	for _, info := range ordered {
		switch {
		case info.Complete:
			completed = append(completed, info)
		case info.Status == "pending":
			pending = append(pending, info)
		default:
			active = append(active, info)
		}
	}

	indent := strings.Repeat(" ", 2)
	var lines []string
	for _, info := range active {
		elapsed := time.Since(info.StartTime).Round(time.Second)
		lines = append(lines,
			fmt.Sprintf("%s%s %s %s", indent, statusIndicator(info.Status), debugStyle.Render(elapsed.String()), styleMessage(info.Status, info.Message)),
			indent+strings.Repeat(" ", 4)+streamStyle.Render(progressLine(info.Downloaded, info.Total, info.Speed)),
		)
	}
	for _, info := range pending {
		message := info.Message
		if message == "" {
			message = "Waiting..."
		}
		lines = append(lines, fmt.Sprintf("%s%s %s", indent, statusIndicator(info.Status), pendingStyle.Render(message)))
	}
	room := maxLines - len(lines)
	if len(completed) > room {
		hidden := len(completed) - max(room-1, 0)
		if room > 0 {
			lines = append(lines, infoStyle.Render(fmt.Sprintf("%s%d jobs finished ...", indent, hidden)))
		}
		completed = completed[hidden:]
	}
	for _, info := range completed {
		took := info.Updated.Sub(info.StartTime).Round(time.Second)
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, statusIndicator(info.Status), debugStyle.Render(took.String()), styleMessage(info.Status, info.Message)))
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}

func (m *Manager) updateDisplay() {
	lines := m.render(terminalHeight() - 3)
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	if !m.live {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay draws the final state and prints the summary.
func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
	if !m.live {
		for _, line := range m.render(len(m.jobs) + 1) {
			fmt.Fprintln(m.out, line)
		}
	}
	m.ShowSummary()
}

func (m *Manager) ShowSummary() {
	success, failures := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	indent := strings.Repeat(" ", 2)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, indent+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.jobs))))
	if failures > 0 {
		fmt.Fprintln(m.out, indent+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.jobs))))
	}
	if len(m.errors) > 0 {
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, indent+errorStyle.Bold(true).Render("Errors:"))
		for i, report := range m.errors {
			fmt.Fprintf(m.out, "%s%s %s %s\n", indent+"  ",
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", report.Time.Format("15:04:05"))),
				errorStyle.Render(report.Name))
			fmt.Fprintf(m.out, "%s%s\n", indent+"    ", errorStyle.Render(fmt.Sprintf("Error: %v", report.Error)))
		}
	}
	fmt.Fprintln(m.out)
}

// ResultMessage describes a finished job.
func ResultMessage(result *engine.Result) string {
	var skipped int
	for _, s := range result.Segments {
		if s.State == segment.Skipped {
			skipped++
		}
	}
	msg := fmt.Sprintf("Completed %s (%s in %s)", result.Path, utils.FormatBytes(uint64(result.TotalSize)), result.Elapsed.Round(time.Millisecond))
	if skipped > 0 {
		msg += fmt.Sprintf(", %d segment(s) reused", skipped)
	}
	return msg
}
