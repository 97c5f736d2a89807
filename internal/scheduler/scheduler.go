package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tanq16/segload/internal/engine"
	"github.com/tanq16/segload/internal/history"
	"github.com/tanq16/segload/internal/output"
	"github.com/tanq16/segload/internal/utils"
)

// Task is one download handed to the scheduler.
type Task struct {
	Kind string // "http" or "s3"
	URL  string
	Job  engine.Job
}

// Recorder stores the outcome of each task. *history.Store satisfies it.
type Recorder interface {
	Record(history.Entry) error
}

// Run executes tasks with numWorkers jobs in parallel and returns an error
// if any of them failed. recorder may be nil.
func Run(ctx context.Context, tasks []Task, numWorkers int, eng *engine.Engine, outputMgr *output.Manager, recorder Recorder) error {
	log := utils.GetLogger("scheduler")
	log.Info().Int("jobs", len(tasks)).Int("workers", numWorkers).Msg("Initiating downloads")

	ids := make([]int, len(tasks))
	for i, task := range tasks {
		ids[i] = outputMgr.Register(task.Job.Filename)
	}
	outputMgr.StartDisplay()
	defer outputMgr.StopDisplay()

	type queued struct {
		id   int
		task Task
	}
	taskCh := make(chan queued, len(tasks))
	for i, task := range tasks {
		taskCh <- queued{id: ids[i], task: task}
	}
	close(taskCh)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []error
	for i := range max(1, min(numWorkers, len(tasks))) {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			logger := log.With().Int("workerID", workerID).Logger()
			for q := range taskCh {
				logger.Debug().Str("url", q.task.URL).Str("file", q.task.Job.Filename).Msg("Worker starting job")
				if err := runTask(ctx, q.id, q.task, eng, outputMgr, recorder); err != nil {
					mu.Lock()
					failed = append(failed, fmt.Errorf("%s: %w", q.task.URL, err))
					mu.Unlock()
				}
			}
		}(i + 1)
	}
	wg.Wait()

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d jobs failed: %w", len(failed), len(tasks), errors.Join(failed...))
	}
	return nil
}

func runTask(ctx context.Context, id int, task Task, eng *engine.Engine, outputMgr *output.Manager, recorder Recorder) error {
	log := utils.GetLogger("scheduler")
	outputMgr.SetMessage(id, "Probing "+task.URL)
	result, err := eng.WithHooks(outputMgr.Hooks(id)).Run(ctx, task.Job)
	entry := history.Entry{
		ID:             task.Job.ID,
		Kind:           task.Kind,
		URL:            task.URL,
		Dir:            task.Job.Dir,
		Filename:       task.Job.Filename,
		Connections:    task.Job.Connections,
		MaxSegmentSize: task.Job.MaxSegmentSize,
		SplitOversized: task.Job.SplitOversized,
		FinishedAt:     time.Now(),
	}
	if err != nil {
		entry.Status = history.StatusFailed
		entry.Error = err.Error()
		var jobErr *engine.JobError
		if errors.As(err, &jobErr) {
			entry.FailedSegments = jobErr.FailedIndices()
		}
		outputMgr.ReportError(id, err)
	} else {
		entry.Status = history.StatusCompleted
		entry.TotalSize = result.TotalSize
		outputMgr.Complete(id, output.ResultMessage(result))
	}
	if recorder != nil {
		if rerr := recorder.Record(entry); rerr != nil {
			log.Warn().Err(rerr).Str("job", entry.ID.String()).Msg("Could not record job history")
		}
	}
	return err
}
