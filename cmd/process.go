package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/term"

	segloadhttp "github.com/tanq16/segload/internal/downloaders/http"
	segloads3 "github.com/tanq16/segload/internal/downloaders/s3"
	"github.com/tanq16/segload/internal/engine"
	"github.com/tanq16/segload/internal/history"
	"github.com/tanq16/segload/internal/output"
	"github.com/tanq16/segload/internal/scheduler"
	"github.com/tanq16/segload/internal/utils"
)

type s3Target struct {
	region   string
	endpoint string
}

func newJob(source engine.Source, name string) engine.Job {
	dir, err := filepath.Abs(outputDir)
	if err != nil {
		dir = outputDir
	}
	return engine.Job{
		ID:             uuid.New(),
		Source:         source,
		Dir:            dir,
		Filename:       name,
		Connections:    cfg.Connections,
		MaxSegmentSize: cfg.MaxSegmentSize,
		Concurrency:    cfg.Concurrency,
		SplitOversized: cfg.SplitOversized,
	}
}

func buildHTTPTask(client *utils.HTTPClient, rawURL, name string) (scheduler.Task, error) {
	src, err := segloadhttp.NewSource(rawURL, client)
	if err != nil {
		return scheduler.Task{}, err
	}
	if name == "" {
		name = utils.FallbackFilename(rawURL)
	}
	return scheduler.Task{Kind: "http", URL: rawURL, Job: newJob(src, name)}, nil
}

func buildS3Task(ctx context.Context, client *utils.HTTPClient, target s3Target, rawURL, name string) (scheduler.Task, error) {
	api, err := segloads3.NewClient(ctx, segloads3.ClientConfig{Region: target.region, Endpoint: target.endpoint}, client)
	if err != nil {
		return scheduler.Task{}, err
	}
	src, err := segloads3.NewSource(rawURL, api)
	if err != nil {
		return scheduler.Task{}, err
	}
	if name == "" {
		_, key, _ := segloads3.ParseURL(rawURL)
		name = utils.FallbackFilename("s3:///" + key)
	}
	return scheduler.Task{Kind: "s3", URL: rawURL, Job: newJob(src, name)}, nil
}

// runTasks drives tasks through the scheduler with a live display when stdout
// is a terminal. Ctrl-C cancels in-flight jobs and leaves their parts on disk.
func runTasks(tasks []scheduler.Task) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	live := term.IsTerminal(int(os.Stdout.Fd()))
	if live && !debug {
		logFile, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			defer logFile.Close()
			utils.SetLogOutput(logFile)
		}
	}
	log := utils.GetLogger("cmd")

	var recorder scheduler.Recorder
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.HistoryPath).Msg("Job history disabled")
	} else {
		defer store.Close()
		recorder = store
	}

	eng := engine.New(cfg.EngineOptions(), engine.Hooks{})
	return scheduler.Run(ctx, tasks, cfg.Workers, eng, output.NewManager(os.Stdout, live), recorder)
}

func exitOnError(err error, message string) {
	if err == nil {
		return
	}
	output.PrintError(fmt.Sprintf("%s: %v", message, err))
	os.Exit(1)
}
