package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanq16/segload/internal/config"
	"github.com/tanq16/segload/internal/utils"
)

var SegloadVersion = "dev"

var (
	cfg config.Config

	configPath     string
	connections    int
	maxSegmentSize string
	concurrency    int
	workers        int
	timeout        time.Duration
	kaTimeout      time.Duration
	userAgent      string
	proxyURL       string
	headers        []string
	retries        int
	limitRate      string
	failFast       bool
	splitOversized bool
	overwrite      bool
	outputDir      string
	debug          bool
)

var rootCmd = &cobra.Command{
	Use:     "segload",
	Short:   "segload is a resumable multi-connection downloader",
	Version: SegloadVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	SilenceUsage: true,
}

// loadConfig layers the config file, then SEGLOAD_* variables, then flags
// the user actually set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	c := config.Default()
	if configPath != "" {
		var err error
		if c, err = config.LoadFromFile(configPath); err != nil {
			return c, err
		}
	}
	if err := c.LoadFromEnv(); err != nil {
		return c, err
	}

	flags := cmd.Flags()
	if flags.Changed("connections") {
		c.Connections = connections
	}
	if flags.Changed("max-segment-size") {
		size, err := utils.ParseBytes(maxSegmentSize)
		if err != nil {
			return c, fmt.Errorf("invalid --max-segment-size: %w", err)
		}
		c.MaxSegmentSize = size
	}
	if flags.Changed("concurrency") {
		c.Concurrency = concurrency
	}
	if flags.Changed("workers") {
		c.Workers = workers
	}
	if flags.Changed("timeout") {
		c.Timeout = timeout
	}
	if flags.Changed("keep-alive-timeout") {
		c.KeepAliveTimeout = kaTimeout
	}
	if flags.Changed("user-agent") {
		c.UserAgent = userAgent
	}
	if flags.Changed("proxy") {
		c.Proxy = proxyURL
	}
	if flags.Changed("header") {
		c = c.Merge(config.Config{Headers: utils.ParseHeaderArgs(headers)})
	}
	if flags.Changed("retries") {
		c.Retries = retries
	}
	if flags.Changed("limit-rate") {
		rate, err := utils.ParseBytes(limitRate)
		if err != nil {
			return c, fmt.Errorf("invalid --limit-rate: %w", err)
		}
		c.RateLimit = rate
	}
	if flags.Changed("fail-fast") {
		c.FailFast = failFast
	}
	if flags.Changed("split-oversized") {
		c.SplitOversized = splitOversized
	}
	if flags.Changed("overwrite") {
		c.Overwrite = overwrite
	}
	return c, c.Validate()
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flags.IntVarP(&connections, "connections", "c", 8, "Number of segments per download (above 5 enables high-thread-mode)")
	flags.StringVar(&maxSegmentSize, "max-segment-size", "0", "Largest planned segment (eg. 64MiB); 0 means no cap")
	flags.IntVar(&concurrency, "concurrency", 0, "Segments fetched at once (defaults to --connections)")
	flags.IntVarP(&workers, "workers", "w", 1, "Number of downloads to run in parallel")
	flags.DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Per-request timeout (eg. 5s, 10m)")
	flags.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	flags.StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser agent)")
	flags.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., user:pass@proxy.example.com:8080)")
	flags.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'X-Token: abc'); can be specified multiple times")
	flags.IntVar(&retries, "retries", 0, "Retries per segment before the job fails")
	flags.StringVar(&limitRate, "limit-rate", "0", "Bandwidth cap per download (eg. 2MiB); 0 means unlimited")
	flags.BoolVar(&failFast, "fail-fast", false, "Stop the remaining segments as soon as one fails")
	flags.BoolVar(&splitOversized, "split-oversized", false, "Split a remainder segment larger than --max-segment-size")
	flags.BoolVar(&overwrite, "overwrite", false, "Replace an existing output file")
	flags.StringVarP(&outputDir, "dir", "d", ".", "Destination directory")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newS3Cmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newResumeCmd())
}
