package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/menulens/internal/app"
	"github.com/ternarybob/menulens/internal/common"
	"github.com/ternarybob/menulens/internal/tracker"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	baseURL      = flag.String("base-url", "", "Backend base URL (overrides config)")
	logLevel     = flag.String("log-level", "", "Log level (overrides config)")
	menuFile     = flag.String("file", "", "Menu image to upload and track")
	jobID        = flag.String("job", "", "Track an existing job by id")
	reattachID   = flag.String("reattach", "", "Show the stored result of a finished job")
	listRecent   = flag.Bool("recent", false, "List recently completed jobs and exit")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("MenuLens version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence:
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides
	// 3. Validate
	// 4. Initialize logger and print banner
	if len(configFiles) == 0 {
		if _, err := os.Stat("menulens.toml"); err == nil {
			configFiles = append(configFiles, "menulens.toml")
		} else if _, err := os.Stat("deployments/local/menulens.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/menulens.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *baseURL, *logLevel)

	if err := config.Validate(); err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.InstallCrashHandler("")
	common.PrintBanner(config, logger)

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}

	code := run(application, logger)
	if err := application.Close(); err != nil {
		logger.Warn().Err(err).Msg("Shutdown finished with errors")
	}
	os.Exit(code)
}

func run(application *app.App, logger arbor.ILogger) int {
	ctx, cancel := context.WithCancel(application.Context())
	defer cancel()

	if *listRecent {
		printRecent(application.Recent.List())
		return 0
	}

	if *reattachID != "" {
		rs, err := application.Tracker.Reattach(ctx, *reattachID)
		if err != nil {
			logger.Error().Err(err).Str("job_id", *reattachID).Msg("Failed to re-attach job")
			return 1
		}
		printResult(rs)
		return 0
	}

	if err := subscribeRenderer(application.EventService); err != nil {
		logger.Error().Err(err).Msg("Failed to subscribe progress renderer")
		return 1
	}

	switch {
	case *menuFile != "":
		f, err := os.Open(*menuFile)
		if err != nil {
			logger.Error().Err(err).Str("file", *menuFile).Msg("Failed to open menu image")
			return 1
		}
		id, err := application.Tracker.Submit(ctx, filepath.Base(*menuFile), f)
		f.Close()
		if err != nil {
			logger.Error().Err(err).Str("file", *menuFile).Msg("Failed to submit menu")
			return 1
		}
		logger.Info().Str("job_id", id).Msg("Menu submitted")

	case *jobID != "":
		if err := application.Tracker.Observe(ctx, *jobID); err != nil {
			logger.Error().Err(err).Str("job_id", *jobID).Msg("Failed to observe job")
			return 1
		}

	default:
		id, found, err := application.Tracker.Resume(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to resume previous job")
			return 1
		}
		if !found {
			printRecent(application.Recent.List())
			fmt.Println("Nothing to track. Use -file to upload a menu or -job to follow an existing job.")
			return 0
		}
		logger.Info().Str("job_id", id).Msg("Resumed job")
	}

	return waitForCompletion(application.Tracker, logger)
}

func waitForCompletion(t *tracker.Tracker, logger arbor.ILogger) int {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		// The session marker survives so the next run can resume the job
		logger.Info().Msg("Interrupt signal received, job keeps running on the backend")
		return 130

	case c := <-t.Completions():
		if c.Stopped {
			// The job keeps running on the backend; the marker lets the next run resume it
			logger.Error().Err(c.Err).Str("job_id", c.JobID).Msg("Live updates stopped, credential rejected")
			if c.Result != nil {
				printResult(c.Result)
			}
			return 1
		}
		if c.Err != nil {
			logger.Warn().Err(c.Err).Str("job_id", c.JobID).Msg("Final result unavailable, showing live result")
		}
		rs := c.Result
		if rs == nil {
			_, rs = t.Snapshot()
		}
		printResult(rs)
		if !c.Success {
			logger.Error().Str("job_id", c.JobID).Msg("Job failed")
			return 1
		}
		logger.Info().Str("job_id", c.JobID).Msg("Job completed")
		return 0
	}
}
