// MagicFolder overlay driver.
//
// Mounts a self-organizing view over a flat backing directory. Files
// written at the mount root vanish from the listing, are classified by
// the external brain process over ZeroMQ, and reappear under synthetic
// per-category directories.
//
//	magicfolder -mount /tmp/mf
//	magicfolder /tmp/mf
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/magicfolder/magicfolder/internal/config"
	"github.com/magicfolder/magicfolder/internal/fusefs"
	"github.com/magicfolder/magicfolder/internal/logging"
	"github.com/magicfolder/magicfolder/internal/metrics"
)

func main() {
	mountPoint := flag.String("mount", "", "Mount point for the virtual filesystem (required)")
	backingDir := flag.String("backing", "", "Backing store directory (default $HOME/.magicFolder/raw)")
	brainEndpoint := flag.String("brain", "", "Classifier socket endpoint")
	metricsAddr := flag.String("metrics", "", "Prometheus listen address (empty to disable)")
	debounce := flag.Duration("debounce", 0, "Batch debounce interval (default 500ms)")
	brainTimeout := flag.Duration("timeout", 0, "Classifier send/receive timeout (default 60s)")
	rescan := flag.Bool("rescan", true, "Queue existing backing-store files at startup")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Log format: json or console")
	flag.Parse()

	if *mountPoint == "" && flag.NArg() > 0 {
		*mountPoint = flag.Arg(0)
	}
	if *mountPoint == "" {
		fmt.Fprintf(os.Stderr, "Error: -mount is required\n")
		flag.Usage()
		os.Exit(2)
	}

	// The backing flag feeds the same path config.Load validates.
	if *backingDir != "" {
		os.Setenv("MF_BACKING_DIR", *backingDir)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *brainEndpoint != "" {
		cfg.BrainEndpoint = *brainEndpoint
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *debounce > 0 {
		cfg.Debounce = *debounce
	}
	if *brainTimeout > 0 {
		cfg.BrainTimeout = *brainTimeout
	}
	cfg.Rescan = cfg.Rescan && *rescan
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: logging init: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if err := os.MkdirAll(cfg.BackingDir, 0755); err != nil {
		logging.Error("cannot create backing store",
			logging.String("dir", cfg.BackingDir), logging.Err(err))
		os.Exit(1)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			logging.Info("metrics server listening", logging.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logging.Error("metrics server error", logging.Err(err))
			}
		}()
	}

	fsys := fusefs.New(fusefs.Config{
		BackingDir:    cfg.BackingDir,
		BrainEndpoint: cfg.BrainEndpoint,
		BrainTimeout:  cfg.BrainTimeout,
		Debounce:      cfg.Debounce,
		Rescan:        cfg.Rescan,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info("signal received, unmounting")
		cancel()
	}()

	if err := fsys.Mount(ctx, *mountPoint); err != nil && err != context.Canceled {
		logging.Error("mount failed", logging.Err(err))
		os.Exit(1)
	}
	logging.Info("done")
}
