package main

import (
	"context"
	"fmt"
	"os"

	"github.com/wellenbrecher-go/wellenbrecher"
	"github.com/wellenbrecher-go/wellenbrecher/internal/canvas"
	"github.com/wellenbrecher-go/wellenbrecher/internal/config"
	"github.com/wellenbrecher-go/wellenbrecher/internal/logging"
)

const banner = `
 __        __   _ _            _               _
 \ \      / /__| | | ___ _ __  | |__  _ __ ___  | |__   ___ _ __
  \ \ /\ / / _ \ | |/ _ \ '_ \ | '_ \| '__/ _ \ | '_ \ / _ \ '__|
   \ V  V /  __/ | |  __/ | | || |_) | | |  __/ | | | |  __/ |
    \_/\_/ \___|_|_|\___|_| |_||_.__/|_|  \___| |_| |_|\___|_|
`

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logConfig := logging.DefaultConfig()
	logConfig.Level = cfg.LogLevelValue()
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if cfg.RemoveCanvas {
		if err := canvas.Remove(cfg.CanvasFileLink); err != nil {
			logger.Error("failed to remove canvas", "path", cfg.CanvasFileLink, "err", err)
			os.Exit(1)
		}
		logger.Info("canvas removed", "path", cfg.CanvasFileLink)
		return
	}

	if !cfg.NoBanner {
		fmt.Print(banner)
	}

	logger.Info("starting server",
		"width", cfg.Width, "height", cfg.Height,
		"port", cfg.Port, "threads", cfg.Threads,
		"canvas", cfg.CanvasFileLink)

	ctx := context.Background()
	server, err := wellenbrecher.Serve(ctx, cfg, &wellenbrecher.Options{Logger: logger, PinThreads: true})
	if err != nil {
		logger.Error("failed to start server", "err", err)
		os.Exit(1)
	}

	fmt.Printf("Listening on port %d (%d lackeys, %dx%d canvas)\n", cfg.Port, cfg.Threads, cfg.Width, cfg.Height)
	if cfg.MetricsAddr != "" {
		fmt.Printf("Metrics: http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println("Press Ctrl+C to stop...")

	if err := server.Wait(); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
