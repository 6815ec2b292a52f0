package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/rsteckler/cncd/internal/config"
	"github.com/rsteckler/cncd/internal/hub"
	"github.com/rsteckler/cncd/internal/logger"
	"github.com/rsteckler/cncd/internal/trigger"
	"github.com/rsteckler/cncd/internal/watch"
	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	var dc config.DaemonConfig

	root := &cobra.Command{
		Use:   "cncd",
		Short: "network-attached CNC controller session daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(dc)
		},
	}

	root.Flags().StringVar(&dc.Host, "host", "0.0.0.0", "bind address")
	root.Flags().IntVar(&dc.Port, "port", 8000, "TCP port for the socket API")
	root.Flags().StringVar(&dc.WatchDirectory, "watch-directory", "", "directory to watch for new G-code files (disabled if empty)")
	root.Flags().StringVar(&dc.ConfigPath, "config", "cncd.yaml", "path to the controller config file")
	root.Flags().StringVar(&dc.LogLevel, "log-level", "info", "debug|info|warn|error")
	root.Flags().StringVar(&dc.LogFile, "log-file", "", "additionally append logs to this file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode != 0 {
			return exitCode
		}
		return 1
	}
	return exitCode
}

// exitCode lets serve communicate a specific code (2 for bind failure) back
// through run without cobra's RunE, which only carries an error.
var exitCode int

func serve(dc config.DaemonConfig) error {
	if err := logger.Init(dc.LogLevel, dc.LogFile); err != nil {
		exitCode = 1
		return err
	}

	cfg, err := config.LoadControllerConfig(dc.ConfigPath)
	if err != nil {
		exitCode = 1
		return err
	}

	trig := trigger.New(cfg.Rules, nil, logger.Log)
	h := hub.NewSessionHub(cfg, logger.Log, trig)
	srv := hub.NewServer(h, logger.Log)

	mux := http.NewServeMux()
	srv.Routes(mux)

	var watcher *watch.Watcher
	if dc.WatchDirectory != "" {
		watcher, err = watch.New(dc.WatchDirectory, logger.Log)
		if err != nil {
			logger.Log.Error("failed to start directory watch, continuing without it", "dir", dc.WatchDirectory, "error", err)
		} else {
			events := make(chan watch.Event, 32)
			go watcher.Run(events)
			go func() {
				for ev := range events {
					logger.Log.Info("file:new", "name", ev.Name, "path", ev.Path)
				}
			}()
			defer watcher.Close()
		}
	}

	httpSrv := &http.Server{Addr: dc.Addr(), Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("cncd listening", "addr", dc.Addr())
		err := httpSrv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Log.Info("shutting down")
		exitCode = 130
		return httpSrv.Close()
	case err := <-errCh:
		if err != nil {
			exitCode = 2
			return err
		}
		exitCode = 0
		return nil
	}
}
