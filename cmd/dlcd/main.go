// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"dlcd/config"
	"dlcd/daemon/api"
	"dlcd/daemon/deploy"
	"dlcd/daemon/image"
	"dlcd/daemon/installer"
	"dlcd/daemon/janitor"
	"dlcd/daemon/loader"
	"dlcd/daemon/lvm"
	"dlcd/daemon/manager"
	"dlcd/daemon/metrics"
	"dlcd/daemon/models"
	"dlcd/daemon/notify"
	"dlcd/daemon/store"
	"dlcd/daemon/system"
	"dlcd/daemon/webhooks"
	"dlcd/logger"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to config file (YAML)")
	addr := flag.String("addr", "", "API server address (overrides config file)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("dlcd version %s\n", version)
		os.Exit(0)
	}

	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.FromFile(*configFile)
		if err != nil {
			pterm.Error.Printfln("Failed to load config file: %v", err)
			os.Exit(1)
		}
		cfg = cfg.MergeWithEnv()
		pterm.Info.Printfln("Loaded configuration from: %s", *configFile)
	} else {
		cfg = config.Default().MergeWithEnv()
	}

	if *addr != "" {
		cfg.APIAddr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		pterm.Error.Printfln("Invalid configuration: %v", err)
		os.Exit(1)
	}

	showBanner()

	log := logger.NewWithConfig(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	pterm.Info.Printfln("Starting dlcd daemon v%s", version)
	pterm.Info.Printfln("Active slot: %s, image backend: %s", cfg.ActiveSlot, cfg.ImageBackend)

	sys, err := system.New(cfg, log)
	if err != nil {
		pterm.Error.Printfln("Failed to resolve system state: %v", err)
		os.Exit(1)
	}

	var backend image.Backend
	switch cfg.ImageBackend {
	case "lvm":
		lvmClient, err := lvm.NewDBusClient(log)
		if err != nil {
			pterm.Error.Printfln("Failed to connect to lvmd: %v", err)
			os.Exit(1)
		}
		backend = image.NewLvmBackend(sys, lvmClient, log)
	default:
		backend = image.NewFileBackend(sys, log)
	}

	imageLoader, err := loader.NewImageLoader(cfg.MountTimeout, log)
	if err != nil {
		pterm.Error.Printfln("Failed to connect to image-loader: %v", err)
		os.Exit(1)
	}

	updater, err := installer.NewUpdateEngine(log)
	if err != nil {
		pterm.Error.Printfln("Failed to connect to updater: %v", err)
		os.Exit(1)
	}
	if err := updater.Init(); err != nil {
		pterm.Error.Printfln("Failed to initialize updater proxy: %v", err)
		os.Exit(1)
	}

	notifier := notify.New()
	attachMetricsObserver(notifier)

	var history *store.SQLiteStore
	if cfg.DatabasePath != "" {
		pterm.Info.Printfln("Opening database: %s", cfg.DatabasePath)
		history, err = store.NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			pterm.Error.Printfln("Failed to open database: %v", err)
			os.Exit(1)
		}
		notifier.Attach(notify.ObserverFunc(func(state models.DlcState) {
			if err := history.RecordStateChange(state); err != nil {
				log.Warn("failed to record state change", "error", err)
			}
		}))
		pterm.Success.Println("Database initialized")
	}

	if len(cfg.Webhooks) > 0 {
		pterm.Info.Printfln("Configuring webhooks (%d endpoints)...", len(cfg.Webhooks))
		notifier.Attach(webhooks.NewManager(cfg.Webhooks, log))
	}

	mgr := manager.New(manager.Deps{
		Cfg:       cfg,
		Sys:       sys,
		Backend:   backend,
		Loader:    imageLoader,
		Installer: updater,
		Notifier:  notifier,
		Log:       log,
	})
	if err := mgr.Initialize(); err != nil {
		pterm.Error.Printfln("Failed to initialize DLC manager: %v", err)
		os.Exit(1)
	}
	pterm.Success.Println("DLC manager initialized")

	var historyStore store.HistoryStore
	if history != nil {
		historyStore = history
	}
	server := api.NewServer(mgr, historyStore, log, cfg.APIAddr)
	notifier.Attach(server.StateObserver())

	sweeper, err := janitor.New(cfg.JanitorSchedule, mgr, log)
	if err != nil {
		pterm.Error.Printfln("Failed to schedule janitor: %v", err)
		os.Exit(1)
	}
	sweeper.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.WatchDeployDir && !cfg.OfficialBuild {
		watcher := deploy.NewWatcher(cfg.DeployedContentDir, mgr, log)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Error("deploy watcher stopped", "error", err)
			}
		}()
		pterm.Info.Printfln("Watching deploy directory: %s", cfg.DeployedContentDir)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	pterm.Success.Printfln("Daemon started successfully")
	showEndpoints(cfg.APIAddr)

	select {
	case sig := <-sigCh:
		pterm.Warning.Printfln("Received signal: %v", sig)
		pterm.Info.Println("Shutting down gracefully...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			pterm.Error.Printfln("Server shutdown error: %v", err)
		}
		sweeper.Stop()
		cancel()
		if history != nil {
			if err := history.Close(); err != nil {
				pterm.Error.Printfln("Database close error: %v", err)
			}
		}
		pterm.Success.Println("Daemon stopped gracefully")

	case err := <-errCh:
		pterm.Error.Printfln("Server error: %v", err)
		if history != nil {
			history.Close()
		}
		os.Exit(1)
	}
}

// attachMetricsObserver keeps the prometheus gauges in sync with state
// changes. It never calls back into the manager.
func attachMetricsObserver(notifier *notify.Notifier) {
	var mu sync.Mutex
	installed := make(map[string]bool)

	notifier.Attach(notify.ObserverFunc(func(state models.DlcState) {
		metrics.StateChanges.WithLabelValues(string(state.Status)).Inc()

		mu.Lock()
		if state.Status == models.StatusInstalled {
			installed[state.ID] = true
		} else {
			delete(installed, state.ID)
		}
		metrics.InstalledDlcs.Set(float64(len(installed)))
		mu.Unlock()

		if state.Status == models.StatusInstalling {
			metrics.InstallProgress.WithLabelValues(state.ID).Set(state.Progress)
		} else {
			metrics.InstallProgress.DeleteLabelValues(state.ID)
		}
	}))
}

func showBanner() {
	pterm.DefaultCenter.Println()

	teal := pterm.NewStyle(pterm.FgCyan)
	grey := pterm.NewStyle(pterm.FgLightWhite)

	bigText, _ := pterm.DefaultBigText.WithLetters(
		pterm.NewLettersFromStringWithStyle("DLC", teal),
		pterm.NewLettersFromStringWithStyle("D", grey),
	).Srender()

	pterm.DefaultCenter.Println(bigText)
	pterm.Println(pterm.DefaultCenter.Sprint(pterm.LightCyan("Downloadable Content Daemon")))
	pterm.Println()
}

func showEndpoints(addr string) {
	baseURL := fmt.Sprintf("http://%s", addr)

	endpoints := [][]string{
		{"Endpoint", "Method", "Description"},
		{baseURL + "/health", "GET", "Health check"},
		{baseURL + "/ws", "WS", "State-change stream"},
		{baseURL + "/metrics", "GET", "Prometheus metrics"},
		{baseURL + "/install", "POST", "Install a DLC"},
		{baseURL + "/uninstall", "POST", "Uninstall a DLC"},
		{baseURL + "/deploy", "POST", "Deploy a dev payload"},
		{baseURL + "/unload", "POST", "Unload DLC(s)"},
		{baseURL + "/dlcs/installed", "GET", "Installed DLCs"},
		{baseURL + "/dlcs/existing", "GET", "DLCs with content on disk"},
		{baseURL + "/dlcs/to-update", "GET", "DLCs ready for OS update"},
		{baseURL + "/dlcs/{id}/state", "GET", "One DLC's state"},
		{baseURL + "/history", "GET", "Operation history"},
	}

	pterm.DefaultSection.Println("Available API Endpoints")
	pterm.DefaultTable.
		WithHasHeader().
		WithHeaderRowSeparator("-").
		WithBoxed().
		WithData(endpoints).
		Render()
}
