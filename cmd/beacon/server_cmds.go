package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"beacon/internal/command"
	"beacon/internal/config"
	"beacon/internal/logger"
	"beacon/internal/metrics"
	"beacon/internal/plugin"
	"beacon/internal/server"
	"beacon/internal/session"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the server",
	Run:   startServer,
}

// runtime is one booted instance of the process: config, logger, store,
// server, and plugins, wired together once and torn down together.
type runtime struct {
	cfg        *config.Config
	log        *slog.Logger
	store      session.Store
	srv        *server.Server
	loader     *plugin.Loader
	metricsSrv *http.Server
}

func startServer(cmd *cobra.Command, args []string) {
	restartChan := make(chan struct{}, 1)
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)

	for {
		rt, err := boot(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		watcher := startWatcher(rt, restartChan)

		serveDone := make(chan error, 1)
		go func() { serveDone <- rt.srv.Serve() }()

		select {
		case <-stopChan:
			rt.log.Info("Shutting down...")
			rt.shutdown()
			if watcher != nil {
				watcher.Close()
			}
			return

		case <-restartChan:
			rt.log.Info("Config changed, restarting...")
			rt.shutdown()
			if watcher != nil {
				watcher.Close()
			}
			<-serveDone

		case err := <-serveDone:
			if err != nil {
				rt.log.Error("Server stopped", "err", err)
			}
			rt.shutdown()
			if watcher != nil {
				watcher.Close()
			}
			return
		}
	}
}

// boot loads the config and constructs everything the server needs. A bad
// or missing config is fatal to startup.
func boot(cfgFile string) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Loggers, false)

	store, err := session.New(cfg.Session, log)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	srv := server.New(server.Options{
		Host:         cfg.Host,
		Port:         cfg.Port,
		MaxLineBytes: cfg.MaxLineBytes,
		IdleTimeout:  cfg.IdleTimeout.Std(),
		Logger:       log,
		Metrics:      m,
	})

	command.Register(srv, store)

	loader := plugin.NewLoader(srv, log, plugin.WithMetrics(m))
	if cfg.Plugins.Dir != "" {
		loaded := loader.LoadAll(cfg.Plugins.Dir)
		log.Info("Plugins loaded", "dir", cfg.Plugins.Dir, "count", loaded)
	}

	if err := srv.Listen(); err != nil {
		return nil, err
	}
	log.Info("Registered commands", "commands", srv.Handlers())

	rt := &runtime{
		cfg:    cfg,
		log:    log,
		store:  store,
		srv:    srv,
		loader: loader,
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		rt.metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := rt.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics endpoint stopped", "err", err)
			}
		}()
		log.Info("Metrics endpoint listening", "addr", cfg.Metrics.Addr)
	}

	return rt, nil
}

// shutdown drains the server before unloading plugins, so no connection can
// still reach a plugin-registered handler when the modules are released.
func (rt *runtime) shutdown() {
	if err := rt.srv.Stop(); err != nil {
		rt.log.Error("Error stopping server", "err", err)
	}
	rt.loader.UnloadAll()

	if rt.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.metricsSrv.Shutdown(ctx); err != nil {
			rt.log.Error("Error stopping metrics endpoint", "err", err)
		}
	}

	if closer, ok := rt.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			rt.log.Error("Error closing session store", "err", err)
		}
	}
}

// startWatcher watches the loaded config files for hot reload and the
// plugin directory for hot loading, on one fsnotify watcher. Returns nil
// when neither is enabled.
func startWatcher(rt *runtime, restartChan chan struct{}) *fsnotify.Watcher {
	if !rt.cfg.HotReload && !(rt.cfg.Plugins.Dir != "" && rt.cfg.Plugins.Watch) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		rt.log.Error("Failed to create watcher", "err", err)
		return nil
	}

	configFiles := make(map[string]bool)
	if rt.cfg.HotReload {
		for _, file := range rt.cfg.LoadedFiles {
			if err := watcher.Add(file); err != nil {
				rt.log.Error("Failed to watch config file", "file", file, "err", err)
			} else {
				configFiles[file] = true
				rt.log.Debug("Watching config file", "file", file)
			}
		}
	}

	if rt.cfg.Plugins.Dir != "" && rt.cfg.Plugins.Watch {
		if err := watcher.Add(rt.cfg.Plugins.Dir); err != nil {
			rt.log.Error("Failed to watch plugin dir", "dir", rt.cfg.Plugins.Dir, "err", err)
		} else {
			rt.log.Debug("Watching plugin dir", "dir", rt.cfg.Plugins.Dir)
		}
	}

	go func(w *fsnotify.Watcher) {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				if configFiles[event.Name] {
					rt.log.Info("Config file modified", "file", event.Name)
					select {
					case restartChan <- struct{}{}:
					default:
						// restart pending
					}
					continue
				}

				if filepath.Ext(event.Name) == ".so" {
					if err := rt.loader.LoadPath(event.Name); err != nil {
						rt.log.Error("Plugin skipped", "path", event.Name, "err", err)
					}
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				rt.log.Error("Watcher error", "err", err)
			}
		}
	}(watcher)

	return watcher
}
