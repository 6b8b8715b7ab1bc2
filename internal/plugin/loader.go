package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"beacon/internal/metrics"
	"beacon/internal/server"
)

// LoadError reports a module that could not be loaded or initialized. It
// carries the module path and the underlying loader diagnostic.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Record is one loaded module: its path, the opaque handle, and the resolved
// factory. A Record is valid only while its module stays loaded.
type Record struct {
	Path    string
	module  LoadedModule
	factory Factory
}

// Loader loads extension modules and wires them into the server. Every
// registry entry a module creates is tagged with the module path, so the
// entries can be removed before the module is released.
type Loader struct {
	srv     *server.Server
	log     *slog.Logger
	open    Opener
	metrics *metrics.Metrics

	mu      sync.Mutex
	records []*Record
}

// Option adjusts a Loader.
type Option func(*Loader)

// WithOpener swaps the module opener; tests use this to inject fakes.
func WithOpener(open Opener) Option {
	return func(l *Loader) { l.open = open }
}

// WithMetrics records plugin loads on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

func NewLoader(srv *server.Server, log *slog.Logger, opts ...Option) *Loader {
	l := &Loader{
		srv:  srv,
		log:  log,
		open: OpenShared,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Discover lists candidate module files in dir, sorted for a stable load
// order. A missing or empty directory yields an empty list, never an error.
func (l *Loader) Discover(dir string) []string {
	if dir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.so"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

// LoadAll loads and initializes every module Discover finds, skipping the
// ones that fail, and reports how many made it in. A broken module never
// aborts startup.
func (l *Loader) LoadAll(dir string) int {
	loaded := 0
	for _, path := range l.Discover(dir) {
		if err := l.LoadPath(path); err != nil {
			l.log.Error("Plugin skipped", "path", path, "err", err)
			continue
		}
		loaded++
	}
	return loaded
}

// LoadPath loads a single module, resolves its factory, and runs its init
// hook. On an init failure the module's registrations are rolled back and
// the record dropped. Loading a path twice is a no-op.
func (l *Loader) LoadPath(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range l.records {
		if rec.Path == path {
			return nil
		}
	}

	rec, err := l.load(path)
	if err != nil {
		return err
	}

	if err := l.initialize(rec); err != nil {
		l.srv.RemoveOwner(rec.Path)
		rec.module.Close()
		return &LoadError{Path: path, Err: err}
	}

	l.records = append(l.records, rec)
	l.metrics.PluginLoaded()
	l.log.Info("Plugin loaded", "path", path)
	return nil
}

func (l *Loader) load(path string) (*Record, error) {
	module, err := l.open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	symbol, err := module.Lookup(FactorySymbol)
	if err != nil {
		module.Close()
		return nil, &LoadError{Path: path, Err: err}
	}

	factory, ok := symbol.(func() Plugin)
	if !ok {
		module.Close()
		return nil, &LoadError{
			Path: path,
			Err:  fmt.Errorf("symbol %s has type %T, want func() Plugin", FactorySymbol, symbol),
		}
	}

	return &Record{Path: path, module: module, factory: factory}, nil
}

// initialize runs the factory and the plugin's init hook. A panic inside
// either is confined to this module.
func (l *Loader) initialize(rec *Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init panic: %v", r)
		}
	}()

	p := rec.factory()
	if p == nil {
		return errors.New("factory returned nil")
	}
	return p.Init(l.srv.OwnedRegistrar(rec.Path))
}

// Loaded returns the paths of the currently loaded modules.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	paths := make([]string, len(l.records))
	for i, rec := range l.records {
		paths[i] = rec.Path
	}
	return paths
}

// UnloadAll removes every loaded module's handlers from the registry, then
// releases the modules. The caller must stop the server first so that no
// handler owned by these modules is still in flight.
func (l *Loader) UnloadAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range l.records {
		removed := l.srv.RemoveOwner(rec.Path)
		if err := rec.module.Close(); err != nil {
			l.log.Error("Plugin unload error", "path", rec.Path, "err", err)
		}
		l.log.Info("Plugin unloaded", "path", rec.Path, "handlers", removed)
	}
	l.records = nil
}
