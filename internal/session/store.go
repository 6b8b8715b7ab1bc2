// Package session adapts the external key-value service that built-in
// handlers use to persist short-lived session tokens.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"beacon/internal/config"
)

// Store is the session key-value boundary. Failures surface as a false Set
// or an empty Get, never as an error: a handler translates them into a
// protocol-level failure reply.
type Store interface {
	Set(ctx context.Context, key, value string) bool
	Get(ctx context.Context, key string) string
}

// New picks the store backend from config: "redis" or "memory". An empty
// backend means redis when an address is configured, memory otherwise.
func New(cfg config.SessionConfig, log *slog.Logger) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		if cfg.Addr != "" {
			backend = "redis"
		} else {
			backend = "memory"
		}
	}

	switch backend {
	case "redis":
		if cfg.Addr == "" {
			return nil, fmt.Errorf("session: redis backend requires addr")
		}
		return NewRedisStore(cfg, log), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("session: unknown backend %q", backend)
	}
}

// MemoryStore keeps sessions in-process. It backs tests and single-node
// setups that do not run the external service.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

func (s *MemoryStore) Set(_ context.Context, key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return true
}

func (s *MemoryStore) Get(_ context.Context, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key]
}
