package session_test

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"beacon/internal/config"
	"beacon/internal/session"
)

var _ = Describe("Store", func() {
	ctx := context.Background()

	Describe("MemoryStore", func() {
		var store *session.MemoryStore

		BeforeEach(func() {
			store = session.NewMemoryStore()
		})

		It("returns what was set", func() {
			Expect(store.Set(ctx, "sess:abc", "valid")).To(BeTrue())
			Expect(store.Get(ctx, "sess:abc")).To(Equal("valid"))
		})

		It("returns empty on a miss", func() {
			Expect(store.Get(ctx, "sess:ghost")).To(Equal(""))
		})

		It("overwrites an existing key", func() {
			store.Set(ctx, "sess:abc", "valid")
			store.Set(ctx, "sess:abc", "revoked")
			Expect(store.Get(ctx, "sess:abc")).To(Equal("revoked"))
		})
	})

	Describe("RedisStore", func() {
		unreachable := config.SessionConfig{
			Addr:        "127.0.0.1:1", // nothing listens here
			DialTimeout: config.Duration(100 * time.Millisecond),
		}

		It("surfaces an unreachable service as failure, not an error", func() {
			store := session.NewRedisStore(unreachable, testLogger)
			defer store.Close()

			Expect(store.Set(ctx, "sess:abc", "valid")).To(BeFalse())
			Expect(store.Get(ctx, "sess:abc")).To(Equal(""))
		})

		It("reports failures through the injected logger", func() {
			var buf bytes.Buffer
			store := session.NewRedisStore(unreachable, slog.New(slog.NewTextHandler(&buf, nil)))
			defer store.Close()

			store.Set(ctx, "sess:abc", "valid")
			Expect(buf.String()).To(ContainSubstring("Session store set failed"))
		})
	})

	Describe("New", func() {
		It("defaults to memory when no address is configured", func() {
			store, err := session.New(config.SessionConfig{}, testLogger)
			Expect(err).NotTo(HaveOccurred())
			Expect(store).To(BeAssignableToTypeOf(&session.MemoryStore{}))
		})

		It("defaults to redis when an address is configured", func() {
			store, err := session.New(config.SessionConfig{Addr: "localhost:6379"}, testLogger)
			Expect(err).NotTo(HaveOccurred())
			Expect(store).To(BeAssignableToTypeOf(&session.RedisStore{}))
		})

		It("rejects an unknown backend", func() {
			_, err := session.New(config.SessionConfig{Backend: "etcd"}, testLogger)
			Expect(err).To(HaveOccurred())
		})

		It("rejects redis without an address", func() {
			_, err := session.New(config.SessionConfig{Backend: "redis"}, testLogger)
			Expect(err).To(HaveOccurred())
		})
	})
})
