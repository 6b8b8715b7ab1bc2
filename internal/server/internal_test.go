package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// flakyListener fails the first few accepts, then reports itself closed.
type flakyListener struct {
	failures int
	calls    int
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.calls++
	if l.calls <= l.failures {
		return nil, errors.New("accept: too many open files")
	}
	return nil, net.ErrClosed
}

func (l *flakyListener) Close() error   { return nil }
func (l *flakyListener) Addr() net.Addr { return &net.TCPAddr{} }

var _ = Describe("Server internals", func() {
	Describe("startConn after Stop", func() {
		It("rejects a connection accepted concurrently with Stop", func() {
			srv := New(Options{Host: "127.0.0.1", Logger: quietLogger})
			Expect(srv.Stop()).To(Succeed())

			// Stop has already drained; a conn the accept loop was holding
			// at that moment must be closed, not served.
			peer, nc := net.Pipe()
			defer peer.Close()
			srv.startConn(nc)

			peer.SetReadDeadline(time.Now().Add(time.Second))
			_, err := peer.Read(make([]byte, 1))
			Expect(err).To(MatchError(io.EOF))

			srv.mu.Lock()
			defer srv.mu.Unlock()
			Expect(srv.conns).To(BeEmpty())
		})
	})

	Describe("accept backoff", func() {
		It("slows down on repeated accept errors and stops on a closed listener", func() {
			ln := &flakyListener{failures: 3}
			srv := New(Options{Logger: quietLogger})
			srv.mu.Lock()
			srv.ln = ln
			srv.mu.Unlock()

			start := time.Now()
			Expect(srv.Serve()).To(Succeed())

			Expect(ln.calls).To(Equal(4))
			// 5ms + 10ms + 20ms of backoff before the terminating accept
			Expect(time.Since(start)).To(BeNumerically(">=", 35*time.Millisecond))
		})
	})
})
