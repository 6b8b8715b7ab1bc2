package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Fixed protocol error replies. Responses are plain text lines, not JSON.
const (
	respMalformed      = "error: malformed\n"
	respUnknownCommand = "error: unknown command\n"
)

// Conn is one accepted stream: it owns the socket and read buffer, reads one
// JSON envelope per line, and dispatches through the server's registry.
// Messages from one connection are processed strictly in arrival order.
type Conn struct {
	conn net.Conn
	srv  *Server
	log  *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
	once    sync.Once
}

func newConn(nc net.Conn, srv *Server) *Conn {
	return &Conn{
		conn: nc,
		srv:  srv,
		log:  srv.log.With("addr", nc.RemoteAddr()),
	}
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// run is the read cycle. It returns when the peer disconnects, an I/O error
// occurs, or a line exceeds the configured cap; a trailing line with no
// terminator is discarded rather than dispatched.
func (c *Conn) run() {
	defer c.Close()

	reader := bufio.NewReaderSize(c.conn, 4096)
	maxLine := c.srv.opts.MaxLineBytes
	var line []byte

	for {
		if t := c.srv.opts.IdleTimeout; t > 0 {
			c.conn.SetReadDeadline(time.Now().Add(t))
		}

		frag, err := reader.ReadSlice('\n')
		line = append(line, frag...)

		if len(line) > maxLine {
			c.log.Warn("Line exceeds limit, closing", "bytes", len(line), "limit", maxLine)
			return
		}

		if err == bufio.ErrBufferFull {
			continue // line spans buffer boundaries, keep accumulating
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.closed.Load() {
				c.log.Error("Read error", "err", err)
			}
			return
		}

		// The read buffer is reused across lines, so each dispatch gets its
		// own copy; a handler may retain the payload.
		msg := bytes.TrimRight(line, "\r\n")
		c.dispatch(append(make([]byte, 0, len(msg)), msg...))
		line = line[:0]
	}
}

// dispatch decodes one line and routes it. Protocol errors are reported to
// the peer and never close the connection; a panicking handler is confined
// to this connection.
func (c *Conn) dispatch(line []byte) {
	var env struct {
		Cmd string `json:"cmd"`
	}
	if err := json.Unmarshal(line, &env); err != nil || env.Cmd == "" {
		c.srv.opts.Metrics.ProtocolError("malformed")
		c.Send(respMalformed)
		return
	}

	handler, ok := c.srv.reg.lookup(env.Cmd)
	if !ok {
		c.srv.opts.Metrics.ProtocolError("unknown_command")
		c.Send(respUnknownCommand)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Handler panic", "cmd", env.Cmd, "panic", r)
			c.Close()
		}
	}()

	c.srv.opts.Metrics.Command(env.Cmd)
	handler.Handle(c, line)
}

// Send writes msg back to the peer. Concurrent senders are serialized, so
// two responses can never interleave partial writes; after Close it is a
// silent no-op.
func (c *Conn) Send(msg string) {
	if c.closed.Load() {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return
	}
	if _, err := c.conn.Write([]byte(msg)); err != nil {
		c.log.Error("Write error", "err", err)
		c.markClosed()
	}
}

// Close shuts down the stream. Safe to call multiple times and from any
// goroutine, including handlers.
func (c *Conn) Close() {
	c.markClosed()
}

func (c *Conn) markClosed() {
	c.once.Do(func() {
		c.closed.Store(true)
		c.conn.Close()
	})
}
