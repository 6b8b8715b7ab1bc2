package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"beacon/internal/config"
)

var sendAddr string

var sendCmd = &cobra.Command{
	Use:   "send [line...]",
	Short: "Send commands to a running server",
	Long: "Sends newline-framed JSON commands to a running server and prints the replies.\n" +
		"With arguments each argument is sent as one line; without arguments lines are\n" +
		"read from stdin, interactively when stdin is a terminal.",
	Run: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendAddr, "addr", "a", "", "server address (host:port); defaults to the configured host and port")
}

func runSend(cmd *cobra.Command, args []string) {
	addr := sendAddr
	if addr == "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	switch {
	case len(args) > 0:
		sendLines(conn, args)
	case isatty.IsTerminal(os.Stdin.Fd()):
		runREPL(conn)
	default:
		pipeStdin(conn)
	}
}

// sendLines writes each argument as one request line and prints one reply
// line per request.
func sendLines(conn net.Conn, lines []string) {
	reader := bufio.NewReader(conn)
	for _, line := range lines {
		if _, err := fmt.Fprintln(conn, line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		reply, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(reply)
	}
}

// pipeStdin forwards stdin lines to the server and prints everything the
// server sends back.
func pipeStdin(conn net.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(os.Stdout, conn)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fmt.Fprintln(conn, scanner.Text())
	}

	// Give in-flight replies a moment to arrive before tearing down
	conn.SetReadDeadline(time.Now().Add(time.Second))
	<-done
}

// runREPL offers an interactive prompt on a terminal.
func runREPL(conn net.Conn) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer term.Restore(fd, oldState)

	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	t := term.NewTerminal(screen, "> ")

	// Print server replies above the prompt
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fmt.Fprintln(t, scanner.Text())
		}
	}()

	for {
		line, err := t.ReadLine()
		if err != nil {
			return // EOF or ctrl-d
		}
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(conn, line); err != nil {
			fmt.Fprintln(t, "connection lost")
			return
		}
	}
}
