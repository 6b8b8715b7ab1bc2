// The echo plugin registers an "echo" command that reflects the request's
// msg field back to the sender.
//
// Build it as a shared object and drop it in the configured plugin dir:
//
//	go build -buildmode=plugin -o plugins/echo.so ./plugins/echo
package main

import (
	"encoding/json"

	"beacon/internal/plugin"
	"beacon/internal/server"
)

type echoPlugin struct{}

func (echoPlugin) Init(r server.Registrar) error {
	r.RegisterHandler("echo", server.HandlerFunc(echo))
	return nil
}

func echo(c *server.Conn, payload []byte) {
	var req struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload, &req); err == nil && req.Msg != "" {
		c.Send("echo: " + req.Msg + "\n")
		return
	}
	// No msg field: reflect the whole envelope
	c.Send("echo: " + string(payload) + "\n")
}

// NewPlugin is the factory symbol the loader resolves.
func NewPlugin() plugin.Plugin { return echoPlugin{} }

func main() {}
