// Package command holds the built-in command handlers. Built-ins have no
// special dispatch privilege: a plugin registering the same name replaces
// them, and that is intentional.
package command

import (
	"context"
	"encoding/json"
	"time"

	"beacon/internal/server"
	"beacon/internal/session"
)

// SessionKeyPrefix namespaces session tokens in the external store.
const SessionKeyPrefix = "sess:"

// storeTimeout bounds one round trip to the session store.
const storeTimeout = 5 * time.Second

// Register wires the built-in command set into the registrar.
func Register(r server.Registrar, store session.Store) {
	r.RegisterHandler("login", login(store))
	r.RegisterHandler("logout", logout(store))
	r.RegisterHandler("ping", server.HandlerFunc(ping))
}

// login marks the request's token valid in the session store. The reply is
// "login: ok" only if the store accepted the write.
func login(store session.Store) server.Handler {
	return server.HandlerFunc(func(c *server.Conn, payload []byte) {
		token, ok := tokenField(payload)
		if !ok {
			c.Send("login: fail\n")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		if store.Set(ctx, SessionKeyPrefix+token, "valid") {
			c.Send("login: ok\n")
		} else {
			c.Send("login: fail\n")
		}
	})
}

// logout revokes the request's token. The token stays in the store with a
// revoked status so a later login can overwrite it.
func logout(store session.Store) server.Handler {
	return server.HandlerFunc(func(c *server.Conn, payload []byte) {
		token, ok := tokenField(payload)
		if !ok {
			c.Send("logout: fail\n")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		if store.Set(ctx, SessionKeyPrefix+token, "revoked") {
			c.Send("logout: ok\n")
		} else {
			c.Send("logout: fail\n")
		}
	})
}

func ping(c *server.Conn, _ []byte) {
	c.Send("pong\n")
}

func tokenField(payload []byte) (string, bool) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Token == "" {
		return "", false
	}
	return req.Token, true
}
