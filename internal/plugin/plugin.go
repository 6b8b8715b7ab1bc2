// Package plugin discovers, loads, and unloads extension modules that
// register additional command handlers.
package plugin

import (
	"beacon/internal/server"
)

// FactorySymbol is the exported symbol every loadable module must provide:
//
//	func NewPlugin() plugin.Plugin
//
// The loader resolves it by name and calls it once per load.
const FactorySymbol = "NewPlugin"

// Plugin is the contract a loaded module satisfies. Init is called once,
// right after the factory, and is expected to register one or more handlers
// on the registrar it is given.
type Plugin interface {
	Init(r server.Registrar) error
}

// Factory produces an owned Plugin instance.
type Factory func() Plugin
