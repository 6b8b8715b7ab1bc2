package plugin

import (
	goplugin "plugin"
)

// LoadedModule is a dynamically linked unit behind a platform-neutral
// interface, so tests can inject fakes and so the registry manifest, not
// the linker, decides when a module's handlers become unreachable.
type LoadedModule interface {
	// Lookup resolves an exported symbol by name.
	Lookup(symbol string) (any, error)

	// Close releases the module. Handlers registered by the module must
	// already be out of the registry and drained when this is called.
	Close() error
}

// Opener opens a module file. The production opener is OpenShared.
type Opener func(path string) (LoadedModule, error)

// OpenShared loads a shared object through the Go runtime loader.
func OpenShared(path string) (LoadedModule, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	return sharedModule{p: p}, nil
}

type sharedModule struct {
	p *goplugin.Plugin
}

func (m sharedModule) Lookup(symbol string) (any, error) {
	return m.p.Lookup(symbol)
}

// Close is a no-op: the Go runtime keeps shared objects mapped for the
// process lifetime. Removing the module's registry entries is what actually
// retires it.
func (m sharedModule) Close() error { return nil }
