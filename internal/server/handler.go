package server

// Handler is a unit of logic bound to a command name. The payload is the
// full request envelope, one decoded JSON object per line, so a handler can
// pull whatever fields its command needs. The payload is the handler's to
// keep: it stays valid after Handle returns.
type Handler interface {
	Handle(c *Conn, payload []byte)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(c *Conn, payload []byte)

func (f HandlerFunc) Handle(c *Conn, payload []byte) { f(c, payload) }

// Registrar is the registration surface handed to built-ins and plugins.
type Registrar interface {
	// RegisterHandler inserts or replaces the handler for name.
	// The last registration wins.
	RegisterHandler(name string, h Handler)
}
