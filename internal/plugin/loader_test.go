package plugin_test

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"beacon/internal/plugin"
	"beacon/internal/server"
)

// fakeModule stands in for a shared object so loader behavior can be tested
// without the platform linker.
type fakeModule struct {
	symbols map[string]any
	closed  bool
}

func (m *fakeModule) Lookup(name string) (any, error) {
	s, ok := m.symbols[name]
	if !ok {
		return nil, fmt.Errorf("symbol %s not found", name)
	}
	return s, nil
}

func (m *fakeModule) Close() error {
	m.closed = true
	return nil
}

// echoTestPlugin mirrors the shipped echo plugin.
type echoTestPlugin struct{}

func (echoTestPlugin) Init(r server.Registrar) error {
	r.RegisterHandler("echo", server.HandlerFunc(func(c *server.Conn, payload []byte) {
		var req struct {
			Msg string `json:"msg"`
		}
		json.Unmarshal(payload, &req)
		c.Send("echo: " + req.Msg + "\n")
	}))
	return nil
}

type failingPlugin struct{}

func (failingPlugin) Init(server.Registrar) error { return errors.New("refusing to start") }

type panickyPlugin struct{}

func (panickyPlugin) Init(server.Registrar) error { panic("bad plugin") }

var _ = Describe("Loader", func() {
	var (
		srv     *server.Server
		modules map[string]*fakeModule
		loader  *plugin.Loader
	)

	// opener fabricates modules by file basename: echo.so carries the echo
	// plugin, fail.so an init that errors, panic.so an init that panics,
	// nosym.so a module without the factory symbol.
	opener := func(path string) (plugin.LoadedModule, error) {
		var mod *fakeModule
		switch filepath.Base(path) {
		case "echo.so":
			mod = &fakeModule{symbols: map[string]any{
				plugin.FactorySymbol: func() plugin.Plugin { return echoTestPlugin{} },
			}}
		case "fail.so":
			mod = &fakeModule{symbols: map[string]any{
				plugin.FactorySymbol: func() plugin.Plugin { return failingPlugin{} },
			}}
		case "panic.so":
			mod = &fakeModule{symbols: map[string]any{
				plugin.FactorySymbol: func() plugin.Plugin { return panickyPlugin{} },
			}}
		case "nosym.so":
			mod = &fakeModule{symbols: map[string]any{}}
		default:
			return nil, fmt.Errorf("cannot open %s", path)
		}
		modules[path] = mod
		return mod, nil
	}

	BeforeEach(func() {
		srv = server.New(server.Options{Host: "127.0.0.1", Logger: testLogger})
		modules = make(map[string]*fakeModule)
		loader = plugin.NewLoader(srv, testLogger, plugin.WithOpener(opener))
	})

	AfterEach(func() {
		srv.Stop()
	})

	Describe("Discover", func() {
		It("lists module files sorted, ignoring everything else", func() {
			dir := GinkgoT().TempDir()
			for _, name := range []string{"b.so", "a.so", "readme.txt"} {
				Expect(os.WriteFile(filepath.Join(dir, name), []byte{}, 0644)).To(Succeed())
			}

			Expect(loader.Discover(dir)).To(Equal([]string{
				filepath.Join(dir, "a.so"),
				filepath.Join(dir, "b.so"),
			}))
		})

		It("returns an empty list for a missing directory", func() {
			Expect(loader.Discover("/no/such/dir")).To(BeEmpty())
			Expect(loader.Discover("")).To(BeEmpty())
		})
	})

	Describe("LoadPath", func() {
		It("loads a module and registers its handlers", func() {
			Expect(loader.LoadPath("echo.so")).To(Succeed())
			Expect(srv.Handlers()).To(ContainElement("echo"))
			Expect(loader.Loaded()).To(Equal([]string{"echo.so"}))
		})

		It("is a no-op for an already loaded path", func() {
			Expect(loader.LoadPath("echo.so")).To(Succeed())
			Expect(loader.LoadPath("echo.so")).To(Succeed())
			Expect(loader.Loaded()).To(HaveLen(1))
		})

		It("fails with a LoadError when the factory symbol is missing", func() {
			err := loader.LoadPath("nosym.so")
			var loadErr *plugin.LoadError
			Expect(errors.As(err, &loadErr)).To(BeTrue())
			Expect(loadErr.Path).To(Equal("nosym.so"))
			Expect(modules["nosym.so"].closed).To(BeTrue())
		})

		It("rolls back and releases a module whose init fails", func() {
			Expect(loader.LoadPath("fail.so")).To(HaveOccurred())
			Expect(loader.Loaded()).To(BeEmpty())
			Expect(modules["fail.so"].closed).To(BeTrue())
		})

		It("contains an init panic to the module", func() {
			err := loader.LoadPath("panic.so")
			Expect(err).To(MatchError(ContainSubstring("init panic")))
			Expect(modules["panic.so"].closed).To(BeTrue())
		})
	})

	Describe("LoadAll", func() {
		It("skips broken modules without aborting the rest", func() {
			dir := GinkgoT().TempDir()
			for _, name := range []string{"echo.so", "fail.so", "nosym.so"} {
				Expect(os.WriteFile(filepath.Join(dir, name), []byte{}, 0644)).To(Succeed())
			}

			Expect(loader.LoadAll(dir)).To(Equal(1))
			Expect(srv.Handlers()).To(ContainElement("echo"))
		})

		It("leaves built-in handlers intact when a plugin fails", func() {
			srv.RegisterHandler("ping", server.HandlerFunc(func(c *server.Conn, _ []byte) {
				c.Send("pong\n")
			}))

			dir := GinkgoT().TempDir()
			Expect(os.WriteFile(filepath.Join(dir, "fail.so"), []byte{}, 0644)).To(Succeed())

			Expect(loader.LoadAll(dir)).To(Equal(0))
			Expect(srv.Handlers()).To(ContainElement("ping"))
		})
	})

	Describe("UnloadAll", func() {
		It("removes the module's handlers before releasing it", func() {
			Expect(loader.LoadPath("echo.so")).To(Succeed())
			Expect(srv.Handlers()).To(ContainElement("echo"))

			loader.UnloadAll()

			Expect(srv.Handlers()).NotTo(ContainElement("echo"))
			Expect(loader.Loaded()).To(BeEmpty())
			Expect(modules["echo.so"].closed).To(BeTrue())
		})
	})

	Describe("End to end", func() {
		It("serves a command registered by a loaded plugin", func() {
			Expect(loader.LoadPath("echo.so")).To(Succeed())
			Expect(srv.Listen()).To(Succeed())
			go srv.Serve()

			conn, err := net.Dial("tcp", srv.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(2 * time.Second))

			fmt.Fprintf(conn, "{\"cmd\":\"echo\",\"msg\":\"hi\"}\n")
			reply, err := bufio.NewReader(conn).ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(reply).To(Equal("echo: hi\n"))
		})
	})
})
