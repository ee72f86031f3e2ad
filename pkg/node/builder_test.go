package node

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"fabric-node/pkg/endpoint"
	"fabric-node/pkg/fabric/fabrictest"
	"fabric-node/pkg/logging"
	"fabric-node/pkg/manifest"
	"fabric-node/pkg/model"
	"fabric-node/pkg/module"
)

type env map[string]string

func (e env) get(k string) string { return e[k] }

func newBuilder(t *testing.T, root string, e env, opts ...Option) (*Builder, *fabrictest.Client, PortAllocator) {
	t.Helper()
	client := fabrictest.New()
	ports := NewPortAllocator(endpoint.FirstNodePort)
	opts = append([]Option{
		WithClient(client),
		WithPorts(ports),
		WithLogger(logging.Discard()),
		WithGetenv(e.get),
	}, opts...)
	b, err := New(root, opts...)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, client, ports
}

func echoRoute(req *model.Request, reply model.Reply, _ func()) {
	reply(nil, req.Header(RouteHeader))
}

func TestMountTwiceSharesOneListener(t *testing.T) {
	b, client, ports := newBuilder(t, "/srv/app", nil)
	sc := b.Supplychain()

	if err := sc.MountServer("/users", "", echoRoute); err != nil {
		t.Fatalf("mount users: %v", err)
	}
	if err := sc.MountServer("/orders", "", echoRoute); err != nil {
		t.Fatalf("mount orders: %v", err)
	}

	servers := client.Servers()
	if len(servers) != 1 {
		t.Fatalf("listeners = %d, want 1", len(servers))
	}
	if got := servers[0].Address(); got != "tcp://127.0.0.1:8793" {
		t.Fatalf("address = %q", got)
	}
	if diff := cmp.Diff([]string{"/users", "/orders"}, servers[0].Bound()); diff != "" {
		t.Fatalf("bound routes (-want +got):\n%s", diff)
	}
	if next := ports.Next(); next != 8794 {
		t.Fatalf("next port = %d, want 8794", next)
	}
	if diff := cmp.Diff([]string{"/orders", "/users"}, b.Routes()); diff != "" {
		t.Fatalf("routes (-want +got):\n%s", diff)
	}
}

func TestMountMissingHandlerIsFatal(t *testing.T) {
	b, client, ports := newBuilder(t, "/srv/app", nil)
	err := b.Supplychain().MountServer("/x", "", nil)
	if !errors.Is(err, ErrMissingHandler) || !IsFatal(err) {
		t.Fatalf("expected fatal ErrMissingHandler, got %v", err)
	}
	if len(client.Servers()) != 0 || b.Address() != "" {
		t.Fatalf("listener created despite missing handler")
	}
	if next := ports.Next(); next != 8793 {
		t.Fatalf("port consumed: next = %d", next)
	}
}

func TestMountAddressSelection(t *testing.T) {
	t.Run("node port override", func(t *testing.T) {
		b, client, ports := newBuilder(t, "/srv/app", env{endpoint.EnvNodeHost: "10.0.0.5", endpoint.EnvNodePort: "9100"})
		if err := b.Supplychain().MountServer("/a", "", echoRoute); err != nil {
			t.Fatalf("mount: %v", err)
		}
		if got := client.Servers()[0].Address(); got != "tcp://10.0.0.5:9100" {
			t.Fatalf("address = %q", got)
		}
		if next := ports.Next(); next != 8793 {
			t.Fatalf("allocator used despite override: %d", next)
		}
	})
	t.Run("explicit address only counts first", func(t *testing.T) {
		b, client, _ := newBuilder(t, "/srv/app", nil)
		sc := b.Supplychain()
		if err := sc.MountServer("/a", "tcp://127.0.0.1:9200", echoRoute); err != nil {
			t.Fatalf("mount a: %v", err)
		}
		if err := sc.MountServer("/b", "tcp://127.0.0.1:9300", echoRoute); err != nil {
			t.Fatalf("mount b: %v", err)
		}
		servers := client.Servers()
		if len(servers) != 1 || servers[0].Address() != "tcp://127.0.0.1:9200" {
			t.Fatalf("servers = %d, address = %q", len(servers), servers[0].Address())
		}
		if b.Address() != "tcp://127.0.0.1:9200" {
			t.Fatalf("builder address = %q", b.Address())
		}
	})
}

func TestMountedRouteDispatch(t *testing.T) {
	b, client, _ := newBuilder(t, "/srv/app", nil)
	err := b.Supplychain().MountServer("/users", "", func(req *model.Request, reply model.Reply, notFound func()) {
		if strings.HasSuffix(req.URL, "/missing") {
			notFound()
			return
		}
		reply(nil, req.Header(RouteHeader))
	})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	srv := client.Servers()[0]

	got, err := srv.Serve(&model.Request{Method: "get", URL: "/users/7"})
	if err != nil || got != "/users" {
		t.Fatalf("dispatch = %v, %v", got, err)
	}
	if _, err := srv.Serve(&model.Request{URL: "/users/missing"}); !errors.Is(err, model.NotFound) || err.Error() != "404:page not found" {
		t.Fatalf("handler notFound = %v", err)
	}
	if _, err := srv.Serve(&model.Request{URL: "/orders"}); !errors.Is(err, model.NotFound) {
		t.Fatalf("unmatched route = %v", err)
	}
}

func TestListenFailureIsFatal(t *testing.T) {
	b, client, _ := newBuilder(t, "/srv/app", nil)
	client.ListenErr = errors.New("address in use")
	err := b.Supplychain().MountServer("/a", "", echoRoute)
	if !IsFatal(err) || !strings.Contains(err.Error(), "address in use") {
		t.Fatalf("expected fatal listen error, got %v", err)
	}
}

func TestFilepath(t *testing.T) {
	b, _, _ := newBuilder(t, "/srv/app", nil)
	sc := b.Supplychain()
	tests := map[string]string{
		"/abs/path":         "/abs/path",
		"rel/path":          "/srv/app/rel/path",
		"./a/../b":          "/srv/app/b",
		"../outside/config": "/srv/outside/config",
	}
	for in, want := range tests {
		if got := sc.Filepath(in); got != want {
			t.Fatalf("Filepath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInternalRequestsAreFlagged(t *testing.T) {
	b, client, _ := newBuilder(t, "/srv/app", nil)
	var got any
	b.Supplychain().Request(&model.Request{Method: "get", URL: "/warehouse"}, func(err error, p any) { got = p })
	received := client.Received()
	if len(received) != 1 || !received[0].Internal {
		t.Fatalf("received = %+v", received)
	}
	if got != "ok" {
		t.Fatalf("reply = %v", got)
	}
}

func TestWWWDropsInternalFlag(t *testing.T) {
	b, client, _ := newBuilder(t, "/srv/app", env{endpoint.EnvWWWPort: "0"})
	web, err := b.Supplychain().WWW()
	if err != nil {
		t.Fatalf("www: %v", err)
	}
	again, _ := b.Supplychain().WWW()
	if again != web {
		t.Fatalf("www is not a singleton")
	}
	_, port, _ := net.SplitHostPort(web.Addr())

	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:"+port+"/users", nil)
	req.Header.Set("X-Internal", "true")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}

	received := client.Received()
	if len(received) != 1 {
		t.Fatalf("received %d requests", len(received))
	}
	r := received[0]
	if r.Internal || r.Method != "get" || r.URL != "/users" || r.Header("x-internal") != "true" {
		t.Fatalf("forwarded request = %+v", r)
	}
}

func TestProxyAndRadio(t *testing.T) {
	b, client, _ := newBuilder(t, "/srv/app", nil)
	var got any
	b.Supplychain().Proxy()(&model.Request{URL: "/x"}, func(_ error, p any) { got = p })
	if got != "proxied" || len(client.Proxied()) != 1 {
		t.Fatalf("proxy reply = %v", got)
	}
	if b.Supplychain().Radio() == nil {
		t.Fatalf("radio is nil")
	}
}

func TestCompileApplication(t *testing.T) {
	b, _, _ := newBuilder(t, "/srv/app", nil)
	var seen module.Config
	err := b.Applications().RegisterApplication("routes/users.so", func(cfg module.Config, sc module.Supplychain) (module.Instance, error) {
		seen = cfg
		return "users", sc.MountServer("/users", "", echoRoute)
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := b.Compile("routes/users.so", module.ModuleConfig{ID: "users", Settings: map[string]any{"limit": 5}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if inst != "users" {
		t.Fatalf("instance = %v", inst)
	}
	want := module.Config{
		module.KeyID:           "users",
		module.KeyHQEndpoints:  endpoint.Resolve(nil),
		module.KeyCustomModule: "/srv/app/routes/users.so",
		"limit":                5,
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("config (-want +got):\n%s", diff)
	}
}

// countingRegistry fails the test if anything is loaded.
type countingRegistry struct {
	t *testing.T
}

func (r countingRegistry) Load(ref module.Reference) (module.Factory, error) {
	r.t.Fatalf("registry consulted for %s", ref.Path)
	return nil, nil
}

func TestCompileRejectsEscapeBeforeLoading(t *testing.T) {
	b, client, _ := newBuilder(t, "/srv/app", nil, WithRegistry(countingRegistry{t}))
	_, err := b.Compile("../../etc/passwd", module.ModuleConfig{})
	if !errors.Is(err, module.ErrContainment) || !IsFatal(err) {
		t.Fatalf("expected fatal containment error, got %v", err)
	}
	if len(client.Servers()) != 0 {
		t.Fatalf("listener created")
	}
}

func TestCompileNotFound(t *testing.T) {
	b, _, _ := newBuilder(t, t.TempDir(), nil)
	if _, err := b.Compile("routes/missing.so", module.ModuleConfig{}); !errors.Is(err, module.ErrModuleNotFound) || !IsFatal(err) {
		t.Fatalf("expected fatal not found, got %v", err)
	}
	if _, err := b.Compile("nosuchbuiltin", module.ModuleConfig{}); !errors.Is(err, module.ErrModuleNotFound) {
		t.Fatalf("expected not found for built-in, got %v", err)
	}
}

func TestCompileWrapped(t *testing.T) {
	builtins := module.NewBuiltins()
	var seen module.Config
	_ = builtins.Register("host", func(cfg module.Config, _ module.Supplychain) (module.Instance, error) {
		seen = cfg
		return nil, nil
	})
	b, _, _ := newBuilder(t, "/srv/app", nil, WithBuiltins(builtins))
	_, err := b.Compile("routes/users.so", module.ModuleConfig{
		ID:       "users",
		Wrapper:  "host",
		Settings: map[string]any{module.KeyWrapperModule: "host"},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if seen.String(module.KeyCustomModule) != "/srv/app/routes/users.so" {
		t.Fatalf("wrapper did not receive application path: %v", seen)
	}
	if _, ok := seen[module.KeyWrapperModule]; ok {
		t.Fatalf("wrapper key passed through: %v", seen)
	}
}

func TestFactoryFatalPassesThrough(t *testing.T) {
	builtins := module.NewBuiltins()
	_ = builtins.Register("broken", func(_ module.Config, sc module.Supplychain) (module.Instance, error) {
		return nil, sc.MountServer("/x", "", nil)
	})
	b, _, _ := newBuilder(t, "/srv/app", nil, WithBuiltins(builtins))
	_, err := b.Compile("broken", module.ModuleConfig{})
	var fe *FatalError
	if !errors.As(err, &fe) || fe.Op != "mount /x" || !errors.Is(err, ErrMissingHandler) {
		t.Fatalf("expected the mount failure, got %v", err)
	}
}

type closer struct {
	closed *[]string
	name   string
}

func (c closer) Close() error {
	*c.closed = append(*c.closed, c.name)
	return nil
}

func TestCompileManifestAndClose(t *testing.T) {
	var closed []string
	builtins := module.NewBuiltins()
	for _, name := range []string{"first", "second"} {
		name := name
		_ = builtins.Register(name, func(module.Config, module.Supplychain) (module.Instance, error) {
			return closer{closed: &closed, name: name}, nil
		})
	}
	client := fabrictest.New()
	b, err := New("/srv/app", WithClient(client), WithLogger(logging.Discard()), WithGetenv(env{}.get), WithBuiltins(builtins))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	m := &manifest.Manifest{Modules: []manifest.Entry{{ID: "a", Module: "first"}, {ID: "b", Module: "second"}}}
	if err := b.CompileManifest(m); err != nil {
		t.Fatalf("compile manifest: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if diff := cmp.Diff([]string{"second", "first"}, closed); diff != "" {
		t.Fatalf("close order (-want +got):\n%s", diff)
	}
	if !client.Closed() {
		t.Fatalf("fabric client not closed")
	}

	bad := &manifest.Manifest{Modules: []manifest.Entry{{ID: "x", Module: "missing"}, {ID: "y", Module: "first"}}}
	b2, _, _ := newBuilder(t, "/srv/app", nil, WithBuiltins(builtins))
	if err := b2.CompileManifest(bad); !errors.Is(err, module.ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestRouteHeaderKeepsMountedRoute(t *testing.T) {
	b, client, _ := newBuilder(t, "/srv/app", nil)
	if err := b.Supplychain().MountServer("users/", "", echoRoute); err != nil {
		t.Fatalf("mount: %v", err)
	}
	got, err := client.Servers()[0].Serve(&model.Request{URL: "/users/7"})
	if err != nil || got != "users/" {
		t.Fatalf("route header = %v, %v", got, err)
	}
	if diff := cmp.Diff([]string{"/users"}, b.Routes()); diff != "" {
		t.Fatalf("routes mismatch (-want +got):\n%s", diff)
	}
}

func TestBindFailureLeavesNoRoute(t *testing.T) {
	b, client, _ := newBuilder(t, "/srv/app", nil)
	if err := b.Supplychain().MountServer("/users", "", echoRoute); err != nil {
		t.Fatalf("mount: %v", err)
	}
	client.BindErr = errors.New("hq refused")

	err := b.Supplychain().MountServer("/orders", "", echoRoute)
	if !IsFatal(err) || !strings.Contains(err.Error(), "hq refused") {
		t.Fatalf("expected fatal bind error, got %v", err)
	}
	srv := client.Servers()[0]
	if _, err := srv.Serve(&model.Request{URL: "/orders/1"}); !errors.Is(err, model.NotFound) {
		t.Fatalf("failed route still dispatched: %v", err)
	}

	err = b.Supplychain().MountServer("/users", "", func(_ *model.Request, reply model.Reply, _ func()) {
		reply(nil, "replacement")
	})
	if !IsFatal(err) {
		t.Fatalf("expected fatal rebind error, got %v", err)
	}
	if got, err := srv.Serve(&model.Request{URL: "/users"}); err != nil || got != "/users" {
		t.Fatalf("earlier handler not restored: %v, %v", got, err)
	}
	if diff := cmp.Diff([]string{"/users"}, b.Routes()); diff != "" {
		t.Fatalf("routes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/users"}, srv.Bound()); diff != "" {
		t.Fatalf("bound mismatch (-want +got):\n%s", diff)
	}
}
