package modules_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"fabric-node/pkg/fabric/fabrictest"
	"fabric-node/pkg/logging"
	"fabric-node/pkg/model"
	"fabric-node/pkg/module"
	"fabric-node/pkg/modules"
	"fabric-node/pkg/modules/ping"
	"fabric-node/pkg/modules/relay"
	"fabric-node/pkg/modules/warehouse"
	"fabric-node/pkg/node"
)

func newNode(t *testing.T) (*node.Builder, *fabrictest.Client) {
	t.Helper()
	client := fabrictest.New()
	b, err := node.New("/srv/app",
		node.WithClient(client),
		node.WithLogger(logging.Discard()),
		node.WithGetenv(func(string) string { return "" }),
		node.WithPorts(node.NewPortAllocator(9000)),
		node.WithBuiltins(modules.Builtins()),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, client
}

func TestRegisterTwiceFails(t *testing.T) {
	b := modules.Builtins()
	if err := modules.Register(b); !errors.Is(err, module.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if diff := cmp.Diff([]string{"ping", "relay", "warehouse"}, b.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
}

func TestPing(t *testing.T) {
	b, client := newNode(t)
	inst, err := b.Compile("ping", module.ModuleConfig{ID: "health", Settings: map[string]any{"route": "/health"}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if p := inst.(*ping.Ping); p.Route != "/health" || p.ID != "health" {
		t.Fatalf("ping = %+v", p)
	}
	got, err := client.Servers()[0].Serve(&model.Request{URL: "/health"})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if s := got.(ping.Status); s.ID != "health" || s.Route != "/health" {
		t.Fatalf("status = %+v", s)
	}
}

func TestWarehouseHostsApplication(t *testing.T) {
	b, client := newNode(t)
	var appCfg module.Config
	err := b.Applications().RegisterApplication("routes/users.so", func(cfg module.Config, _ module.Supplychain) (module.Instance, error) {
		appCfg = cfg
		return model.Handler(func(req *model.Request, reply model.Reply) {
			reply(nil, "users at "+req.URL)
		}), nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := b.Compile("routes/users.so", module.ModuleConfig{
		ID:       "users",
		Wrapper:  warehouse.Name,
		Settings: map[string]any{"route": "/people", "limit": 3},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	w := inst.(*warehouse.Warehouse)
	if w.Route != "/people" || w.ID != "users" {
		t.Fatalf("warehouse = %+v", w)
	}
	if appCfg.String(module.KeyCustomModule) != "/srv/app/routes/users.so" || appCfg["limit"] != 3 {
		t.Fatalf("application config = %v", appCfg)
	}
	got, err := client.Servers()[0].Serve(&model.Request{URL: "/people/1"})
	if err != nil || got != "users at /people/1" {
		t.Fatalf("serve = %v, %v", got, err)
	}
}

func TestWarehouseRejectsNonHandler(t *testing.T) {
	b, _ := newNode(t)
	_ = b.Applications().RegisterApplication("lib/data.so", func(module.Config, module.Supplychain) (module.Instance, error) {
		return 42, nil
	})
	_, err := b.Compile("lib/data.so", module.ModuleConfig{ID: "data", Wrapper: warehouse.Name})
	if !errors.Is(err, warehouse.ErrNotHandler) || !node.IsFatal(err) {
		t.Fatalf("expected fatal ErrNotHandler, got %v", err)
	}
	if _, err := b.Compile("warehouse", module.ModuleConfig{ID: "bare"}); !errors.Is(err, warehouse.ErrNoApplication) {
		t.Fatalf("expected ErrNoApplication, got %v", err)
	}
}

func TestRelay(t *testing.T) {
	b, client := newNode(t)
	inst, err := b.Compile("relay", module.ModuleConfig{ID: "chat", Settings: map[string]any{"keep": 2}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	r := inst.(*relay.Relay)
	if r.Route != "/chat" || r.Channel != "/chat" {
		t.Fatalf("relay = %+v", r)
	}
	srv := client.Servers()[0]
	for _, msg := range []string{"a", "b", "c"} {
		if _, err := srv.Serve(&model.Request{Method: "post", URL: "/chat", Body: msg}); err != nil {
			t.Fatalf("post %s: %v", msg, err)
		}
	}
	got, err := srv.Serve(&model.Request{Method: "get", URL: "/chat"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]any{"b", "c"}, got); diff != "" {
		t.Fatalf("recent (-want +got):\n%s", diff)
	}
	if _, err := srv.Serve(&model.Request{Method: "delete", URL: "/chat"}); !errors.Is(err, model.NotFound) {
		t.Fatalf("delete = %v", err)
	}

	rd := client.FakeRadio()
	if rd.Subscribers("/chat") != 1 {
		t.Fatalf("subscribers = %d", rd.Subscribers("/chat"))
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rd.Subscribers("/chat") != 0 {
		t.Fatalf("subscription survived close")
	}
}
