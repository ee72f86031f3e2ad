package transport

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fabric-node/pkg/logging"
	"fabric-node/pkg/model"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer("tcp://127.0.0.1:0", logging.Discard())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCallRoundTrip(t *testing.T) {
	s := startServer(t)
	s.Handle(ActionRequest, func(_ context.Context, env *Envelope) (any, error) {
		return map[string]any{"url": env.Request.URL, "internal": env.Request.Internal}, nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.HasPrefix(s.Addr(), "tcp://127.0.0.1:") || strings.HasSuffix(s.Addr(), ":0") {
		t.Fatalf("unexpected bound address %q", s.Addr())
	}

	var out map[string]any
	err := DefaultCaller.Call(context.Background(), s.Addr(), &Envelope{
		Action:  ActionRequest,
		Request: &model.Request{Method: "GET", URL: "/users/1"},
	}, &out)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out["url"] != "/users/1" || out["internal"] != false {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestFailureConventionSurvivesTheWire(t *testing.T) {
	s := startServer(t)
	s.Handle(ActionRequest, func(context.Context, *Envelope) (any, error) {
		return nil, model.NotFound
	})
	s.Handle(ActionLookup, func(context.Context, *Envelope) (any, error) {
		return nil, errors.New("store offline")
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := DefaultCaller.Call(context.Background(), s.Addr(), &Envelope{Action: ActionRequest}, nil)
	if !errors.Is(err, model.NotFound) || err.Error() != "404:page not found" {
		t.Fatalf("expected 404 sentinel, got %v", err)
	}
	err = DefaultCaller.Call(context.Background(), s.Addr(), &Envelope{Action: ActionLookup}, nil)
	var f *model.Failure
	if !errors.As(err, &f) || f.Code != 500 || f.Message != "store offline" {
		t.Fatalf("expected 500 failure, got %v", err)
	}
}

func TestUnknownAction(t *testing.T) {
	s := startServer(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := DefaultCaller.Call(context.Background(), s.Addr(), &Envelope{Action: "shout"}, nil)
	var f *model.Failure
	if !errors.As(err, &f) || f.Code != 400 {
		t.Fatalf("expected 400 failure, got %v", err)
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	s := NewServer("tcp://127.0.0.1:0", logging.Discard())
	s.Handle(ActionJoin, func(context.Context, *Envelope) (any, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate handler")
		}
	}()
	s.Handle(ActionJoin, func(context.Context, *Envelope) (any, error) { return nil, nil })
}

func TestCallCancelledWhileWaiting(t *testing.T) {
	s := startServer(t)
	release := make(chan struct{})
	s.Handle(ActionRequest, func(ctx context.Context, _ *Envelope) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- DefaultCaller.Call(ctx, s.Addr(), &Envelope{Action: ActionRequest}, nil)
	}()
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartFailsOnBusyAddress(t *testing.T) {
	a := startServer(t)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	b := NewServer(a.Addr(), logging.Discard())
	if err := b.Start(context.Background()); err == nil {
		b.Close()
		t.Fatalf("expected bind failure on %s", a.Addr())
	}
}
