package www

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"fabric-node/pkg/logging"
	"fabric-node/pkg/model"
)

func TestRequestConversion(t *testing.T) {
	var got *model.Request
	s := New("127.0.0.1:0", func(req *model.Request, reply model.Reply) {
		got = req
		reply(nil, map[string]any{"ok": true})
	}, logging.Discard())

	r := httptest.NewRequest(http.MethodPost, "/users/7?x=1", strings.NewReader(`{"name":"ada"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Trace", "abc")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	want := &model.Request{
		Method:  "post",
		URL:     "/users/7?x=1",
		Headers: map[string]string{"content-type": "application/json", "x-trace": "abc"},
		Body:    map[string]any{"name": "ada"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"ok":true}` {
		t.Fatalf("response = %d %q", w.Code, w.Body.String())
	}
}

func TestFailureReplies(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{model.NotFound, http.StatusNotFound},
		{model.Failuref(403, "internal only"), http.StatusForbidden},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
		{model.Failuref(200, "odd"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		s := New("127.0.0.1:0", func(_ *model.Request, reply model.Reply) {
			reply(tt.err, nil)
		}, logging.Discard())
		w := httptest.NewRecorder()
		s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != tt.code {
			t.Fatalf("%v: status = %d, want %d", tt.err, w.Code, tt.code)
		}
	}
}

func TestStartServes(t *testing.T) {
	s := New("tcp://127.0.0.1:0", func(req *model.Request, reply model.Reply) {
		reply(nil, "hi "+req.URL)
	}, logging.Discard())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	resp, err := http.Get("http://" + s.Addr() + "/ping")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hi /ping" {
		t.Fatalf("body = %q", body)
	}
}
