package nanoleaf

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// newTestClient points a client at srv with the given token.
func newTestClient(t *testing.T, srv *httptest.Server, token string) *Client {
	t.Helper()
	addr := srv.Listener.Addr().(*net.TCPAddr)
	c := NewClient(addr.IP.String(), token, ClientConfig{Port: addr.Port})
	t.Cleanup(func() { c.Close() })
	return c
}

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// recorder is an http.Handler that stores every request and answers with a fixed status/body.
type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.requests = append(r.requests, recordedRequest{Method: req.Method, Path: req.URL.Path, Body: string(body)})
	r.mu.Unlock()

	status := r.status
	if status == 0 {
		status = http.StatusNoContent
	}
	if r.body != "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	io.WriteString(w, r.body)
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func TestClient_GetInfo(t *testing.T) {
	payload, err := json.Marshal(testInfo())
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{status: http.StatusOK, body: string(payload)}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	st := NewState()
	if err := c.Refresh(context.Background(), st); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	reqs := rec.all()
	if len(reqs) != 1 || reqs[0].Method != http.MethodGet || reqs[0].Path != "/api/v1/tok/" {
		t.Fatalf("requests = %+v", reqs)
	}
	if st.Name() != "Canvas 5A3F" || st.Brightness().Value != 50 {
		t.Errorf("state not populated: %+v", st.Snapshot())
	}
	if name, ok := st.SelectedEffect(); !ok || name != "Flames" {
		t.Errorf("SelectedEffect() = (%q, %v)", name, ok)
	}
	if len(st.Panels()) != 2 {
		t.Errorf("panels = %d, want 2", len(st.Panels()))
	}
}

func TestClient_InvalidTokenNotRetried(t *testing.T) {
	rec := &recorder{status: http.StatusUnauthorized}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := newTestClient(t, srv, "stale")
	_, err := c.GetInfo(context.Background())
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestClient_UnexpectedStatus(t *testing.T) {
	rec := &recorder{status: http.StatusInternalServerError, body: "boom"}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	err := c.Identify(context.Background())

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError || statusErr.Path != "/identify" {
		t.Errorf("StatusError = %+v", statusErr)
	}
}

func TestClient_NoTokenDoesNoIO(t *testing.T) {
	rec := &recorder{status: http.StatusOK}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := newTestClient(t, srv, "")
	if _, err := c.GetInfo(context.Background()); !errors.Is(err, ErrNoAuthToken) {
		t.Errorf("GetInfo err = %v, want ErrNoAuthToken", err)
	}
	if err := c.TurnOn(context.Background()); !errors.Is(err, ErrNoAuthToken) {
		t.Errorf("TurnOn err = %v, want ErrNoAuthToken", err)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestClient_SetEffect(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	st := NewState()
	if err := st.Replace(testInfo()); err != nil {
		t.Fatal(err)
	}

	if err := c.SetEffect(context.Background(), st, "Disco"); !errors.Is(err, ErrInvalidEffect) {
		t.Errorf("err = %v, want ErrInvalidEffect", err)
	}
	if n := len(rec.all()); n != 0 {
		t.Fatalf("requests = %d, want 0 for invalid effect", n)
	}

	if err := c.SetEffect(context.Background(), st, "Forest"); err != nil {
		t.Fatalf("SetEffect: %v", err)
	}
	reqs := rec.all()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].Method != http.MethodPut || reqs[0].Path != "/api/v1/tok/effects" {
		t.Errorf("request = %+v", reqs[0])
	}
	if reqs[0].Body != `{"select":"Forest"}` {
		t.Errorf("body = %s", reqs[0].Body)
	}
}

func TestClient_EffectPalette(t *testing.T) {
	rec := &recorder{
		status: http.StatusOK,
		body:   `{"animName":"Flames","animType":"random","palette":[{"hue":120,"saturation":100,"brightness":80}]}`,
	}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	st := NewState()
	if err := st.Replace(testInfo()); err != nil {
		t.Fatal(err)
	}

	palette, err := c.EffectPalette(context.Background(), st, "Flames")
	if err != nil {
		t.Fatalf("EffectPalette: %v", err)
	}
	if len(palette) != 1 || palette[0].Hue != 120 {
		t.Errorf("palette = %+v", palette)
	}
	if got := st.Snapshot().Palette; len(got) != 1 {
		t.Errorf("cached palette = %+v", got)
	}
	if body := rec.all()[0].Body; body != `{"write":{"animName":"Flames","command":"request"}}` {
		t.Errorf("body = %s", body)
	}

	// Another effect's palette is returned but not cached
	if _, err := c.EffectPalette(context.Background(), st, "Forest"); err != nil {
		t.Fatalf("EffectPalette: %v", err)
	}
	st.SetEffect("Flames")
	if got := st.Snapshot().Palette; len(got) != 1 {
		t.Errorf("cached palette after other fetch = %+v", got)
	}
}

func TestClient_SetStateBody(t *testing.T) {
	three, two := 3, 2
	on := true

	tests := []struct {
		name string
		call func(c *Client) error
		want string
	}{
		{
			name: "on_is_last",
			call: func(c *Client) error {
				return c.SetState(context.Background(), StateUpdate{
					On:         &on,
					Brightness: &TopicValue{Value: 50},
					Hue:        &TopicValue{Value: 10},
				})
			},
			want: `{"brightness":{"value":50},"hue":{"value":10},"on":{"value":true}}`,
		},
		{
			name: "relative_brightness_with_transition",
			call: func(c *Client) error { return c.SetBrightness(context.Background(), -10, true, &three) },
			want: `{"brightness":{"increment":-10,"duration":3}}`,
		},
		{
			name: "turn_off_fades",
			call: func(c *Client) error { return c.TurnOff(context.Background(), &two) },
			want: `{"brightness":{"value":0,"duration":2}}`,
		},
		{
			name: "turn_off",
			call: func(c *Client) error { return c.TurnOff(context.Background(), nil) },
			want: `{"on":{"value":false}}`,
		},
		{
			name: "color_temperature",
			call: func(c *Client) error { return c.SetColorTemperature(context.Background(), 2700, false) },
			want: `{"ct":{"value":2700}}`,
		},
		{
			name: "saturation_increment",
			call: func(c *Client) error { return c.SetSaturation(context.Background(), 5, true) },
			want: `{"sat":{"increment":5}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			srv := httptest.NewServer(rec)
			defer srv.Close()

			c := newTestClient(t, srv, "tok")
			if err := tt.call(c); err != nil {
				t.Fatalf("call: %v", err)
			}
			reqs := rec.all()
			if len(reqs) != 1 {
				t.Fatalf("requests = %d, want 1", len(reqs))
			}
			if reqs[0].Path != "/api/v1/tok/state" || reqs[0].Method != http.MethodPut {
				t.Errorf("request = %+v", reqs[0])
			}
			if reqs[0].Body != tt.want {
				t.Errorf("body = %s, want %s", reqs[0].Body, tt.want)
			}
		})
	}
}

func TestClient_EmptyStateUpdateIsNoop(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	if err := c.SetState(context.Background(), StateUpdate{}); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("requests = %d, want 0", n)
	}
}

func TestClient_Authorize(t *testing.T) {
	t.Run("forbidden", func(t *testing.T) {
		rec := &recorder{status: http.StatusForbidden}
		srv := httptest.NewServer(rec)
		defer srv.Close()

		c := newTestClient(t, srv, "")
		if _, err := c.Authorize(context.Background()); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
		if _, err := c.Token(); !errors.Is(err, ErrNoAuthToken) {
			t.Errorf("token should stay unset, err = %v", err)
		}
	})

	t.Run("success", func(t *testing.T) {
		rec := &recorder{status: http.StatusOK, body: `{"auth_token":"fresh"}`}
		srv := httptest.NewServer(rec)
		defer srv.Close()

		c := newTestClient(t, srv, "")
		token, err := c.Authorize(context.Background())
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		if token != "fresh" {
			t.Errorf("token = %q, want fresh", token)
		}
		if got, _ := c.Token(); got != "fresh" {
			t.Errorf("client token = %q", got)
		}
		reqs := rec.all()
		if len(reqs) != 1 || reqs[0].Method != http.MethodPost || reqs[0].Path != "/api/v1/new" {
			t.Errorf("requests = %+v", reqs)
		}
	})
}

func TestClient_Deauthorize(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	if err := c.Deauthorize(context.Background()); err != nil {
		t.Fatalf("Deauthorize: %v", err)
	}
	if _, err := c.Token(); !errors.Is(err, ErrNoAuthToken) {
		t.Errorf("token should be cleared, err = %v", err)
	}
	if reqs := rec.all(); len(reqs) != 1 || reqs[0].Method != http.MethodDelete {
		t.Errorf("requests = %+v", reqs)
	}
}

// dropFirst closes the connection without answering the first n requests.
func dropFirst(n int32, next http.Handler) (http.Handler, *atomic.Int32) {
	var seen atomic.Int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen.Add(1) <= n {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		next.ServeHTTP(w, r)
	}), &seen
}

func TestClient_ImmediateRetryOnDisconnect(t *testing.T) {
	rec := &recorder{}
	handler, seen := dropFirst(1, rec)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	if err := c.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}
	if got := seen.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if n := len(rec.all()); n != 1 {
		t.Errorf("answered requests = %d, want 1", n)
	}
}

func TestClient_RetryBudgetExhausted(t *testing.T) {
	rec := &recorder{}
	handler, seen := dropFirst(10, rec)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	err := c.TurnOn(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if got := seen.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2 (one immediate retry)", got)
	}
}
