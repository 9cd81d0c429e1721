package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/leafd/internal/config"
	"github.com/dokzlo13/leafd/internal/db"
	"github.com/dokzlo13/leafd/internal/eventbus"
	"github.com/dokzlo13/leafd/internal/kv"
	"github.com/dokzlo13/leafd/internal/nanoleaf"
)

func testInfo() nanoleaf.InfoData {
	return nanoleaf.InfoData{
		Name:     "Canvas 5A3F",
		SerialNo: "S123",
		Model:    "NL29",
		State: nanoleaf.StateData{
			On:         nanoleaf.PowerState{Value: true},
			Brightness: nanoleaf.ValueWithRange{Value: 50, Max: 100},
		},
		Effects: nanoleaf.EffectsData{Select: "Forest", EffectsList: []string{"Forest", "Flames"}},
	}
}

// fakeDevice serves the device API for one token.
type fakeDevice struct {
	token string

	mu       sync.Mutex
	requests []string
	frames   []string
}

func (d *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.requests = append(d.requests, r.Method+" "+r.URL.Path)
	frames := d.frames
	d.mu.Unlock()

	if r.Method == http.MethodPost && r.URL.Path == "/api/v1/new" {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"auth_token":%q}`, d.token)
		return
	}

	prefix := "/api/v1/" + d.token + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch rest := strings.TrimPrefix(r.URL.Path, prefix); {
	case rest == "" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(testInfo())
	case rest == "" && r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	case rest == "events":
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (d *fakeDevice) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.requests...)
}

// testConfig points the config at srv with a database in a temp dir.
func testConfig(t *testing.T, srv *httptest.Server, extra string) *config.Config {
	t.Helper()
	addr := srv.Listener.Addr().(*net.TCPAddr)
	yaml := fmt.Sprintf(`
device:
  host: %s
  port: %d
stream:
  backoff: 20ms
database:
  path: %s
%s`, addr.IP.String(), addr.Port, filepath.Join(t.TempDir(), "leafd.sqlite"), extra)

	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	return cfg
}

func openDB(t *testing.T, cfg *config.Config) *db.DB {
	t.Helper()
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestDeviceService_StartUsesStoredToken(t *testing.T) {
	dev := &fakeDevice{token: "stored"}
	srv := httptest.NewServer(dev)
	defer srv.Close()

	cfg := testConfig(t, srv, "")
	database := openDB(t, cfg)
	bus := eventbus.New()
	defer bus.Close(context.Background())

	if err := kv.NewCredentials(database.DB).Save(context.Background(), cfg.Device.Host, kv.Credential{Token: "stored"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s := NewDeviceService(cfg, cfg.Device.Host, database, bus)
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Name() != "Canvas 5A3F" {
		t.Errorf("Name() = %q", s.Name())
	}
	if s.Painter != nil {
		t.Error("painter created while paint is disabled")
	}
}

func TestDeviceService_StartWithoutToken(t *testing.T) {
	srv := httptest.NewServer(&fakeDevice{token: "x"})
	defer srv.Close()

	cfg := testConfig(t, srv, "")
	s := NewDeviceService(cfg, cfg.Device.Host, openDB(t, cfg), eventbus.New())
	defer s.Close()

	if s.Name() != cfg.Device.Host {
		t.Errorf("Name() before load = %q, want host", s.Name())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Start err = %v, want ErrNoToken", err)
	}
}

func TestDeviceService_PublishesStreamEvents(t *testing.T) {
	dev := &fakeDevice{
		token: "tok",
		frames: []string{
			"id: 1\ndata: {\"events\":[{\"attr\":2,\"value\":30}]}\n\n",
			"id: 3\ndata: {\"events\":[{\"attr\":1,\"value\":\"Flames\"}]}\n\n",
		},
	}
	srv := httptest.NewServer(dev)
	defer srv.Close()

	cfg := testConfig(t, srv, "")
	cfg.Device.Token = "tok"
	bus := eventbus.New()
	defer bus.Close(context.Background())

	events := make(chan eventbus.Event, 16)
	bus.SubscribeAll(func(e eventbus.Event) { events <- e })

	s := NewDeviceService(cfg, cfg.Device.Host, openDB(t, cfg), bus)
	defer s.Close()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartBackground(ctx, func(err error) { t.Errorf("unexpected fatal error: %v", err) })

	got := map[eventbus.EventType]eventbus.Event{}
	deadline := time.After(3 * time.Second)
	for len(got) < 3 {
		select {
		case e := <-events:
			if _, seen := got[e.Type]; !seen || e.Type != eventbus.EventTypeEngine {
				got[e.Type] = e
			}
		case <-deadline:
			t.Fatalf("events = %v", got)
		}
	}

	state := got[eventbus.EventTypeState]
	if state.Data["attr"] != "brightness" || state.Data["value"] != float64(30) || state.Device != "Canvas 5A3F" {
		t.Errorf("state event = %+v", state)
	}
	if got[eventbus.EventTypeEffects].Data["effect"] != "Flames" {
		t.Errorf("effects event = %+v", got[eventbus.EventTypeEffects])
	}
	if _, ok := got[eventbus.EventTypeEngine]; !ok {
		t.Error("no engine event")
	}

	deadline = time.After(3 * time.Second)
	for !s.Ready() {
		select {
		case <-deadline:
			t.Fatalf("stream state = %v, want streaming", s.Stream.State())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDeviceService_InvalidTokenIsFatal(t *testing.T) {
	dev := &fakeDevice{token: "tok"}
	srv := httptest.NewServer(dev)
	defer srv.Close()

	cfg := testConfig(t, srv, "")
	cfg.Device.Token = "tok"
	s := NewDeviceService(cfg, cfg.Device.Host, openDB(t, cfg), eventbus.New())
	defer s.Close()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Token revoked after the initial load
	s.Client.SetToken("revoked")

	fatal := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartBackground(ctx, func(err error) { fatal <- err })

	select {
	case err := <-fatal:
		if !errors.Is(err, nanoleaf.ErrInvalidToken) {
			t.Errorf("fatal err = %v, want ErrInvalidToken", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("invalid token did not stop the service")
	}
}
