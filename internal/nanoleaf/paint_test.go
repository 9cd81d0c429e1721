package nanoleaf

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEncodeUpdates(t *testing.T) {
	updates := []Update{
		{PanelID: 0x0102, Color: Color{R: 255, G: 128, B: 0}, TransitionTime: 1},
		{PanelID: 7, Color: Color{R: 1, G: 2, B: 3, W: 4}, TransitionTime: 0x0A0B},
	}
	got, err := EncodeUpdates(updates)
	if err != nil {
		t.Fatalf("EncodeUpdates: %v", err)
	}
	want := []byte{
		0x00, 0x02,
		0x01, 0x02, 255, 128, 0, 0, 0x00, 0x01,
		0x00, 0x07, 1, 2, 3, 4, 0x0A, 0x0B,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeUpdates() = % x, want % x", got, want)
	}

	empty, _ := EncodeUpdates(nil)
	if !bytes.Equal(empty, []byte{0, 0}) {
		t.Errorf("empty = % x", empty)
	}
}

func TestColorFromHex(t *testing.T) {
	tests := []struct {
		in      string
		want    Color
		wantErr bool
	}{
		{"#ff8000", Color{R: 255, G: 128}, false},
		{"#000000", Color{}, false},
		{"#FFFFFF", Color{R: 255, G: 255, B: 255}, false},
		{"#fff", Color{R: 255, G: 255, B: 255}, false},
		{"orange", Color{}, true},
		{"#zzzzzz", Color{}, true},
	}
	for _, tt := range tests {
		got, err := ColorFromHex(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ColorFromHex(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ColorFromHex(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestPainter_Paint(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()
	port := pc.LocalAddr().(*net.UDPAddr).Port

	p := NewPainter("127.0.0.1", port, 100)
	defer p.Close()

	updates := []Update{
		{PanelID: 10, Color: Color{R: 9}},
		{PanelID: 11, Color: Color{G: 9}, TransitionTime: 5},
	}
	if err := p.Paint(context.Background(), updates...); err != nil {
		t.Fatalf("Paint: %v", err)
	}

	pc.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	want, _ := EncodeUpdates(updates)
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("datagram = % x, want % x", buf[:n], want)
	}

	// Nothing to send is not an error
	if err := p.Paint(context.Background()); err != nil {
		t.Errorf("empty Paint: %v", err)
	}
}

func TestPainter_RespectsContext(t *testing.T) {
	p := NewPainter("127.0.0.1", 9, 0.001)
	defer p.Close()

	// First send consumes the only token
	p.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Paint(ctx, Update{PanelID: 1}); err == nil {
		t.Error("expected limiter wait to fail")
	}
}

func TestClient_EnableExternalControl(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := newTestClient(t, srv, "tok")
	if err := c.EnableExternalControl(context.Background()); err != nil {
		t.Fatalf("EnableExternalControl: %v", err)
	}
	reqs := rec.all()
	if len(reqs) != 1 || reqs[0].Path != "/api/v1/tok/effects" {
		t.Fatalf("requests = %+v", reqs)
	}
	want := `{"write":{"animType":"extControl","command":"display","extControlVersion":"v2"}}`
	if reqs[0].Body != want {
		t.Errorf("body = %s, want %s", reqs[0].Body, want)
	}
}
