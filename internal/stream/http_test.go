package stream

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStreamingWAVHeader(t *testing.T) {
	hdr := streamingWAVHeader(48000, 2)
	if len(hdr) != 44 {
		t.Fatalf("header len = %d, want 44", len(hdr))
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" || string(hdr[36:40]) != "data" {
		t.Errorf("bad chunk ids: %q", hdr)
	}
	if got := binary.LittleEndian.Uint16(hdr[22:]); got != 2 {
		t.Errorf("channels = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint32(hdr[24:]); got != 48000 {
		t.Errorf("rate = %d, want 48000", got)
	}
	if got := binary.LittleEndian.Uint32(hdr[28:]); got != 192000 {
		t.Errorf("byte rate = %d, want 192000", got)
	}
	if got := binary.LittleEndian.Uint32(hdr[40:]); got != 0xFFFFFFFF {
		t.Errorf("data size = %#x, want unknown", got)
	}
}

func TestHTTPStreamsFrames(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []int16, 10)
	go b.Run(ctx, source)

	srv := httptest.NewServer(NewHTTPHandler(b, 8000, 1))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}

	hdr := make([]byte, 44)
	if _, err := io.ReadFull(resp.Body, hdr); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if !bytes.Equal(hdr, streamingWAVHeader(8000, 1)) {
		t.Errorf("header mismatch")
	}

	// The listener is subscribed before the header is written.
	source <- []int16{1, -2}
	pcm := make([]byte, 4)
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(resp.Body, pcm)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("read pcm: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pcm")
	}
	if int16(binary.LittleEndian.Uint16(pcm)) != 1 || int16(binary.LittleEndian.Uint16(pcm[2:])) != -2 {
		t.Errorf("pcm = %v", pcm)
	}
}

func TestWebRTCRejectsBadRequests(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster(), 48000, 2, 128000)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/offer", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad offer = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/offer", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS = %d, want 200", rec.Code)
	}
}

func TestWebRTCNeedsOpusRate(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster(), 44100, 2, 128000)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("{}")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("44.1 kHz offer = %d, want 503", rec.Code)
	}
	if h.PeerCount() != 0 {
		t.Errorf("PeerCount = %d", h.PeerCount())
	}
}

func TestWebRTCSupportedFormats(t *testing.T) {
	tests := []struct {
		rate, channels int
		ok             bool
	}{
		{48000, 2, true},
		{16000, 1, true},
		{44100, 2, false},
		{48000, 3, false},
		{48000, 0, false},
	}
	for _, tt := range tests {
		h := NewWebRTCHandler(NewBroadcaster(), tt.rate, tt.channels, 64000)
		if err := h.supported(); (err == nil) != tt.ok {
			t.Errorf("supported(%d Hz x%d) = %v, want ok %v", tt.rate, tt.channels, err, tt.ok)
		}
	}
}

func TestMonitorPeerSkipsMisSizedFrames(t *testing.T) {
	b := NewBroadcaster()
	h := NewWebRTCHandler(b, 48000, 2, 64000)
	p, err := h.newPeer()
	if err != nil {
		t.Fatal(err)
	}
	defer p.pc.Close()
	if p.frameLen != 960*2 {
		t.Fatalf("frameLen = %d, want 1920", p.frameLen)
	}

	p.listener = b.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.stream(ctx)
	}()

	b.publish(make([]int16, 100))
	b.publish(make([]int16, p.frameLen))
	deadline := time.Now().Add(2 * time.Second)
	for p.listener.Received() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if p.listener.Received() != 2 {
		t.Fatalf("Received = %d, want 2", p.listener.Received())
	}
	if p.sent.Load() != 1 {
		t.Errorf("sent = %d, want only the full frame", p.sent.Load())
	}
	if len(h.Peers()) != 0 {
		t.Errorf("Peers = %v for a peer never started", h.Peers())
	}
}
