package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/satindergrewal/dawcore/internal/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket bounds one encoded 20ms frame.
const maxOpusPacket = 4000

// WebRTCHandler negotiates low-latency Opus monitoring sessions. The monitor
// frames are encoded at the engine rate, so sessions are refused unless
// that rate and channel count are ones Opus encodes directly.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	rate        int
	channels    int
	bitrate     int

	mu    sync.Mutex
	peers map[*monitorPeer]struct{}
}

// NewWebRTCHandler creates a handler for frames of the given format.
func NewWebRTCHandler(b *Broadcaster, rate, channels, bitrate int) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		rate:        rate,
		channels:    channels,
		bitrate:     bitrate,
		peers:       make(map[*monitorPeer]struct{}),
	}
}

// PeerCount returns the number of connected peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// PeerStats reports, per connected peer, the frames sent and dropped.
type PeerStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

func (h *WebRTCHandler) Peers() []PeerStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]PeerStats, 0, len(h.peers))
	for p := range h.peers {
		out = append(out, PeerStats{Sent: p.sent.Load(), Dropped: p.listener.Dropped()})
	}
	return out
}

// supported reports whether Opus can encode the monitor format as is.
func (h *WebRTCHandler) supported() error {
	if !audio.OpusRate(h.rate) {
		return fmt.Errorf("opus cannot encode %d Hz", h.rate)
	}
	if h.channels < 1 || h.channels > 2 {
		return fmt.Errorf("opus cannot encode %d channels", h.channels)
	}
	return nil
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if err := h.supported(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	p, err := h.newPeer()
	if err != nil {
		log.Printf("WebRTC: %v", err)
		http.Error(w, "peer setup failed", http.StatusInternalServerError)
		return
	}
	answer, err := p.answer(r.Context(), offer)
	if err != nil {
		p.pc.Close()
		log.Printf("WebRTC: %v", err)
		http.Error(w, "negotiation failed", http.StatusBadRequest)
		return
	}
	h.start(p)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(answer)
}

// monitorPeer streams the monitor feed to one WebRTC connection.
type monitorPeer struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample
	enc   *opus.Encoder

	frameLen int // interleaved samples per frame
	listener *Listener
	cancel   context.CancelFunc
	sent     atomic.Uint64
}

func (h *WebRTCHandler) newPeer() (*monitorPeer, error) {
	enc, err := opus.NewEncoder(h.rate, h.channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		log.Printf("WebRTC: opus bitrate %d: %v", h.bitrate, err)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"monitor",
		"dawcore",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("audio track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}
	return &monitorPeer{
		pc:       pc,
		track:    track,
		enc:      enc,
		frameLen: audio.FrameSize(h.rate) * h.channels,
	}, nil
}

// answer applies offer and returns the local description once ICE
// gathering has finished.
func (p *monitorPeer) answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.pc.LocalDescription(), nil
}

// start registers p, subscribes it to the monitor feed and tears it down
// when the connection ends.
func (h *WebRTCHandler) start(p *monitorPeer) {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.listener = h.broadcaster.Subscribe()

	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	log.Printf("WebRTC peer connected (total: %d)", n)

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.stop(p)
		}
	})
	go p.stream(ctx)
}

func (h *WebRTCHandler) stop(p *monitorPeer) {
	h.mu.Lock()
	_, ok := h.peers[p]
	delete(h.peers, p)
	n := len(h.peers)
	h.mu.Unlock()
	if !ok {
		return
	}
	p.cancel()
	h.broadcaster.Unsubscribe(p.listener)
	p.pc.Close()
	log.Printf("WebRTC peer disconnected after %d frames (remaining: %d)", p.sent.Load(), n)
}

// stream encodes each monitor frame as one Opus packet. Frames of the
// wrong length cannot be encoded and are skipped.
func (p *monitorPeer) stream(ctx context.Context) {
	packet := make([]byte, maxOpusPacket)
	for {
		frame, err := p.listener.Next(ctx)
		if err != nil {
			return
		}
		if len(frame) != p.frameLen {
			log.Printf("WebRTC: skipping %d-sample frame, want %d", len(frame), p.frameLen)
			continue
		}
		n, err := p.enc.Encode(frame, packet)
		if err != nil {
			log.Printf("WebRTC: opus encode: %v", err)
			continue
		}
		if err := p.track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
			return
		}
		p.sent.Add(1)
	}
}
