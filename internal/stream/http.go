package stream

import (
	"encoding/binary"
	"log"
	"net/http"

	"github.com/satindergrewal/dawcore/internal/audio"
)

// HTTPHandler serves the monitor output as an endless 16-bit WAV stream.
type HTTPHandler struct {
	broadcaster *Broadcaster
	rate        int
	channels    int
}

// NewHTTPHandler creates an HTTP stream handler for frames of the given
// format.
func NewHTTPHandler(b *Broadcaster, rate, channels int) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, rate: rate, channels: channels}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	log.Printf("HTTP listener connected (total: %d)", h.broadcaster.ListenerCount())
	defer func() {
		log.Printf("HTTP listener disconnected (%d frames, %d dropped)", listener.Received(), listener.Dropped())
	}()

	if _, err := w.Write(streamingWAVHeader(h.rate, h.channels)); err != nil {
		return
	}
	flusher.Flush()

	for {
		frame, err := listener.Next(r.Context())
		if err != nil {
			return
		}
		if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
			return
		}
		flusher.Flush()
	}
}

// streamingWAVHeader builds a 44-byte PCM header whose RIFF and data sizes
// are 0xFFFFFFFF, which players treat as "read until EOF".
func streamingWAVHeader(rate, channels int) []byte {
	const unknown = 0xFFFFFFFF
	blockAlign := channels * audio.BitDepth / 8

	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:], unknown)
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:], uint32(rate))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(rate*blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:], audio.BitDepth)
	copy(hdr[36:], "data")
	binary.LittleEndian.PutUint32(hdr[40:], unknown)
	return hdr
}
