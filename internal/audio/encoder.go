package audio

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVWriter writes planar float buffers as 16-bit PCM WAV.
type WAVWriter struct {
	enc      *wav.Encoder
	buf      *goaudio.IntBuffer
	channels int
}

// NewWAVWriter starts a WAV stream on w. Close must be called to finish the
// header, which is why w has to seek.
func NewWAVWriter(w io.WriteSeeker, rate, channels int) *WAVWriter {
	return &WAVWriter{
		enc: wav.NewEncoder(w, rate, BitDepth, channels, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
			SourceBitDepth: BitDepth,
		},
		channels: channels,
	}
}

// Write appends frames of src.
func (w *WAVWriter) Write(src [][]float32, frames int) error {
	n := frames * w.channels
	if cap(w.buf.Data) < n {
		w.buf.Data = make([]int, n)
	}
	w.buf.Data = w.buf.Data[:n]
	for i := 0; i < frames; i++ {
		for ch := 0; ch < w.channels; ch++ {
			var v float32
			if ch < len(src) {
				v = src[ch][i]
			}
			w.buf.Data[i*w.channels+ch] = int(Float32ToInt16(v))
		}
	}
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("write wav frames: %w", err)
	}
	return nil
}

func (w *WAVWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("finish wav: %w", err)
	}
	return nil
}
