package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrUnsupportedFormat = errors.New("audio: unsupported file format")

// DecodeFile reads a WAV or AIFF file into a Clip at its own sample rate.
func DecodeFile(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	clip, err := Decode(f, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return clip, nil
}

// Decode reads WAV or AIFF data; ext selects the container (".wav", ".aiff").
func Decode(r io.ReadSeeker, ext string) (*Clip, error) {
	var (
		buf      *goaudio.IntBuffer
		bitDepth int
		unsigned bool
		err      error
	)
	switch strings.ToLower(ext) {
	case ".wav", ".wave":
		dec := wav.NewDecoder(r)
		if !dec.IsValidFile() {
			return nil, fmt.Errorf("not a PCM wav file: %w", ErrUnsupportedFormat)
		}
		buf, err = dec.FullPCMBuffer()
		bitDepth = int(dec.BitDepth)
		// 8-bit WAV is unsigned.
		unsigned = bitDepth == 8
	case ".aif", ".aiff":
		dec := aiff.NewDecoder(r)
		if !dec.IsValidFile() {
			return nil, fmt.Errorf("not an aiff file: %w", ErrUnsupportedFormat)
		}
		buf, err = dec.FullPCMBuffer()
		bitDepth = int(dec.BitDepth)
	default:
		return nil, fmt.Errorf("extension %q: %w", ext, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}
	return fromIntBuffer(buf, bitDepth, unsigned)
}

func fromIntBuffer(buf *goaudio.IntBuffer, bitDepth int, unsigned bool) (*Clip, error) {
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("no channels: %w", ErrUnsupportedFormat)
	}
	if bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("%d-bit samples: %w", bitDepth, ErrUnsupportedFormat)
	}
	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	clip := NewClip(buf.Format.SampleRate, channels, frames)

	scale := float32(int64(1) << (bitDepth - 1))
	offset := 0
	if unsigned {
		offset = 1 << (bitDepth - 1)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			clip.Channels[ch][i] = float32(buf.Data[i*channels+ch]-offset) / scale
		}
	}
	return clip, nil
}

// Float32ToInt16 converts a sample in [-1, 1] with clipping.
func Float32ToInt16(v float32) int16 {
	s := v * 32767
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}

// Interleave16 writes frames of planar float samples starting at off into
// dst as interleaved int16 with the given channel count. Missing source
// channels repeat the last one (mono to stereo).
func Interleave16(dst []int16, src [][]float32, off, frames, channels int) {
	if len(src) == 0 {
		clear(dst[:frames*channels])
		return
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			s := src[min(ch, len(src)-1)]
			dst[i*channels+ch] = Float32ToInt16(s[off+i])
		}
	}
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
