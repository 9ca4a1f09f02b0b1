package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Audio device
	Backend    string // headless or oto
	SampleRate int
	BufferSize int // frames per cycle
	Channels   int

	// Musical time
	BPM         float64
	BeatsPerBar int
	BeatUnit    int
	CountinBars int
	PrerollBars int // recording preroll

	// Metronome
	ClickEmphasis   string // path to a WAV/AIFF, empty for the built-in click
	ClickNormal     string
	Metronome       bool
	MetronomeVolume float64

	// Engine timings
	Fadeout          time.Duration
	FadeoutTimeout   time.Duration
	PauseWaitTimeout time.Duration

	// MIDI input port name, empty to disable
	MIDIIn string

	// Streaming
	OpusBitrate int // bits per second
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("DAWCORE_PORT", 8080),

		Backend:    envStr("DAWCORE_BACKEND", "headless"),
		SampleRate: envInt("DAWCORE_SAMPLE_RATE", 48000),
		BufferSize: envInt("DAWCORE_BUFFER_SIZE", 512),
		Channels:   envInt("DAWCORE_CHANNELS", 2),

		BPM:         envFloat("DAWCORE_BPM", 120),
		BeatsPerBar: envInt("DAWCORE_BEATS_PER_BAR", 4),
		BeatUnit:    envInt("DAWCORE_BEAT_UNIT", 4),
		CountinBars: envInt("DAWCORE_COUNTIN_BARS", 0),
		PrerollBars: envInt("DAWCORE_PREROLL_BARS", 0),

		ClickEmphasis:   envStr("DAWCORE_CLICK_EMPHASIS", ""),
		ClickNormal:     envStr("DAWCORE_CLICK_NORMAL", ""),
		Metronome:       envBool("DAWCORE_METRONOME", true),
		MetronomeVolume: envFloat("DAWCORE_METRONOME_VOLUME", 0.8),

		Fadeout:          time.Duration(envInt("DAWCORE_FADEOUT_MS", 20)) * time.Millisecond,
		FadeoutTimeout:   time.Duration(envInt("DAWCORE_FADEOUT_TIMEOUT_MS", 200)) * time.Millisecond,
		PauseWaitTimeout: time.Duration(envInt("DAWCORE_PAUSE_TIMEOUT_MS", 2000)) * time.Millisecond,

		MIDIIn: envStr("DAWCORE_MIDI_IN", ""),

		OpusBitrate: envInt("DAWCORE_OPUS_BITRATE", 128000),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
