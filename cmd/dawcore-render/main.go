// Command dawcore-render bounces the engine's monitor output to a WAV file
// without an audio device, stepping cycles as fast as they render.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/satindergrewal/dawcore/internal/audio"
	"github.com/satindergrewal/dawcore/internal/config"
	"github.com/satindergrewal/dawcore/internal/device"
	"github.com/satindergrewal/dawcore/internal/engine"
	"github.com/satindergrewal/dawcore/internal/graph"
	"github.com/satindergrewal/dawcore/internal/metronome"
	"github.com/satindergrewal/dawcore/internal/tempo"
	"github.com/satindergrewal/dawcore/internal/transport"
)

func main() {
	seconds := flag.Float64("seconds", 8, "length of the bounce")
	out := flag.String("o", "bounce.wav", "output WAV path")
	flag.Parse()

	cfg := config.Load()

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("Create %s: %v", *out, err)
	}
	frames, err := render(cfg, *seconds, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Fatalf("Render: %v", err)
	}
	log.Printf("Wrote %s: %d frames at %d Hz", *out, frames, cfg.SampleRate)
}

// render rolls the transport from zero for the given length and writes the
// monitor output to w. It returns the number of frames written.
func render(cfg config.Config, seconds float64, w io.WriteSeeker) (int64, error) {
	tm, err := tempo.NewMap(cfg.SampleRate, cfg.BPM, cfg.BeatsPerBar, cfg.BeatUnit)
	if err != nil {
		return 0, err
	}
	tr := transport.New(tm)
	tr.SetCountinBars(cfg.CountinBars)
	tr.SetPrerollBars(cfg.PrerollBars)

	dev, err := device.NewManual(device.Config{
		SampleRate: cfg.SampleRate,
		BufferSize: cfg.BufferSize,
		Channels:   cfg.Channels,
	})
	if err != nil {
		return 0, err
	}

	met := metronome.New(tm)
	met.SetEnabled(cfg.Metronome)
	met.SetVolume(cfg.MetronomeVolume)
	if err := met.LoadClicks(cfg.ClickEmphasis, cfg.ClickNormal); err != nil {
		log.Printf("Click samples unavailable, using built-in clicks: %v", err)
	}
	g := graph.New()
	if err := g.AddNode(met); err != nil {
		return 0, err
	}
	g.RecalcGraph()

	e := engine.New(engine.Config{
		Fadeout:          cfg.Fadeout,
		FadeoutTimeout:   cfg.FadeoutTimeout,
		PauseWaitTimeout: cfg.PauseWaitTimeout,
	}, dev, tr, tm)
	if err := e.Initialize(g); err != nil {
		return 0, err
	}
	if err := e.Activate(); err != nil {
		return 0, err
	}
	defer e.Deactivate()

	total := int64(seconds * float64(cfg.SampleRate))
	if total <= 0 {
		return 0, fmt.Errorf("nothing to render for %.3fs", seconds)
	}

	wav := audio.NewWAVWriter(w, cfg.SampleRate, cfg.Channels)
	tr.RequestRoll()

	var done int64
	for done < total {
		n := int(min(int64(cfg.BufferSize), total-done))
		buf := dev.Step(n)
		if err := wav.Write(buf, n); err != nil {
			return done, err
		}
		done += int64(n)
	}
	if err := wav.Close(); err != nil {
		return done, err
	}

	// Settle the pause on the audio side so Deactivate need not wait.
	tr.RequestPause()
	dev.Step(1)
	return done, nil
}
