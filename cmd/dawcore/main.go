package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/dawcore/internal/config"
	"github.com/satindergrewal/dawcore/internal/device"
	"github.com/satindergrewal/dawcore/internal/engine"
	"github.com/satindergrewal/dawcore/internal/graph"
	"github.com/satindergrewal/dawcore/internal/metronome"
	"github.com/satindergrewal/dawcore/internal/midi"
	"github.com/satindergrewal/dawcore/internal/stream"
	"github.com/satindergrewal/dawcore/internal/tempo"
	"github.com/satindergrewal/dawcore/internal/transport"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("dawcore starting up...")

	tm, err := tempo.NewMap(cfg.SampleRate, cfg.BPM, cfg.BeatsPerBar, cfg.BeatUnit)
	if err != nil {
		log.Fatalf("Tempo map: %v", err)
	}
	tr := transport.New(tm)
	tr.SetCountinBars(cfg.CountinBars)
	tr.SetPrerollBars(cfg.PrerollBars)

	dev, err := openDevice(cfg)
	if err != nil {
		log.Fatalf("Audio device: %v", err)
	}

	// Process graph: the metronome is the only built-in node
	met := metronome.New(tm)
	met.SetEnabled(cfg.Metronome)
	met.SetVolume(cfg.MetronomeVolume)
	if err := met.LoadClicks(cfg.ClickEmphasis, cfg.ClickNormal); err != nil {
		log.Printf("Click samples unavailable, using built-in clicks: %v", err)
	}
	g := graph.New()
	if err := g.AddNode(met); err != nil {
		log.Fatalf("Graph: %v", err)
	}
	g.RecalcGraph()

	e := engine.New(engine.Config{
		Fadeout:          cfg.Fadeout,
		FadeoutTimeout:   cfg.FadeoutTimeout,
		PauseWaitTimeout: cfg.PauseWaitTimeout,
	}, dev, tr, tm)
	if err := e.Initialize(g); err != nil {
		log.Fatalf("Engine: %v", err)
	}

	// Monitor output: tap -> broadcaster -> HTTP/WebRTC listeners
	tap := stream.NewTap(dev.SampleRate(), min(dev.OutputChannels(), 2))
	e.SetMonitorTap(tap)
	broadcaster := stream.NewBroadcaster()
	webrtcHandler := stream.NewWebRTCHandler(broadcaster, tap.SampleRate(), tap.Channels(), cfg.OpusBitrate)

	// MIDI input (optional)
	if cfg.MIDIIn != "" {
		in := midi.NewInput(0)
		if err := in.Open(cfg.MIDIIn); err != nil {
			log.Printf("MIDI input not available: %v", err)
		} else {
			defer in.Close()
			if err := e.SetMIDIInput(in); err != nil {
				log.Printf("MIDI input: %v", err)
			}
		}
	} else {
		log.Println("MIDI input not configured (set DAWCORE_MIDI_IN to enable)")
	}

	if err := e.Activate(); err != nil {
		log.Fatalf("Engine: %v", err)
	}

	a := &api{
		e:           e,
		met:         met,
		broadcaster: broadcaster,
		webrtc:      webrtcHandler,
		tap:         tap,
	}
	grp, gctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: a.routes(),
		// Streaming handlers end when the group is cancelled.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	grp.Go(func() error {
		broadcaster.Run(gctx, tap.Frames())
		return nil
	})
	grp.Go(func() error {
		log.Printf("dawcore live on %s (%s device, %d Hz, %d frames)",
			addr, dev.Name(), dev.SampleRate(), dev.BufferSize())
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
		return nil
	})

	err = grp.Wait()
	e.Deactivate()
	if err != nil {
		log.Fatalf("dawcore: %v", err)
	}
}

func openDevice(cfg config.Config) (device.Device, error) {
	dc := device.Config{
		SampleRate: cfg.SampleRate,
		BufferSize: cfg.BufferSize,
		Channels:   cfg.Channels,
	}
	switch cfg.Backend {
	case "headless":
		return device.NewHeadless(dc)
	case "oto":
		return device.NewOto(dc)
	}
	return nil, fmt.Errorf("unknown backend %q (want headless or oto)", cfg.Backend)
}
