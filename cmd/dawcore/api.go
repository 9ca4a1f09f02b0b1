package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/satindergrewal/dawcore/internal/engine"
	"github.com/satindergrewal/dawcore/internal/metronome"
	"github.com/satindergrewal/dawcore/internal/stream"
	"github.com/satindergrewal/dawcore/internal/tempo"
)

// api is the HTTP control surface. Transport requests are lock-free and
// return immediately; tempo edits and suspend go through the engine's
// pause coordinator.
type api struct {
	e           *engine.Engine
	met         *metronome.Metronome
	broadcaster *stream.Broadcaster
	webrtc      *stream.WebRTCHandler
	tap         *stream.Tap
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", a.status)
	mux.HandleFunc("/api/roll", postOnly(a.roll))
	mux.HandleFunc("/api/pause", postOnly(a.pause))
	mux.HandleFunc("/api/seek", postOnly(a.seek))
	mux.HandleFunc("/api/loop", postOnly(a.loop))
	mux.HandleFunc("/api/record", postOnly(a.record))
	mux.HandleFunc("/api/tempo", postOnly(a.tempo))
	mux.HandleFunc("/api/metronome", postOnly(a.metronome))
	mux.HandleFunc("/api/panic", postOnly(a.panic))
	mux.HandleFunc("/api/suspend", postOnly(a.suspend))
	mux.HandleFunc("/api/resume", postOnly(a.resume))

	if a.broadcaster != nil && a.tap != nil {
		mux.Handle("/stream", stream.NewHTTPHandler(a.broadcaster, a.tap.SampleRate(), a.tap.Channels()))
	}
	if a.webrtc != nil {
		mux.Handle("/offer", a.webrtc)
	}
	return mux
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(v)
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"engine": a.e.Status(),
		"metronome": map[string]any{
			"enabled":        a.met.Enabled(),
			"volume":         a.met.Volume(),
			"overflow":       a.met.Overflow(),
			"dropped_voices": a.met.DroppedVoices(),
		},
	}
	if a.broadcaster != nil {
		resp["stream"] = a.broadcaster.Stats()
	}
	if a.webrtc != nil {
		resp["webrtc_peers"] = a.webrtc.Peers()
	}
	if a.tap != nil {
		resp["tap_dropped"] = a.tap.Dropped()
	}
	writeJSON(w, resp)
}

func (a *api) roll(w http.ResponseWriter, r *http.Request) {
	a.e.Transport().RequestRoll()
	writeJSON(w, map[string]any{"ok": true})
}

func (a *api) pause(w http.ResponseWriter, r *http.Request) {
	a.e.Transport().RequestPause()
	writeJSON(w, map[string]any{"ok": true})
}

func (a *api) seek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sample *int64 `json:"sample"`
		Bar    *int   `json:"bar"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	var pos int64
	switch {
	case req.Sample != nil:
		pos = *req.Sample
	case req.Bar != nil && *req.Bar >= 1:
		tm := a.e.Tempo()
		pos = tm.TickToSamplesRounded(tm.MusicalPositionToTick(tempo.Position{Bar: *req.Bar, Beat: 1, Sixteenth: 1}))
	default:
		http.Error(w, "sample or bar required", http.StatusBadRequest)
		return
	}
	if pos < 0 {
		http.Error(w, "sample must be >= 0", http.StatusBadRequest)
		return
	}
	a.e.Transport().Seek(pos)
	writeJSON(w, map[string]any{"ok": true, "sample": pos})
}

func (a *api) loop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool   `json:"enabled"`
		Start   *int64 `json:"start"`
		End     *int64 `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	tr := a.e.Transport()
	if req.Start == nil && req.End == nil {
		tr.SetLoopEnabled(req.Enabled)
	} else {
		start, end := tr.LoopRangePositions()
		if req.Start != nil {
			start = *req.Start
		}
		if req.End != nil {
			end = *req.End
		}
		if start < 0 || end <= start {
			http.Error(w, "loop needs 0 <= start < end", http.StatusBadRequest)
			return
		}
		tr.SetLoop(req.Enabled, start, end)
	}
	start, end := tr.LoopRangePositions()
	writeJSON(w, map[string]any{"ok": true, "enabled": tr.LoopEnabled(), "start": start, "end": end})
}

func (a *api) record(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled     bool `json:"enabled"`
		CountinBars *int `json:"countin_bars"`
		PrerollBars *int `json:"preroll_bars"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	tr := a.e.Transport()
	if req.CountinBars != nil {
		tr.SetCountinBars(*req.CountinBars)
	}
	if req.PrerollBars != nil {
		tr.SetPrerollBars(*req.PrerollBars)
	}
	tr.SetRecording(req.Enabled)
	writeJSON(w, map[string]any{"ok": true, "recording": tr.Recording()})
}

func (a *api) tempo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BPM         *float64 `json:"bpm"`
		BeatsPerBar *int     `json:"beats_per_bar"`
		BeatUnit    *int     `json:"beat_unit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	tm := a.e.Tempo()
	var err error
	a.e.ExecuteWithPausedProcessing(func() {
		if req.BPM != nil {
			if err = tm.SetTempo(*req.BPM); err != nil {
				return
			}
		}
		if req.BeatsPerBar != nil || req.BeatUnit != nil {
			bpb, unit := tm.BeatsPerBar(), tm.BeatUnit()
			if req.BeatsPerBar != nil {
				bpb = *req.BeatsPerBar
			}
			if req.BeatUnit != nil {
				unit = *req.BeatUnit
			}
			err = tm.SetTimeSignature(bpb, unit)
		}
	}, true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Printf("Tempo: %.2f BPM %d/%d", tm.BPM(), tm.BeatsPerBar(), tm.BeatUnit())
	writeJSON(w, map[string]any{
		"ok":            true,
		"bpm":           tm.BPM(),
		"beats_per_bar": tm.BeatsPerBar(),
		"beat_unit":     tm.BeatUnit(),
	})
}

func (a *api) metronome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool    `json:"enabled"`
		Volume  *float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Enabled != nil {
		a.met.SetEnabled(*req.Enabled)
	}
	if req.Volume != nil {
		a.met.SetVolume(*req.Volume)
	}
	writeJSON(w, map[string]any{"ok": true, "enabled": a.met.Enabled(), "volume": a.met.Volume()})
}

func (a *api) panic(w http.ResponseWriter, r *http.Request) {
	a.e.Panic()
	writeJSON(w, map[string]any{"ok": true})
}

func (a *api) suspend(w http.ResponseWriter, r *http.Request) {
	if a.e.State() != engine.Active {
		http.Error(w, "engine not active", http.StatusConflict)
		return
	}
	writeJSON(w, map[string]any{"ok": a.e.Suspend()})
}

func (a *api) resume(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ok": a.e.Unsuspend()})
}
