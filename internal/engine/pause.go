package engine

import (
	"log"
	"time"

	"github.com/satindergrewal/dawcore/internal/transport"
)

// PauseState is what WaitForPause captured, for Resume to restore.
type PauseState struct {
	Running  bool  `json:"running"`
	Playing  bool  `json:"playing"`
	Looping  bool  `json:"looping"`
	Playhead int64 `json:"playhead"`
}

// WaitForPause stops processing from the control thread. It optionally
// fades the monitor out, sends a MIDI panic, requests a transport pause and
// (unless force) waits for the audio thread to settle it, then clears the
// run flag and drains the in-flight cycle. When the engine is still
// registered with its device one 1-frame cycle flushes the panic through
// the graph. Pausing an engine that is not running does nothing.
func (e *Engine) WaitForPause(force, withFadeout bool) PauseState {
	tr := e.transport
	st := PauseState{
		Running:  e.run.Load(),
		Playing:  tr.IsRolling(),
		Looping:  tr.LoopEnabled(),
		Playhead: tr.Position(),
	}
	if !st.Running {
		log.Printf("Engine %s: pause requested while not running", e.shortID())
		return st
	}

	if withFadeout && st.Playing {
		e.fadeOutMonitor()
	}

	e.panicPending.Store(true)
	tr.RequestPause()
	if !force {
		e.waitPaused()
	}

	e.run.Store(false)
	e.ticket.acquire()
	if tr.PlayState() != transport.Paused {
		tr.SetPlayStateRTSafe(transport.Paused)
	}
	e.latencyPreroll.Store(0)
	e.ticket.release()

	if cs := e.cycle.Load(); cs != nil && e.dev.Registered() {
		e.runCycle(cs, nil, 0, 1, true)
	}
	return st
}

// Resume restores what WaitForPause captured: loop flag, playhead and roll
// state, then readmits cycles if the engine was running.
func (e *Engine) Resume(st PauseState) {
	tr := e.transport
	tr.SetLoopEnabled(st.Looping)
	if st.Playing {
		tr.Seek(st.Playhead)
		tr.ResumeRoll()
	} else {
		tr.RequestPause()
	}
	e.fader.reset()
	if st.Running {
		e.run.Store(true)
	}
}

// ExecuteWithPausedProcessing runs fn while no cycle can be in flight, for
// changes that are unsafe during processing such as graph edits. When
// recalcGraph is set the dispatcher recomputes its graph before resuming.
func (e *Engine) ExecuteWithPausedProcessing(fn func(), recalcGraph bool) {
	e.ctl.Lock()
	defer e.ctl.Unlock()

	st := e.WaitForPause(false, true)
	fn()
	if recalcGraph && e.dispatcher != nil {
		e.dispatcher.RecalcGraph()
	}
	e.Resume(st)
}

// Suspend pauses processing until Unsuspend. It reports false when already
// suspended.
func (e *Engine) Suspend() bool {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	if e.suspended != nil {
		return false
	}
	st := e.WaitForPause(false, true)
	e.suspended = &st
	log.Printf("Engine %s suspended at %d", e.shortID(), st.Playhead)
	return true
}

// Unsuspend resumes from Suspend. It reports false when not suspended.
func (e *Engine) Unsuspend() bool {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	if e.suspended == nil {
		return false
	}
	st := *e.suspended
	e.suspended = nil
	e.Resume(st)
	log.Printf("Engine %s resumed", e.shortID())
	return true
}

// fadeOutMonitor fades the monitor output and waits for the audio thread
// to finish the ramp, aborting the fade after the timeout.
func (e *Engine) fadeOutMonitor() {
	cs := e.cycle.Load()
	if cs == nil || !e.dev.Registered() {
		return
	}
	e.fader.requestFadeOut(cs.fadeFrames)
	deadline := time.Now().Add(e.cfg.FadeoutTimeout)
	for !e.fader.done() {
		if time.Now().After(deadline) {
			e.fader.abort()
			log.Printf("Engine %s: fade-out timed out after %v, aborted", e.shortID(), e.cfg.FadeoutTimeout)
			return
		}
		time.Sleep(e.cfg.PollInterval)
	}
}

// waitPaused polls until the audio thread settles the pause request. Only
// the audio thread performs that transition; if it stops calling back the
// wait gives up and the pause is forced after the drain.
func (e *Engine) waitPaused() {
	deadline := time.Now().Add(e.cfg.PauseWaitTimeout)
	for e.transport.PlayState() != transport.Paused {
		if time.Now().After(deadline) {
			log.Printf("Engine %s: transport did not pause within %v, forcing", e.shortID(), e.cfg.PauseWaitTimeout)
			return
		}
		time.Sleep(e.cfg.PollInterval)
	}
}
