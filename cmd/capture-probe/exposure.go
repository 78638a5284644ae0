package main

import (
	"log/slog"
	"sync"

	camsession "github.com/visiona/camsession"
)

// simpleExposure is a minimal exposure manager for the probe: it mutates the
// repeating request in place and resubmits it on every change. Real 3A logic
// (metering, convergence) lives outside this binary.
type simpleExposure struct {
	mu        sync.Mutex
	sess      camsession.CaptureSession
	repeating *camsession.CaptureRequest
	paused    bool
}

var _ camsession.ExposureManager = (*simpleExposure)(nil)

func newSimpleExposure() *simpleExposure { return &simpleExposure{} }

func (e *simpleExposure) Start(sess camsession.CaptureSession, repeating *camsession.CaptureRequest, cfg camsession.StartupConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sess = sess
	e.repeating = repeating

	if cfg.UseUserExposure {
		repeating.ControlMode = camsession.ControlOffKeepState
		repeating.Sensitivity = cfg.UserIso
		repeating.ExposureTime = cfg.UserExposureNs
	}

	return sess.SetRepeating(repeating)
}

func (e *simpleExposure) resubmit() {
	if e.sess == nil || e.paused {
		return
	}
	if err := e.sess.SetRepeating(e.repeating); err != nil {
		slog.Warn("probe: resubmit repeating request failed", "error", err)
	}
}

func (e *simpleExposure) RequestPause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

func (e *simpleExposure) RequestResume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.resubmit()
}

func (e *simpleExposure) RequestAutoExposure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repeating == nil {
		return
	}
	e.repeating.ControlMode = camsession.ControlAuto
	e.resubmit()
}

func (e *simpleExposure) RequestUserExposure(iso int32, exposureTime int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repeating == nil {
		return
	}
	e.repeating.ControlMode = camsession.ControlOffKeepState
	e.repeating.Sensitivity = iso
	e.repeating.ExposureTime = exposureTime
	e.resubmit()
}

func (e *simpleExposure) RequestExposureCompensation(steps int) {
	slog.Debug("probe: exposure compensation requested", "steps", steps)
}

func (e *simpleExposure) RequestFrameRate(frameRate int) {
	slog.Debug("probe: frame rate requested", "fps", frameRate)
}

func (e *simpleExposure) RequestAwbLock(lock bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repeating == nil {
		return
	}
	e.repeating.AutoWhiteBalance = !lock
	e.resubmit()
}

func (e *simpleExposure) RequestAeLock(lock bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repeating == nil {
		return
	}
	e.repeating.AutoExposure = !lock
	e.resubmit()
}

func (e *simpleExposure) RequestOis(enabled bool) {
	slog.Debug("probe: ois requested", "enabled", enabled)
}

func (e *simpleExposure) RequestAperture(aperture float32) {
	slog.Debug("probe: aperture requested", "aperture", aperture)
}

func (e *simpleExposure) RequestManualFocus(distance float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repeating == nil {
		return
	}
	e.repeating.ContinuousAF = false
	e.repeating.FocusDistance = distance
	e.resubmit()
}

func (e *simpleExposure) RequestFocusForVideo(enabled bool) {
	slog.Debug("probe: focus-for-video requested", "enabled", enabled)
}

func (e *simpleExposure) RequestAutoFocus() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repeating == nil {
		return
	}
	e.repeating.ContinuousAF = true
	e.repeating.FocusDistance = 0
	e.resubmit()
}

func (e *simpleExposure) RequestUserFocus(x, y float64) {
	slog.Debug("probe: focus point requested", "x", x, "y", y)
}

func (e *simpleExposure) RequestUpdatePreview(tonemapCurve []float32) {
	slog.Debug("probe: preview tonemap updated", "points", len(tonemapCurve)/2)
}

func (e *simpleExposure) Activate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resubmit()
}

func (e *simpleExposure) OnSessionStateChanged(state camsession.SessionState) {
	slog.Debug("probe: session state observed", "state", state.String())
}

func (e *simpleExposure) OnSequenceCompleted(sequenceID int32) {
	slog.Debug("probe: repeating sequence completed", "sequence_id", sequenceID)
}
