package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Burst recovery policy: the simple save path stops waiting for a missing
// frame this long after sequence completion; the long path gives the burst up
// entirely after the fail timeout.
const (
	hdrSaveGrace   = 250 * time.Millisecond
	hdrFailTimeout = 5000 * time.Millisecond

	// saveRetryInterval spaces out the simple save path's retries while burst
	// frames are still in flight.
	saveRetryInterval = 10 * time.Millisecond
)

// burstState is the explicit state of the in-flight HDR burst. It replaces
// the combination of completion/in-progress flags with enumerable legal
// transitions:
//
//	Idle → Precapturing|Capturing → AwaitingBuffers → Completed|Failed
//
// A new burst may begin from Idle, Completed, Failed or AwaitingBuffers (the
// device has finished the previous sequence; any frames still owed belong to
// the buffer manager, not the device pipeline). It is rejected only while the
// device is still working a sequence.
type burstState int32

const (
	burstIdle burstState = iota
	burstPrecapturing
	burstCapturing
	burstAwaitingBuffers
	burstCompleted
	burstFailed
)

func (s burstState) String() string {
	switch s {
	case burstIdle:
		return "idle"
	case burstPrecapturing:
		return "precapturing"
	case burstCapturing:
		return "capturing"
	case burstAwaitingBuffers:
		return "awaiting-buffers"
	case burstCompleted:
		return "completed"
	case burstFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// hdrSequencer tracks one in-flight exposure-fusion burst.
//
// state and longActive are read lock-free from caller and callback
// goroutines (synchronous burst rejection, image-available fan-out). The
// mu-guarded fields are shared between the accepting caller and the worker:
// begin can run on the application goroutine while the worker still drains a
// stale save event of the previous burst. requested and refTimestamp are
// written and read by the worker only.
type hdrSequencer struct {
	state      atomic.Int32 // burstState
	longActive atomic.Bool  // long burst in flight (drives attempt-save events)

	mu          sync.Mutex
	burstID     string
	settings    PostProcessSettings
	outputPath  string
	completedAt time.Time

	// Worker-owned once the burst is submitted.
	requested    int
	refTimestamp int64

	saveGrace   time.Duration
	failTimeout time.Duration
}

func newHdrSequencer() *hdrSequencer {
	return &hdrSequencer{
		saveGrace:   hdrSaveGrace,
		failTimeout: hdrFailTimeout,
	}
}

func (h *hdrSequencer) current() burstState {
	return burstState(h.state.Load())
}

func (h *hdrSequencer) longInFlight() bool {
	return h.longActive.Load()
}

// begin accepts a new burst unless one is still being worked by the device.
// Safe from any goroutine; the accepted burst's parameter snapshot replaces
// the previous burst's implicitly.
func (h *hdrSequencer) begin(long bool, settings PostProcessSettings, outputPath string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.current() {
	case burstPrecapturing, burstCapturing:
		return false
	}

	h.burstID = uuid.New().String()
	h.settings = settings
	h.outputPath = outputPath
	h.completedAt = time.Time{}
	h.longActive.Store(long)

	if long {
		h.state.Store(int32(burstCapturing))
	} else {
		h.state.Store(int32(burstPrecapturing))
	}

	slog.Debug("camsession: hdr burst accepted", "burst_id", h.burstID, "long", long)
	return true
}

// submitted records the burst's request count and reference timestamp once
// the capture requests have been handed to the device. Worker only.
func (h *hdrSequencer) submitted(requested int, refTimestamp int64) {
	h.requested = requested
	h.refTimestamp = refTimestamp
}

// reset abandons an accepted burst that never made it to the device
// (parameter validation failed on the worker). Without this the rejection
// would leave the sequencer stuck rejecting every future burst.
func (h *hdrSequencer) reset() {
	h.longActive.Store(false)
	h.state.Store(int32(burstIdle))
}

// sequenceDone stamps the device-side completion (or abort) of the burst
// sequence. Worker only.
func (h *hdrSequencer) sequenceDone(aborted bool) {
	switch h.current() {
	case burstPrecapturing, burstCapturing:
	default:
		slog.Debug("camsession: stale hdr sequence notification ignored", "state", h.current().String())
		return
	}

	h.mu.Lock()
	h.completedAt = time.Now()
	id := h.burstID
	h.mu.Unlock()

	h.state.Store(int32(burstAwaitingBuffers))
	slog.Debug("camsession: hdr capture sequence finished", "burst_id", id, "aborted", aborted)
}

// sinceDone reports how long ago the device finished the burst sequence.
// ok is false while the sequence is still running.
func (h *hdrSequencer) sinceDone() (since time.Duration, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.completedAt.IsZero() {
		return 0, false
	}
	return time.Since(h.completedAt), true
}

func (h *hdrSequencer) finish(st burstState) {
	h.longActive.Store(false)
	h.state.Store(int32(st))
}

// setOutput records where the next save lands. Used by the simple save path,
// which does not go through begin.
func (h *hdrSequencer) setOutput(settings PostProcessSettings, outputPath string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settings = settings
	h.outputPath = outputPath
}

func (h *hdrSequencer) snapshot() (settings PostProcessSettings, outputPath string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings, h.outputPath
}

//
// Worker-side burst handlers.
//

// doPrecaptureHdr submits the 2-frame precapture burst: slot 0 at the
// requested manual exposure, slot 1 at the last-known exposure so the device
// AE recovers cleanly after the burst.
func (c *Controller) doPrecaptureHdr(ev precaptureHdrEvent) error {
	if ev.iso < 0 || ev.exposureTime < 0 {
		slog.Warn("camsession: ignoring hdr precapture with unset exposure",
			"iso", ev.iso, "exposure_ns", ev.exposureTime)
		c.hdr.reset()
		return nil
	}

	lastIso, lastExposure := c.filter.exposure()

	slot0, slot1 := c.requests.hdr[0], c.requests.hdr[1]

	slot0.ControlMode = ControlOffKeepState
	slot0.Sensitivity = ev.iso
	slot0.ExposureTime = ev.exposureTime

	slot1.ControlMode = ControlOffKeepState
	slot1.Sensitivity = lastIso
	slot1.ExposureTime = lastExposure

	slog.Info("camsession: initiating hdr precapture",
		"hdr_iso", ev.iso, "hdr_exposure_ns", ev.exposureTime)

	// The reference timestamp separates this burst's frames from earlier ones.
	c.hdr.submitted(1, c.buffers.LatestTimestamp())

	if _, err := c.capture.Capture([]*CaptureRequest{slot0, slot1}); err != nil {
		c.hdr.reset()
		return deviceErr("capture", err)
	}
	return nil
}

// doCaptureHdr submits the full exposure-fusion burst: numImages+1 requests,
// all at the base exposure except index 1 which is the deliberately
// underexposed frame. Focus distance is pinned to the last-known value so the
// device does not refocus mid-burst.
func (c *Controller) doCaptureHdr(ev captureHdrEvent) error {
	if ev.numImages < 1 {
		slog.Error("camsession: invalid hdr capture requested", "num_images", ev.numImages)
		c.hdr.reset()
		return nil
	}

	focusDistance := c.filter.focusDistance()

	slot0, slot1 := c.requests.hdr[0], c.requests.hdr[1]

	slot0.ControlMode = ControlOffKeepState
	slot0.FocusDistance = focusDistance
	slot0.Sensitivity = ev.baseIso
	slot0.ExposureTime = ev.baseExposure

	slot1.ControlMode = ControlOffKeepState
	slot1.FocusDistance = focusDistance
	slot1.Sensitivity = ev.hdrIso
	slot1.ExposureTime = ev.hdrExposure

	requested := ev.numImages + 1

	reqs := make([]*CaptureRequest, requested)
	for i := range reqs {
		reqs[i] = slot0
	}
	reqs[1] = slot1

	slog.Info("camsession: initiating hdr capture",
		"num_images", ev.numImages,
		"base_iso", ev.baseIso, "base_exposure_ns", ev.baseExposure,
		"hdr_iso", ev.hdrIso, "hdr_exposure_ns", ev.hdrExposure)

	c.hdr.submitted(requested, c.buffers.LatestTimestamp())

	if _, err := c.capture.Capture(reqs); err != nil {
		c.hdr.reset()
		return deviceErr("capture", err)
	}
	return nil
}

// doSave is the simple save path: wait for the precapture burst's frames
// unless the sequence completed more than the grace period ago, then hand
// numImages ZSL frames plus the burst frames to the buffer manager.
func (c *Controller) doSave(ev saveEvent) error {
	wait := true

	if st := c.hdr.current(); st == burstAwaitingBuffers || st == burstCompleted || st == burstFailed {
		if since, ok := c.hdr.sinceDone(); ok && since > c.hdr.saveGrace {
			wait = false
			slog.Info("camsession: not waiting for hdr image")
		}
	}

	if wait && c.buffers.CountSince(c.hdr.refTimestamp) < c.hdr.requested {
		// Keep waiting for the burst frames. The retry is delayed so the worker
		// does not spin pop-push until the frame lands.
		time.AfterFunc(saveRetryInterval, func() {
			c.push(saveEvent{numImages: ev.numImages})
		})
		return nil
	}

	settings, outputPath := c.hdr.snapshot()

	if err := c.buffers.SaveBurst(ev.numImages+c.hdr.requested, c.hdr.refTimestamp, settings, outputPath); err != nil {
		c.hdr.finish(burstFailed)
		c.listener.OnHdrFailed()
		return deviceErr("save burst", err)
	}

	c.hdr.finish(burstCompleted)
	c.listener.OnHdrCompleted()
	return nil
}

// doAttemptSave is the long-burst save path, re-entered on every delivered
// frame. It gives the burst up after the fail timeout, reports progress while
// buffers are still arriving, and saves once the count is met.
func (c *Controller) doAttemptSave() error {
	switch c.hdr.current() {
	case burstCapturing, burstAwaitingBuffers:
	default:
		// Burst already resolved; a frame from the repeating stream raced the
		// completion. Nothing to do.
		return nil
	}

	if c.hdr.current() == burstAwaitingBuffers {
		if since, ok := c.hdr.sinceDone(); ok && since > c.hdr.failTimeout {
			slog.Error("camsession: hdr burst timed out waiting for buffers",
				"requested", c.hdr.requested,
				"collected", c.buffers.CountSince(c.hdr.refTimestamp))

			c.hdr.finish(burstFailed)
			c.listener.OnHdrFailed()
			return nil
		}
	}

	collected := c.buffers.CountSince(c.hdr.refTimestamp)
	if collected < c.hdr.requested {
		c.listener.OnHdrProgress(float32(collected) / float32(c.hdr.requested) * 100.0)
		return nil
	}

	c.listener.OnHdrProgress(100)

	settings, outputPath := c.hdr.snapshot()

	slog.Info("camsession: hdr capture completed, saving data", "requested", c.hdr.requested)

	if err := c.buffers.SaveBurst(c.hdr.requested, c.hdr.refTimestamp, settings, outputPath); err != nil {
		c.hdr.finish(burstFailed)
		c.listener.OnHdrFailed()
		return deviceErr("save burst", err)
	}

	c.hdr.finish(burstCompleted)
	c.listener.OnHdrCompleted()
	return nil
}
