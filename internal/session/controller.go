package session

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// popTimeout bounds every queue wait so the worker can observe teardown.
const popTimeout = 100 * time.Millisecond

// OpenConfig carries everything a session needs to come up: the device to
// open, the collaborators that consume its output, and the 3A bring-up
// parameters.
type OpenConfig struct {
	DeviceID string
	Backend  DeviceBackend
	Consumer ImageConsumer
	Buffers  BufferManager
	Exposure ExposureManager
	Listener Listener

	Outputs SessionOutputs
	Startup StartupConfig

	// MaxMemoryBytes is handed to the image consumer as its memory budget.
	// Zero leaves the consumer's default in place.
	MaxMemoryBytes uint64
}

func (cfg *OpenConfig) validate() error {
	switch {
	case cfg.DeviceID == "":
		return fmt.Errorf("%w: device id is required", ErrInvalidConfig)
	case cfg.Backend == nil:
		return fmt.Errorf("%w: device backend is required", ErrInvalidConfig)
	case cfg.Consumer == nil:
		return fmt.Errorf("%w: image consumer is required", ErrInvalidConfig)
	case cfg.Buffers == nil:
		return fmt.Errorf("%w: buffer manager is required", ErrInvalidConfig)
	case cfg.Exposure == nil:
		return fmt.Errorf("%w: exposure manager is required", ErrInvalidConfig)
	case cfg.Listener == nil:
		return fmt.Errorf("%w: listener is required", ErrInvalidConfig)
	case cfg.Outputs.Raw.Width <= 0 || cfg.Outputs.Raw.Height <= 0:
		return fmt.Errorf("%w: raw output size is required", ErrInvalidConfig)
	}
	return nil
}

// Controller owns the device lifecycle and serializes every command and
// hardware notification into one worker goroutine. Application-facing calls
// enqueue and return immediately; results surface through the listener.
//
// Concurrency model: exactly one worker goroutine executes all
// device-mutating logic and state transitions. Producer goroutines (device
// callbacks, application calls) only enqueue. Session state, device handles
// and the HDR request slots are touched exclusively by the worker, so the
// queue hand-off is the only synchronization they need.
type Controller struct {
	mu     sync.Mutex // guards open/close transitions and the queue handle
	opened bool
	queue  *eventQueue
	wg     sync.WaitGroup

	// accept gates dispatch; it is flipped off before any teardown step so no
	// further non-close work executes once a close has begun.
	accept atomic.Bool

	screenOrientation atomic.Int32

	cfg    OpenConfig
	dmx    *demux
	filter *metadataFilter
	hdr    *hdrSequencer

	consumer ImageConsumer
	buffers  BufferManager
	exposure ExposureManager
	listener Listener

	// Worker-owned state. Invariant: device and capture are both nil exactly
	// when state is Closed.
	sessionID  string
	state      SessionState
	closing    bool
	device     Device
	capture    CaptureSession
	requests   *requestSet
	pendingErr error
}

// NewController returns an idle controller. Nothing runs until Open.
func NewController() *Controller {
	return &Controller{}
}

// Open acquires the device asynchronously: it validates the configuration,
// starts the worker and enqueues the open action, then returns. Failures
// during bring-up surface through the listener's error callback after the
// self-issued close has finished. Opening an already-open session is a no-op
// beyond the returned error.
func (c *Controller) Open(cfg OpenConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		slog.Error("camsession: trying to open session while already running")
		return ErrAlreadyOpen
	}

	c.opened = true
	c.cfg = cfg
	c.sessionID = uuid.New().String()

	c.consumer = cfg.Consumer
	c.buffers = cfg.Buffers
	c.exposure = cfg.Exposure
	c.listener = cfg.Listener

	c.filter = newMetadataFilter()
	c.hdr = newHdrSequencer()
	c.dmx = &demux{c: c, consumer: cfg.Consumer}

	c.state = StateClosed
	c.closing = false
	c.pendingErr = nil

	q := newEventQueue()
	c.queue = q
	c.accept.Store(true)

	c.wg.Add(1)
	go c.run(q)
	c.mu.Unlock()

	c.push(openCameraEvent{})
	return nil
}

// Close tears the session down and blocks until the worker has drained the
// close action and exited. Safe to call on a session that never opened.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return
	}
	q := c.queue
	c.mu.Unlock()

	q.Push(closeCameraEvent{})
	q.Push(stopEvent{})

	c.wg.Wait()

	c.mu.Lock()
	q.Close()
	c.queue = nil
	c.opened = false
	// Listener reference is released last, after the worker is gone.
	c.listener = nil
	c.mu.Unlock()
}

//
// Command surface. Every method enqueues and returns; execution order is the
// enqueue order, after any hardware events already queued ahead.
//

func (c *Controller) PauseCapture()  { c.push(pauseCaptureEvent{}) }
func (c *Controller) ResumeCapture() { c.push(resumeCaptureEvent{}) }

func (c *Controller) SetAutoExposure() { c.push(setAutoExposureEvent{}) }

func (c *Controller) SetManualExposure(iso int32, exposureTime int64) {
	c.push(setManualExposureEvent{iso: iso, exposureTime: exposureTime})
}

func (c *Controller) SetExposureCompensation(value float32) {
	c.push(setExposureCompensationEvent{value: value})
}

func (c *Controller) SetFrameRate(frameRate int) { c.push(setFrameRateEvent{frameRate: frameRate}) }
func (c *Controller) SetAWBLock(lock bool)       { c.push(setAwbLockEvent{lock: lock}) }
func (c *Controller) SetAELock(lock bool)        { c.push(setAeLockEvent{lock: lock}) }
func (c *Controller) SetOIS(enabled bool)        { c.push(setOisEvent{enabled: enabled}) }

func (c *Controller) SetLensAperture(aperture float32) {
	c.push(setLensApertureEvent{aperture: aperture})
}

func (c *Controller) SetFocusDistance(distance float32) {
	c.push(setFocusDistanceEvent{distance: distance})
}

func (c *Controller) SetFocusForVideo(enabled bool) {
	c.push(setFocusForVideoEvent{enabled: enabled})
}

func (c *Controller) SetAutoFocus() { c.push(setAutoFocusEvent{}) }

func (c *Controller) SetFocusPoint(focusX, focusY, exposureX, exposureY float64) {
	c.push(setFocusPointEvent{
		focusX: focusX, focusY: focusY,
		exposureX: exposureX, exposureY: exposureY,
	})
}

func (c *Controller) UpdatePreviewSettings(shadows, contrast, blackPoint, whitePoint float32) {
	c.push(updatePreviewEvent{
		shadows: shadows, contrast: contrast,
		blackPoint: blackPoint, whitePoint: whitePoint,
	})
}

func (c *Controller) ActivateCameraSettings() { c.push(activateSettingsEvent{}) }

// UpdateOrientation records the screen orientation attached to queued
// metadata. Takes effect on the next delivery.
func (c *Controller) UpdateOrientation(o ScreenOrientation) {
	c.screenOrientation.Store(int32(o))
}

func (c *Controller) orientation() ScreenOrientation {
	return ScreenOrientation(c.screenOrientation.Load())
}

// PrepareHdr requests the 2-frame precapture burst: one frame at the given
// manual exposure plus one at the last-known exposure. Rejected while a burst
// is still being worked by the device.
func (c *Controller) PrepareHdr(iso int32, exposureTime int64) {
	h := c.sequencer()
	if h == nil {
		slog.Warn("camsession: hdr precapture ignored, session not open")
		return
	}
	if !h.begin(false, PostProcessSettings{}, "") {
		slog.Warn("camsession: hdr capture already in progress, ignoring request")
		return
	}
	c.push(precaptureHdrEvent{iso: iso, exposureTime: exposureTime})
}

// CaptureHdr requests a full exposure-fusion burst of numImages base-exposure
// frames plus one underexposed frame. Rejected for numImages < 1 or while a
// burst is still being worked by the device.
func (c *Controller) CaptureHdr(
	numImages int,
	baseIso int32, baseExposure int64,
	hdrIso int32, hdrExposure int64,
	settings PostProcessSettings,
	outputPath string,
) {
	if numImages < 1 {
		slog.Warn("camsession: invalid hdr capture request, ignoring", "num_images", numImages)
		return
	}

	h := c.sequencer()
	if h == nil {
		slog.Warn("camsession: hdr capture ignored, session not open")
		return
	}
	if !h.begin(true, settings, outputPath) {
		slog.Warn("camsession: hdr capture already in progress, ignoring request")
		return
	}

	c.push(captureHdrEvent{
		numImages: numImages,
		baseIso:   baseIso, baseExposure: baseExposure,
		hdrIso: hdrIso, hdrExposure: hdrExposure,
	})
}

// SaveBurst drives the simple save path: persist numImages ZSL frames plus
// the frames of the preceding precapture burst.
func (c *Controller) SaveBurst(numImages int, settings PostProcessSettings, outputPath string) {
	h := c.sequencer()
	if h == nil {
		slog.Warn("camsession: burst save ignored, session not open")
		return
	}
	h.setOutput(settings, outputPath)
	c.push(saveEvent{numImages: numImages})
}

//
// Image consumer passthroughs.
//

func (c *Controller) EnableRawPreview(quality int) {
	if cons := c.consumerRef(); cons != nil {
		cons.EnableRawPreview(quality)
	}
}

func (c *Controller) DisableRawPreview() {
	if cons := c.consumerRef(); cons != nil {
		cons.DisableRawPreview()
	}
}

func (c *Controller) GrowMemory(bytes uint64) {
	if cons := c.consumerRef(); cons != nil {
		cons.Grow(bytes)
	}
}

func (c *Controller) EstimatedSettings() PostProcessSettings {
	if cons := c.consumerRef(); cons != nil {
		return cons.EstimatedSettings()
	}
	return PostProcessSettings{}
}

func (c *Controller) consumerRef() ImageConsumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumer
}

func (c *Controller) sequencer() *hdrSequencer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil
	}
	return c.hdr
}

// push enqueues ev, or logs and drops it when the session is not running.
func (c *Controller) push(ev event) {
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()

	if q == nil {
		slog.Warn("camsession: failed to queue event, event loop is gone", "event", ev.name())
		return
	}
	q.Push(ev)
}

//
// Worker.
//

// run is the event loop. One event per iteration; the stop sentinel
// terminates the loop; every other event dispatches only while the accept
// latch is set. A failed dispatch is converted into a self-issued close so
// one bad command never crashes the worker or leaves the queue unprocessed.
func (c *Controller) run(q *eventQueue) {
	defer c.wg.Done()

	slog.Debug("camsession: event loop started", "session_id", c.sessionID)

	for {
		ev, ok := q.Pop(popTimeout)
		if !ok {
			continue
		}

		if _, stop := ev.(stopEvent); stop {
			break
		}

		if !c.accept.Load() {
			slog.Debug("camsession: event skipped, session is closing", "event", ev.name())
			continue
		}

		if err := c.dispatch(ev); err != nil {
			c.internalError(err)
		}
	}

	slog.Debug("camsession: event loop stopped", "session_id", c.sessionID)
}

func (c *Controller) internalError(err error) {
	slog.Error("camsession: internal error, closing camera", "error", err)
	if c.pendingErr == nil {
		c.pendingErr = err
	}
	c.push(closeCameraEvent{})
}

func (c *Controller) dispatch(ev event) error {
	switch ev := ev.(type) {
	// Actions
	case openCameraEvent:
		return c.doOpenCamera()
	case closeCameraEvent:
		return c.doCloseCamera()
	case pauseCaptureEvent:
		return c.doPauseCapture()
	case resumeCaptureEvent:
		return c.doResumeCapture()
	case setAutoExposureEvent:
		return c.doSetAutoExposure()
	case setManualExposureEvent:
		return c.doSetManualExposure(ev)
	case setExposureCompensationEvent:
		return c.doSetExposureCompensation(ev)
	case setFrameRateEvent:
		c.exposure.RequestFrameRate(ev.frameRate)
		return nil
	case setAwbLockEvent:
		c.exposure.RequestAwbLock(ev.lock)
		return nil
	case setAeLockEvent:
		c.exposure.RequestAeLock(ev.lock)
		return nil
	case setOisEvent:
		c.exposure.RequestOis(ev.enabled)
		return nil
	case setLensApertureEvent:
		c.exposure.RequestAperture(ev.aperture)
		return nil
	case setFocusDistanceEvent:
		c.exposure.RequestManualFocus(ev.distance)
		return nil
	case setFocusForVideoEvent:
		c.exposure.RequestFocusForVideo(ev.enabled)
		return nil
	case setAutoFocusEvent:
		return c.doSetAutoFocus()
	case setFocusPointEvent:
		return c.doSetFocusPoint(ev)
	case updatePreviewEvent:
		return c.doUpdatePreview(ev)
	case activateSettingsEvent:
		c.exposure.Activate()
		return nil
	case precaptureHdrEvent:
		return c.doPrecaptureHdr(ev)
	case captureHdrEvent:
		return c.doCaptureHdr(ev)

	// Events
	case saveEvent:
		return c.doSave(ev)
	case attemptSaveEvent:
		return c.doAttemptSave()
	case cameraErrorEvent:
		return c.doOnCameraError(ev)
	case cameraDisconnectedEvent:
		return c.doOnCameraDisconnected()
	case sessionChangedEvent:
		return c.doOnSessionStateChanged(ev)
	case sequenceCompletedEvent:
		c.exposure.OnSequenceCompleted(ev.sequenceID)
		return nil
	case hdrSequenceDoneEvent:
		c.hdr.sequenceDone(ev.aborted)
		return nil
	case exposureStatusEvent:
		c.listener.OnExposureStatus(ev.iso, ev.exposureTime)
		return nil
	case autoFocusStateEvent:
		c.listener.OnAutoFocusStateChanged(ev.state, c.filter.focusDistance())
		return nil
	case autoExposureStateEvent:
		c.listener.OnAutoExposureStateChanged(ev.state)
		return nil

	default:
		slog.Warn("camsession: unknown event in event loop", "event", ev.name())
		return nil
	}
}

//
// Lifecycle handlers.
//

func (c *Controller) doOpenCamera() error {
	if c.state != StateClosed {
		slog.Error("camsession: trying to open camera that isn't closed", "state", c.state.String())
		return nil
	}

	c.state = StateOpening

	slog.Debug("camsession: opening device", "device_id", c.cfg.DeviceID)

	dev, err := c.cfg.Backend.Open(c.cfg.DeviceID, c.dmx)
	if err != nil {
		return deviceErr("open", err)
	}
	c.device = dev

	slog.Debug("camsession: device has opened", "device_id", dev.ID())

	// The repeating preview request and the two HDR exposure slots live for
	// the whole session; bursts mutate the slots in place.
	c.requests = newRequestSet()

	slog.Debug("camsession: creating capture session")

	sess, err := dev.CreateSession(c.cfg.Outputs, c.dmx)
	if err != nil {
		return deviceErr("create capture session", err)
	}
	c.capture = sess

	if c.cfg.MaxMemoryBytes > 0 {
		c.consumer.Grow(c.cfg.MaxMemoryBytes)
	}
	c.consumer.Start()

	slog.Debug("camsession: starting capture")

	if err := c.exposure.Start(sess, c.requests.repeating, c.cfg.Startup); err != nil {
		return fmt.Errorf("camsession: exposure manager start: %w", err)
	}

	c.listener.OnStarted()
	return nil
}

// doCloseCamera tears everything down in dependency order. It always returns
// nil: teardown failures are logged, never escalated, so a close can never
// trigger another close.
func (c *Controller) doCloseCamera() error {
	// Stop accepting events before any teardown step.
	c.accept.Store(false)
	c.closing = true
	c.state = StateClosing

	if c.capture != nil {
		if err := c.capture.AbortCaptures(); err != nil {
			slog.Warn("camsession: abort captures failed during close", "error", err)
		}

		slog.Debug("camsession: closing capture session")
		if err := c.capture.Close(); err != nil {
			slog.Warn("camsession: capture session close failed", "error", err)
		}
		c.capture = nil
	}

	// The consumer must stop before the device: closing the device destroys
	// the image reader the consumer drains.
	slog.Debug("camsession: stopping image consumer")
	c.consumer.Stop()

	if c.device != nil {
		slog.Debug("camsession: closing device")
		if err := c.device.Close(); err != nil {
			slog.Warn("camsession: device close failed", "error", err)
		}
		c.device = nil
	}

	c.requests = nil
	c.state = StateClosed

	slog.Debug("camsession: camera closed")

	if c.pendingErr != nil {
		c.listener.OnError(c.pendingErr)
		c.pendingErr = nil
	}
	return nil
}

func (c *Controller) doPauseCapture() error {
	if c.state != StateActive {
		slog.Warn("camsession: cannot pause capture, invalid state", "state", c.state.String())
		return nil
	}
	c.exposure.RequestPause()
	return nil
}

func (c *Controller) doResumeCapture() error {
	if c.state != StateReady {
		slog.Warn("camsession: cannot resume capture, invalid state", "state", c.state.String())
		return nil
	}
	c.exposure.RequestResume()
	return nil
}

// doOnSessionStateChanged applies a hardware session-state notification.
// Notifications arriving after a close has begun are dropped: a late active
// notification racing the teardown would otherwise wedge the close path.
func (c *Controller) doOnSessionStateChanged(ev sessionChangedEvent) error {
	if c.closing {
		slog.Warn("camsession: ignoring session state notification after close", "state", ev.state.String())
		return nil
	}

	slog.Debug("camsession: session state changed", "state", ev.state.String())

	c.state = ev.state
	c.exposure.OnSessionStateChanged(ev.state)
	c.listener.OnStateChanged(ev.state)
	return nil
}

func (c *Controller) doOnCameraError(ev cameraErrorEvent) error {
	slog.Error("camsession: device reported an error", "code", ev.code)
	c.listener.OnError(&DeviceError{Op: "device", Code: ev.code})
	return nil
}

func (c *Controller) doOnCameraDisconnected() error {
	// Closing after a disconnect is left to the application.
	slog.Info("camsession: device has disconnected")
	c.listener.OnDisconnected()
	return nil
}

//
// Settings handlers.
//

func (c *Controller) doSetAutoExposure() error {
	if c.state == StateClosed {
		slog.Warn("camsession: cannot set auto exposure, invalid state")
		return nil
	}
	c.exposure.RequestAutoExposure()
	return nil
}

func (c *Controller) doSetManualExposure(ev setManualExposureEvent) error {
	if c.state == StateClosed {
		slog.Warn("camsession: cannot set manual exposure, invalid state")
		return nil
	}
	if c.state == StateActive {
		c.exposure.RequestUserExposure(ev.iso, ev.exposureTime)
	}
	return nil
}

func (c *Controller) doSetExposureCompensation(ev setExposureCompensationEvent) error {
	if c.state == StateClosed || c.device == nil {
		slog.Warn("camsession: cannot set exposure compensation, invalid state")
		return nil
	}

	value := clamp(ev.value, 0.0, 1.0)

	min, max := c.device.ExposureCompensationRange()
	steps := int(math.Round(float64(value)*float64(max-min) + float64(min)))

	c.exposure.RequestExposureCompensation(steps)
	return nil
}

func (c *Controller) doSetAutoFocus() error {
	if c.state == StateClosed {
		slog.Warn("camsession: cannot set auto focus, invalid state")
		return nil
	}
	c.exposure.RequestAutoFocus()
	return nil
}

func (c *Controller) doSetFocusPoint(ev setFocusPointEvent) error {
	if c.state == StateClosed || c.device == nil {
		slog.Warn("camsession: cannot set focus, invalid state")
		return nil
	}

	// Need at least one AF region.
	if c.device.AFRegions() <= 0 {
		slog.Info("camsession: can't set focus, zero AF regions")
		return nil
	}

	c.exposure.RequestUserFocus(ev.focusX, ev.focusY)
	return nil
}

func (c *Controller) doUpdatePreview(ev updatePreviewEvent) error {
	if c.state == StateClosed || c.device == nil {
		slog.Warn("camsession: cannot update preview, invalid state")
		return nil
	}

	if c.state == StateActive {
		curve := generateTonemapCurve(
			ev.shadows, ev.contrast, ev.blackPoint, ev.whitePoint,
			c.device.TonemapCurvePoints())

		c.exposure.RequestUpdatePreview(curve)
		c.exposure.Activate()
	}
	return nil
}
