package session

// This file defines the contracts for every collaborator the session
// controller consumes. Implementations must treat all observer callbacks as
// arriving on arbitrary goroutines; the controller guarantees that it only
// classifies and enqueues inside them.

// DeviceObserver receives device-level notifications. Registered at open.
type DeviceObserver interface {
	// OnDeviceError reports a hardware fault with a device-specific code.
	OnDeviceError(code int)

	// OnDeviceDisconnected reports that the device went away. The session is
	// left for the application to close explicitly.
	OnDeviceDisconnected()
}

// SessionObserver receives capture-session notifications. Registered when the
// capture session is created.
type SessionObserver interface {
	// Session state transitions reported by the device.
	OnSessionActive()
	OnSessionReady()
	OnSessionClosed()

	// OnCaptureCompleted delivers result metadata for one completed capture.
	// Must not block: the implementation classifies and enqueues only.
	OnCaptureCompleted(tag CaptureTag, md CaptureMetadata)

	// OnCaptureSequenceCompleted reports that the device pipeline finished
	// processing every request of a submitted batch. It does not imply the
	// corresponding image buffers have been delivered.
	OnCaptureSequenceCompleted(tag CaptureTag, sequenceID int32)

	// OnCaptureSequenceAborted reports that a submitted batch was aborted.
	OnCaptureSequenceAborted(tag CaptureTag, sequenceID int32)

	// OnImageAvailable delivers a raw frame from the image reader.
	OnImageAvailable(img RawImage)
}

// DeviceBackend opens devices. It is the only entry point into the device
// capability set.
type DeviceBackend interface {
	// Open acquires an exclusive handle on the device. The observer stays
	// registered for the lifetime of the handle.
	Open(deviceID string, obs DeviceObserver) (Device, error)
}

// Device is an exclusively owned device handle. It is released exactly once
// on close.
type Device interface {
	// ID returns the device identifier the handle was opened with.
	ID() string

	// CreateSession builds the capture session with one raw image-reader
	// output and one preview output.
	CreateSession(outputs SessionOutputs, obs SessionObserver) (CaptureSession, error)

	// AFRegions reports how many auto-focus metering regions the device
	// supports. Zero means focus-point commands are rejected.
	AFRegions() int

	// ExposureCompensationRange reports the device's exposure compensation
	// range in device steps.
	ExposureCompensationRange() (min, max int)

	// TonemapCurvePoints reports the maximum number of tonemap curve control
	// points the device accepts.
	TonemapCurvePoints() int

	// Close releases the device handle. Idempotent.
	Close() error
}

// CaptureSession is an active capture session on an open device.
type CaptureSession interface {
	// SetRepeating submits req as the continuously repeating request. Its
	// callbacks carry TagRepeat.
	SetRepeating(req *CaptureRequest) error

	// Capture submits a burst of requests back to back and returns the
	// sequence identifier. Callbacks carry TagHdr. Implementations must
	// snapshot request values at submission time: the controller mutates the
	// same request objects between bursts.
	Capture(reqs []*CaptureRequest) (int32, error)

	// AbortCaptures aborts all in-flight captures.
	AbortCaptures() error

	// Close tears the capture session down. Idempotent.
	Close() error
}

// ImageConsumer drains the raw image reader and renders the raw preview. The
// controller starts it after the capture session exists and stops it before
// the device (and with it the image reader) is closed.
type ImageConsumer interface {
	Start()
	Stop()

	// QueueImage hands one raw frame to the consumer. Called from device
	// callback goroutines; must not block. Calls after Stop are no-ops.
	QueueImage(img RawImage)

	// QueueMetadata hands per-capture metadata to the consumer, tagged with
	// the current screen orientation and the stream it belongs to.
	QueueMetadata(md CaptureMetadata, orientation ScreenOrientation, rawType RawType)

	EnableRawPreview(quality int)
	DisableRawPreview()

	// Grow raises the consumer's memory budget.
	Grow(bytes uint64)

	// EstimatedSettings returns the consumer's current postprocess estimate.
	EstimatedSettings() PostProcessSettings
}

// BufferManager tracks delivered raw buffers and persists bursts. Buffers are
// keyed by device timestamp; a burst's frames are the ones newer than its
// reference timestamp.
type BufferManager interface {
	// LatestTimestamp returns the timestamp of the newest buffer seen, or a
	// negative value when none has arrived yet.
	LatestTimestamp() int64

	// CountSince reports how many buffers arrived with a timestamp strictly
	// newer than ref.
	CountSince(ref int64) int

	// SaveBurst persists count frames ending the burst keyed by ref.
	SaveBurst(count int, ref int64, settings PostProcessSettings, outputPath string) error
}

// ExposureManager is the 3A collaborator. It owns the repeating request
// submission and every auto exposure/focus/white-balance decision; the
// controller only forwards high-level intents.
type ExposureManager interface {
	// Start brings 3A up on a freshly created capture session. The repeating
	// request is handed over for the manager to mutate and resubmit.
	Start(sess CaptureSession, repeating *CaptureRequest, cfg StartupConfig) error

	RequestPause()
	RequestResume()

	RequestAutoExposure()
	RequestUserExposure(iso int32, exposureTime int64)
	RequestExposureCompensation(steps int)
	RequestFrameRate(frameRate int)
	RequestAwbLock(lock bool)
	RequestAeLock(lock bool)
	RequestOis(enabled bool)
	RequestAperture(aperture float32)

	RequestManualFocus(distance float32)
	RequestFocusForVideo(enabled bool)
	RequestAutoFocus()
	RequestUserFocus(x, y float64)

	// RequestUpdatePreview installs a regenerated tonemap curve, interleaved
	// as (x, y) pairs.
	RequestUpdatePreview(tonemapCurve []float32)

	// Activate applies any pending settings to the device.
	Activate()

	OnSessionStateChanged(state SessionState)
	OnSequenceCompleted(sequenceID int32)
}

// Listener receives the session's outward-facing callbacks. All methods are
// invoked from the worker goroutine; implementations must not call back into
// the session synchronously from them.
type Listener interface {
	OnStarted()
	OnError(err error)
	OnDisconnected()
	OnStateChanged(state SessionState)

	OnExposureStatus(iso int32, exposureTime int64)
	OnAutoFocusStateChanged(state FocusState, focusDistance float32)
	OnAutoExposureStateChanged(state ExposureState)

	OnHdrProgress(percent float32)
	OnHdrCompleted()
	OnHdrFailed()
}
