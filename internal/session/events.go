package session

// event is the tagged message type flowing through the session queue. Each
// kind carries its own strongly typed payload record; the worker dispatches
// on the concrete type. The interface is sealed so no event kind can exist
// outside this package.
//
// Kinds are partitioned into actions (application-issued), events (hardware-
// or internally-issued) and the stop sentinel, mirroring the command surface
// in the public package.
type event interface {
	// name identifies the event kind in logs.
	name() string
}

// stopEvent terminates the worker loop. It is never dispatched to a handler.
type stopEvent struct{}

func (stopEvent) name() string { return "stop" }

//
// Actions
//

type openCameraEvent struct{}

func (openCameraEvent) name() string { return "open-camera" }

type closeCameraEvent struct{}

func (closeCameraEvent) name() string { return "close-camera" }

type pauseCaptureEvent struct{}

func (pauseCaptureEvent) name() string { return "pause-capture" }

type resumeCaptureEvent struct{}

func (resumeCaptureEvent) name() string { return "resume-capture" }

type setAutoExposureEvent struct{}

func (setAutoExposureEvent) name() string { return "set-auto-exposure" }

type setManualExposureEvent struct {
	iso          int32
	exposureTime int64
}

func (setManualExposureEvent) name() string { return "set-manual-exposure" }

type setExposureCompensationEvent struct {
	value float32
}

func (setExposureCompensationEvent) name() string { return "set-exposure-compensation" }

type setFrameRateEvent struct {
	frameRate int
}

func (setFrameRateEvent) name() string { return "set-frame-rate" }

type setAwbLockEvent struct {
	lock bool
}

func (setAwbLockEvent) name() string { return "set-awb-lock" }

type setAeLockEvent struct {
	lock bool
}

func (setAeLockEvent) name() string { return "set-ae-lock" }

type setOisEvent struct {
	enabled bool
}

func (setOisEvent) name() string { return "set-ois" }

type setLensApertureEvent struct {
	aperture float32
}

func (setLensApertureEvent) name() string { return "set-lens-aperture" }

type setFocusDistanceEvent struct {
	distance float32
}

func (setFocusDistanceEvent) name() string { return "set-focus-distance" }

type setFocusForVideoEvent struct {
	enabled bool
}

func (setFocusForVideoEvent) name() string { return "set-focus-for-video" }

type setAutoFocusEvent struct{}

func (setAutoFocusEvent) name() string { return "set-auto-focus" }

type setFocusPointEvent struct {
	focusX, focusY       float64
	exposureX, exposureY float64
}

func (setFocusPointEvent) name() string { return "set-focus-point" }

type updatePreviewEvent struct {
	shadows    float32
	contrast   float32
	blackPoint float32
	whitePoint float32
}

func (updatePreviewEvent) name() string { return "update-preview" }

type activateSettingsEvent struct{}

func (activateSettingsEvent) name() string { return "activate-settings" }

type precaptureHdrEvent struct {
	iso          int32
	exposureTime int64
}

func (precaptureHdrEvent) name() string { return "precapture-hdr" }

type captureHdrEvent struct {
	numImages    int
	baseIso      int32
	baseExposure int64
	hdrIso       int32
	hdrExposure  int64
}

func (captureHdrEvent) name() string { return "capture-hdr" }

//
// Events
//

// saveEvent drives the simple (non-long) save path. It re-enqueues itself
// while waiting for burst buffers to arrive.
type saveEvent struct {
	numImages int
}

func (saveEvent) name() string { return "save" }

// attemptSaveEvent drives the long-burst save path. It is enqueued by the
// image-available callback while a long burst is in flight.
type attemptSaveEvent struct{}

func (attemptSaveEvent) name() string { return "attempt-save-hdr" }

type cameraErrorEvent struct {
	code int
}

func (cameraErrorEvent) name() string { return "camera-error" }

type cameraDisconnectedEvent struct{}

func (cameraDisconnectedEvent) name() string { return "camera-disconnected" }

type sessionChangedEvent struct {
	state SessionState
}

func (sessionChangedEvent) name() string { return "session-changed" }

// sequenceCompletedEvent reports completion of a repeating-request sequence.
// It is forwarded to the exposure manager.
type sequenceCompletedEvent struct {
	sequenceID int32
}

func (sequenceCompletedEvent) name() string { return "sequence-completed" }

// hdrSequenceDoneEvent reports that the device finished (or aborted)
// processing an HDR burst submission. It feeds the burst sequencer.
type hdrSequenceDoneEvent struct {
	aborted bool
}

func (hdrSequenceDoneEvent) name() string { return "hdr-sequence-done" }

type exposureStatusEvent struct {
	iso          int32
	exposureTime int64
}

func (exposureStatusEvent) name() string { return "exposure-status-changed" }

type autoFocusStateEvent struct {
	state FocusState
}

func (autoFocusStateEvent) name() string { return "auto-focus-state-changed" }

type autoExposureStateEvent struct {
	state ExposureState
}

func (autoExposureStateEvent) name() string { return "auto-exposure-state-changed" }
