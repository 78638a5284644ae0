package session

// SessionState is the lifecycle state of a camera session.
//
// Closed → Opening → (Ready ⇄ Active) → Closing → Closed. Ready, Active and
// Closed are also reported by the device itself; Opening and Closing exist
// only on the controller side.
type SessionState int

const (
	StateClosed SessionState = iota
	StateOpening
	StateReady
	StateActive
	StateClosing
)

// String returns a human-readable string representation of the state
func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// FocusState is the semantic auto-focus state derived from the raw device enum.
type FocusState int

const (
	FocusInactive FocusState = iota
	FocusPassiveScan
	FocusPassiveFocused
	FocusActiveScan
	FocusLocked
	FocusNotLocked
	FocusPassiveUnfocused
)

func (s FocusState) String() string {
	switch s {
	case FocusInactive:
		return "inactive"
	case FocusPassiveScan:
		return "passive-scan"
	case FocusPassiveFocused:
		return "passive-focused"
	case FocusActiveScan:
		return "active-scan"
	case FocusLocked:
		return "locked"
	case FocusNotLocked:
		return "not-locked"
	case FocusPassiveUnfocused:
		return "passive-unfocused"
	default:
		return "unknown"
	}
}

// ExposureState is the semantic auto-exposure state derived from the raw
// device enum.
type ExposureState int

const (
	ExposureInactive ExposureState = iota
	ExposureSearching
	ExposureConverged
	ExposureLocked
	ExposureFlashRequired
	ExposurePrecapture
)

func (s ExposureState) String() string {
	switch s {
	case ExposureInactive:
		return "inactive"
	case ExposureSearching:
		return "searching"
	case ExposureConverged:
		return "converged"
	case ExposureLocked:
		return "locked"
	case ExposureFlashRequired:
		return "flash-required"
	case ExposurePrecapture:
		return "precapture"
	default:
		return "unknown"
	}
}

// DeviceAfState is the raw auto-focus state enum as reported by the device.
type DeviceAfState uint8

const (
	DeviceAfInactive DeviceAfState = iota
	DeviceAfPassiveScan
	DeviceAfPassiveFocused
	DeviceAfActiveScan
	DeviceAfFocusedLocked
	DeviceAfNotFocusedLocked
	DeviceAfPassiveUnfocused
)

// DeviceAeState is the raw auto-exposure state enum as reported by the device.
type DeviceAeState uint8

const (
	DeviceAeInactive DeviceAeState = iota
	DeviceAeSearching
	DeviceAeConverged
	DeviceAeLocked
	DeviceAeFlashRequired
	DeviceAePrecapture
)

// FocusStateFrom maps a raw device AF state to its semantic focus state.
// Unknown values map to FocusInactive.
func FocusStateFrom(state DeviceAfState) FocusState {
	switch state {
	case DeviceAfPassiveScan:
		return FocusPassiveScan
	case DeviceAfPassiveFocused:
		return FocusPassiveFocused
	case DeviceAfActiveScan:
		return FocusActiveScan
	case DeviceAfFocusedLocked:
		return FocusLocked
	case DeviceAfNotFocusedLocked:
		return FocusNotLocked
	case DeviceAfPassiveUnfocused:
		return FocusPassiveUnfocused
	default:
		return FocusInactive
	}
}

// ExposureStateFrom maps a raw device AE state to its semantic exposure state.
// Unknown values map to ExposureInactive.
func ExposureStateFrom(state DeviceAeState) ExposureState {
	switch state {
	case DeviceAeSearching:
		return ExposureSearching
	case DeviceAeConverged:
		return ExposureConverged
	case DeviceAeLocked:
		return ExposureLocked
	case DeviceAeFlashRequired:
		return ExposureFlashRequired
	case DeviceAePrecapture:
		return ExposurePrecapture
	default:
		return ExposureInactive
	}
}

// ScreenOrientation is the display orientation attached to queued metadata.
type ScreenOrientation int

const (
	OrientationPortrait ScreenOrientation = iota
	OrientationReversePortrait
	OrientationLandscape
	OrientationReverseLandscape
)

// RawType tags a frame or its metadata as belonging to the continuous
// preview stream (ZSL) or to an HDR burst.
type RawType int

const (
	RawTypeZSL RawType = iota
	RawTypeHDR
)

// CaptureTag identifies which submission path a capture callback belongs to.
type CaptureTag int

const (
	// TagRepeat marks callbacks for the continuously repeating preview request.
	TagRepeat CaptureTag = iota
	// TagHdr marks callbacks for HDR burst submissions.
	TagHdr
)

// RawImage is a single raw frame delivered by the device.
type RawImage struct {
	// Timestamp is the device buffer timestamp in nanoseconds. It is the key
	// used to associate burst frames with the burst that requested them.
	Timestamp int64
	Width     int
	Height    int
	Data      []byte
}

// CaptureMetadata is the per-capture result metadata delivered alongside a
// completed capture.
type CaptureMetadata struct {
	Timestamp     int64
	Iso           int32
	ExposureTime  int64 // nanoseconds
	FocusDistance float32
	AfState       DeviceAfState
	AeState       DeviceAeState
}

// PostProcessSettings is an opaque snapshot of postprocessing parameters
// handed through to the buffer manager when a burst is saved. The controller
// never interprets it.
type PostProcessSettings struct {
	Shadows    float32 `yaml:"shadows"`
	Contrast   float32 `yaml:"contrast"`
	Saturation float32 `yaml:"saturation"`
	BlackPoint float32 `yaml:"black_point"`
	WhitePoint float32 `yaml:"white_point"`
	TempOffset float32 `yaml:"temp_offset"`
	TintOffset float32 `yaml:"tint_offset"`
}

// OutputConfig describes a single capture output target.
type OutputConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Format int `yaml:"format"`
}

// SessionOutputs describes the output targets created for a capture session:
// one raw image-reader target and one preview/display target.
type SessionOutputs struct {
	Raw     OutputConfig `yaml:"raw"`
	Preview OutputConfig `yaml:"preview"`

	// MaxBufferedImages bounds the device-side raw image reader queue.
	MaxBufferedImages int `yaml:"max_buffered_images"`

	// RawPreview, when true, means the preview is rendered from raw frames by
	// the image consumer and the display target is not attached to the
	// repeating request.
	RawPreview bool `yaml:"raw_preview"`
}

// StartupConfig carries the 3A bring-up parameters handed to the exposure
// manager when the session starts.
type StartupConfig struct {
	FrameRate       int   `yaml:"frame_rate"`
	UseUserExposure bool  `yaml:"use_user_exposure"`
	UserIso         int32 `yaml:"user_iso"`
	UserExposureNs  int64 `yaml:"user_exposure_ns"`
	FocusForVideo   bool  `yaml:"focus_for_video"`
	OisEnabled      bool  `yaml:"ois_enabled"`
}
