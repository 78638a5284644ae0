package camsession

import "github.com/visiona/camsession/internal/session"

// Re-exported domain types. The implementation lives in internal/session;
// these aliases are the public surface.

type (
	SessionState  = session.SessionState
	FocusState    = session.FocusState
	ExposureState = session.ExposureState
	DeviceAfState = session.DeviceAfState
	DeviceAeState = session.DeviceAeState

	ScreenOrientation = session.ScreenOrientation
	RawType           = session.RawType
	CaptureTag        = session.CaptureTag

	RawImage            = session.RawImage
	CaptureMetadata     = session.CaptureMetadata
	PostProcessSettings = session.PostProcessSettings

	OutputConfig   = session.OutputConfig
	SessionOutputs = session.SessionOutputs
	StartupConfig  = session.StartupConfig

	CaptureRequest  = session.CaptureRequest
	RequestTemplate = session.RequestTemplate

	OpenConfig = session.OpenConfig

	DeviceObserver  = session.DeviceObserver
	SessionObserver = session.SessionObserver
	DeviceBackend   = session.DeviceBackend
	Device          = session.Device
	CaptureSession  = session.CaptureSession
	ImageConsumer   = session.ImageConsumer
	BufferManager   = session.BufferManager
	ExposureManager = session.ExposureManager
	Listener        = session.Listener

	DeviceError = session.DeviceError
)

const (
	StateClosed  = session.StateClosed
	StateOpening = session.StateOpening
	StateReady   = session.StateReady
	StateActive  = session.StateActive
	StateClosing = session.StateClosing
)

const (
	FocusInactive         = session.FocusInactive
	FocusPassiveScan      = session.FocusPassiveScan
	FocusPassiveFocused   = session.FocusPassiveFocused
	FocusActiveScan       = session.FocusActiveScan
	FocusLocked           = session.FocusLocked
	FocusNotLocked        = session.FocusNotLocked
	FocusPassiveUnfocused = session.FocusPassiveUnfocused
)

const (
	ExposureInactive      = session.ExposureInactive
	ExposureSearching     = session.ExposureSearching
	ExposureConverged     = session.ExposureConverged
	ExposureLocked        = session.ExposureLocked
	ExposureFlashRequired = session.ExposureFlashRequired
	ExposurePrecapture    = session.ExposurePrecapture
)

const (
	DeviceAfInactive         = session.DeviceAfInactive
	DeviceAfPassiveScan      = session.DeviceAfPassiveScan
	DeviceAfPassiveFocused   = session.DeviceAfPassiveFocused
	DeviceAfActiveScan       = session.DeviceAfActiveScan
	DeviceAfFocusedLocked    = session.DeviceAfFocusedLocked
	DeviceAfNotFocusedLocked = session.DeviceAfNotFocusedLocked
	DeviceAfPassiveUnfocused = session.DeviceAfPassiveUnfocused
)

const (
	DeviceAeInactive      = session.DeviceAeInactive
	DeviceAeSearching     = session.DeviceAeSearching
	DeviceAeConverged     = session.DeviceAeConverged
	DeviceAeLocked        = session.DeviceAeLocked
	DeviceAeFlashRequired = session.DeviceAeFlashRequired
	DeviceAePrecapture    = session.DeviceAePrecapture
)

const (
	OrientationPortrait         = session.OrientationPortrait
	OrientationReversePortrait  = session.OrientationReversePortrait
	OrientationLandscape        = session.OrientationLandscape
	OrientationReverseLandscape = session.OrientationReverseLandscape
)

const (
	RawTypeZSL = session.RawTypeZSL
	RawTypeHDR = session.RawTypeHDR
)

const (
	TagRepeat = session.TagRepeat
	TagHdr    = session.TagHdr
)

const (
	TemplatePreview      = session.TemplatePreview
	TemplateStillCapture = session.TemplateStillCapture
)

var (
	ErrAlreadyOpen   = session.ErrAlreadyOpen
	ErrInvalidConfig = session.ErrInvalidConfig
)
