package session

import "math"

// RequestTemplate selects the device template a capture request is built from.
type RequestTemplate int

const (
	TemplatePreview RequestTemplate = iota
	TemplateStillCapture
)

// ControlMode selects how the device's 3A block treats a request.
type ControlMode int

const (
	// ControlAuto leaves exposure and focus to the device.
	ControlAuto ControlMode = iota
	// ControlOffKeepState disables 3A for the request while preserving the
	// device's converged state, used for manual-exposure burst frames.
	ControlOffKeepState
)

// CaptureRequest is the device-specific capture descriptor. The fixed quality
// knobs are applied once at build time; the per-burst fields (Sensitivity,
// ExposureTime, FocusDistance, ControlMode) are rewritten in place on the two
// long-lived HDR slots before each submission. Slots are owned exclusively by
// the worker goroutine and never aliased elsewhere.
type CaptureRequest struct {
	Template        RequestTemplate
	IsPreviewOutput bool

	// Fixed quality knobs.
	FastTonemap         bool
	HighQualityShading  bool
	FastColorCorrection bool
	FastNoiseReduction  bool
	FastEdgeEnhance     bool
	AutoAntiBanding     bool
	ShadingMapStats     bool

	// 3A modes for the repeating request.
	AutoExposure     bool
	AutoWhiteBalance bool
	ContinuousAF     bool

	// Per-burst manual fields.
	ControlMode   ControlMode
	Sensitivity   int32
	ExposureTime  int64 // nanoseconds
	FocusDistance float32
}

// newCaptureRequest builds a request against the fixed quality and 3A
// parameters used for every submission in a session.
func newCaptureRequest(tmpl RequestTemplate, previewOutput bool) *CaptureRequest {
	return &CaptureRequest{
		Template:        tmpl,
		IsPreviewOutput: previewOutput,

		FastTonemap:         true,
		HighQualityShading:  true,
		FastColorCorrection: true,
		FastNoiseReduction:  true,
		FastEdgeEnhance:     true,
		AutoAntiBanding:     true,
		ShadingMapStats:     true,

		AutoExposure:     true,
		AutoWhiteBalance: true,
		ContinuousAF:     true,

		ControlMode: ControlAuto,
	}
}

// requestSet holds the session's long-lived request objects: the repeating
// preview request and the two alternating HDR exposure slots.
type requestSet struct {
	repeating *CaptureRequest

	// hdr[0] carries the base exposure, hdr[1] the alternate (under)exposure.
	// Mutated in place between bursts; never reallocated mid-burst.
	hdr [2]*CaptureRequest
}

func newRequestSet() *requestSet {
	return &requestSet{
		repeating: newCaptureRequest(TemplatePreview, true),
		hdr: [2]*CaptureRequest{
			newCaptureRequest(TemplateStillCapture, false),
			newCaptureRequest(TemplateStillCapture, false),
		},
	}
}

func clamp(x, min, max float32) float32 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}

// generateTonemapCurve produces the interleaved (x, y) control points for the
// preview tonemap: shadow lift, sRGB-style gamma, sigmoid contrast, then
// black/white point remap.
func generateTonemapCurve(shadows, contrast, blackPoint, whitePoint float32, pts int) []float32 {
	out := make([]float32, 0, 2*pts)

	for i := 0; i < pts; i++ {
		x := float32(i) / float32(pts)

		in := shadows * x

		// Tonemap
		a := (in * (1.0 + x/(shadows*shadows))) / (1.0 + in)

		// Gamma
		var b float32
		if a < 0.0031308 {
			b = a * 12.92
		} else {
			b = float32(math.Pow(float64(a), 1.0/2.4))*1.055 - 0.055
		}

		// Contrast
		c := clamp(contrast, 0.0, 1.0) + 1.0
		s := b / float32(math.Max(1e-5, float64(1.0-b)))
		y := 1.0 / (1.0 + float32(math.Pow(math.Max(1e-5, float64(s)), float64(-c))))

		// Black/white point
		u := clamp(y-blackPoint, 0.0, 1.0) * (1.0 / (1.0 - blackPoint + 1e-5))

		out = append(out, x, u/whitePoint)
	}

	return out
}
