package session

import "sync"

// metadataFilter deduplicates the per-frame metadata stream so downstream
// listeners only observe actual transitions. Every delivery updates the
// internal bookkeeping (the HDR builder reads the last-known exposure and
// focus distance from here); change events are only synthesized when values
// actually moved.
//
// Written from device callback goroutines, read from the worker. The mutex
// makes that hand-off defined; all sections are O(1).
type metadataFilter struct {
	mu sync.Mutex

	lastIso           int32
	lastExposureTime  int64
	lastFocusDistance float32
	lastFocusState    FocusState
	lastExposureState ExposureState
}

func newMetadataFilter() *metadataFilter {
	return &metadataFilter{
		lastFocusState:    FocusInactive,
		lastExposureState: ExposureInactive,
	}
}

// observe folds one metadata delivery into the filter and returns the change
// events to enqueue, in delivery order. The ISO/exposure pair is compared
// jointly: a change in either emits one exposure-status event.
func (f *metadataFilter) observe(md CaptureMetadata) []event {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []event

	// Focus distance is bookkeeping only, updated every frame.
	f.lastFocusDistance = md.FocusDistance

	if md.Iso != f.lastIso || md.ExposureTime != f.lastExposureTime {
		out = append(out, exposureStatusEvent{iso: md.Iso, exposureTime: md.ExposureTime})
		f.lastIso = md.Iso
		f.lastExposureTime = md.ExposureTime
	}

	focusState := FocusStateFrom(md.AfState)
	if focusState != f.lastFocusState {
		out = append(out, autoFocusStateEvent{state: focusState})
	}
	f.lastFocusState = focusState

	exposureState := ExposureStateFrom(md.AeState)
	if exposureState != f.lastExposureState {
		out = append(out, autoExposureStateEvent{state: exposureState})
	}
	f.lastExposureState = exposureState

	return out
}

// exposure returns the last-known (iso, exposure time) pair.
func (f *metadataFilter) exposure() (int32, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastIso, f.lastExposureTime
}

// focusDistance returns the last-known focus distance.
func (f *metadataFilter) focusDistance() float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFocusDistance
}
