package session

import (
	"sync"
	"time"
)

// Fake collaborators. All record their calls under a mutex so tests can
// assert from the test goroutine while the worker runs.

type fakeBackend struct {
	mu      sync.Mutex
	openErr error
	device  *fakeDevice
	opens   int
}

func (b *fakeBackend) Open(deviceID string, obs DeviceObserver) (Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.opens++
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.device.obs = obs
	return b.device, nil
}

type fakeDevice struct {
	mu        sync.Mutex
	id        string
	afRegions int
	createErr error
	capture   *fakeCapture
	obs       DeviceObserver
	sessObs   SessionObserver
	closes    int
}

func (d *fakeDevice) ID() string { return d.id }

func (d *fakeDevice) CreateSession(outputs SessionOutputs, obs SessionObserver) (CaptureSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.createErr != nil {
		return nil, d.createErr
	}
	d.sessObs = obs
	return d.capture, nil
}

func (d *fakeDevice) AFRegions() int { return d.afRegions }

func (d *fakeDevice) ExposureCompensationRange() (int, int) { return -24, 24 }

func (d *fakeDevice) TonemapCurvePoints() int { return 32 }

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDevice) closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes > 0
}

type fakeCapture struct {
	mu         sync.Mutex
	captureErr error
	repeating  []CaptureRequest
	bursts     [][]CaptureRequest
	aborts     int
	closes     int
	seq        int32
}

func (c *fakeCapture) SetRepeating(req *CaptureRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repeating = append(c.repeating, *req)
	return nil
}

func (c *fakeCapture) Capture(reqs []*CaptureRequest) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.captureErr != nil {
		return 0, c.captureErr
	}

	snapshot := make([]CaptureRequest, len(reqs))
	for i, r := range reqs {
		snapshot[i] = *r
	}
	c.bursts = append(c.bursts, snapshot)
	c.seq++
	return c.seq, nil
}

func (c *fakeCapture) AbortCaptures() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborts++
	return nil
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeCapture) burstCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bursts)
}

func (c *fakeCapture) burst(i int) []CaptureRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bursts[i]
}

type fakeConsumer struct {
	mu       sync.Mutex
	starts   int
	stops    int
	grown    uint64
	images   []RawImage
	metadata []CaptureMetadata
}

func (f *fakeConsumer) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func (f *fakeConsumer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeConsumer) QueueImage(img RawImage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, img)
}

func (f *fakeConsumer) QueueMetadata(md CaptureMetadata, _ ScreenOrientation, _ RawType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata = append(f.metadata, md)
}

func (f *fakeConsumer) EnableRawPreview(int) {}
func (f *fakeConsumer) DisableRawPreview()   {}

func (f *fakeConsumer) Grow(bytes uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grown = bytes
}

func (f *fakeConsumer) EstimatedSettings() PostProcessSettings {
	return PostProcessSettings{Shadows: 2}
}

func (f *fakeConsumer) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeBuffers struct {
	mu     sync.Mutex
	latest int64
	count  int
	saves  []saveCall
	err    error
}

type saveCall struct {
	count      int
	ref        int64
	settings   PostProcessSettings
	outputPath string
}

func (b *fakeBuffers) LatestTimestamp() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

func (b *fakeBuffers) CountSince(ref int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *fakeBuffers) SaveBurst(count int, ref int64, settings PostProcessSettings, outputPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return b.err
	}
	b.saves = append(b.saves, saveCall{count: count, ref: ref, settings: settings, outputPath: outputPath})
	return nil
}

func (b *fakeBuffers) setCount(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count = n
}

func (b *fakeBuffers) saveCalls() []saveCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]saveCall(nil), b.saves...)
}

type fakeExposure struct {
	mu        sync.Mutex
	calls     []string
	compSteps []int
	lastCurve []float32
}

func (f *fakeExposure) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeExposure) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExposure) has(name string) bool {
	for _, c := range f.recorded() {
		if c == name {
			return true
		}
	}
	return false
}

func (f *fakeExposure) Start(CaptureSession, *CaptureRequest, StartupConfig) error {
	f.record("start")
	return nil
}

func (f *fakeExposure) RequestPause()                      { f.record("pause") }
func (f *fakeExposure) RequestResume()                     { f.record("resume") }
func (f *fakeExposure) RequestAutoExposure()               { f.record("auto-exposure") }
func (f *fakeExposure) RequestUserExposure(int32, int64)   { f.record("user-exposure") }
func (f *fakeExposure) RequestFrameRate(int)               { f.record("frame-rate") }
func (f *fakeExposure) RequestAwbLock(bool)                { f.record("awb-lock") }
func (f *fakeExposure) RequestAeLock(bool)                 { f.record("ae-lock") }
func (f *fakeExposure) RequestOis(bool)                    { f.record("ois") }
func (f *fakeExposure) RequestAperture(float32)            { f.record("aperture") }
func (f *fakeExposure) RequestManualFocus(float32)         { f.record("manual-focus") }
func (f *fakeExposure) RequestFocusForVideo(bool)          { f.record("focus-for-video") }
func (f *fakeExposure) RequestAutoFocus()                  { f.record("auto-focus") }
func (f *fakeExposure) RequestUserFocus(float64, float64)  { f.record("user-focus") }
func (f *fakeExposure) Activate()                          { f.record("activate") }
func (f *fakeExposure) OnSessionStateChanged(SessionState) { f.record("session-changed") }
func (f *fakeExposure) OnSequenceCompleted(int32)          { f.record("sequence-completed") }

func (f *fakeExposure) RequestExposureCompensation(steps int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "exposure-compensation")
	f.compSteps = append(f.compSteps, steps)
}

func (f *fakeExposure) compensationSteps() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.compSteps...)
}

func (f *fakeExposure) RequestUpdatePreview(curve []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "update-preview")
	f.lastCurve = append([]float32(nil), curve...)
}

func (f *fakeExposure) curve() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float32(nil), f.lastCurve...)
}

// recListener records listener callbacks and mirrors each onto a channel so
// tests can wait for asynchronous delivery.
type recListener struct {
	mu       sync.Mutex
	errs     []error
	states   []SessionState
	progress []float32

	ch chan string
}

func newRecListener() *recListener {
	return &recListener{ch: make(chan string, 128)}
}

func (l *recListener) emit(name string) {
	select {
	case l.ch <- name:
	default:
	}
}

func (l *recListener) OnStarted()      { l.emit("started") }
func (l *recListener) OnDisconnected() { l.emit("disconnected") }

func (l *recListener) OnError(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
	l.emit("error")
}

func (l *recListener) OnStateChanged(state SessionState) {
	l.mu.Lock()
	l.states = append(l.states, state)
	l.mu.Unlock()
	l.emit("state:" + state.String())
}

func (l *recListener) OnExposureStatus(int32, int64)               { l.emit("exposure-status") }
func (l *recListener) OnAutoFocusStateChanged(FocusState, float32) { l.emit("focus-state") }
func (l *recListener) OnAutoExposureStateChanged(ExposureState)    { l.emit("exposure-state") }

func (l *recListener) OnHdrProgress(percent float32) {
	l.mu.Lock()
	l.progress = append(l.progress, percent)
	l.mu.Unlock()
	l.emit("hdr-progress")
}

func (l *recListener) OnHdrCompleted() { l.emit("hdr-completed") }
func (l *recListener) OnHdrFailed()    { l.emit("hdr-failed") }

func (l *recListener) errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func (l *recListener) progressValues() []float32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float32(nil), l.progress...)
}

// waitFor blocks until the listener emits name or the timeout expires.
func (l *recListener) waitFor(name string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case got := <-l.ch:
			if got == name {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
