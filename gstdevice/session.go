package gstdevice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	camsession "github.com/visiona/camsession"
)

// aeConvergeFrames is how many frames the synthesized auto-exposure state
// reports searching before converging.
const aeConvergeFrames = 8

// errCodePipeline is the device error code reported for pipeline failures.
const errCodePipeline = 1

// burst tracks one submitted still-capture batch. Frames delivered while a
// burst is pending are attributed to it until its request count is met.
type burst struct {
	seq       int32
	remaining int
	reqs      []camsession.CaptureRequest // snapshot, index order
	next      int
}

// captureSession is one running pipeline on an open device.
type captureSession struct {
	deviceObs  camsession.DeviceObserver
	sessionObs camsession.SessionObserver

	outputs  camsession.SessionOutputs
	elements *pipelineElements

	cancel context.CancelFunc
	wg     sync.WaitGroup

	frameSeq   atomic.Uint64
	sequenceID atomic.Int32

	mu        sync.Mutex
	repeating camsession.CaptureRequest // snapshot of the active repeating request
	pending   *burst
	closed    bool
}

var _ camsession.CaptureSession = (*captureSession)(nil)

func newCaptureSession(
	devicePath string,
	outputs camsession.SessionOutputs,
	deviceObs camsession.DeviceObserver,
	sessionObs camsession.SessionObserver,
) (*captureSession, error) {
	elements, err := buildPipeline(devicePath, outputs)
	if err != nil {
		return nil, fmt.Errorf("gstdevice: build pipeline: %w", err)
	}

	s := &captureSession{
		deviceObs:  deviceObs,
		sessionObs: sessionObs,
		outputs:    outputs,
		elements:   elements,
	}

	elements.rawSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onRawSample,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.monitorBus(ctx)

	if err := elements.pipeline.SetState(gst.StatePlaying); err != nil {
		cancel()
		s.wg.Wait()
		_ = destroyPipeline(elements)
		return nil, fmt.Errorf("gstdevice: start pipeline: %w", err)
	}

	slog.Info("gstdevice: capture session created", "device", devicePath)
	return s, nil
}

// SetRepeating applies req as the continuous preview request. Control changes
// are pushed to the source element; the snapshot feeds metadata synthesis.
func (s *captureSession) SetRepeating(req *camsession.CaptureRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("gstdevice: capture session is closed")
	}

	s.repeating = *req
	s.applyControls(req)
	return nil
}

// Capture submits a still burst. Each request's values are snapshotted at
// submission time; the caller is free to mutate the request objects after
// Capture returns.
func (s *captureSession) Capture(reqs []*camsession.CaptureRequest) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("gstdevice: capture session is closed")
	}
	if len(reqs) == 0 {
		return 0, fmt.Errorf("gstdevice: empty capture batch")
	}
	if s.pending != nil {
		return 0, fmt.Errorf("gstdevice: capture batch already pending")
	}

	snapshot := make([]camsession.CaptureRequest, len(reqs))
	for i, r := range reqs {
		snapshot[i] = *r
	}

	seq := s.sequenceID.Add(1)
	s.pending = &burst{seq: seq, remaining: len(reqs), reqs: snapshot}

	// Drive the source with the first request's exposure; per-frame control
	// changes are below v4l2's granularity.
	s.applyControls(reqs[0])

	slog.Debug("gstdevice: capture batch submitted", "sequence_id", seq, "requests", len(reqs))
	return seq, nil
}

// AbortCaptures drops the pending burst, if any, and reports the abort.
func (s *captureSession) AbortCaptures() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil
	}

	if pending != nil {
		slog.Debug("gstdevice: capture batch aborted", "sequence_id", pending.seq)
		s.sessionObs.OnCaptureSequenceAborted(camsession.TagHdr, pending.seq)
	}
	return nil
}

// Close stops the pipeline and the bus monitor. Idempotent.
func (s *captureSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	err := destroyPipeline(s.elements)

	// The NULL transition does not surface on the bus once the monitor is
	// gone, so the closed notification is delivered directly.
	s.sessionObs.OnSessionClosed()

	slog.Info("gstdevice: capture session closed")
	return err
}

// applyControls pushes a request's manual exposure onto the source element.
// Caller holds s.mu.
func (s *captureSession) applyControls(req *camsession.CaptureRequest) {
	// v4l2 exposes exposure as 100µs units through extra-controls.
	if req.ControlMode == camsession.ControlOffKeepState && req.Sensitivity > 0 && req.ExposureTime > 0 {
		controls := gst.NewStructureFromString(fmt.Sprintf(
			"controls,auto_exposure=1,exposure_time_absolute=%d,analogue_gain=%d",
			req.ExposureTime/100_000, req.Sensitivity))
		s.elements.source.SetProperty("extra-controls", controls)
		return
	}

	controls := gst.NewStructureFromString("controls,auto_exposure=3")
	s.elements.source.SetProperty("extra-controls", controls)
}

// onRawSample is invoked by GStreamer for every frame reaching the raw
// appsink. It copies the buffer out, attributes it to the pending burst or
// the repeating stream, and fans out image and metadata callbacks.
func (s *captureSession) onRawSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single bad frame must not kill the stream.
		slog.Warn("gstdevice: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstdevice: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstdevice: empty buffer received")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	timestamp := time.Now().UnixNano()

	seq := s.frameSeq.Add(1)

	tag, req, done, burstSeq := s.attribute()

	md := s.synthesizeMetadata(timestamp, seq, req)

	width, height := s.rawDimensions()

	s.sessionObs.OnCaptureCompleted(tag, md)
	s.sessionObs.OnImageAvailable(camsession.RawImage{
		Timestamp: timestamp,
		Width:     width,
		Height:    height,
		Data:      frameData,
	})

	if done {
		s.sessionObs.OnCaptureSequenceCompleted(camsession.TagHdr, burstSeq)
	}

	return gst.FlowOK
}

// attribute assigns the next frame to the pending burst or the repeating
// stream and reports whether the burst just finished.
func (s *captureSession) attribute() (tag camsession.CaptureTag, req camsession.CaptureRequest, done bool, seq int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return camsession.TagRepeat, s.repeating, false, 0
	}

	b := s.pending
	req = b.reqs[b.next]
	if b.next < len(b.reqs)-1 {
		b.next++
	}
	b.remaining--

	if b.remaining == 0 {
		s.pending = nil
		return camsession.TagHdr, req, true, b.seq
	}
	return camsession.TagHdr, req, false, b.seq
}

// synthesizeMetadata builds per-frame result metadata. v4l2 does not report
// 3A state, so it is derived: manual requests report locked values, auto
// requests converge after a warm-up window.
func (s *captureSession) synthesizeMetadata(timestamp int64, seq uint64, req camsession.CaptureRequest) camsession.CaptureMetadata {
	md := camsession.CaptureMetadata{
		Timestamp:     timestamp,
		FocusDistance: req.FocusDistance,
	}

	if req.ControlMode == camsession.ControlOffKeepState {
		md.Iso = req.Sensitivity
		md.ExposureTime = req.ExposureTime
		md.AeState = camsession.DeviceAeLocked
		md.AfState = camsession.DeviceAfFocusedLocked
		return md
	}

	// Auto path: nominal exposure, converging after warm-up.
	md.Iso = 100
	md.ExposureTime = 10_000_000
	if seq < aeConvergeFrames {
		md.AeState = camsession.DeviceAeSearching
		md.AfState = camsession.DeviceAfPassiveScan
	} else {
		md.AeState = camsession.DeviceAeConverged
		md.AfState = camsession.DeviceAfPassiveFocused
	}
	return md
}

// rawDimensions reads the negotiated raw caps, falling back to the configured
// output size until negotiation completes.
func (s *captureSession) rawDimensions() (width, height int) {
	width, height = s.outputs.Raw.Width, s.outputs.Raw.Height

	pad := s.elements.rawSink.Element.GetStaticPad("sink")
	if pad == nil {
		return width, height
	}
	caps := pad.GetCurrentCaps()
	if caps == nil || caps.GetSize() == 0 {
		return width, height
	}

	st := caps.GetStructureAt(0)
	if val, err := st.GetValue("width"); err == nil {
		if w, ok := val.(int); ok {
			width = w
		}
	}
	if val, err := st.GetValue("height"); err == nil {
		if h, ok := val.(int); ok {
			height = h
		}
	}
	return width, height
}

// monitorBus polls the pipeline bus and converts messages into device and
// session notifications.
func (s *captureSession) monitorBus(ctx context.Context) {
	defer s.wg.Done()

	bus := s.elements.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstdevice: bus monitor stopping")
			return

		default:
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				slog.Info("gstdevice: end of stream received")
				s.deviceObs.OnDeviceDisconnected()
				return

			case gst.MessageError:
				gerr := msg.ParseError()
				slog.Error("gstdevice: pipeline error",
					"error", gerr.Error(), "debug", gerr.DebugString())
				s.deviceObs.OnDeviceError(errCodePipeline)
				return

			case gst.MessageStateChanged:
				if msg.Source() != s.elements.pipeline.GetName() {
					continue
				}
				_, newState := msg.ParseStateChanged()
				slog.Debug("gstdevice: pipeline state changed", "to", newState)

				switch newState {
				case gst.StatePaused:
					s.sessionObs.OnSessionReady()
				case gst.StatePlaying:
					s.sessionObs.OnSessionActive()
				}
			}
		}
	}
}
