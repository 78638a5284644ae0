package session

import (
	"sync"
	"testing"
	"time"
)

func hdrRig() (*Controller, *fakeCapture, *fakeBuffers, *recListener) {
	capture := &fakeCapture{}
	buffers := &fakeBuffers{latest: 1000}
	listener := newRecListener()

	c := &Controller{
		filter:   newMetadataFilter(),
		hdr:      newHdrSequencer(),
		listener: listener,
		buffers:  buffers,
		capture:  capture,
		requests: newRequestSet(),
		state:    StateActive,
	}
	c.queue = newEventQueue()
	return c, capture, buffers, listener
}

func TestCaptureHdrBuildsBurst(t *testing.T) {
	c, capture, _, _ := hdrRig()

	// Last-known focus distance pins the burst.
	c.filter.observe(CaptureMetadata{FocusDistance: 1.5})

	if !c.hdr.begin(true, PostProcessSettings{Shadows: 2}, "/out") {
		t.Fatal("begin rejected on idle sequencer")
	}

	err := c.doCaptureHdr(captureHdrEvent{
		numImages: 3,
		baseIso:   100, baseExposure: 10_000_000,
		hdrIso: 50, hdrExposure: 2_500_000,
	})
	if err != nil {
		t.Fatalf("doCaptureHdr failed: %v", err)
	}

	if capture.burstCount() != 1 {
		t.Fatalf("Expected 1 burst submission, got %d", capture.burstCount())
	}

	reqs := capture.burst(0)
	if len(reqs) != 4 {
		t.Fatalf("Expected numImages+1 = 4 requests, got %d", len(reqs))
	}

	for i, req := range reqs {
		wantIso, wantExp := int32(100), int64(10_000_000)
		if i == 1 {
			// The second frame is the deliberately underexposed one.
			wantIso, wantExp = 50, 2_500_000
		}
		if req.Sensitivity != wantIso || req.ExposureTime != wantExp {
			t.Errorf("request %d: got (iso=%d, exp=%d), want (%d, %d)",
				i, req.Sensitivity, req.ExposureTime, wantIso, wantExp)
		}
		if req.FocusDistance != 1.5 {
			t.Errorf("request %d: focus not pinned, got %f", i, req.FocusDistance)
		}
		if req.ControlMode != ControlOffKeepState {
			t.Errorf("request %d: expected manual control mode", i)
		}
	}

	if c.hdr.requested != 4 {
		t.Errorf("Expected 4 requested frames, got %d", c.hdr.requested)
	}
	if c.hdr.refTimestamp != 1000 {
		t.Errorf("Expected reference timestamp 1000, got %d", c.hdr.refTimestamp)
	}
}

func TestPrecaptureUsesLastKnownExposure(t *testing.T) {
	c, capture, _, _ := hdrRig()

	c.filter.observe(CaptureMetadata{Iso: 320, ExposureTime: 8_000_000})

	if !c.hdr.begin(false, PostProcessSettings{}, "") {
		t.Fatal("begin rejected on idle sequencer")
	}

	if err := c.doPrecaptureHdr(precaptureHdrEvent{iso: 64, exposureTime: 1_000_000}); err != nil {
		t.Fatalf("doPrecaptureHdr failed: %v", err)
	}

	reqs := capture.burst(0)
	if len(reqs) != 2 {
		t.Fatalf("Expected 2 precapture requests, got %d", len(reqs))
	}
	if reqs[0].Sensitivity != 64 || reqs[0].ExposureTime != 1_000_000 {
		t.Errorf("slot 0 not at requested exposure: iso=%d exp=%d", reqs[0].Sensitivity, reqs[0].ExposureTime)
	}
	if reqs[1].Sensitivity != 320 || reqs[1].ExposureTime != 8_000_000 {
		t.Errorf("slot 1 not at last-known exposure: iso=%d exp=%d", reqs[1].Sensitivity, reqs[1].ExposureTime)
	}
}

func TestPrecaptureRejectsUnsetExposure(t *testing.T) {
	c, capture, _, _ := hdrRig()

	c.hdr.begin(false, PostProcessSettings{}, "")

	if err := c.doPrecaptureHdr(precaptureHdrEvent{iso: -1, exposureTime: -1}); err != nil {
		t.Fatalf("doPrecaptureHdr returned error: %v", err)
	}

	if capture.burstCount() != 0 {
		t.Error("Invalid precapture must not reach the device")
	}
	if c.hdr.current() != burstIdle {
		t.Errorf("Sequencer must reset after rejected parameters, state %s", c.hdr.current())
	}

	// A new burst is immediately acceptable.
	if !c.hdr.begin(true, PostProcessSettings{}, "/out") {
		t.Error("Sequencer stuck after rejected precapture")
	}
}

func TestBurstRejectedWhileDeviceBusy(t *testing.T) {
	h := newHdrSequencer()

	if !h.begin(true, PostProcessSettings{}, "/a") {
		t.Fatal("first begin rejected")
	}
	if h.begin(true, PostProcessSettings{}, "/b") {
		t.Error("begin must reject while the device works the sequence")
	}

	// Device finished the sequence; frames may still be owed, but a new burst
	// is allowed.
	h.sequenceDone(false)
	if h.current() != burstAwaitingBuffers {
		t.Fatalf("expected awaiting-buffers, got %s", h.current())
	}
	if !h.begin(true, PostProcessSettings{}, "/c") {
		t.Error("begin must accept once the device sequence is done")
	}
}

func TestAttemptSaveReportsProgress(t *testing.T) {
	c, _, buffers, listener := hdrRig()

	c.hdr.begin(true, PostProcessSettings{}, "/out")
	c.hdr.submitted(4, 1000)

	buffers.setCount(2)
	if err := c.doAttemptSave(); err != nil {
		t.Fatalf("doAttemptSave failed: %v", err)
	}

	if !listener.waitFor("hdr-progress", time.Second) {
		t.Fatal("Expected progress callback")
	}
	if got := listener.progressValues(); len(got) != 1 || got[0] != 50 {
		t.Errorf("Expected progress [50], got %v", got)
	}
}

func TestAttemptSaveCompletes(t *testing.T) {
	c, _, buffers, listener := hdrRig()

	c.hdr.begin(true, PostProcessSettings{Shadows: 2}, "/out")
	c.hdr.submitted(4, 1000)

	buffers.setCount(4)
	if err := c.doAttemptSave(); err != nil {
		t.Fatalf("doAttemptSave failed: %v", err)
	}

	if !listener.waitFor("hdr-completed", time.Second) {
		t.Fatal("Expected completion callback")
	}

	saves := buffers.saveCalls()
	if len(saves) != 1 {
		t.Fatalf("Expected 1 save, got %d", len(saves))
	}
	if saves[0].count != 4 || saves[0].ref != 1000 || saves[0].outputPath != "/out" {
		t.Errorf("Unexpected save call: %+v", saves[0])
	}
	if saves[0].settings.Shadows != 2 {
		t.Errorf("Settings not threaded through, got %+v", saves[0].settings)
	}

	if got := listener.progressValues(); len(got) != 1 || got[0] != 100 {
		t.Errorf("Expected final progress [100], got %v", got)
	}
	if c.hdr.current() != burstCompleted {
		t.Errorf("Expected completed, got %s", c.hdr.current())
	}
	if c.hdr.longInFlight() {
		t.Error("Long-burst latch must clear on completion")
	}
}

func TestAttemptSaveFailsOnceAfterTimeout(t *testing.T) {
	c, _, buffers, listener := hdrRig()
	c.hdr.failTimeout = time.Millisecond

	c.hdr.begin(true, PostProcessSettings{}, "/out")
	c.hdr.submitted(4, 1000)
	c.hdr.sequenceDone(false)

	buffers.setCount(1)
	time.Sleep(5 * time.Millisecond)

	if err := c.doAttemptSave(); err != nil {
		t.Fatalf("doAttemptSave failed: %v", err)
	}
	if !listener.waitFor("hdr-failed", time.Second) {
		t.Fatal("Expected failure callback")
	}
	if c.hdr.current() != burstFailed {
		t.Errorf("Expected failed, got %s", c.hdr.current())
	}

	// Further frames must not re-report the failure.
	if err := c.doAttemptSave(); err != nil {
		t.Fatalf("second doAttemptSave failed: %v", err)
	}
	select {
	case name := <-listener.ch:
		t.Errorf("Resolved burst emitted %q", name)
	default:
	}

	// A failed burst does not block the next one.
	if !c.hdr.begin(true, PostProcessSettings{}, "/out2") {
		t.Error("Sequencer stuck after failed burst")
	}
}

func TestSaveWaitsForBurstFrames(t *testing.T) {
	c, _, buffers, _ := hdrRig()

	c.hdr.begin(false, PostProcessSettings{}, "/out")
	c.hdr.submitted(1, 1000)

	// Burst frame not delivered yet: the save re-queues itself after the
	// retry interval.
	buffers.setCount(0)
	if err := c.doSave(saveEvent{numImages: 2}); err != nil {
		t.Fatalf("doSave failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for c.queue.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for re-queued save event")
		}
		time.Sleep(time.Millisecond)
	}
	if len(buffers.saveCalls()) != 0 {
		t.Fatal("Save must not run before the burst frame arrives")
	}

	// Frame arrived: save proceeds with ZSL frames plus the burst frames.
	buffers.setCount(1)
	if err := c.doSave(saveEvent{numImages: 2}); err != nil {
		t.Fatalf("doSave failed: %v", err)
	}

	saves := buffers.saveCalls()
	if len(saves) != 1 {
		t.Fatalf("Expected 1 save, got %d", len(saves))
	}
	if saves[0].count != 3 { // numImages + requested
		t.Errorf("Expected count 3, got %d", saves[0].count)
	}
}

func TestSaveStopsWaitingAfterGrace(t *testing.T) {
	c, _, buffers, listener := hdrRig()
	c.hdr.saveGrace = time.Millisecond

	c.hdr.begin(false, PostProcessSettings{}, "/out")
	c.hdr.submitted(1, 1000)
	c.hdr.sequenceDone(false)

	buffers.setCount(0)
	time.Sleep(5 * time.Millisecond)

	if err := c.doSave(saveEvent{numImages: 2}); err != nil {
		t.Fatalf("doSave failed: %v", err)
	}

	if !listener.waitFor("hdr-completed", time.Second) {
		t.Fatal("Expected completion after grace period")
	}
	if c.queue.Len() != 0 {
		t.Error("Save must not re-queue once the grace period has passed")
	}
	if len(buffers.saveCalls()) != 1 {
		t.Fatalf("Expected 1 save, got %d", len(buffers.saveCalls()))
	}
}

// TestBurstAcceptanceDuringSaveDrain drives burst acceptance from a second
// goroutine while the worker handlers drain stale save events, as happens when
// a new burst begins from awaiting-buffers. Exercised under the race detector.
func TestBurstAcceptanceDuringSaveDrain(t *testing.T) {
	c, _, buffers, _ := hdrRig()
	buffers.setCount(0)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				c.hdr.begin(true, PostProcessSettings{}, "/out")
			}
		}
	}()

	for i := 0; i < 500; i++ {
		c.hdr.submitted(2, 1000)
		c.hdr.sequenceDone(false)
		if err := c.doAttemptSave(); err != nil {
			t.Fatalf("doAttemptSave failed: %v", err)
		}
		if err := c.doSave(saveEvent{numImages: 1}); err != nil {
			t.Fatalf("doSave failed: %v", err)
		}
	}

	close(stop)
	wg.Wait()
}

func TestControllerRejectsConcurrentBursts(t *testing.T) {
	backend, _, capture, consumer, buffers, exposure, listener := testRig()
	c := NewController()

	if err := c.Open(testOpenConfig(backend, consumer, buffers, exposure, listener)); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()

	if !listener.waitFor("started", time.Second) {
		t.Fatal("Timeout waiting for OnStarted")
	}

	c.CaptureHdr(2, 100, 10_000_000, 50, 2_500_000, PostProcessSettings{}, "/a")
	c.CaptureHdr(2, 100, 10_000_000, 50, 2_500_000, PostProcessSettings{}, "/b")

	deadline := time.Now().Add(time.Second)
	for capture.burstCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for burst submission")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Settle, then verify the second request never produced a submission.
	time.Sleep(50 * time.Millisecond)
	if got := capture.burstCount(); got != 1 {
		t.Errorf("Expected 1 burst, got %d", got)
	}
}

func TestControllerRejectsInvalidBurstSize(t *testing.T) {
	c, capture, _, _ := hdrRig()

	// Public entry validates before enqueueing anything.
	c.CaptureHdr(0, 100, 1000, 50, 500, PostProcessSettings{}, "/out")

	if c.queue.Len() != 0 {
		t.Error("Invalid burst must not enqueue")
	}
	if capture.burstCount() != 0 {
		t.Error("Invalid burst must not reach the device")
	}
	if c.hdr.current() != burstIdle {
		t.Errorf("Sequencer must stay idle, got %s", c.hdr.current())
	}
}
