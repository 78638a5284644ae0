package session

// demux is the device callback demultiplexer. The backend invokes these
// methods on arbitrary goroutines; each one classifies the notification into
// a typed event and enqueues it, in O(1) and without blocking. The only
// inline work is the metadata change filter, which is a handful of compares.
type demux struct {
	c        *Controller
	consumer ImageConsumer
}

var (
	_ DeviceObserver  = (*demux)(nil)
	_ SessionObserver = (*demux)(nil)
)

func (d *demux) OnDeviceError(code int) {
	d.c.push(cameraErrorEvent{code: code})
}

func (d *demux) OnDeviceDisconnected() {
	d.c.push(cameraDisconnectedEvent{})
}

func (d *demux) OnSessionActive() {
	d.c.push(sessionChangedEvent{state: StateActive})
}

func (d *demux) OnSessionReady() {
	d.c.push(sessionChangedEvent{state: StateReady})
}

func (d *demux) OnSessionClosed() {
	d.c.push(sessionChangedEvent{state: StateClosed})
}

func (d *demux) OnCaptureCompleted(tag CaptureTag, md CaptureMetadata) {
	rawType := RawTypeZSL
	if tag == TagHdr {
		rawType = RawTypeHDR
	}

	d.consumer.QueueMetadata(md, d.c.orientation(), rawType)

	for _, ev := range d.c.filter.observe(md) {
		d.c.push(ev)
	}
}

func (d *demux) OnCaptureSequenceCompleted(tag CaptureTag, sequenceID int32) {
	if tag == TagHdr {
		d.c.push(hdrSequenceDoneEvent{aborted: false})
		return
	}
	d.c.push(sequenceCompletedEvent{sequenceID: sequenceID})
}

func (d *demux) OnCaptureSequenceAborted(tag CaptureTag, sequenceID int32) {
	// Only HDR bursts track sequence aborts; an aborted repeating sequence is
	// followed by a session state notification.
	if tag == TagHdr {
		d.c.push(hdrSequenceDoneEvent{aborted: true})
	}
}

func (d *demux) OnImageAvailable(img RawImage) {
	d.consumer.QueueImage(img)

	if d.c.hdr.longInFlight() {
		d.c.push(attemptSaveEvent{})
	}
}
