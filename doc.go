// Package camsession drives a raw-capable camera device through its full
// lifecycle: open, preview, manual and automatic 3A control, exposure-fusion
// bursts and teardown.
//
// The package is built around a single-worker event loop. Every application
// call and every device notification becomes a typed event on one FIFO queue;
// one goroutine drains the queue and is the only code that touches the device
// handles or the session state. Callers never block on the device and results
// surface asynchronously through a Listener.
//
// Typical use:
//
//	sess := camsession.New()
//	err := sess.Open(camsession.OpenConfig{
//	    DeviceID: "0",
//	    Backend:  backend,
//	    Consumer: pool,
//	    Buffers:  pool,
//	    Exposure: exposure,
//	    Listener: listener,
//	    Outputs: camsession.SessionOutputs{
//	        Raw:     camsession.OutputConfig{Width: 4032, Height: 3024},
//	        Preview: camsession.OutputConfig{Width: 1920, Height: 1080},
//	    },
//	})
//	...
//	sess.CaptureHdr(4, 100, 10_000_000, 50, 2_500_000, settings, "/sdcard/bursts")
//	...
//	sess.Close()
//
// Open returns once the worker is running; the listener's OnStarted fires when
// the device is actually streaming. Close blocks until the device is released.
package camsession
