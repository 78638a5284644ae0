package gstdevice

import (
	"fmt"
	"log/slog"
	"sync"

	camsession "github.com/visiona/camsession"
)

// Capability defaults reported for v4l2 sources. The v4l2 control API does
// not expose these uniformly, so the backend reports conservative values that
// can be overridden per backend instance.
const (
	defaultAFRegions          = 1
	defaultExpCompMin         = -24
	defaultExpCompMax         = 24
	defaultTonemapCurvePoints = 64
)

// Backend opens v4l2 devices through GStreamer. The zero value is usable.
type Backend struct {
	// AFRegions overrides the reported auto-focus region count when non-nil.
	AFRegions *int
}

var _ camsession.DeviceBackend = (*Backend)(nil)

// NewBackend returns a backend with default capability reporting.
func NewBackend() *Backend {
	return &Backend{}
}

// Open acquires a device handle. The device identifier is either a bare index
// ("0" → /dev/video0) or a full device path.
func (b *Backend) Open(deviceID string, obs camsession.DeviceObserver) (camsession.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("gstdevice: empty device id")
	}

	path := deviceID
	if path[0] != '/' {
		path = "/dev/video" + deviceID
	}

	afRegions := defaultAFRegions
	if b.AFRegions != nil {
		afRegions = *b.AFRegions
	}

	slog.Info("gstdevice: device opened", "device_id", deviceID, "path", path)

	return &device{
		id:        deviceID,
		path:      path,
		obs:       obs,
		afRegions: afRegions,
	}, nil
}

// device is an exclusively owned handle on one video source.
type device struct {
	id   string
	path string
	obs  camsession.DeviceObserver

	afRegions int

	mu      sync.Mutex
	session *captureSession
	closed  bool
}

var _ camsession.Device = (*device)(nil)

func (d *device) ID() string { return d.id }

func (d *device) AFRegions() int { return d.afRegions }

func (d *device) ExposureCompensationRange() (min, max int) {
	return defaultExpCompMin, defaultExpCompMax
}

func (d *device) TonemapCurvePoints() int { return defaultTonemapCurvePoints }

// CreateSession builds and starts the capture pipeline. One session per
// device handle.
func (d *device) CreateSession(outputs camsession.SessionOutputs, obs camsession.SessionObserver) (camsession.CaptureSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("gstdevice: device %s is closed", d.id)
	}
	if d.session != nil {
		return nil, fmt.Errorf("gstdevice: device %s already has a capture session", d.id)
	}

	sess, err := newCaptureSession(d.path, outputs, d.obs, obs)
	if err != nil {
		return nil, err
	}

	d.session = sess
	return sess, nil
}

// Close releases the device and any session still attached to it. Idempotent.
func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.session != nil {
		if err := d.session.Close(); err != nil {
			slog.Warn("gstdevice: session close during device close failed", "error", err)
		}
		d.session = nil
	}

	slog.Info("gstdevice: device closed", "device_id", d.id)
	return nil
}
