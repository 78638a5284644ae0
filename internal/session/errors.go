package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyOpen is returned when Open is called on a session that is
	// already running. The call is a no-op beyond this error.
	ErrAlreadyOpen = errors.New("camsession: session already open")

	// ErrInvalidConfig is returned when Open is given an incomplete
	// configuration (missing collaborator or output geometry).
	ErrInvalidConfig = errors.New("camsession: invalid open configuration")
)

// DeviceError is a device-protocol failure: a device API call that returned a
// non-success status. It is raised from handler code and contained by the
// worker loop, which converts it into a self-issued close.
type DeviceError struct {
	Op   string // the device operation that failed
	Code int    // device status code, if the backend reported one
	Err  error  // underlying backend error, if any
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("camsession: device %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("camsession: device %s failed (code %d)", e.Op, e.Code)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func deviceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DeviceError{Op: op, Err: err}
}
