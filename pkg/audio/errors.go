package audio

import (
	"errors"
	"fmt"
)

// ErrDevice matches every *DeviceError with errors.Is.
var ErrDevice = errors.New("audio: device error")

// DeviceError reports a microphone or speaker that could not be acquired or
// went away. Err wraps the audioio cause (ErrDeviceBusy, ErrNoDevice,
// ErrPermissionDenied, ErrDeviceLost).
type DeviceError struct {
	Op     string // "capture" or "playback"
	Device string // registry key
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio: %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDevice.
func (e *DeviceError) Is(target error) bool { return target == ErrDevice }
