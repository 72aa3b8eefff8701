package admission

import "ttsd/pkg/types"

// queueTimeoutError signals that no run slot freed up within the wait bound.
type queueTimeoutError struct{ device types.Device }

func (e queueTimeoutError) Error() string {
	return "admission timed out on device " + string(e.device)
}

// IsQueueTimeout reports whether err is an admission wait timeout.
func IsQueueTimeout(err error) bool {
	_, ok := err.(queueTimeoutError)
	return ok
}

// queueFullError signals that the bounded wait queue is at capacity.
type queueFullError struct{ device types.Device }

func (e queueFullError) Error() string {
	return "admission queue full on device " + string(e.device)
}

// IsQueueFull reports whether err indicates queue saturation.
func IsQueueFull(err error) bool {
	_, ok := err.(queueFullError)
	return ok
}

// deviceUnavailableError signals a device with no configured budget.
type deviceUnavailableError struct{ device types.Device }

func (e deviceUnavailableError) Error() string {
	return "device unavailable: " + string(e.device)
}

// ErrDeviceUnavailable constructs a deviceUnavailableError.
func ErrDeviceUnavailable(device types.Device) error {
	return deviceUnavailableError{device: device}
}

// IsDeviceUnavailable reports whether err indicates an unknown or unusable device.
func IsDeviceUnavailable(err error) bool {
	_, ok := err.(deviceUnavailableError)
	return ok
}
