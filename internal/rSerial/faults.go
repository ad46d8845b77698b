package rserial

import (
	"errors"
	"strings"

	"go.bug.st/serial"
)

// IsUnrecoverable reports whether a read fault means the device is gone,
// so further reads on the same handle cannot succeed.
func IsUnrecoverable(err error) bool {
	if err == nil {
		return false
	}

	var portErrPtr *serial.PortError
	if errors.As(err, &portErrPtr) {
		return isDisconnectCode(portErrPtr.Code())
	}
	var portErr serial.PortError
	if errors.As(err, &portErr) {
		return isDisconnectCode(portErr.Code())
	}

	// OS errors that the serial library passes through unwrapped
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no such device") ||
		strings.Contains(errStr, "device not configured") ||
		strings.Contains(errStr, "file already closed")
}

func isDisconnectCode(code serial.PortErrorCode) bool {
	switch code {
	case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}
