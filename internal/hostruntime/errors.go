package hostruntime

import (
	"errors"
	"net"
	"syscall"

	"moshvm/internal/osadapt"
)

// MapError translates a transport-level failure into the Errno set the
// syscall façade exposes to callers, per §4.F: address-unreachable maps to
// EHOSTUNREACH, everything else collapses to EIO.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.EHOSTUNREACH) || errors.Is(opErr.Err, syscall.ENETUNREACH) {
			return osadapt.EHOSTUNREACH
		}
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return osadapt.EHOSTUNREACH
	}
	return osadapt.EIO
}
