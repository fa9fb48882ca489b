package linkio

import "errors"

var (
	ErrClosed   = errors.New("linkio: device closed")
	ErrTooLarge = errors.New("linkio: frame exceeds receive buffer")
)

// RecvInfo describes one received frame. Words == 0 means no data was
// available; the error flags mirror the link driver's per-frame status.
type RecvInfo struct {
	Words     int
	Lane      uint32
	VC        uint32
	EOFE      bool
	FifoErr   bool
	LengthErr bool
}

// Device is the physical link primitive the transport core drives. Send
// and Recv are non-blocking: Send reports failures for the caller's retry
// policy to handle, Recv returns Words == 0 when nothing is pending.
type Device interface {
	// Send writes one frame of words to the given lane/VC and returns
	// the number of words accepted.
	Send(words []uint32, lane, vc uint32) (int, error)

	// Recv reads at most one pending frame into buf.
	Recv(buf []uint32) (RecvInfo, error)

	// SetSourceMask programs the driver-side routing mask. Only the
	// config-word transport variant uses it.
	SetSourceMask(mask uint32) error

	Close() error
}
