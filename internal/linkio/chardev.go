package linkio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Char-device wire convention: every read/write carries one tag word ahead
// of the frame payload.
const (
	tagVCShift    = 0
	tagLaneShift  = 4
	tagEOFEBit    = 1 << 8
	tagFifoBit    = 1 << 9
	tagLengthBit  = 1 << 10
	tagFieldMask  = 0xF
	ioctlSetMask  = 0x40047001
	maxDeviceRead = 4 * 4096
)

// CharDevice drives a lane/VC link exposed as a character device. The
// device is opened non-blocking; short reads surface as no-data and the
// caller owns retry on short writes.
type CharDevice struct {
	mu   sync.Mutex
	fd   int
	path string
	rd   []byte
}

// OpenCharDevice opens the device read/write and non-blocking. Failure
// here is fatal to the link.
func OpenCharDevice(path string) (*CharDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("linkio: open %s: %w", path, err)
	}
	return &CharDevice{fd: fd, path: path, rd: make([]byte, maxDeviceRead)}, nil
}

func (d *CharDevice) Send(words []uint32, lane, vc uint32) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return 0, ErrClosed
	}

	buf := make([]byte, 4*(len(words)+1))
	tag := (vc&tagFieldMask)<<tagVCShift | (lane&tagFieldMask)<<tagLaneShift
	binary.LittleEndian.PutUint32(buf[0:4], tag)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*(i+1):], w)
	}

	n, err := unix.Write(d.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return -1, fmt.Errorf("linkio: send would block: %w", err)
		}
		return -1, fmt.Errorf("linkio: send %s: %w", d.path, err)
	}
	if n < len(buf) {
		return -1, fmt.Errorf("linkio: short send on %s: %d of %d bytes", d.path, n, len(buf))
	}
	return len(words), nil
}

func (d *CharDevice) Recv(buf []uint32) (RecvInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return RecvInfo{}, ErrClosed
	}

	n, err := unix.Read(d.fd, d.rd)
	if err != nil {
		if err == unix.EAGAIN {
			return RecvInfo{}, nil
		}
		return RecvInfo{}, fmt.Errorf("linkio: recv %s: %w", d.path, err)
	}
	if n < 4 {
		return RecvInfo{}, nil
	}

	tag := binary.LittleEndian.Uint32(d.rd[0:4])
	words := (n - 4) / 4
	if words > len(buf) {
		return RecvInfo{}, ErrTooLarge
	}
	for i := 0; i < words; i++ {
		buf[i] = binary.LittleEndian.Uint32(d.rd[4*(i+1):])
	}
	return RecvInfo{
		Words:     words,
		Lane:      (tag >> tagLaneShift) & tagFieldMask,
		VC:        (tag >> tagVCShift) & tagFieldMask,
		EOFE:      tag&tagEOFEBit != 0,
		FifoErr:   tag&tagFifoBit != 0,
		LengthErr: tag&tagLengthBit != 0,
	}, nil
}

func (d *CharDevice) SetSourceMask(mask uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return ErrClosed
	}
	if err := unix.IoctlSetPointerInt(d.fd, ioctlSetMask, int(mask)); err != nil {
		return fmt.Errorf("linkio: set mask on %s: %w", d.path, err)
	}
	return nil
}

func (d *CharDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return fmt.Errorf("linkio: close %s: %w", d.path, err)
	}
	return nil
}
