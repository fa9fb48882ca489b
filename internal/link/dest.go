package link

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/lanelink/internal/linkio"
	"github.com/danmuck/lanelink/internal/observability"
	"github.com/danmuck/lanelink/internal/protocol/route"
	"github.com/danmuck/lanelink/internal/protocol/word"
)

var (
	ErrLinkFrame        = errors.New("link: frame error")
	ErrRegisterOverflow = errors.New("link: register response larger than request buffer")
	ErrRetriesExceeded  = errors.New("link: transmit retries exceeded")
)

// RxKind classifies the outcome of one Dest.Receive call.
type RxKind int

const (
	RxNone RxKind = iota
	RxData
	RxRegister
)

// Received reports one Receive outcome. For RxData, Words aliases the
// destination's receive buffer and is valid until the next Receive call.
type Received struct {
	Kind    RxKind
	Words   []uint32
	Lane    uint32
	VC      uint32
	Context uint32
	IsWrite bool
}

// DestConfig configures the synchronous transport variant. It always uses
// the explicit routing word scheme.
type DestConfig struct {
	Routing    route.Config
	SourceMask route.SourceMask
	Context    uint32
	Limits     word.Limits
	// MaxRetries bounds the blocking transmit retry loop; zero preserves
	// the unbounded behavior of the wire driver.
	MaxRetries int
	Logger     *zerolog.Logger
}

// Dest is the synchronous single-threaded variant: Transmit blocks the
// caller and retries failed sends immediately, Receive returns one frame,
// no-data, or an error per call. No shared scheduling state exists, so no
// synchronization beyond the device's own is needed.
type Dest struct {
	dev linkio.Device
	cfg DestConfig
	log zerolog.Logger
	rx  []uint32
}

// OpenDest programs the driver routing mask and prepares receive storage.
func OpenDest(dev linkio.Device, cfg DestConfig) (*Dest, error) {
	if dev == nil {
		return nil, errors.New("link: nil device")
	}
	if cfg.Limits.MaxFrameWords < word.MinControlWords {
		cfg.Limits = word.DefaultLimits()
	}
	lg := log.Logger
	if cfg.Logger != nil {
		lg = *cfg.Logger
	}
	if err := dev.SetSourceMask(uint32(cfg.SourceMask)); err != nil {
		return nil, fmt.Errorf("link: open dest: %w", err)
	}
	return &Dest{
		dev: dev,
		cfg: cfg,
		log: lg,
		rx:  make([]uint32, cfg.Limits.MaxFrameWords),
	}, nil
}

func (d *Dest) Close() error {
	return d.dev.Close()
}

// TransmitRegister encodes and sends one register transaction, blocking
// until the driver accepts the frame.
func (d *Dest) TransmitRegister(r *word.Register) (int, error) {
	frame, err := word.EncodeRegister(route.SchemeConfig, d.cfg.Context, r, d.cfg.Limits)
	if err != nil {
		return -1, err
	}
	addr, err := d.cfg.Routing.For(route.ClassRegister)
	if err != nil {
		return -1, err
	}
	return d.send(frame, addr, "register")
}

// TransmitCommand sends one command frame.
func (d *Dest) TransmitCommand(op uint32) (int, error) {
	addr, err := d.cfg.Routing.For(route.ClassCommand)
	if err != nil {
		return -1, err
	}
	return d.send(word.EncodeCommand(op), addr, "command")
}

// TransmitData sends one raw data frame.
func (d *Dest) TransmitData(payload []uint32) (int, error) {
	if len(payload) == 0 {
		return -1, word.ErrBadSize
	}
	if len(payload) > d.cfg.Limits.MaxFrameWords {
		return -1, word.ErrFrameTooLarge
	}
	addr, err := d.cfg.Routing.For(route.ClassData)
	if err != nil {
		return -1, err
	}
	return d.send(payload, addr, "data")
}

// send retries immediately and unconditionally on failure. Callers of the
// synchronous variant accept unbounded latency here unless MaxRetries is
// set.
func (d *Dest) send(frame []uint32, addr route.Address, class string) (int, error) {
	attempts := 0
	for {
		attempts++
		n, err := d.dev.Send(frame, addr.Lane, addr.VC)
		if err == nil {
			observability.RecordFrameTx(class)
			return n, nil
		}
		if errors.Is(err, linkio.ErrClosed) {
			return -1, err
		}
		observability.RecordTransmitRetry()
		if d.cfg.MaxRetries > 0 && attempts > d.cfg.MaxRetries {
			return -1, fmt.Errorf("%w: %s after %d attempts: %v", ErrRetriesExceeded, class, attempts, err)
		}
		d.log.Trace().Err(err).Str("class", class).Int("attempts", attempts).Msg("transmit retry")
	}
}

// Receive reads at most one frame. Data-source frames come back as RxData
// with the raw words; control frames fill reg with the decoded register
// receive (address, write flag, payload, status) and return RxRegister.
// A frame larger than reg's buffer is an overflow error, not a partial
// copy.
func (d *Dest) Receive(reg *word.Register) (Received, error) {
	info, err := d.dev.Recv(d.rx)
	if err != nil {
		return Received{}, err
	}
	if info.Words == 0 {
		return Received{Kind: RxNone}, nil
	}

	if info.Words < word.MinControlWords || info.EOFE || info.FifoErr || info.LengthErr {
		observability.RecordFrameError()
		return Received{}, fmt.Errorf("%w: words=%d lane=%d vc=%d eofe=%v fifo=%v length=%v",
			ErrLinkFrame, info.Words, info.Lane, info.VC, info.EOFE, info.FifoErr, info.LengthErr)
	}

	if d.cfg.SourceMask.Matches(info.Lane, info.VC) {
		observability.RecordFrameRx("data")
		return Received{
			Kind:  RxData,
			Words: d.rx[:info.Words],
			Lane:  info.Lane,
			VC:    info.VC,
		}, nil
	}

	if reg == nil {
		return Received{}, errors.New("link: control frame received with no register buffer")
	}
	got := info.Words - 3
	if got > reg.Size() {
		observability.RecordFrameError()
		return Received{}, fmt.Errorf("%w: got=%d max=%d", ErrRegisterOverflow, got, reg.Size())
	}

	// The write-flag bit shifts out of the 32-bit word, leaving the
	// word-aligned address.
	reg.Address = d.rx[1] << 2
	reg.IsWrite = d.rx[1]&word.WriteFlag != 0
	copy(reg.Data, d.rx[2:2+got])
	reg.Status = d.rx[info.Words-1]
	observability.RecordFrameRx("control")

	return Received{
		Kind:    RxRegister,
		Lane:    info.Lane,
		VC:      info.VC,
		Context: d.rx[0],
		IsWrite: reg.IsWrite,
	}, nil
}
