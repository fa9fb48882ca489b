package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/lanelink/internal/linkio"
	"github.com/danmuck/lanelink/internal/protocol/route"
	"github.com/danmuck/lanelink/internal/protocol/word"
)

// SentinelFill is written into a read buffer when the responder reports a
// nonzero status, so stale data can never be mistaken for a result.
const SentinelFill uint32 = 0xFFFFFFFF

const defaultPollInterval = time.Millisecond

var (
	ErrClosed      = errors.New("link: closed")
	ErrOutstanding = errors.New("link: request already outstanding for this class")
)

// Config carries the per-link transport parameters.
type Config struct {
	// Scheme selects routing derivation for outgoing frames.
	Scheme route.Scheme
	// Routing is the packed per-class routing word (SchemeConfig only).
	Routing route.Config
	// SourceMask marks the inbound lane/VC pairs that carry bulk data.
	SourceMask route.SourceMask
	// Context is echoed in word 0 of SchemeConfig register frames.
	Context uint32
	// PollInterval bounds the idle waits of both link goroutines.
	PollInterval time.Duration
	Limits       word.Limits
	Logger       *zerolog.Logger
}

// DataFrame is one received bulk-data frame, owned by the consumer once
// dequeued.
type DataFrame struct {
	Payload []uint32
	Lane    uint32
	VC      uint32
}

// Tally is the monotonic error bookkeeping for one open link.
type Tally struct {
	ErrorCount      uint64
	UnexpectedCount uint64
}

// regPending is the scheduler's record of the in-flight register request,
// published atomically for the correlator.
type regPending struct {
	hdr0  uint32
	hdr1  uint32
	size  int
	entry *word.Register
}

// Link is the asynchronous transport variant: one goroutine schedules
// transmissions by strict class priority, one classifies and correlates
// received frames. The two communicate only through the per-class slots
// and the published register header.
type Link struct {
	dev linkio.Device
	cfg Config
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	txWake chan struct{}

	run  slot
	reg  slot
	cmd  slot
	data slot

	// Request payloads. Each is written by the posting caller and read by
	// the scheduler; the slot counter bump publishes the write.
	runOp       uint32
	cmdOp       uint32
	regReq      *word.Register
	dataBuf     []uint32
	dataRouting uint32

	pending atomic.Pointer[regPending]

	errorCount atomic.Uint64
	unexpCount atomic.Uint64

	dataMu   sync.Mutex
	dataQ    []DataFrame
	dataWake chan struct{}
}

// Open starts the transmit and receive goroutines over dev. Under
// SchemeConfig the driver-side routing mask is programmed first; failure
// there is fatal, the link never half-opens.
func Open(dev linkio.Device, cfg Config) (*Link, error) {
	if dev == nil {
		return nil, errors.New("link: nil device")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Limits.MaxFrameWords < word.MinControlWords {
		cfg.Limits = word.DefaultLimits()
	}

	lg := log.Logger
	if cfg.Logger != nil {
		lg = *cfg.Logger
	}

	if cfg.Scheme == route.SchemeConfig {
		if err := dev.SetSourceMask(uint32(cfg.SourceMask)); err != nil {
			return nil, fmt.Errorf("link: open: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		dev:      dev,
		cfg:      cfg,
		log:      lg.With().Str("scheme", cfg.Scheme.String()).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		txWake:   make(chan struct{}, 1),
		dataWake: make(chan struct{}, 1),
	}
	l.run.init()
	l.reg.init()
	l.cmd.init()
	l.data.init()

	l.wg.Add(2)
	go l.transmitLoop(ctx)
	go l.receiveLoop(ctx)

	l.log.Info().Msg("link open")
	return l, nil
}

// Close stops both goroutines and closes the device. Both loops observe
// the cancellation within one poll interval.
func (l *Link) Close() error {
	l.cancel()
	l.wg.Wait()
	signal(l.dataWake)
	err := l.dev.Close()
	l.log.Info().Msg("link closed")
	return err
}

// PostRegister transmits one register transaction and blocks until the
// matching response advances the register response counter. Only one
// register transaction may be outstanding; a second post returns
// ErrOutstanding until the first resolves. Cancelling ctx abandons the
// wait but the slot stays busy until a matching response arrives, so a
// lost response leaves the class blocked by design.
func (l *Link) PostRegister(ctx context.Context, r *word.Register) error {
	if r == nil || r.Size() < 1 {
		return word.ErrBadSize
	}
	if r.IsWrite && r.Size()+3 > l.cfg.Limits.MaxFrameWords {
		return word.ErrFrameTooLarge
	}
	if l.ctx.Err() != nil {
		return ErrClosed
	}
	if !l.reg.idle() {
		return ErrOutstanding
	}

	l.regReq = r
	l.reg.post()
	signal(l.txWake)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if l.reg.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.ctx.Done():
			return ErrClosed
		case <-l.reg.wake:
		case <-ticker.C:
		}
	}
}

// PostRun queues one run-control opcode. Fire-and-forget; a rapid second
// post before the scheduler services the first replaces it, matching the
// single-slot hardware behavior.
func (l *Link) PostRun(op uint32) error {
	if l.ctx.Err() != nil {
		return ErrClosed
	}
	l.runOp = op
	l.run.post()
	signal(l.txWake)
	return nil
}

// PostCommand queues one command opcode. Fire-and-forget from the caller's
// view; the scheduler advances the response counter as soon as the frame
// is on the wire.
func (l *Link) PostCommand(op uint32) error {
	if l.ctx.Err() != nil {
		return ErrClosed
	}
	if !l.cmd.idle() {
		return ErrOutstanding
	}
	l.cmdOp = op
	l.cmd.post()
	signal(l.txWake)
	return nil
}

// PostData queues one raw data frame. Under SchemeDerived the routing
// word carries one-hot lane bits 7:4 and VC bits 3:0; under SchemeConfig
// it is ignored in favor of the link's routing word.
func (l *Link) PostData(payload []uint32, routing uint32) error {
	if l.ctx.Err() != nil {
		return ErrClosed
	}
	if len(payload) == 0 {
		return word.ErrBadSize
	}
	if len(payload) > l.cfg.Limits.MaxFrameWords {
		return word.ErrFrameTooLarge
	}
	if !l.data.idle() {
		return ErrOutstanding
	}
	l.dataBuf = payload
	l.dataRouting = routing
	l.data.post()
	signal(l.txWake)
	return nil
}

// NextData dequeues the next received data frame in link order, blocking
// the consumer (never the link goroutines) while the queue is empty.
// After Close it drains whatever was queued, then reports ErrClosed.
func (l *Link) NextData(ctx context.Context) (DataFrame, error) {
	for {
		l.dataMu.Lock()
		if len(l.dataQ) > 0 {
			f := l.dataQ[0]
			l.dataQ = l.dataQ[1:]
			l.dataMu.Unlock()
			return f, nil
		}
		l.dataMu.Unlock()

		if l.ctx.Err() != nil {
			return DataFrame{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return DataFrame{}, ctx.Err()
		case <-l.ctx.Done():
		case <-l.dataWake:
		}
	}
}

// Tallies reports the monotonic error counters. They reset only when the
// link is reopened.
func (l *Link) Tallies() Tally {
	return Tally{
		ErrorCount:      l.errorCount.Load(),
		UnexpectedCount: l.unexpCount.Load(),
	}
}

func (l *Link) enqueueData(f DataFrame) {
	l.dataMu.Lock()
	l.dataQ = append(l.dataQ, f)
	depth := len(l.dataQ)
	l.dataMu.Unlock()
	signal(l.dataWake)
	l.log.Trace().Int("depth", depth).Uint32("lane", f.Lane).Uint32("vc", f.VC).Msg("data frame queued")
}

// QueueDepth reports how many data frames are waiting for a consumer.
func (l *Link) QueueDepth() int {
	l.dataMu.Lock()
	defer l.dataMu.Unlock()
	return len(l.dataQ)
}
