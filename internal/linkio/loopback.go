package linkio

import "sync"

// Sent is one frame recorded by a loopback endpoint, in send order.
type Sent struct {
	Words []uint32
	Lane  uint32
	VC    uint32
}

type loopFrame struct {
	words     []uint32
	lane      uint32
	vc        uint32
	eofe      bool
	fifoErr   bool
	lengthErr bool
}

// Loopback is an in-memory Device for tests and hardware-free demos. An
// unpaired endpoint records sends for inspection; a paired endpoint
// delivers sends to its peer's receive queue.
type Loopback struct {
	mu      sync.Mutex
	rx      []loopFrame
	sent    []Sent
	peer    *Loopback
	mask    uint32
	closed  bool
	sendErr error
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

// NewLoopbackPair returns two connected endpoints: frames sent on one are
// received on the other.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{}
	b := &Loopback{}
	a.peer = b
	b.peer = a
	return a, b
}

// FailSends makes subsequent sends return err until cleared with nil.
func (l *Loopback) FailSends(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendErr = err
}

// Inject queues a frame for the next Recv, as if the wire produced it.
func (l *Loopback) Inject(words []uint32, lane, vc uint32) {
	l.inject(loopFrame{words: cloneWords(words), lane: lane, vc: vc})
}

// InjectFlawed queues a frame with driver error flags set.
func (l *Loopback) InjectFlawed(words []uint32, lane, vc uint32, eofe, fifoErr, lengthErr bool) {
	l.inject(loopFrame{
		words: cloneWords(words), lane: lane, vc: vc,
		eofe: eofe, fifoErr: fifoErr, lengthErr: lengthErr,
	})
}

func (l *Loopback) inject(f loopFrame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rx = append(l.rx, f)
}

// SentFrames returns a copy of every frame sent so far, in order.
func (l *Loopback) SentFrames() []Sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Sent, len(l.sent))
	copy(out, l.sent)
	return out
}

// Mask returns the last mask programmed via SetSourceMask.
func (l *Loopback) Mask() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mask
}

func (l *Loopback) Send(words []uint32, lane, vc uint32) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	if l.sendErr != nil {
		err := l.sendErr
		l.mu.Unlock()
		return -1, err
	}
	l.sent = append(l.sent, Sent{Words: cloneWords(words), Lane: lane, VC: vc})
	peer := l.peer
	l.mu.Unlock()

	if peer != nil {
		peer.inject(loopFrame{words: cloneWords(words), lane: lane, vc: vc})
	}
	return len(words), nil
}

func (l *Loopback) Recv(buf []uint32) (RecvInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return RecvInfo{}, ErrClosed
	}
	if len(l.rx) == 0 {
		return RecvInfo{}, nil
	}
	f := l.rx[0]
	l.rx = l.rx[1:]
	if len(f.words) > len(buf) {
		return RecvInfo{}, ErrTooLarge
	}
	copy(buf, f.words)
	return RecvInfo{
		Words:     len(f.words),
		Lane:      f.lane,
		VC:        f.vc,
		EOFE:      f.eofe,
		FifoErr:   f.fifoErr,
		LengthErr: f.lengthErr,
	}, nil
}

func (l *Loopback) SetSourceMask(mask uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.mask = mask
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func cloneWords(words []uint32) []uint32 {
	out := make([]uint32, len(words))
	copy(out, words)
	return out
}
