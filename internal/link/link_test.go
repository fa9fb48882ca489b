package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/lanelink/internal/linkio"
	"github.com/danmuck/lanelink/internal/protocol/route"
	"github.com/danmuck/lanelink/internal/protocol/word"
	"github.com/danmuck/lanelink/internal/testutil/testlog"
)

func openTestLink(t *testing.T, dev linkio.Device, cfg Config) *Link {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	l, err := Open(dev, cfg)
	if err != nil {
		t.Fatalf("open link: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegisterWriteRoundTripDerivedScheme(t *testing.T) {
	testlog.Start(t)
	dev := linkio.NewLoopback()
	l := openTestLink(t, dev, Config{Scheme: route.SchemeDerived})

	reg := &word.Register{
		Address: 0x21001000,
		Data:    []uint32{0xAAAA, 0xBBBB},
		IsWrite: true,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- l.PostRegister(context.Background(), reg) }()

	waitFor(t, "write frame on the wire", func() bool { return len(dev.SentFrames()) == 1 })
	sent := dev.SentFrames()[0]
	want := []uint32{0, word.WriteFlag | 0x001000, 0xAAAA, 0xBBBB, 0}
	if len(sent.Words) != len(want) {
		t.Fatalf("frame length got=%d want=%d", len(sent.Words), len(want))
	}
	for i := range want {
		if sent.Words[i] != want[i] {
			t.Fatalf("frame[%d] got=0x%08X want=0x%08X", i, sent.Words[i], want[i])
		}
	}
	if sent.Lane != 2 || sent.VC != 1 {
		t.Fatalf("routing got lane=%d vc=%d want lane=2 vc=1", sent.Lane, sent.VC)
	}

	// A write acknowledgment echoes the request; its trailing pad doubles
	// as a zero status.
	dev.Inject(sent.Words, sent.Lane, sent.VC)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("post register: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("write never resolved")
	}
	if reg.Status != 0 {
		t.Fatalf("status got=0x%X want=0", reg.Status)
	}
	if reg.Data[0] != 0xAAAA || reg.Data[1] != 0xBBBB {
		t.Fatalf("write must not touch the caller's data: %v", reg.Data)
	}
	if tl := l.Tallies(); tl.ErrorCount != 0 || tl.UnexpectedCount != 0 {
		t.Fatalf("unexpected tallies: %+v", tl)
	}
}

func TestRegisterReadFillsBufferConfigScheme(t *testing.T) {
	testlog.Start(t)
	dev := linkio.NewLoopback()
	routing := route.Pack(
		route.Address{Lane: 1, VC: 3},
		route.Address{Lane: 0, VC: 0},
		route.Address{Lane: 0, VC: 0},
	)
	l := openTestLink(t, dev, Config{
		Scheme:  route.SchemeConfig,
		Routing: routing,
		Context: 0x12,
	})

	reg := &word.Register{Address: 0x00001000, Data: make([]uint32, 2)}
	errCh := make(chan error, 1)
	go func() { errCh <- l.PostRegister(context.Background(), reg) }()

	waitFor(t, "read frame on the wire", func() bool { return len(dev.SentFrames()) == 1 })
	sent := dev.SentFrames()[0]
	want := []uint32{0x12, 0x400, 1, 0}
	for i := range want {
		if sent.Words[i] != want[i] {
			t.Fatalf("frame[%d] got=0x%08X want=0x%08X", i, sent.Words[i], want[i])
		}
	}
	if sent.Lane != 1 || sent.VC != 3 {
		t.Fatalf("routing got lane=%d vc=%d want lane=1 vc=3", sent.Lane, sent.VC)
	}

	dev.Inject([]uint32{0x12, 0x400, 0xCAFE, 0xBEEF, 0}, sent.Lane, sent.VC)

	if err := <-errCh; err != nil {
		t.Fatalf("post register: %v", err)
	}
	if reg.Data[0] != 0xCAFE || reg.Data[1] != 0xBEEF {
		t.Fatalf("payload mismatch: %v", reg.Data)
	}
	if reg.Status != 0 {
		t.Fatalf("status got=0x%X", reg.Status)
	}
}

func TestRegisterReadFailureFillsSentinel(t *testing.T) {
	testlog.Start(t)
	dev := linkio.NewLoopback()
	l := openTestLink(t, dev, Config{Scheme: route.SchemeDerived})

	reg := &word.Register{Address: 0x00000100, Data: []uint32{0x1111, 0x2222}}
	errCh := make(chan error, 1)
	go func() { errCh <- l.PostRegister(context.Background(), reg) }()

	waitFor(t, "read frame on the wire", func() bool { return len(dev.SentFrames()) == 1 })
	sent := dev.SentFrames()[0]
	dev.Inject([]uint32{sent.Words[0], sent.Words[1], 0xCAFE, 0xBEEF, 0x3}, sent.Lane, sent.VC)

	if err := <-errCh; err != nil {
		t.Fatalf("post register: %v", err)
	}
	if reg.Status != 0x3 {
		t.Fatalf("status got=0x%X want=0x3", reg.Status)
	}
	for i, v := range reg.Data {
		if v != SentinelFill {
			t.Fatalf("data[%d]=0x%08X, sentinel fill expected", i, v)
		}
	}
}

func TestUnexpectedFrameIsDroppedAndRequestStaysOutstanding(t *testing.T) {
	testlog.Start(t)
	dev := linkio.NewLoopback()
	l := openTestLink(t, dev, Config{Scheme: route.SchemeDerived})

	reg := &word.Register{Address: 0x00000200, Data: make([]uint32, 1)}
	errCh := make(chan error, 1)
	go func() { errCh <- l.PostRegister(context.Background(), reg) }()

	waitFor(t, "read frame on the wire", func() bool { return len(dev.SentFrames()) == 1 })
	sent := dev.SentFrames()[0]

	// Wrong header: tallied, dropped, not delivered.
	dev.Inject([]uint32{0x9, 0x9, 0x0, 0x0}, sent.Lane, sent.VC)
	waitFor(t, "unexpected tally", func() bool { return l.Tallies().UnexpectedCount == 1 })

	select {
	case err := <-errCh:
		t.Fatalf("request resolved by a mismatched frame: %v", err)
	default:
	}
	if l.reg.idle() {
		t.Fatalf("response counter advanced on a mismatched frame")
	}

	// Matching header but wrong size: still unexpected.
	dev.Inject([]uint32{sent.Words[0], sent.Words[1], 1, 2, 3, 0}, sent.Lane, sent.VC)
	waitFor(t, "second unexpected tally", func() bool { return l.Tallies().UnexpectedCount == 2 })

	// The real response finally lands.
	dev.Inject([]uint32{sent.Words[0], sent.Words[1], 0x77, 0}, sent.Lane, sent.VC)
	if err := <-errCh; err != nil {
		t.Fatalf("post register: %v", err)
	}
	if reg.Data[0] != 0x77 {
		t.Fatalf("payload got=0x%X want=0x77", reg.Data[0])
	}
}

func TestDataClassificationAndFIFOOrder(t *testing.T) {
	testlog.Start(t)
	dev := linkio.NewLoopback()
	mask := route.SourceMask(0b0100<<4 | 0b0001) // lane 2, vc 0
	l := openTestLink(t, dev, Config{Scheme: route.SchemeDerived, SourceMask: mask})

	dev.Inject([]uint32{1, 1, 1, 1}, 2, 0)
	dev.Inject([]uint32{2, 2, 2, 2}, 2, 0)
	// Same lane, wrong vc: control path, no request outstanding.
	dev.Inject([]uint32{3, 3, 3, 3}, 2, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	first, err := l.NextData(ctx)
	if err != nil {
		t.Fatalf("next data: %v", err)
	}
	second, err := l.NextData(ctx)
	if err != nil {
		t.Fatalf("next data: %v", err)
	}
	if first.Payload[0] != 1 || second.Payload[0] != 2 {
		t.Fatalf("FIFO order violated: %v then %v", first.Payload[0], second.Payload[0])
	}
	if first.Lane != 2 || first.VC != 0 {
		t.Fatalf("data frame source got lane=%d vc=%d", first.Lane, first.VC)
	}

	waitFor(t, "control misclassification tally", func() bool { return l.Tallies().UnexpectedCount == 1 })
	if got := l.Tallies().ErrorCount; got != 0 {
		t.Fatalf("error count got=%d want=0", got)
	}
}

func TestFrameErrorsAreTalliedAndIdempotent(t *testing.T) {
	testlog.Start(t)
	dev := linkio.NewLoopback()
	mask := route.SourceMask(0b0001<<4 | 0b0001)
	l := openTestLink(t, dev, Config{Scheme: route.SchemeDerived, SourceMask: mask})

	dev.Inject([]uint32{1, 2, 3}, 0, 0) // short frame
	dev.InjectFlawed([]uint32{1, 2, 3, 4}, 0, 0, true, false, false)
	dev.InjectFlawed([]uint32{1, 2, 3, 4}, 0, 0, false, true, true)

	waitFor(t, "error tallies", func() bool { return l.Tallies().ErrorCount == 3 })
	first := l.Tallies()
	second := l.Tallies()
	if first != second {
		t.Fatalf("tally query must be idempotent: %+v vs %+v", first, second)
	}
	if l.QueueDepth() != 0 {
		t.Fatalf("flawed frames must never reach the data queue")
	}
}

func TestTransmitPriorityOrder(t *testing.T) {
	testlog.Start(t)
	dev := linkio.NewLoopback()
	l := openTestLink(t, dev, Config{Scheme: route.SchemeDerived})

	wireDown := errors.New("wire down")
	dev.FailSends(wireDown)

	if err := l.PostData([]uint32{7, 7, 7, 7}, 0x21); err != nil {
		t.Fatalf("post data: %v", err)
	}
	if err := l.PostCommand(0x00002102); err != nil {
		t.Fatalf("post command: %v", err)
	}
	errCh := make(chan error, 1)
	reg := &word.Register{Address: 0x00000004, Data: make([]uint32, 1)}
	go func() { errCh <- l.PostRegister(context.Background(), reg) }()
	waitFor(t, "register posted", func() bool { return !l.reg.idle() })
	if err := l.PostRun(0x00002101); err != nil {
		t.Fatalf("post run: %v", err)
	}

	dev.FailSends(nil)
	waitFor(t, "all four classes transmitted", func() bool { return len(dev.SentFrames()) == 4 })

	sent := dev.SentFrames()
	if sent[0].Words[1] != 0x01 {
		t.Fatalf("first transmit must be the run opcode, got word1=0x%X", sent[0].Words[1])
	}
	if sent[1].Words[1] != 0x04 {
		t.Fatalf("second transmit must be the register request, got word1=0x%X", sent[1].Words[1])
	}
	if sent[2].Words[1] != 0x02 {
		t.Fatalf("third transmit must be the command, got word1=0x%X", sent[2].Words[1])
	}
	if sent[3].Words[0] != 7 {
		t.Fatalf("fourth transmit must be the data frame, got %v", sent[3].Words)
	}
	// Data routing 0x21: one-hot lane bit 1, vc bit 0.
	if sent[3].Lane != 1 || sent[3].VC != 0 {
		t.Fatalf("data routing got lane=%d vc=%d", sent[3].Lane, sent[3].VC)
	}

	dev.Inject([]uint32{sent[1].Words[0], sent[1].Words[1], 0xDD, 0}, sent[1].Lane, sent[1].VC)
	if err := <-errCh; err != nil {
		t.Fatalf("post register: %v", err)
	}
}

func TestSecondRegisterPostWhileOutstanding(t *testing.T) {
	testlog.Start(t)
	dev := linkio.NewLoopback()
	l := openTestLink(t, dev, Config{Scheme: route.SchemeDerived})

	reg := &word.Register{Address: 0x00000300, Data: make([]uint32, 1)}
	errCh := make(chan error, 1)
	go func() { errCh <- l.PostRegister(context.Background(), reg) }()
	waitFor(t, "register outstanding", func() bool { return !l.reg.idle() })

	other := &word.Register{Address: 0x00000304, Data: make([]uint32, 1)}
	if err := l.PostRegister(context.Background(), other); !errors.Is(err, ErrOutstanding) {
		t.Fatalf("expected ErrOutstanding, got %v", err)
	}

	waitFor(t, "read frame on the wire", func() bool { return len(dev.SentFrames()) == 1 })
	sent := dev.SentFrames()[0]
	dev.Inject([]uint32{sent.Words[0], sent.Words[1], 0x1, 0}, sent.Lane, sent.VC)
	if err := <-errCh; err != nil {
		t.Fatalf("post register: %v", err)
	}
}

func TestPostRegisterWaitIsCancellable(t *testing.T) {
	testlog.Start(t)
	dev := linkio.NewLoopback()
	l := openTestLink(t, dev, Config{Scheme: route.SchemeDerived})

	ctx, cancel := context.WithCancel(context.Background())
	reg := &word.Register{Address: 0x00000400, Data: make([]uint32, 1)}
	errCh := make(chan error, 1)
	go func() { errCh <- l.PostRegister(ctx, reg) }()
	waitFor(t, "register outstanding", func() bool { return !l.reg.idle() })
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// The slot stays busy until a matching response arrives.
	if err := l.PostRegister(context.Background(), reg); !errors.Is(err, ErrOutstanding) {
		t.Fatalf("expected ErrOutstanding after abandoned wait, got %v", err)
	}
}

func TestCloseStopsLinkPromptly(t *testing.T) {
	testlog.Start(t)
	dev := linkio.NewLoopback()
	l := openTestLink(t, dev, Config{Scheme: route.SchemeDerived})

	done := make(chan struct{})
	go func() {
		_ = l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not complete within the poll bound")
	}

	if err := l.PostCommand(0x1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := l.NextData(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from NextData, got %v", err)
	}
}

func TestConfigSchemeProgramsSourceMask(t *testing.T) {
	testlog.Start(t)
	dev := linkio.NewLoopback()
	mask := route.SourceMask(0xF1)
	l := openTestLink(t, dev, Config{Scheme: route.SchemeConfig, SourceMask: mask})
	_ = l
	if dev.Mask() != uint32(mask) {
		t.Fatalf("driver mask got=0x%X want=0x%X", dev.Mask(), uint32(mask))
	}
}
