package word

import (
	"errors"
	"testing"

	"github.com/danmuck/lanelink/internal/protocol/route"
)

func TestEncodeRegisterWriteConfigScheme(t *testing.T) {
	reg := &Register{
		Address: 0x00001000,
		Data:    []uint32{0xAAAA, 0xBBBB},
		IsWrite: true,
	}
	frame, err := EncodeRegister(route.SchemeConfig, 0x12, reg, DefaultLimits())
	if err != nil {
		t.Fatalf("encode write: %v", err)
	}
	want := []uint32{0x12, 0x40000400, 0xAAAA, 0xBBBB, 0}
	if len(frame) != len(want) {
		t.Fatalf("frame length got=%d want=%d", len(frame), len(want))
	}
	for i := range want {
		if frame[i] != want[i] {
			t.Fatalf("frame[%d] got=0x%08X want=0x%08X", i, frame[i], want[i])
		}
	}
}

func TestEncodeRegisterWriteLengthIsSizePlusThree(t *testing.T) {
	for size := 1; size <= 8; size++ {
		reg := &Register{Address: 0x100, Data: make([]uint32, size), IsWrite: true}
		frame, err := EncodeRegister(route.SchemeDerived, 0, reg, DefaultLimits())
		if err != nil {
			t.Fatalf("size=%d encode: %v", size, err)
		}
		if len(frame) != size+3 {
			t.Fatalf("size=%d frame length got=%d want=%d", size, len(frame), size+3)
		}
		if frame[len(frame)-1] != 0 {
			t.Fatalf("size=%d trailing pad got=0x%X", size, frame[len(frame)-1])
		}
	}
}

func TestEncodeRegisterReadIsFixedLength(t *testing.T) {
	for size := 1; size <= 16; size *= 2 {
		reg := &Register{Address: 0x2000, Data: make([]uint32, size)}
		frame, err := EncodeRegister(route.SchemeConfig, 0, reg, DefaultLimits())
		if err != nil {
			t.Fatalf("size=%d encode: %v", size, err)
		}
		if len(frame) != 4 {
			t.Fatalf("size=%d read frame length got=%d want=4", size, len(frame))
		}
		if frame[2] != uint32(size-1) {
			t.Fatalf("size=%d word2 got=%d want=%d", size, frame[2], size-1)
		}
		if frame[3] != 0 {
			t.Fatalf("size=%d word3 got=%d", size, frame[3])
		}
	}
}

func TestEncodeRegisterDerivedSchemeMasksLow24Bits(t *testing.T) {
	reg := &Register{Address: 0x2F123456, Data: make([]uint32, 1)}
	frame, err := EncodeRegister(route.SchemeDerived, 0x99, reg, DefaultLimits())
	if err != nil {
		t.Fatalf("encode read: %v", err)
	}
	if frame[0] != 0 {
		t.Fatalf("word0 got=0x%X want=0 under derived scheme", frame[0])
	}
	if frame[1] != 0x00123456 {
		t.Fatalf("word1 got=0x%08X want=0x00123456", frame[1])
	}
}

func TestEncodeRegisterRejectsEmptyAndOversized(t *testing.T) {
	if _, err := EncodeRegister(route.SchemeConfig, 0, &Register{Address: 4}, DefaultLimits()); !errors.Is(err, ErrBadSize) {
		t.Fatalf("expected ErrBadSize, got %v", err)
	}
	big := &Register{Address: 4, Data: make([]uint32, 10), IsWrite: true}
	if _, err := EncodeRegister(route.SchemeConfig, 0, big, Limits{MaxFrameWords: 8}); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestEncodeCommandMasksOpcode(t *testing.T) {
	frame := EncodeCommand(0x00003A55)
	want := []uint32{0, 0x55, 0, 0}
	for i := range want {
		if frame[i] != want[i] {
			t.Fatalf("frame[%d] got=0x%X want=0x%X", i, frame[i], want[i])
		}
	}
}

func TestDecodeResponseReadRoundTrip(t *testing.T) {
	reg := &Register{Address: 0x00001000, Data: make([]uint32, 2)}
	frame, err := EncodeRegister(route.SchemeConfig, 7, reg, DefaultLimits())
	if err != nil {
		t.Fatalf("encode read: %v", err)
	}
	resp := []uint32{frame[0], frame[1], 0xCAFE, 0xBEEF, 0}
	got, err := DecodeResponse(resp, reg.Size())
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.IsWrite {
		t.Fatalf("read response decoded as write")
	}
	if got.Status != 0 {
		t.Fatalf("status got=0x%X want=0", got.Status)
	}
	if len(got.Payload) != 2 || got.Payload[0] != 0xCAFE || got.Payload[1] != 0xBEEF {
		t.Fatalf("payload mismatch: %v", got.Payload)
	}
	if got.Context != 7 {
		t.Fatalf("context got=%d want=7", got.Context)
	}
}

func TestDecodeResponseWriteAck(t *testing.T) {
	resp := []uint32{0, WriteFlag | 0x400, 0, 0, 0x5}
	got, err := DecodeResponse(resp, 2)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !got.IsWrite {
		t.Fatalf("write ack not flagged")
	}
	if got.Status != 0x5 {
		t.Fatalf("status got=0x%X want=0x5", got.Status)
	}
}

func TestDecodeResponseRejectsShortAndMismatched(t *testing.T) {
	if _, err := DecodeResponse([]uint32{1, 2, 3}, 1); !errors.Is(err, ErrShortResponse) {
		t.Fatalf("expected ErrShortResponse, got %v", err)
	}
	if _, err := DecodeResponse([]uint32{1, 2, 3, 4, 5}, 1); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestHeaderMatches(t *testing.T) {
	frame := []uint32{0xA, 0xB, 1, 2, 0}
	if !HeaderMatches(frame, 0xA, 0xB) {
		t.Fatalf("expected header match")
	}
	if HeaderMatches(frame, 0xA, 0xC) {
		t.Fatalf("unexpected header match")
	}
	if HeaderMatches([]uint32{0xA}, 0xA, 0) {
		t.Fatalf("single word frame should not match")
	}
}
