package word

import (
	"errors"

	"github.com/danmuck/lanelink/internal/protocol/route"
)

// Frames are sequences of 32-bit words. Words 0 and 1 always form the
// header; register writes carry payload words plus one zero pad, register
// reads and commands are fixed at four words, data frames are header-less.

const (
	// WriteFlag marks word 1 of a register frame as a write (and of a
	// response as a write acknowledgment).
	WriteFlag uint32 = 0x40000000

	// MinControlWords is the minimum length of any control frame.
	MinControlWords = 4
)

var (
	ErrFrameTooLarge = errors.New("word: frame exceeds word limit")
	ErrBadSize       = errors.New("word: register size must be at least one word")
	ErrShortResponse = errors.New("word: response shorter than minimum control frame")
	ErrSizeMismatch  = errors.New("word: response size does not match request")
)

// Limits constrains encoded frame length.
type Limits struct {
	MaxFrameWords int
}

func DefaultLimits() Limits {
	return Limits{MaxFrameWords: 2048}
}

// Register is one caller-owned register transaction. Data is the payload
// for writes and the destination buffer for reads; its length is the
// transaction size in words. A Register must not be reused until the
// transaction that posted it has resolved.
type Register struct {
	Address uint32
	Data    []uint32
	Status  uint32
	IsWrite bool
}

// Size is the transaction size in words.
func (r *Register) Size() int { return len(r.Data) }

// Command is one transient command or run-control request.
type Command struct {
	OpCode uint32
}

// EncodeRegister builds the wire frame for one register transaction.
//
// Word 0 carries the caller context under SchemeConfig and zero under
// SchemeDerived. Word 1 carries the write flag and the address field:
// SchemeConfig drops the low two address bits and masks to 30 bits,
// SchemeDerived masks to the low 24 bits unshifted. Writes append the
// payload and one zero pad (size+3 words total); reads are always four
// words with word 2 = size-1.
func EncodeRegister(s route.Scheme, context uint32, r *Register, limits Limits) ([]uint32, error) {
	size := r.Size()
	if size < 1 {
		return nil, ErrBadSize
	}

	var hdr0, hdr1 uint32
	if s == route.SchemeConfig {
		hdr0 = context
		hdr1 = (r.Address >> 2) & 0x3FFFFFFF
	} else {
		hdr0 = 0
		hdr1 = r.Address & 0x00FFFFFF
	}
	if r.IsWrite {
		hdr1 |= WriteFlag
	}

	if r.IsWrite {
		total := size + 3
		if total > limits.MaxFrameWords {
			return nil, ErrFrameTooLarge
		}
		frame := make([]uint32, total)
		frame[0] = hdr0
		frame[1] = hdr1
		copy(frame[2:], r.Data)
		frame[total-1] = 0
		return frame, nil
	}

	return []uint32{hdr0, hdr1, uint32(size - 1), 0}, nil
}

// EncodeCommand builds the fixed four-word command frame. Only the low
// eight opcode bits travel on the wire; the upper bits are routing.
func EncodeCommand(op uint32) []uint32 {
	return []uint32{0, op & 0xFF, 0, 0}
}

// Response is one decoded register response.
type Response struct {
	Context uint32
	IsWrite bool
	Payload []uint32
	Status  uint32
}

// DecodeResponse validates and decodes a control frame body against the
// outstanding request's expected size. Word 1 bit 30 distinguishes write
// acknowledgments from read responses; the payload spans words [2,len-1)
// and the trailing word is the status code.
func DecodeResponse(frame []uint32, expectSize int) (Response, error) {
	if len(frame) <= 3 {
		return Response{}, ErrShortResponse
	}
	if len(frame)-3 != expectSize {
		return Response{}, ErrSizeMismatch
	}
	return Response{
		Context: frame[0],
		IsWrite: frame[1]&WriteFlag != 0,
		Payload: frame[2 : len(frame)-1],
		Status:  frame[len(frame)-1],
	}, nil
}

// HeaderMatches reports whether a received control frame opens with the
// same two header words as the transmitted request frame.
func HeaderMatches(frame []uint32, hdr0, hdr1 uint32) bool {
	return len(frame) >= 2 && frame[0] == hdr0 && frame[1] == hdr1
}
