// Package evr wraps the event-receiver control registers of the link
// card's mapped register block. These are plain accessor wrappers over
// shared memory; none of the transport logic lives here.
package evr

import "errors"

// LaneCount is the number of per-lane EVR register sets on the card.
const LaneCount = 8

// Word offsets into the mapped block.
const (
	offCardStat    = 0x80 // 4 status/control words
	offSpareCount  = 0x90 // per-index event counters
	offRunCode     = 0xA0 // per-lane run opcodes
	offAcceptCode  = 0xA8 // per-lane accept opcodes
	offRunDelay    = 0xB0 // per-lane run delays
	offAcceptDelay = 0xB8 // per-lane accept delays

	// BlockWords is the minimum mapped block size in words.
	BlockWords = 0xC0
)

var ErrShortBlock = errors.New("evr: register block too small")

// Registers provides typed access to the EVR fields of a mapped register
// block. The block is shared with the hardware; accesses are single-word
// reads and writes, as on the card.
type Registers struct {
	block []uint32
}

// Map wraps an already-mapped register block.
func Map(block []uint32) (*Registers, error) {
	if len(block) < BlockWords {
		return nil, ErrShortBlock
	}
	return &Registers{block: block}, nil
}

// LinkUp reports the EVR link status bit.
func (r *Registers) LinkUp() bool {
	return (r.block[offCardStat]>>4)&0x1 == 1
}

// Errors returns the EVR error counter.
func (r *Registers) Errors() uint32 {
	return r.block[offCardStat+3]
}

// Count returns one spare event counter. idx must be below LaneCount.
func (r *Registers) Count(idx int) uint32 {
	return r.block[offSpareCount+idx]
}

func (r *Registers) Enabled() bool {
	return r.block[offCardStat+1]&0x1 == 1
}

func (r *Registers) SetEnabled(enable bool) {
	if enable {
		r.block[offCardStat+1] |= 0x1
	} else {
		r.block[offCardStat+1] &= 0xFFFFFFFE
	}
}

// RawStatus returns the undecoded enable/status word.
func (r *Registers) RawStatus() uint32 {
	return r.block[offCardStat+1]
}

// EnabledLanes returns the per-lane enable mask.
func (r *Registers) EnabledLanes() uint32 {
	return (r.block[offCardStat+1] >> 16) & 0xFF
}

func (r *Registers) SetEnabledLanes(mask uint32) {
	v := (mask & 0xFF) << 16
	r.block[offCardStat+1] &= 0xFF00FFFF
	r.block[offCardStat+1] |= v
}

// Per-lane opcode and delay accessors. lane must be below LaneCount.

func (r *Registers) RunOpCode(lane int) uint32 {
	return r.block[offRunCode+lane]
}

func (r *Registers) SetRunOpCode(lane int, code uint32) {
	r.block[offRunCode+lane] = code
}

func (r *Registers) AcceptOpCode(lane int) uint32 {
	return r.block[offAcceptCode+lane]
}

func (r *Registers) SetAcceptOpCode(lane int, code uint32) {
	r.block[offAcceptCode+lane] = code
}

func (r *Registers) RunDelay(lane int) uint32 {
	return r.block[offRunDelay+lane]
}

func (r *Registers) SetRunDelay(lane int, delay uint32) {
	r.block[offRunDelay+lane] = delay
}

func (r *Registers) AcceptDelay(lane int) uint32 {
	return r.block[offAcceptDelay+lane]
}

func (r *Registers) SetAcceptDelay(lane int, delay uint32) {
	r.block[offAcceptDelay+lane] = delay
}
