package route

import (
	"errors"
	"fmt"
)

// Scheme selects how outgoing frames derive their lane/VC pair.
type Scheme int

const (
	// SchemeConfig routes from an explicit packed configuration word
	// supplied per link (or per call).
	SchemeConfig Scheme = iota
	// SchemeDerived routes from the upper bits of the address or opcode
	// being transmitted.
	SchemeDerived
)

func (s Scheme) String() string {
	switch s {
	case SchemeConfig:
		return "config"
	case SchemeDerived:
		return "derived"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// Class is one of the three routed traffic classes. Run-control opcodes
// share the command class routing.
type Class int

const (
	ClassRegister Class = iota
	ClassCommand
	ClassData
)

var ErrBadClass = errors.New("route: unknown traffic class")

// Address is a resolved lane/VC pair. Derived per frame, never persisted.
type Address struct {
	Lane uint32
	VC   uint32
}

// Config is the packed per-destination routing word:
//
//	bits 7:0   = index (ignored)
//	bits 11:8  = VC for register transactions
//	bits 15:12 = lane for register transactions
//	bits 19:16 = VC for commands
//	bits 23:20 = lane for commands
//	bits 27:24 = VC for data
//	bits 31:28 = lane for data
type Config uint32

// For extracts the lane/VC nibble pair for one traffic class.
func (c Config) For(cl Class) (Address, error) {
	switch cl {
	case ClassRegister:
		return Address{Lane: uint32(c>>12) & 0xF, VC: uint32(c>>8) & 0xF}, nil
	case ClassCommand:
		return Address{Lane: uint32(c>>20) & 0xF, VC: uint32(c>>16) & 0xF}, nil
	case ClassData:
		return Address{Lane: uint32(c>>28) & 0xF, VC: uint32(c>>24) & 0xF}, nil
	default:
		return Address{}, ErrBadClass
	}
}

// Pack builds a Config from per-class addresses. Inverse of For.
func Pack(reg, cmd, data Address) Config {
	v := (reg.VC & 0xF) << 8
	v |= (reg.Lane & 0xF) << 12
	v |= (cmd.VC & 0xF) << 16
	v |= (cmd.Lane & 0xF) << 20
	v |= (data.VC & 0xF) << 24
	v |= (data.Lane & 0xF) << 28
	return Config(v)
}

// RegisterAddress derives routing from a register address (SchemeDerived):
// lane in bits 31:28, VC in bits 27:24.
func RegisterAddress(addr uint32) Address {
	return Address{Lane: (addr >> 28) & 0xF, VC: (addr >> 24) & 0xF}
}

// CommandAddress derives routing from a command opcode (SchemeDerived):
// lane in bits 15:12, VC in bits 11:8.
func CommandAddress(op uint32) Address {
	return Address{Lane: (op >> 12) & 0xF, VC: (op >> 8) & 0xF}
}

// DataAddress converts a one-hot routing word (lane bits 7:4, VC bits 3:0)
// to a lane/VC index pair by shift-and-count.
func DataAddress(routing uint32) Address {
	return Address{
		Lane: bitIndex((routing >> 4) & 0xF),
		VC:   bitIndex(routing & 0xF),
	}
}

// bitIndex returns the index of the highest set bit, 0 for an empty mask.
func bitIndex(mask uint32) uint32 {
	var n uint32
	for mask >>= 1; mask != 0; mask >>= 1 {
		n++
	}
	return n
}

// SourceMask marks which inbound lane/VC pairs carry bulk data:
// VC mask in bits 3:0 (4 virtual channels), lane mask in bits 11:4 (8 lanes).
// Anything outside the mask is a control frame for the correlator.
type SourceMask uint32

// Matches reports whether a received lane/VC pair is a data source.
func (m SourceMask) Matches(lane, vc uint32) bool {
	vcMask := uint32(m) & 0xF
	laneMask := (uint32(m) >> 4) & 0xFF
	return (1<<vc)&vcMask != 0 && (1<<lane)&laneMask != 0
}
