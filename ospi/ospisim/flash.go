package ospisim

import (
	"fmt"

	"golang.org/x/exp/slog"
)

// Flash opcodes understood by the model.
const (
	OpWriteEnable  = 0x06
	OpWriteDisable = 0x04
	OpReadStatus   = 0x05
	OpReadID       = 0x9f
	OpReadIDMulti  = 0x9e
	OpResetEnable  = 0x66
	OpResetMemory  = 0x99
	OpErase4K      = 0x20
	OpErase4K4B    = 0x21
	OpErase64K     = 0xd8
	OpErase64K4B   = 0xdc
	OpChipErase    = 0xc7
	OpChipErase2   = 0x60
)

const (
	statusWIP = 1 << 0
	statusWEL = 1 << 1
)

var readOps = map[uint8]bool{
	0x03: true, 0x13: true, 0x0b: true, 0x0c: true, 0x3b: true, 0x3c: true,
	0x6b: true, 0x6c: true, 0xbb: true, 0xbc: true, 0xeb: true, 0xec: true,
	0x8b: true, 0x7c: true, 0xcb: true, 0xcc: true, 0xfd: true, 0xee: true,
}

var programOps = map[uint8]bool{
	0x02: true, 0x12: true, 0x32: true, 0x34: true, 0x38: true, 0x3e: true,
	0x82: true, 0x84: true, 0x8e: true, 0xc2: true,
}

func (s *Sim) status() uint8 {
	var st uint8
	if s.busy > 0 {
		st |= statusWIP
	}
	if s.wel {
		st |= statusWEL
	}
	return st
}

func (s *Sim) resetFlash() {
	s.wel = false
	s.busy = 0
	s.resetEnabled = false
}

// command executes one flash command. in is the data sent to the flash, out
// receives the data read from it.
func (s *Sim) command(op uint8, addr uint32, in, out []byte) {
	if op != OpResetEnable && op != OpResetMemory {
		s.resetEnabled = false
	}
	size := uint32(len(s.Flash))

	switch {
	case op == OpReadID || op == OpReadIDMulti:
		for i := range out {
			out[i] = s.ID[i%len(s.ID)]
		}
	case op == OpReadStatus:
		for i := range out {
			out[i] = s.status()
		}
	case op == OpWriteEnable:
		s.wel = true
	case op == OpWriteDisable:
		s.wel = false
	case op == OpResetEnable:
		s.resetEnabled = true
	case op == OpResetMemory:
		if s.resetEnabled {
			s.Resets++
			s.resetFlash()
		}
	case readOps[op]:
		for i := range out {
			out[i] = s.Flash[(addr+uint32(i))%size]
		}
	case programOps[op]:
		if !s.writable() {
			break
		}
		for i, b := range in {
			s.Flash[(addr+uint32(i))%size] &= b
		}
		s.busy = s.BusyTicks
	case op == OpErase4K || op == OpErase4K4B:
		s.erase(addr, 4<<10)
	case op == OpErase64K || op == OpErase64K4B:
		s.erase(addr, 64<<10)
	case op == OpChipErase || op == OpChipErase2:
		s.erase(0, len(s.Flash))
	default:
		for i := range out {
			out[i] = 0xff
		}
		s.Log.Debug("unknown flash command", slog.String("op", fmt.Sprintf("%#02x", op)))
		return
	}
	s.Log.Debug("flash command", slog.String("op", fmt.Sprintf("%#02x", op)),
		slog.Uint64("addr", uint64(addr)), slog.Int("in", len(in)), slog.Int("out", len(out)))
}

// writable consumes the write enable latch.
func (s *Sim) writable() bool {
	if !s.wel || s.busy > 0 {
		s.Log.Debug("flash write ignored", slog.Bool("wel", s.wel), slog.Int("busy", s.busy))
		return false
	}
	s.wel = false
	return true
}

func (s *Sim) erase(addr uint32, n int) {
	if !s.writable() {
		return
	}
	start := int(addr) &^ (n - 1)
	for i := start; i < start+n && i < len(s.Flash); i++ {
		s.Flash[i] = 0xff
	}
	s.busy = s.BusyTicks
}
