// Package ospisim models an OSPI controller with an attached NOR flash.
//
// Sim implements regs.Block and regs.DMAMemory, so a Controller can be
// initialized on top of it with ospi.WithRegisters and ospi.WithDMAMemory.
// The model advances one step on every register load: the command
// registers finish, indirect transfers move a burst between flash and FIFO
// or DMA buffer, and busy flashes count down. Stall freezes it.
package ospisim

import (
	"encoding/binary"
	"fmt"

	"github.com/clktmr/ospi/ospi/internal/hw"
	"github.com/clktmr/ospi/regs"
	"github.com/sigurn/crc8"
	"golang.org/x/exp/slog"
)

const (
	DefaultSize = 1 << 20
	ModuleID    = 0x0003_0201

	burstWords = 4
	dmaBase    = 0x1000_0000
	dmaHigh    = 0x1_0000_0000
)

// DefaultID is the JEDEC id of the simulated flash.
var DefaultID = [3]byte{0x2c, 0x5b, 0x1a}

// Fault is a controller fault raised by InjectFault.
type Fault uint32

const (
	FaultOverrun       = Fault(hw.IrqRxOverflow)
	FaultUnderrun      = Fault(hw.IrqUnderflow)
	FaultIllegalAccess = Fault(hw.IrqIllegalAccess)
	FaultWriteProtect  = Fault(hw.IrqWriteProtect)
	FaultPollExpired   = Fault(hw.IrqPollExpired)
)

type indirect struct {
	active bool
	dma    bool
	opcode uint8
	addr   uint32
	total  int
	moved  int // bytes through FIFO or DMA
	buf    []byte
	polls  int
	done   bool
}

type dmaChan struct {
	status  hw.DMAIrq
	enabled hw.DMAIrq
}

type dmaBuf struct {
	addr uint64
	p    []byte
}

// Sim is a simulated controller and flash.
type Sim struct {
	Flash []byte
	ID    [3]byte

	Stall     bool     // no progress on loads
	NoDLLLock bool     // the DLL never locks
	TapWindow [2]uint8 // receive taps sampling correctly in PHY modes
	BusyTicks int      // steps a program or erase keeps the flash busy
	HighMem   bool     // place DMA buffers above 4 GiB
	FailDMA   bool     // the next DMA transfer fails with a bus error

	// Counters for tests.
	Resets      int // flash resets by reset command
	PinResets   int // flash resets by the controller's reset pin
	Writebacks  int
	Invalidates int

	Log *slog.Logger

	mem  regs.Mem
	irq  hw.Irq
	stig int // steps until the command registers finish
	rd   indirect
	wr   indirect
	rx   []uint32
	tx   []uint32
	src  dmaChan
	dst  dmaChan
	bufs []dmaBuf
	next uint64

	wel          bool
	busy         int
	resetEnabled bool
	stigData     [2]uint32
}

// New returns a simulated controller with an erased flash of size bytes.
func New(size int) *Sim {
	s := &Sim{
		Flash:     make([]byte, size),
		ID:        DefaultID,
		TapWindow: [2]uint8{0x20, 0x5f},
		BusyTicks: 2,
		Log:       slog.Default(),
		mem:       regs.NewMem(hw.BlockSize),
	}
	for i := range s.Flash {
		s.Flash[i] = 0xff
	}
	return s
}

// RegName returns the name of the controller register at off, for use with
// regs.Traced.
func RegName(off uintptr) string { return hw.Name(off) }

// InjectFault raises f in the controller's interrupt status.
func (s *Sim) InjectFault(f Fault) {
	s.irq |= hw.Irq(f)
}

// Step advances the model n times.
func (s *Sim) Step(n int) {
	for ; n > 0; n-- {
		s.tick()
	}
}

// IrqPending advances the model once and reports whether the controller or
// one of its DMA channels asserts its interrupt line.
func (s *Sim) IrqPending() bool {
	s.tick()
	mask := hw.Irq(s.mem.Load(hw.OffIrqMask))
	return s.irq&mask != 0 || s.src.status&s.src.enabled != 0 || s.dst.status&s.dst.enabled != 0
}

var checksumTable = crc8.MakeTable(crc8.CRC8)

// CRC returns the CRC-8 of p.
func CRC(p []byte) uint8 {
	csum := crc8.Init(checksumTable)
	csum = crc8.Update(csum, p, checksumTable)
	return crc8.Complete(csum, checksumTable)
}

// Checksum returns the CRC-8 of n flash bytes at addr.
func (s *Sim) Checksum(addr uint32, n int) uint8 {
	return CRC(s.Flash[addr : int(addr)+n])
}

func (s *Sim) cfg() hw.Config {
	return hw.Config(s.mem.Load(hw.OffConfig))
}

func (s *Sim) idle() bool {
	return s.stig == 0 && !(s.rd.active && !s.rd.done) && !(s.wr.active && !s.wr.done)
}

func (s *Sim) Load(off uintptr) uint32 {
	s.tick()
	switch off {
	case hw.OffConfig:
		v := s.cfg() &^ hw.CfgIdle
		if s.idle() {
			v |= hw.CfgIdle
		}
		return uint32(v)
	case hw.OffSRAMFillLevel:
		return uint32(len(s.rx)) | uint32(len(s.tx))<<16
	case hw.OffIrqStatus:
		return uint32(s.irq)
	case hw.OffIndRdCtrl:
		return uint32(indCtrl(&s.rd, len(s.rx) == 0))
	case hw.OffIndWrCtrl:
		return uint32(indCtrl(&s.wr, true))
	case hw.OffFlashCmdCtrl:
		v := hw.CmdCtrl(s.mem.Load(off))
		if s.stig > 0 {
			v |= hw.CmdInProgress
		}
		return uint32(v)
	case hw.OffFlashRdDataLo:
		return s.stigData[0]
	case hw.OffFlashRdDataHi:
		return s.stigData[1]
	case hw.OffPollStatus:
		if hw.AutoPoll(s.mem.Load(hw.OffAutoPoll))&hw.PollDisable != 0 {
			return 0
		}
		return uint32(s.status()) | uint32(hw.PollStatusValid)
	case hw.OffDLLObsLower:
		if s.locked() {
			return uint32(hw.DLLLock | hw.DLLLoopbackLock)
		}
		return 0
	case hw.OffModuleID:
		return ModuleID
	case hw.OffSRAMData:
		if len(s.rx) == 0 {
			s.irq |= hw.IrqUnderflow
			return 0
		}
		w := s.rx[0]
		s.rx = s.rx[1:]
		return w
	case hw.OffDMASrcIrqStatus:
		return uint32(s.src.status)
	case hw.OffDMASrcIrqEnable:
		return uint32(s.src.enabled)
	case hw.OffDMASrcIrqMask:
		return uint32(^s.src.enabled & hw.DMAAll)
	case hw.OffDMADstIrqStatus:
		return uint32(s.dst.status)
	case hw.OffDMADstIrqEnable:
		return uint32(s.dst.enabled)
	case hw.OffDMADstIrqMask:
		return uint32(^s.dst.enabled & hw.DMAAll)
	case hw.OffDMASrcStatus:
		return dmaStatus(&s.wr)
	case hw.OffDMADstStatus:
		return dmaStatus(&s.rd)
	}
	return s.mem.Load(off)
}

func indCtrl(x *indirect, drained bool) hw.IndCtrl {
	var v hw.IndCtrl
	if x.active && !x.done {
		v |= hw.IndInProgress
	}
	if x.active && x.done && drained {
		v |= hw.IndDone
	}
	return v
}

func dmaStatus(x *indirect) uint32 {
	if x.active && x.dma && !x.done {
		return uint32(hw.DMABusy)
	}
	return 0
}

func (s *Sim) Store(off uintptr, v uint32) {
	switch off {
	case hw.OffConfig:
		old := s.cfg()
		nv := hw.Config(v) &^ hw.CfgIdle
		if nv&hw.CfgResetPin != 0 && old&hw.CfgResetPin == 0 {
			s.PinResets++
			s.resetFlash()
		}
		s.mem.Store(off, uint32(nv))
	case hw.OffIrqStatus:
		s.irq &^= hw.Irq(v)
	case hw.OffIndRdCtrl:
		s.indCtrl(&s.rd, hw.IndCtrl(v), hw.OffIndRdStartAddr, hw.OffIndRdNumBytes, hw.OffDevInstrRd)
	case hw.OffIndWrCtrl:
		s.indCtrl(&s.wr, hw.IndCtrl(v), hw.OffIndWrStartAddr, hw.OffIndWrNumBytes, hw.OffDevInstrWr)
	case hw.OffFlashCmdCtrl:
		s.mem.Store(off, v&^uint32(hw.CmdExecute|hw.CmdInProgress))
		if hw.CmdCtrl(v)&hw.CmdExecute != 0 {
			s.stig = 1
		}
	case hw.OffSRAMData:
		if s.wr.active && !s.wr.dma && len(s.tx) < hw.FIFOWords {
			s.tx = append(s.tx, v)
		}
	case hw.OffDMASrcIrqStatus:
		s.src.status &^= hw.DMAIrq(v)
	case hw.OffDMASrcIrqEnable:
		s.src.enabled |= hw.DMAIrq(v) & hw.DMAAll
	case hw.OffDMASrcIrqMask:
		s.src.enabled &^= hw.DMAIrq(v)
	case hw.OffDMADstIrqStatus:
		s.dst.status &^= hw.DMAIrq(v)
	case hw.OffDMADstIrqEnable:
		s.dst.enabled |= hw.DMAIrq(v) & hw.DMAAll
	case hw.OffDMADstIrqMask:
		s.dst.enabled &^= hw.DMAIrq(v)
	case hw.OffModuleID, hw.OffSRAMFillLevel, hw.OffPollStatus, hw.OffDLLObsLower,
		hw.OffFlashRdDataLo, hw.OffFlashRdDataHi:
		// read only
	default:
		s.mem.Store(off, v)
	}
}

func (s *Sim) indCtrl(x *indirect, v hw.IndCtrl, addrOff, bytesOff, instrOff uintptr) {
	if v&hw.IndCancel != 0 {
		*x = indirect{}
		if x == &s.rd {
			s.rx = s.rx[:0]
		} else {
			s.tx = s.tx[:0]
		}
		return
	}
	if v&hw.IndDone != 0 && x.done {
		*x = indirect{}
	}
	if v&hw.IndStart != 0 {
		*x = indirect{
			active: true,
			dma:    s.cfg()&hw.CfgDMAEnable != 0,
			opcode: uint8(s.mem.Load(instrOff)),
			addr:   s.mem.Load(addrOff),
			total:  int(s.mem.Load(bytesOff)),
		}
		s.Log.Debug("indirect start", slog.String("op", fmt.Sprintf("%#02x", x.opcode)),
			slog.Uint64("addr", uint64(x.addr)), slog.Int("len", x.total), slog.Bool("dma", x.dma))
	}
}

func (s *Sim) locked() bool {
	master := hw.PHYMaster(s.mem.Load(hw.OffPHYMasterCtrl))
	return !s.NoDLLLock && master&hw.MasterBypass == 0
}

// corrupt reports whether read data is sampled at a bad DLL tap.
func (s *Sim) corrupt() bool {
	if s.cfg()&hw.CfgPHYEnable == 0 {
		return false
	}
	tap := uint8(hw.PHYConfig(s.mem.Load(hw.OffPHYConfig)) & hw.PHYRxDLLMask)
	return tap < s.TapWindow[0] || tap > s.TapWindow[1]
}

func (s *Sim) sample(p []byte) {
	if !s.corrupt() {
		return
	}
	for i := range p {
		p[i] ^= 0xa5
	}
}

func (s *Sim) tick() {
	if s.Stall {
		return
	}
	if s.busy > 0 {
		s.busy--
	}
	if s.stig > 0 {
		s.stig--
		if s.stig == 0 {
			s.execSTIG()
			s.irq |= hw.IrqStigDone
		}
	}
	s.tickRead()
	s.tickWrite()
}

func (s *Sim) execSTIG() {
	v := hw.CmdCtrl(s.mem.Load(hw.OffFlashCmdCtrl))
	op := uint8(v >> hw.CmdOpcodeShift)
	addr := s.mem.Load(hw.OffFlashCmdAddr)
	if v&hw.CmdAddrEnable == 0 {
		addr = 0
	}

	var in []byte
	if v&hw.CmdWrEnable != 0 {
		var buf [hw.STIGMaxBytes]byte
		binary.LittleEndian.PutUint32(buf[0:], s.mem.Load(hw.OffFlashWrDataLo))
		binary.LittleEndian.PutUint32(buf[4:], s.mem.Load(hw.OffFlashWrDataHi))
		in = buf[:int(v>>hw.CmdWrBytesShift)&0x7+1]
	}
	var out [hw.STIGMaxBytes]byte
	n := 0
	if v&hw.CmdRdEnable != 0 {
		n = int(v>>hw.CmdRdBytesShift)&0x7 + 1
	}
	s.command(op, addr, in, out[:n])
	s.sample(out[:n])
	s.stigData[0] = binary.LittleEndian.Uint32(out[0:])
	s.stigData[1] = binary.LittleEndian.Uint32(out[4:])
}

func (s *Sim) tickRead() {
	x := &s.rd
	if !x.active || x.done {
		return
	}
	if x.dma {
		s.tickDMA(x, &s.dst)
		return
	}
	for i := 0; i < burstWords && len(s.rx) < hw.FIFOWords && x.moved < x.total; i++ {
		var w [4]byte
		k := min(4, x.total-x.moved)
		s.command(x.opcode, x.addr+uint32(x.moved), nil, w[:k])
		s.sample(w[:k])
		s.rx = append(s.rx, binary.LittleEndian.Uint32(w[:]))
		x.moved += k
	}
	if x.moved == x.total {
		x.done = true
		s.irq |= hw.IrqIndDone
	}
	if mark := int(s.mem.Load(hw.OffIndRdWatermark)); mark > 0 && len(s.rx)*4 >= mark {
		s.irq |= hw.IrqIndWatermark
	}
}

func (s *Sim) tickWrite() {
	x := &s.wr
	if !x.active || x.done {
		return
	}
	if x.dma {
		s.tickDMA(x, &s.src)
		return
	}
	for i := 0; i < burstWords && len(s.tx) > 0 && x.moved < x.total; i++ {
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], s.tx[0])
		s.tx = s.tx[1:]
		k := min(4, x.total-x.moved)
		x.buf = append(x.buf, w[:k]...)
		x.moved += k
	}
	if x.moved < x.total {
		if mark := int(s.mem.Load(hw.OffIndWrWatermark)); len(s.tx)*4 <= mark {
			s.irq |= hw.IrqIndWatermark
		}
		return
	}
	s.finishWrite(x)
}

// finishWrite programs the collected data and completes the write once
// auto polling, if enabled, sees the flash ready.
func (s *Sim) finishWrite(x *indirect) {
	if x.buf != nil {
		s.command(x.opcode, x.addr, x.buf, nil)
		x.buf = nil
	}
	ap := hw.AutoPoll(s.mem.Load(hw.OffAutoPoll))
	if ap&hw.PollDisable == 0 {
		match := hw.AutoPollMatch(s.mem.Load(hw.OffAutoPollMatch))
		pattern := uint8(match & hw.MatchPatternMask)
		mask := uint8(match >> hw.MatchMaskShift)
		if s.status()&mask != pattern&mask {
			x.polls++
			if ap&hw.PollExpiryEnable != 0 && uint32(x.polls) > s.mem.Load(hw.OffPollExpiry) {
				s.irq |= hw.IrqPollExpired
			}
			return
		}
	}
	x.done = true
	s.irq |= hw.IrqIndDone
}

func (s *Sim) tickDMA(x *indirect, ch *dmaChan) {
	if x.moved == x.total {
		// memory drained, the flash is still programming
		s.finishWrite(x)
		return
	}
	if s.FailDMA {
		s.FailDMA = false
		ch.status |= hw.DMAAxiError
		x.done = true
		return
	}

	var addrOff, msbOff uintptr = hw.OffDMADstAddr, hw.OffDMADstAddrMSB
	if ch == &s.src {
		addrOff, msbOff = hw.OffDMASrcAddr, hw.OffDMASrcAddrMSB
	}
	base := uint64(s.mem.Load(msbOff))<<32 | uint64(s.mem.Load(addrOff))
	p := s.lookup(base + uint64(x.moved))
	if p == nil {
		ch.status |= hw.DMAInvalidAddr
		x.done = true
		return
	}

	k := min(burstWords*4, x.total-x.moved, len(p))
	if ch == &s.dst {
		s.command(x.opcode, x.addr+uint32(x.moved), nil, p[:k])
		s.sample(p[:k])
	} else {
		x.buf = append(x.buf, p[:k]...)
	}
	x.moved += k
	if x.moved < x.total {
		return
	}
	ch.status |= hw.DMADone
	if ch == &s.dst {
		x.done = true
		s.irq |= hw.IrqIndDone
	}
}

// BusAddr assigns p a bus address visible to the simulated DMA engine.
func (s *Sim) BusAddr(p []byte) uint64 {
	for _, b := range s.bufs {
		if len(b.p) == len(p) && (len(p) == 0 || &b.p[0] == &p[0]) {
			return b.addr
		}
	}
	if s.next == 0 {
		s.next = dmaBase
		if s.HighMem {
			s.next = dmaHigh
		}
	}
	addr := s.next
	s.next += uint64(len(p)+63) &^ 63
	s.bufs = append(s.bufs, dmaBuf{addr, p})
	return addr
}

// lookup returns the remainder of the registered buffer containing addr.
func (s *Sim) lookup(addr uint64) []byte {
	for _, b := range s.bufs {
		if addr >= b.addr && addr < b.addr+uint64(len(b.p)) {
			return b.p[addr-b.addr:]
		}
	}
	return nil
}

func (s *Sim) Writeback(p []byte)  { s.Writebacks++ }
func (s *Sim) Invalidate(p []byte) { s.Invalidates++ }

var (
	_ regs.Block     = (*Sim)(nil)
	_ regs.DMAMemory = (*Sim)(nil)
)
