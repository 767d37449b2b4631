package ospi

import (
	"encoding/binary"
	"fmt"

	"github.com/clktmr/ospi/ospi/internal/hw"
	"github.com/clktmr/ospi/regs"
	"golang.org/x/exp/slog"
)

// IssueTransfer starts msg using strategy. Poll transfers return when the
// transfer completed. Interrupt and DMA transfers return nil once the
// transfer is running; their result is delivered by IntrHandler or
// CheckDmaDone.
func (c *Controller) IssueTransfer(msg *Msg, strategy Strategy) error {
	if strategy > StrategyDMA {
		return fmt.Errorf("ospi: strategy %v: %w", strategy, ErrInvalidParameter)
	}
	switch c.Phase() {
	case PhaseIdle:
	case PhaseError:
		return fmt.Errorf("ospi: transfer after fault: %w", ErrInvalidState)
	default:
		return fmt.Errorf("ospi: transfer while %v: %w", c.Phase(), ErrDeviceBusy)
	}

	p, addrBytes, err := msg.check(&c.cfg, &c.desc)
	if err != nil {
		return err
	}
	if c.cfg.ChipSelect == CSNone {
		return fmt.Errorf("ospi: no flash selected: %w", ErrInvalidState)
	}
	if !c.cfg.Calibrated {
		return fmt.Errorf("ospi: %v mode not calibrated: %w", c.cfg.EdgeMode, ErrInvalidState)
	}
	if strategy == StrategyIntr && c.handler == nil {
		return fmt.Errorf("ospi: interrupt transfer without status handler: %w", ErrInvalidParameter)
	}

	if strategy == StrategyDMA && (p == pathIndRead || p == pathIndWrite) {
		if err := c.checkDMA(msg.Data); err != nil {
			return err
		}
	}

	c.xfer = transfer{strategy: strategy, path: p, msg: msg, addr: addrBytes}
	c.xfer.dmaIntr = strategy == StrategyDMA && c.handler != nil
	c.advance(PhaseCommand)
	c.log.Debug("transfer",
		slog.String("strategy", strategy.String()),
		slog.String("path", p.String()),
		slog.String("opcode", fmt.Sprintf("%#02x", msg.Opcode)),
		slog.Int("len", len(msg.Data)))

	if p == pathNone {
		return c.complete(StatusSuccess)
	}

	switch strategy {
	case StrategyPoll:
		return c.runPoll()
	case StrategyIntr:
		c.startIntr()
	case StrategyDMA:
		if p == pathSTIG {
			// too small for the DMA engine, completed like a DMA transfer
			c.startDMASTIG()
		} else {
			c.startDMA()
		}
	}
	return nil
}

// PollTransfer issues msg and busy waits for its completion.
func (c *Controller) PollTransfer(msg *Msg) error {
	return c.IssueTransfer(msg, StrategyPoll)
}

// IntrTransfer issues msg to be completed by IntrHandler. A status handler
// must be registered.
func (c *Controller) IntrTransfer(msg *Msg) error {
	return c.IssueTransfer(msg, StrategyIntr)
}

// StartDmaTransfer issues msg to be moved by the DMA engine. Poll
// CheckDmaDone for the result.
func (c *Controller) StartDmaTransfer(msg *Msg) error {
	return c.IssueTransfer(msg, StrategyDMA)
}

// complete finishes the outstanding transfer with s and reports it the way
// its strategy requires. It returns the error for synchronous callers.
func (c *Controller) complete(s Status) error {
	x := c.xfer
	c.finish(s)
	switch x.strategy {
	case StrategyIntr:
		c.handler.TransferStatus(s, x.n)
	case StrategyDMA:
		c.dmaResult = DmaDone
		if s != StatusSuccess {
			c.dmaResult = DmaError
		}
		if x.dmaIntr {
			c.handler.TransferStatus(s, x.n)
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("ospi: %v opcode %#02x: %w", x.path, x.msg.Opcode, err)
	}
	return nil
}

// finish returns the hardware to its idle configuration and moves the
// engine to Idle, or to Error if s is a fault.
func (c *Controller) finish(s Status) {
	r := c.regs
	x := &c.xfer
	r.IrqMask.Store(0)
	switch x.path {
	case pathIndRead:
		if s != StatusSuccess {
			r.IndRdCtrl.Store(hw.IndCancel)
		}
		r.IndRdCtrl.Store(hw.IndDone)
	case pathIndWrite:
		if s != StatusSuccess {
			r.IndWrCtrl.Store(hw.IndCancel)
		}
		r.IndWrCtrl.Store(hw.IndDone)
	}
	if x.strategy == StrategyDMA {
		c.stopDMA()
	}
	r.IrqStatus.Store(hw.IrqAll)
	r.DevSize.StoreBits(hw.SizeAddrBytesMask, hw.DevSize(c.cfg.AddrBytes-1))

	if s != StatusSuccess {
		c.advance(PhaseError)
		c.log.Warn("transfer failed",
			slog.String("status", s.String()),
			slog.String("path", x.path.String()),
			slog.Int("n", x.n))
		return
	}
	c.advance(PhaseCompleting)
	c.advance(PhaseIdle)
}

// start programs the registers for the outstanding transfer and starts it.
func (c *Controller) start() {
	switch c.xfer.path {
	case pathSTIG:
		c.startSTIG()
	case pathIndRead:
		c.startIndirect(&c.regs.IndRdCtrl, &c.regs.IndRdAddr, &c.regs.IndRdBytes, &c.regs.DevInstrRd, hw.ExtReadShift)
	case pathIndWrite:
		c.startIndirect(&c.regs.IndWrCtrl, &c.regs.IndWrAddr, &c.regs.IndWrBytes, &c.regs.DevInstrWr, hw.ExtWriteShift)
	}
}

func (c *Controller) dualByte() bool {
	return c.cfg.Options&DualByteOpcode != 0
}

func (c *Controller) startSTIG() {
	r := c.regs
	x := &c.xfer
	m := x.msg
	n := len(m.Data)

	// the command registers take line widths from the read instruction
	r.DevInstrRd.Store(m.instr())
	if c.dualByte() {
		r.OpcodeExtHi.StoreBits(0xff<<hw.ExtStigShift, hw.OpcodeExt(m.extOpcode())<<hw.ExtStigShift)
	}

	v := hw.CmdCtrl(m.Opcode)<<hw.CmdOpcodeShift | hw.CmdCtrl(m.Dummy)<<hw.CmdDummyShift
	if m.AddrValid {
		r.CmdAddr.Store(m.Addr)
		v |= hw.CmdAddrEnable | hw.CmdCtrl(x.addr-1)<<hw.CmdAddrBytesShift
		c.advance(PhaseAddress)
	}
	if n > 0 {
		if m.rx() {
			v |= hw.CmdRdEnable | hw.CmdCtrl(n-1)<<hw.CmdRdBytesShift
		} else {
			var buf [hw.STIGMaxBytes]byte
			copy(buf[:], m.Data)
			r.CmdWrData[0].Store(binary.LittleEndian.Uint32(buf[0:]))
			r.CmdWrData[1].Store(binary.LittleEndian.Uint32(buf[4:]))
			v |= hw.CmdWrEnable | hw.CmdCtrl(n-1)<<hw.CmdWrBytesShift
		}
		c.advance(PhaseData)
	}
	r.IrqStatus.Store(hw.IrqAll)
	r.CmdCtrl.Store(v)
	r.CmdCtrl.Store(v | hw.CmdExecute)
}

// stigDone reports whether the command registers finished and collects
// received data.
func (c *Controller) stigDone() bool {
	if c.regs.CmdCtrl.LoadBits(hw.CmdInProgress) != 0 {
		return false
	}
	x := &c.xfer
	if m := x.msg; m.rx() && len(m.Data) > 0 {
		var buf [hw.STIGMaxBytes]byte
		binary.LittleEndian.PutUint32(buf[0:], c.regs.CmdRdData[0].Load())
		binary.LittleEndian.PutUint32(buf[4:], c.regs.CmdRdData[1].Load())
		copy(m.Data, buf[:])
	}
	x.n = len(x.msg.Data)
	return true
}

func (c *Controller) startIndirect(ctrl *regs.R32[hw.IndCtrl], addr, nbytes *regs.U32, instr *regs.R32[hw.DevInstr], extShift int) {
	r := c.regs
	x := &c.xfer
	m := x.msg

	instr.Store(m.instr())
	if c.dualByte() {
		r.OpcodeExtLo.StoreBits(0xff<<extShift, hw.OpcodeExt(m.extOpcode())<<extShift)
	}
	r.DevSize.StoreBits(hw.SizeAddrBytesMask, hw.DevSize(x.addr-1))
	addr.Store(m.Addr)
	c.advance(PhaseAddress)
	nbytes.Store(uint32(len(m.Data)))
	if x.path == pathIndRead {
		r.IndRdMark.Store(fifoWatermark)
	} else {
		r.IndWrMark.Store(fifoWatermark)
	}
	r.IrqStatus.Store(hw.IrqAll)
	c.advance(PhaseData)
	ctrl.Store(hw.IndStart)
}

// fifoWatermark is the fill level, in bytes, signalled to interrupt
// transfers: half the partition.
const fifoWatermark = hw.FIFOWords * 4 / 2

// pump moves data between the message buffer and the SRAM FIFO. It reports
// whether anything moved.
func (c *Controller) pump() bool {
	r := c.regs
	x := &c.xfer
	data := x.msg.Data
	moved := false
	var w [4]byte

	if x.path == pathIndRead {
		for words := r.SRAMFillLevel.Load().Read(); words > 0 && x.n < len(data); words-- {
			binary.LittleEndian.PutUint32(w[:], r.SRAMData.Load())
			x.n += copy(data[x.n:], w[:])
			moved = true
		}
		return moved
	}

	for free := hw.FIFOWords - r.SRAMFillLevel.Load().Write(); free > 0 && x.queued < len(data); free-- {
		w = [4]byte{}
		k := copy(w[:], data[x.queued:])
		r.SRAMData.Store(binary.LittleEndian.Uint32(w[:]))
		x.queued += k
		moved = true
	}
	return moved
}

// indirectDone reports whether the controller finished the indirect
// operation and all read data has been collected.
func (c *Controller) indirectDone() bool {
	x := &c.xfer
	if x.path == pathIndRead {
		return x.n == len(x.msg.Data) && c.regs.IndRdCtrl.LoadBits(hw.IndDone) != 0
	}
	if c.regs.IndWrCtrl.LoadBits(hw.IndDone) == 0 {
		return false
	}
	x.n = x.queued
	return true
}

// runPoll drives the outstanding transfer on the calling goroutine.
func (c *Controller) runPoll() error {
	c.start()
	idle := 0
	for {
		if s, fault := decodeIrq(c.regs.IrqStatus.Load()); fault {
			return c.complete(s)
		}

		var done, moved bool
		if c.xfer.path == pathSTIG {
			done = c.stigDone()
		} else {
			moved = c.pump()
			done = c.indirectDone()
		}
		if done {
			return c.complete(StatusSuccess)
		}

		if moved {
			idle = 0
		} else if idle++; idle >= c.pollRetries {
			return c.complete(StatusTimeout)
		}
	}
}
