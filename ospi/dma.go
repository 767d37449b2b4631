package ospi

import (
	"fmt"

	"github.com/clktmr/ospi/ospi/internal/hw"
	"golang.org/x/exp/slog"
)

// DmaStatus is the state of the last DMA transfer as seen by CheckDmaDone.
type DmaStatus uint8

const (
	DmaIdle    DmaStatus = iota // no DMA transfer outstanding or unreported
	DmaPending                  // transfer still running
	DmaDone                     // transfer completed successfully
	DmaError                    // transfer failed
)

func (s DmaStatus) String() string {
	switch s {
	case DmaIdle:
		return "idle"
	case DmaPending:
		return "pending"
	case DmaDone:
		return "done"
	case DmaError:
		return "error"
	}
	return fmt.Sprintf("DmaStatus(%d)", s)
}

// checkDMA validates a DMA buffer before anything is programmed.
func (c *Controller) checkDMA(p []byte) error {
	if c.mem == nil {
		return fmt.Errorf("ospi: dma without dma memory: %w", ErrInvalidParameter)
	}
	addr := c.mem.BusAddr(p)
	if end := addr + uint64(len(p)) - 1; end>>32 != 0 && c.cfg.Options&RxAddrOver32Bit == 0 {
		return fmt.Errorf("ospi: dma buffer at %#x above 4 GiB: %w", addr, ErrInvalidParameter)
	}
	return nil
}

func (c *Controller) dmaChannel() *hw.DMAChannel {
	if c.xfer.path == pathIndRead {
		return &c.regs.DMADst
	}
	return &c.regs.DMASrc
}

func (c *Controller) startDMA() {
	r := c.regs
	x := &c.xfer
	buf := x.msg.Data
	x.dmaBuf = buf

	addr := c.mem.BusAddr(buf)
	if x.path == pathIndRead {
		c.mem.Invalidate(buf)
	} else {
		c.mem.Writeback(buf)
	}

	ch := c.dmaChannel()
	ch.IrqStatus.Store(hw.DMAAll)
	ch.Addr.Store(uint32(addr))
	ch.AddrMSB.Store(uint32(addr >> 32))
	ch.Size.Store(uint32(len(buf)))
	if x.dmaIntr {
		ch.IrqEnable.Store(hw.DMAAll)
		mask := irqFaults
		if x.path == pathIndWrite {
			mask |= hw.IrqIndDone
		}
		r.IrqMask.Store(mask)
	} else {
		ch.IrqMask.Store(hw.DMAAll)
	}
	r.Config.SetBits(hw.CfgDMAEnable)
	c.start()
}

// startDMASTIG runs a message too small for the DMA engine through the
// command registers. It completes through IntrHandler or CheckDmaDone like
// any other DMA transfer.
func (c *Controller) startDMASTIG() {
	c.start()
	if c.xfer.dmaIntr {
		c.regs.IrqMask.Store(irqFaults | hw.IrqStigDone)
	}
}

// writeDone reports whether an indirect write also finished on the flash
// side. The source channel is done as soon as memory was drained.
func (c *Controller) writeDone() bool {
	return c.xfer.path != pathIndWrite || c.regs.IndWrCtrl.LoadBits(hw.IndDone) != 0
}

func (c *Controller) stopDMA() {
	r := c.regs
	r.Config.ClearBits(hw.CfgDMAEnable)
	for _, ch := range [...]*hw.DMAChannel{&r.DMASrc, &r.DMADst} {
		ch.IrqMask.Store(hw.DMAAll)
		ch.IrqStatus.Store(hw.DMAAll)
	}
	if x := &c.xfer; x.path == pathIndRead && x.dmaBuf != nil {
		c.mem.Invalidate(x.dmaBuf)
	}
}

// serviceDMA completes a DMA transfer from IntrHandler.
func (c *Controller) serviceDMA(irq hw.Irq, st hw.DMAIrq) {
	x := &c.xfer
	if s, fault := decodeIrq(irq); fault {
		c.complete(s)
		return
	}
	if x.path == pathSTIG {
		if irq&hw.IrqStigDone != 0 && c.stigDone() {
			c.complete(StatusSuccess)
		}
		return
	}
	s, done, fault := decodeDMA(st)
	if fault {
		c.dmaComplete(s)
		return
	}
	x.dmaDone = x.dmaDone || done
	if x.dmaDone && c.writeDone() {
		c.dmaComplete(StatusSuccess)
	}
}

func (c *Controller) dmaComplete(s Status) {
	if s == StatusSuccess {
		c.xfer.n = len(c.xfer.dmaBuf)
	}
	c.complete(s)
	c.log.Debug("dma complete", slog.String("status", s.String()), slog.String("result", c.dmaResult.String()))
}

// CheckDmaDone reports the state of the DMA transfer without blocking. The
// result of a finished transfer, DmaDone or DmaError, is reported exactly
// once; afterwards DmaIdle is returned until the next DMA transfer. With a
// status handler registered the transfer is completed by IntrHandler and
// CheckDmaDone only reports the latched result.
func (c *Controller) CheckDmaDone() DmaStatus {
	if x := &c.xfer; c.busy() && x.strategy == StrategyDMA {
		if x.dmaIntr {
			return DmaPending
		}
		if !c.pollDMA() {
			return DmaPending
		}
	}

	r := c.dmaResult
	c.dmaResult = DmaIdle
	return r
}

// pollDMA advances a DMA transfer without interrupts. It reports whether the
// transfer completed.
func (c *Controller) pollDMA() bool {
	x := &c.xfer
	if s, fault := decodeIrq(c.regs.IrqStatus.Load()); fault {
		c.dmaComplete(s)
		return true
	}
	if x.path == pathSTIG {
		if !c.stigDone() {
			return false
		}
		c.complete(StatusSuccess)
		return true
	}

	if !x.dmaDone {
		ch := c.dmaChannel()
		st := ch.IrqStatus.Load()
		s, done, fault := decodeDMA(st)
		if !done {
			return false
		}
		ch.IrqStatus.Store(st)
		if fault {
			c.dmaComplete(s)
			return true
		}
		x.dmaDone = true
	}
	if !c.writeDone() {
		return false
	}
	c.dmaComplete(StatusSuccess)
	return true
}
