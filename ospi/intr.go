package ospi

import (
	"github.com/clktmr/ospi/ospi/internal/hw"
	"golang.org/x/exp/slog"
)

func (c *Controller) startIntr() {
	mask := irqFaults
	switch c.xfer.path {
	case pathSTIG:
		mask |= hw.IrqStigDone
	default:
		mask |= hw.IrqIndDone | hw.IrqIndWatermark
	}
	c.start()
	if c.xfer.path == pathIndWrite {
		c.pump()
	}
	c.regs.IrqMask.Store(mask)
}

// IntrHandler services the controller interrupt. It must be called whenever
// the controller or its DMA channels raise their interrupt line. Calls made
// while another invocation is running return immediately; the running
// invocation picks up their status.
func (c *Controller) IntrHandler() {
	for {
		if !c.inIntr.CompareAndSwap(false, true) {
			return
		}
		for c.service() {
		}
		c.inIntr.Store(false)
		if !c.irqPending() {
			return
		}
	}
}

func (c *Controller) irqPending() bool {
	r := c.regs
	return r.IrqStatus.Load()&r.IrqMask.Load() != 0 ||
		dmaPending(&r.DMASrc) || dmaPending(&r.DMADst)
}

func dmaPending(ch *hw.DMAChannel) bool {
	return ch.IrqStatus.Load()&^ch.IrqMask.Load()&hw.DMAAll != 0
}

// service acknowledges and handles pending status once. It reports false if
// nothing was pending.
func (c *Controller) service() bool {
	r := c.regs
	irq := r.IrqStatus.Load() & r.IrqMask.Load()
	src := r.DMASrc.IrqStatus.Load() &^ r.DMASrc.IrqMask.Load() & hw.DMAAll
	dst := r.DMADst.IrqStatus.Load() &^ r.DMADst.IrqMask.Load() & hw.DMAAll
	if irq == 0 && src == 0 && dst == 0 {
		return false
	}
	r.IrqStatus.Store(irq)
	r.DMASrc.IrqStatus.Store(src)
	r.DMADst.IrqStatus.Store(dst)

	x := &c.xfer
	switch {
	case !c.busy():
		c.log.Debug("spurious interrupt", slog.Any("irq", irq), slog.Any("dma", src|dst))
	case x.strategy == StrategyIntr:
		c.serviceIntr(irq)
	case x.strategy == StrategyDMA && x.dmaIntr:
		c.serviceDMA(irq, src|dst)
	}
	return true
}

func (c *Controller) serviceIntr(irq hw.Irq) {
	if s, fault := decodeIrq(irq); fault {
		c.complete(s)
		return
	}
	if c.xfer.path == pathSTIG {
		if irq&hw.IrqStigDone != 0 && c.stigDone() {
			c.complete(StatusSuccess)
		}
		return
	}
	c.pump()
	if c.indirectDone() {
		c.complete(StatusSuccess)
	}
}
