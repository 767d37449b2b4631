package ospi

import (
	"fmt"
	"time"

	"github.com/clktmr/ospi/ospi/internal/hw"
	"golang.org/x/exp/slog"
	"periph.io/x/conn/v3/gpio"
)

// Reset returns the controller to Idle. Outstanding transfers are cancelled
// without being reported, interrupts are masked and cleared, and the runtime
// configuration is programmed again. The flash is not touched.
func (c *Controller) Reset() {
	r := c.regs
	r.Config.ClearBits(hw.CfgEnable | hw.CfgDMAEnable)
	r.IndRdCtrl.Store(hw.IndCancel)
	r.IndWrCtrl.Store(hw.IndCancel)
	r.IndRdCtrl.Store(hw.IndDone)
	r.IndWrCtrl.Store(hw.IndDone)
	r.IrqMask.Store(0)
	r.IrqStatus.Store(hw.IrqAll)
	for _, ch := range [...]*hw.DMAChannel{&r.DMASrc, &r.DMADst} {
		ch.IrqMask.Store(hw.DMAAll)
		ch.IrqStatus.Store(hw.DMAAll)
	}

	c.program(&c.cfg)
	if !c.programPHY(&c.cfg) {
		c.cfg.Calibrated = false
		c.log.Warn("dll not locked after reset", slog.String("mode", c.cfg.EdgeMode.String()))
	}
	r.Config.SetBits(hw.CfgEnable)

	c.xfer = transfer{}
	c.dmaResult = DmaIdle
	c.phase.Store(uint32(PhaseIdle))
	c.log.Debug("controller reset")
}

// ResetKind selects how DeviceReset resets the flash.
type ResetKind uint8

const (
	ResetHWPin  ResetKind = iota // pulse the reset pin given WithResetPin
	ResetInband                  // reset enable and reset memory commands
)

func (k ResetKind) String() string {
	switch k {
	case ResetHWPin:
		return "hwpin"
	case ResetInband:
		return "inband"
	}
	return fmt.Sprintf("ResetKind(%d)", k)
}

const (
	opResetEnable = 0x66
	opResetMemory = 0x99

	resetPulse    = 10 * time.Microsecond
	resetRecovery = 50 * time.Microsecond
)

// DeviceReset resets the flash and then the controller. Outstanding
// transfers are abandoned.
func (c *Controller) DeviceReset(kind ResetKind) error {
	switch kind {
	case ResetHWPin:
		if c.rstPin == nil {
			return fmt.Errorf("ospi: hardware reset without reset pin: %w", ErrInvalidParameter)
		}
		if err := c.rstPin.Out(gpio.Low); err != nil {
			return fmt.Errorf("ospi: assert %s: %w", c.rstPin, err)
		}
		time.Sleep(resetPulse)
		if err := c.rstPin.Out(gpio.High); err != nil {
			return fmt.Errorf("ospi: release %s: %w", c.rstPin, err)
		}
		time.Sleep(resetRecovery)
		c.Reset()

	case ResetInband:
		// the commands need a working controller
		c.Reset()
		proto, ddr := Proto111, false
		if c.cfg.EdgeMode == EdgeDDRPHY {
			proto, ddr = Proto888, true
		}
		for _, op := range [...]uint8{opResetEnable, opResetMemory} {
			msg := Msg{Opcode: op, Proto: proto, DDR: ddr}
			if err := c.PollTransfer(&msg); err != nil {
				return fmt.Errorf("ospi: inband reset: %w", err)
			}
		}
		time.Sleep(resetRecovery)
		c.Reset()

	default:
		return fmt.Errorf("ospi: reset kind %v: %w", kind, ErrInvalidParameter)
	}
	c.log.Debug("device reset", slog.String("kind", kind.String()))
	return nil
}

// DeviceResetViaOspi pulses the controller's dedicated flash reset pin and
// then resets the controller.
func (c *Controller) DeviceResetViaOspi() error {
	r := c.regs
	r.Config.SetBits(hw.CfgResetCfg)
	r.Config.SetBits(hw.CfgResetPin)
	time.Sleep(resetPulse)
	r.Config.ClearBits(hw.CfgResetPin)
	time.Sleep(resetRecovery)
	c.Reset()
	c.log.Debug("device reset", slog.String("kind", "controller pin"))
	return nil
}

// Idle waits until no transfer is outstanding and the controller reports
// idle. It fails with ErrInvalidState if a transfer faulted and with
// ErrTransferTimeout after the idle timeout. It changes nothing.
func (c *Controller) Idle() error {
	deadline := time.Now().Add(c.idleTimeout)
	for {
		switch c.Phase() {
		case PhaseError:
			return fmt.Errorf("ospi: idle after fault: %w", ErrInvalidState)
		case PhaseIdle:
			if c.regs.Config.LoadBits(hw.CfgIdle) != 0 {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ospi: not idle after %v: %w", c.idleTimeout, ErrTransferTimeout)
		}
	}
}
