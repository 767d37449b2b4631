package ospi

import (
	"bytes"
	"fmt"

	"github.com/clktmr/ospi/ospi/internal/hw"
	"golang.org/x/exp/slog"
)

const (
	phyInitialDelay = 0x04
	phyTxTap        = 0x1e
	phyDefaultTap   = 0x40
	legacyRCDelay   = 1
)

// programPHY sets up read data capture for rc's edge mode. It reports false
// if the DLL didn't lock.
func (c *Controller) programPHY(rc *RuntimeConfig) bool {
	r := c.regs
	if !rc.EdgeMode.phy() {
		r.PHYMaster.Store(hw.MasterBypass)
		r.ReadCapture.Store(hw.RCBypass | legacyRCDelay<<hw.RCDelayShift)
		return true
	}

	rcap := hw.ReadCapture(0)
	if rc.EdgeMode == EdgeDDRPHY {
		rcap |= hw.RCDQSEnable
	}
	r.ReadCapture.Store(rcap)
	r.PHYMaster.Store(phyInitialDelay)
	r.PHYConfig.Store(hw.PHYReset)
	c.setTap(rc.DllTap)
	return c.wait(func() bool { return r.DLLObs.LoadBits(hw.DLLLock) != 0 })
}

func (c *Controller) setTap(tap uint8) {
	v := hw.PHYConfig(phyTxTap)<<hw.PHYTxDLLShift | hw.PHYConfig(tap)&hw.PHYRxDLLMask
	c.regs.PHYConfig.Store(v)
	c.regs.PHYConfig.Store(v | hw.PHYResync)
}

// SetSdrDdrMode selects the read data sampling mode. PHY modes need a
// reference clock of at least 100 MHz and leave the PHY uncalibrated until
// SetDllDelay or Calibrate succeeded.
func (c *Controller) SetSdrDdrMode(mode EdgeMode) error {
	if mode > EdgeDDRPHY {
		return fmt.Errorf("ospi: edge mode %v: %w", mode, ErrInvalidParameter)
	}
	if c.busy() {
		return fmt.Errorf("ospi: edge mode change during transfer: %w", ErrDeviceBusy)
	}

	prev := c.cfg
	next := c.cfg
	next.EdgeMode = mode
	next.Calibrated = false
	if mode.phy() && !prev.EdgeMode.phy() {
		next.DllTap = phyDefaultTap
	}
	next.derive(&c.desc)
	if err := next.validate(&c.desc); err != nil {
		return err
	}

	c.program(&next)
	if !c.programPHY(&next) {
		c.program(&prev)
		c.programPHY(&prev)
		return fmt.Errorf("ospi: dll lock in %v mode: %w", mode, ErrTransferTimeout)
	}
	c.cfg = next
	c.log.Debug("edge mode", slog.String("mode", mode.String()), slog.Bool("dllbypass", next.DllBypass))
	return nil
}

// SetDllDelay programs the receive DLL tap. It is only valid in PHY modes.
func (c *Controller) SetDllDelay(tap uint8) error {
	if tap > maxDllTap {
		return fmt.Errorf("ospi: dll tap %d: %w", tap, ErrInvalidParameter)
	}
	if c.busy() {
		return fmt.Errorf("ospi: dll tap change during transfer: %w", ErrDeviceBusy)
	}
	if c.cfg.DllBypass {
		return fmt.Errorf("ospi: dll tap with dll bypassed: %w", ErrInvalidState)
	}
	c.setTap(tap)
	c.cfg.DllTap = tap
	c.cfg.Calibrated = true
	return nil
}

// Calibrate finds the receive DLL tap by reading probe at every tap and
// selecting the centre of the widest window of taps returning want. probe
// must be a receive message with len(want) data bytes.
func (c *Controller) Calibrate(probe *Msg, want []byte) error {
	if probe == nil || !probe.rx() || len(want) == 0 || len(probe.Data) != len(want) {
		return fmt.Errorf("ospi: calibration probe: %w", ErrInvalidParameter)
	}
	if c.busy() {
		return fmt.Errorf("ospi: calibrate during transfer: %w", ErrDeviceBusy)
	}
	if c.cfg.DllBypass {
		return fmt.Errorf("ospi: calibrate with dll bypassed: %w", ErrInvalidState)
	}

	bestStart, bestLen := 0, 0
	start, n := 0, 0
	for tap := 0; tap <= maxDllTap; tap++ {
		c.setTap(uint8(tap))
		c.cfg.Calibrated = true
		clear(probe.Data)
		if err := c.PollTransfer(probe); err != nil {
			c.cfg.Calibrated = false
			return err
		}
		if !bytes.Equal(probe.Data, want) {
			n = 0
			continue
		}
		if n == 0 {
			start = tap
		}
		n++
		if n > bestLen {
			bestStart, bestLen = start, n
		}
	}
	if bestLen == 0 {
		c.cfg.Calibrated = false
		return fmt.Errorf("ospi: calibrate: %w", ErrCalibration)
	}

	tap := uint8(bestStart + bestLen/2)
	c.setTap(tap)
	c.cfg.DllTap = tap
	c.log.Debug("calibrated", slog.Int("tap", int(tap)), slog.Int("window", bestLen))
	return nil
}

// ConfigureAutoPolling programs hardware polling of the flash status. With
// polling enabled FlashReady reads the status sampled by the controller and
// indirect writes complete only once the flash reports ready.
func (c *Controller) ConfigureAutoPolling(ap AutoPoll) error {
	next := c.cfg
	next.AutoPoll = ap
	return c.commit(next)
}

func (c *Controller) programAutoPoll(ap *AutoPoll) {
	r := c.regs
	r.AutoPollMatch.Store(hw.AutoPollMatch(ap.Pattern) | hw.AutoPollMatch(ap.Mask)<<hw.MatchMaskShift)
	v := hw.AutoPoll(ap.Opcode) | hw.AutoPoll(ap.Interval)<<hw.PollIntervalShift
	if !ap.Enable {
		v |= hw.PollDisable
	}
	if ap.Expiry != 0 {
		v |= hw.PollExpiryEnable
	}
	r.PollExpiry.Store(ap.Expiry)
	r.AutoPoll.Store(v)
	r.OpcodeExtLo.StoreBits(0xff<<hw.ExtPollShift, hw.OpcodeExt(^ap.Opcode)<<hw.ExtPollShift)
}

// FlashReady reports whether the flash status matches the auto polling
// pattern. The status sampled by the controller is used if auto polling is
// enabled, otherwise it is read with a polled transfer.
func (c *Controller) FlashReady() (bool, error) {
	ap := c.cfg.AutoPoll
	if ap.Enable {
		st := c.regs.PollStatus.Load()
		if st&hw.PollStatusValid != 0 {
			return uint8(st)&ap.Mask == ap.Pattern&ap.Mask, nil
		}
	}

	var status [1]byte
	msg := Msg{
		Opcode: ap.Opcode,
		Dummy:  ap.Dummy,
		Data:   status[:],
		Flags:  MsgRx,
		Proto:  ap.Proto,
		DDR:    c.cfg.EdgeMode == EdgeDDRPHY,
	}
	if err := c.PollTransfer(&msg); err != nil {
		return false, err
	}
	return status[0]&ap.Mask == ap.Pattern&ap.Mask, nil
}
