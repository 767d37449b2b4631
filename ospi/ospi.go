// Package ospi drives an Octal/Quad SPI flash controller.
//
// The controller moves generic flash commands (opcode, address, dummy
// cycles, data) in one of three ways: polled by the calling goroutine,
// completed by IntrHandler, or moved by the controller's DMA engine. Flash
// specific command sequences are up to the caller.
//
// A Controller is not safe for concurrent use. While an interrupt or DMA
// transfer is outstanding the controller belongs to the completing context;
// the caller may only query Phase, Idle and CheckDmaDone.
package ospi

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/clktmr/ospi/ospi/internal/hw"
	"github.com/clktmr/ospi/regs"
	"golang.org/x/exp/slog"
	"periph.io/x/conn/v3/gpio"
)

// Controller is one OSPI controller instance.
type Controller struct {
	desc Descriptor
	regs *hw.Registers
	mem  regs.DMAMemory
	log  *slog.Logger

	cfg     RuntimeConfig
	handler StatusHandler
	rstPin  gpio.PinOut

	pollRetries int
	idleTimeout time.Duration

	phase  atomic.Uint32
	xfer   transfer
	inIntr atomic.Bool

	// result of the last DMA strategy transfer, until reported by
	// CheckDmaDone
	dmaResult DmaStatus
}

// InitOption customizes Initialize.
type InitOption func(*Controller)

// WithRegisters uses b as register block instead of mapping the
// descriptor's base address.
func WithRegisters(b regs.Block) InitOption {
	return func(c *Controller) { c.regs = hw.Map(b) }
}

// WithDMAMemory sets the buffer translation used by DMA transfers.
func WithDMAMemory(m regs.DMAMemory) InitOption {
	return func(c *Controller) { c.mem = m }
}

func WithLogger(l *slog.Logger) InitOption {
	return func(c *Controller) { c.log = l }
}

// WithPollRetries bounds busy waiting: a wait fails after n register polls
// without progress.
func WithPollRetries(n int) InitOption {
	return func(c *Controller) { c.pollRetries = n }
}

// WithIdleTimeout bounds Idle.
func WithIdleTimeout(d time.Duration) InitOption {
	return func(c *Controller) { c.idleTimeout = d }
}

// WithResetPin connects the flash's hardware reset line for
// DeviceReset(ResetHWPin).
func WithResetPin(p gpio.PinOut) InitOption {
	return func(c *Controller) { c.rstPin = p }
}

const (
	defaultPollRetries = 100_000
	defaultIdleTimeout = 100 * time.Millisecond
)

// Initialize validates desc, resets the controller and programs safe
// defaults: slowest clock, DLL bypassed, SDR sampling, 3 byte addresses and
// no flash selected.
func Initialize(desc *Descriptor, opts ...InitOption) (*Controller, error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		desc:        *desc,
		mem:         regs.CPUMemory(),
		pollRetries: defaultPollRetries,
		idleTimeout: defaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pollRetries <= 0 {
		return nil, fmt.Errorf("ospi: %d poll retries: %w", c.pollRetries, ErrInvalidParameter)
	}
	if c.regs == nil {
		b, err := regs.Map(desc.BaseAddr, hw.BlockSize)
		if err != nil {
			return nil, fmt.Errorf("ospi: map %#x: %w", desc.BaseAddr, err)
		}
		c.regs = hw.Map(b)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With(slog.String("component", "ospi"), slog.Int("id", int(desc.ID)))

	c.cfg = defaultConfig(&c.desc)
	c.Reset()

	c.log.Debug("initialized",
		slog.Any("refclk", c.desc.RefClk),
		slog.String("connection", c.desc.Connection.String()),
		slog.Int("buswidth", c.desc.BusWidth),
		slog.String("module", fmt.Sprintf("%#x", c.regs.ModuleID.Load())))
	return c, nil
}

// Descriptor returns the descriptor the controller was initialized with.
func (c *Controller) Descriptor() Descriptor {
	return c.desc
}

// Config returns a snapshot of the runtime configuration. The prescaler is
// decoded from the configuration register.
func (c *Controller) Config() RuntimeConfig {
	rc := c.cfg
	baud := c.regs.Config.LoadBits(hw.CfgBaudMask) >> hw.CfgBaudShift
	rc.Prescaler = int(baud+1) * hw.CfgBaudDivisor
	return rc
}

// busy reports whether a transfer is outstanding.
func (c *Controller) busy() bool {
	p := c.Phase()
	return p != PhaseIdle && p != PhaseError
}

// commit validates next as a whole, programs it and makes it the runtime
// configuration. On error nothing was changed.
func (c *Controller) commit(next RuntimeConfig) error {
	if c.busy() {
		return fmt.Errorf("ospi: reconfigure during transfer: %w", ErrDeviceBusy)
	}
	next.derive(&c.desc)
	if err := next.validate(&c.desc); err != nil {
		return err
	}
	c.program(&next)
	c.cfg = next
	c.log.Debug("configured",
		slog.Int("prescaler", next.Prescaler),
		slog.String("edge", next.EdgeMode.String()),
		slog.String("options", fmt.Sprintf("%#x", uint32(next.Options))),
		slog.Int("cs", int(next.ChipSelect)))
	return nil
}

// program writes all registers derived from rc. The PHY is programmed by
// programPHY.
func (c *Controller) program(rc *RuntimeConfig) {
	r := c.regs
	r.Config.StoreBits(hw.CfgWriteMask&^(hw.CfgEnable|hw.CfgDMAEnable|hw.CfgResetPin|hw.CfgResetCfg), rc.configBits())
	r.DevSize.StoreBits(hw.SizeAddrBytesMask, hw.DevSize(rc.AddrBytes-1))
	c.programAutoPoll(&rc.AutoPoll)
}

// SetClockPrescaler sets the SPI clock to the reference clock divided by
// div, which must be even and between 2 and 32.
func (c *Controller) SetClockPrescaler(div int) error {
	if !validPrescaler(div) {
		return fmt.Errorf("ospi: prescaler %d: %w", div, ErrInvalidParameter)
	}
	next := c.cfg
	next.Prescaler = div
	return c.commit(next)
}

// SetOptions replaces the enabled options with o.
func (c *Controller) SetOptions(o Options) error {
	next := c.cfg
	next.Options = o
	return c.commit(next)
}

func (c *Controller) GetOptions() Options {
	return c.cfg.Options
}

// ConfigDualByteOpcode enables or disables the dual byte opcode option.
func (c *Controller) ConfigDualByteOpcode(enable bool) error {
	o := c.cfg.Options &^ DualByteOpcode
	if enable {
		o |= DualByteOpcode
	}
	return c.SetOptions(o)
}

// SelectFlash routes subsequent transfers to chip select cs.
func (c *Controller) SelectFlash(cs ChipSelect) error {
	if cs != CSNone && int(cs) >= c.desc.Connection.chipSelects() {
		return fmt.Errorf("ospi: chip select %d in %v mode: %w", cs, c.desc.Connection, ErrInvalidParameter)
	}
	next := c.cfg
	next.ChipSelect = cs
	return c.commit(next)
}

// SetStatusHandler registers the receiver of asynchronous transfer results.
// It must not be changed while a transfer is outstanding.
func (c *Controller) SetStatusHandler(h StatusHandler) error {
	if c.busy() {
		return fmt.Errorf("ospi: replace status handler: %w", ErrDeviceBusy)
	}
	c.handler = h
	return nil
}

// wait polls until cond returns true, at most c.pollRetries times.
func (c *Controller) wait(cond func() bool) bool {
	for i := 0; i < c.pollRetries; i++ {
		if cond() {
			return true
		}
	}
	return false
}
