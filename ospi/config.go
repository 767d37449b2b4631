package ospi

import (
	"fmt"

	"github.com/clktmr/ospi/ospi/internal/hw"
	"periph.io/x/conn/v3/physic"
)

// ConnectionMode describes how flash devices are wired to the controller.
type ConnectionMode uint8

const (
	ConnectionSingle  ConnectionMode = iota // one flash on CS0
	ConnectionStacked                       // two flashes on CS0 and CS1, one active at a time
	ConnectionDual                          // two flashes on CS0 and CS1 sharing the bus
)

func (m ConnectionMode) String() string {
	switch m {
	case ConnectionSingle:
		return "single"
	case ConnectionStacked:
		return "stacked"
	case ConnectionDual:
		return "dual"
	}
	return fmt.Sprintf("ConnectionMode(%d)", m)
}

func (m ConnectionMode) chipSelects() int {
	if m == ConnectionSingle {
		return 1
	}
	return 2
}

// Descriptor is the static description of a controller instance.
type Descriptor struct {
	ID         uint16
	BaseAddr   uintptr
	RefClk     physic.Frequency
	Connection ConnectionMode
	BusWidth   int // data lines: 1, 2, 4 or 8
}

// ConfigTable lists the controller instances of the platform.
var ConfigTable = []Descriptor{
	{
		ID:         0,
		BaseAddr:   0xf101_0000,
		RefClk:     200 * physic.MegaHertz,
		Connection: ConnectionSingle,
		BusWidth:   8,
	},
}

// LookupConfig returns the descriptor with the given id, or nil.
func LookupConfig(id uint16) *Descriptor {
	for i := range ConfigTable {
		if ConfigTable[i].ID == id {
			return &ConfigTable[i]
		}
	}
	return nil
}

func (d *Descriptor) validate() error {
	switch {
	case d == nil:
		return fmt.Errorf("ospi: nil descriptor: %w", ErrInvalidParameter)
	case d.BaseAddr == 0:
		return fmt.Errorf("ospi: zero base address: %w", ErrInvalidParameter)
	case d.RefClk <= 0:
		return fmt.Errorf("ospi: reference clock %v: %w", d.RefClk, ErrInvalidParameter)
	case d.Connection > ConnectionDual:
		return fmt.Errorf("ospi: connection mode %v: %w", d.Connection, ErrInvalidParameter)
	}
	switch d.BusWidth {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("ospi: bus width %d: %w", d.BusWidth, ErrInvalidParameter)
	}
	return nil
}

// Options are independent controller features toggled with SetOptions.
type Options uint32

const (
	// DualByteOpcode sends a second opcode byte after each opcode, as
	// required by octal DDR flashes.
	DualByteOpcode Options = 1 << iota

	// Addr4Byte selects 32 bit flash addresses instead of 24 bit.
	Addr4Byte

	// DAC enables the direct access controller, mapping the flash into
	// the AXI address space for other bus masters.
	DAC

	// RxAddrOver32Bit allows DMA buffers above 4 GiB.
	RxAddrOver32Bit

	allOptions = DualByteOpcode | Addr4Byte | DAC | RxAddrOver32Bit
)

func (o Options) validate() error {
	switch {
	case o&^allOptions != 0:
		return fmt.Errorf("ospi: unknown options %#x: %w", uint32(o&^allOptions), ErrInvalidParameter)
	case o&DAC != 0 && o&RxAddrOver32Bit != 0:
		return fmt.Errorf("ospi: dac with rx address over 32 bit: %w", ErrUnsupportedCombination)
	case o&DualByteOpcode != 0 && o&Addr4Byte == 0:
		return fmt.Errorf("ospi: dual byte opcode with 3 byte addressing: %w", ErrUnsupportedCombination)
	}
	return nil
}

// ChipSelect selects the flash device addressed by transfers.
type ChipSelect uint8

const (
	CS0 ChipSelect = iota
	CS1
	CSNone ChipSelect = 0xf
)

func (cs ChipSelect) bits() hw.Config {
	switch cs {
	case CS0:
		return hw.CfgCS0
	case CS1:
		return hw.CfgCS1
	}
	return hw.CfgCSNone
}

// EdgeMode selects how read data is sampled.
type EdgeMode uint8

const (
	EdgeSDRNonPHY EdgeMode = iota // SDR, PHY and DLL bypassed, for low clocks
	EdgeSDRPHY                    // SDR through the PHY
	EdgeDDRPHY                    // DDR through the PHY, data strobe enabled
)

func (m EdgeMode) String() string {
	switch m {
	case EdgeSDRNonPHY:
		return "sdr"
	case EdgeSDRPHY:
		return "sdr-phy"
	case EdgeDDRPHY:
		return "ddr-phy"
	}
	return fmt.Sprintf("EdgeMode(%d)", m)
}

func (m EdgeMode) phy() bool { return m != EdgeSDRNonPHY }

// The PHY can't lock its DLL below this reference clock.
const minPHYRefClk = 100 * physic.MegaHertz

// AutoPoll configures hardware polling of the flash status register. The
// controller repeatedly issues Opcode and compares the returned status with
// Pattern under Mask.
type AutoPoll struct {
	Enable   bool
	Opcode   uint8
	Pattern  uint8
	Mask     uint8
	Interval uint8  // cycles between polls
	Expiry   uint32 // cycles until polling gives up, 0 polls forever

	// Proto and Dummy are used when the status is read by the CPU.
	Proto Proto
	Dummy int
}

// RuntimeConfig is the effective controller configuration.
type RuntimeConfig struct {
	Prescaler  int // SPI clock divisor
	BusClock   physic.Frequency
	EdgeMode   EdgeMode
	DllBypass  bool
	DllTap     uint8
	Calibrated bool
	Options    Options
	ChipSelect ChipSelect
	AddrBytes  int // 3 or 4
	AutoPoll   AutoPoll
}

const (
	minPrescaler     = 2
	maxPrescaler     = 32
	defaultPrescaler = maxPrescaler
	maxDllTap        = 0x7f
)

func validPrescaler(div int) bool {
	return div >= minPrescaler && div <= maxPrescaler && div%hw.CfgBaudDivisor == 0
}

// validate checks the whole combination against the descriptor.
func (rc *RuntimeConfig) validate(d *Descriptor) error {
	if !validPrescaler(rc.Prescaler) {
		return fmt.Errorf("ospi: prescaler %d: %w", rc.Prescaler, ErrInvalidParameter)
	}
	if err := rc.Options.validate(); err != nil {
		return err
	}
	if rc.ChipSelect != CSNone && int(rc.ChipSelect) >= d.Connection.chipSelects() {
		return fmt.Errorf("ospi: chip select %d in %v mode: %w", rc.ChipSelect, d.Connection, ErrInvalidParameter)
	}
	if rc.EdgeMode > EdgeDDRPHY {
		return fmt.Errorf("ospi: edge mode %v: %w", rc.EdgeMode, ErrInvalidParameter)
	}
	if rc.EdgeMode.phy() && d.RefClk < minPHYRefClk {
		return fmt.Errorf("ospi: %v with %v reference clock: %w", rc.EdgeMode, d.RefClk, ErrUnsupportedCombination)
	}
	if rc.DllTap > maxDllTap {
		return fmt.Errorf("ospi: dll tap %d: %w", rc.DllTap, ErrInvalidParameter)
	}
	if rc.AutoPoll.Enable && rc.AutoPoll.Mask == 0 {
		return fmt.Errorf("ospi: auto polling with empty mask: %w", ErrInvalidParameter)
	}
	return nil
}

// derive fills in the fields that follow from the others.
func (rc *RuntimeConfig) derive(d *Descriptor) {
	if rc.Prescaler > 0 {
		rc.BusClock = d.RefClk / physic.Frequency(rc.Prescaler)
	}
	rc.DllBypass = !rc.EdgeMode.phy()
	if rc.DllBypass {
		rc.Calibrated = true
	}
	rc.AddrBytes = 3
	if rc.Options&Addr4Byte != 0 {
		rc.AddrBytes = 4
	}
}

func defaultConfig(d *Descriptor) RuntimeConfig {
	rc := RuntimeConfig{
		Prescaler:  defaultPrescaler,
		EdgeMode:   EdgeSDRNonPHY,
		ChipSelect: CSNone,
		AutoPoll:   AutoPoll{Opcode: 0x05, Mask: 0x01},
	}
	rc.derive(d)
	return rc
}

// configBits returns the configuration register for rc, without the enable
// bit.
func (rc *RuntimeConfig) configBits() hw.Config {
	c := hw.Config(rc.Prescaler/hw.CfgBaudDivisor-1) << hw.CfgBaudShift
	c |= rc.ChipSelect.bits()
	if rc.EdgeMode.phy() {
		c |= hw.CfgPHYEnable
	}
	if rc.EdgeMode == EdgeDDRPHY {
		c |= hw.CfgDTR
	}
	if rc.Options&DualByteOpcode != 0 {
		c |= hw.CfgDualOpcode
	}
	if rc.Options&DAC != 0 {
		c |= hw.CfgDAC
	}
	return c
}
