package ospi

import (
	"fmt"

	"github.com/clktmr/ospi/ospi/internal/hw"
)

type MsgFlags uint8

const (
	// MsgRx flags the data phase as receive.
	MsgRx MsgFlags = 1 << iota

	// MsgTx flags the data phase as transmit.
	MsgTx

	// MsgExtOpcode sends Msg.ExtOpcode as second opcode byte in dual byte
	// mode. Without it the inverted opcode is sent.
	MsgExtOpcode
)

// Proto is the number of lines used by the command, address and data phases,
// e.g. Proto118 for a single line command and address with octal data.
type Proto uint16

const (
	Proto111 Proto = 0x111
	Proto112 Proto = 0x112
	Proto114 Proto = 0x114
	Proto118 Proto = 0x118
	Proto144 Proto = 0x144
	Proto188 Proto = 0x188
	Proto444 Proto = 0x444
	Proto888 Proto = 0x888
)

func (p Proto) Cmd() int  { return int(p>>8) & 0xf }
func (p Proto) Addr() int { return int(p>>4) & 0xf }
func (p Proto) Data() int { return int(p) & 0xf }

func (p Proto) String() string { return fmt.Sprintf("%d-%d-%d", p.Cmd(), p.Addr(), p.Data()) }

// lineType encodes a line count for the instruction registers.
func lineType(lines int) hw.DevInstr {
	switch lines {
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	}
	return 0
}

// Msg describes a single flash command: opcode, optional address, optional
// dummy cycles and optional data in one direction.
type Msg struct {
	Opcode    uint8
	ExtOpcode uint8 // used with MsgExtOpcode in dual byte mode
	Addr      uint32
	AddrValid bool
	AddrBytes int // 0 uses the configured address width
	Dummy     int // dummy cycles between address and data
	Data      []byte
	Flags     MsgFlags
	Proto     Proto // 0 means Proto111
	DDR       bool  // opcode uses double data rate
}

func (m *Msg) rx() bool { return m.Flags&MsgRx != 0 }
func (m *Msg) tx() bool { return m.Flags&MsgTx != 0 }

func (m *Msg) proto() Proto {
	if m.Proto == 0 {
		return Proto111
	}
	return m.Proto
}

func (m *Msg) extOpcode() uint8 {
	if m.Flags&MsgExtOpcode != 0 {
		return m.ExtOpcode
	}
	return ^m.Opcode
}

// path is the controller mechanism moving a message.
type path uint8

const (
	pathNone     path = iota // no bus traffic
	pathSTIG                 // flash command registers
	pathIndRead              // indirect read through the SRAM FIFO
	pathIndWrite             // indirect write through the SRAM FIFO
)

func (p path) String() string {
	return [...]string{"none", "stig", "indirect-read", "indirect-write"}[p]
}

const maxDummy = 31

// check validates m against the runtime configuration and returns the path
// moving it and the effective address width. It has no side effects.
func (m *Msg) check(rc *RuntimeConfig, d *Descriptor) (p path, addrBytes int, err error) {
	if m == nil {
		return 0, 0, fmt.Errorf("ospi: nil message: %w", ErrInvalidParameter)
	}
	if m.rx() && m.tx() {
		return 0, 0, fmt.Errorf("ospi: message flagged rx and tx: %w", ErrInvalidParameter)
	}
	if len(m.Data) > 0 && !m.rx() && !m.tx() {
		return 0, 0, fmt.Errorf("ospi: data without direction: %w", ErrInvalidParameter)
	}
	if m.Dummy < 0 || m.Dummy > maxDummy {
		return 0, 0, fmt.Errorf("ospi: %d dummy cycles: %w", m.Dummy, ErrInvalidParameter)
	}

	proto := m.proto()
	for _, lines := range [...]int{proto.Cmd(), proto.Addr(), proto.Data()} {
		switch lines {
		case 1, 2, 4, 8:
		default:
			return 0, 0, fmt.Errorf("ospi: protocol %v: %w", proto, ErrInvalidParameter)
		}
		if lines > d.BusWidth {
			return 0, 0, fmt.Errorf("ospi: protocol %v on %d lines: %w", proto, d.BusWidth, ErrInvalidParameter)
		}
	}
	if m.DDR && rc.EdgeMode != EdgeDDRPHY {
		return 0, 0, fmt.Errorf("ospi: ddr opcode in %v mode: %w", rc.EdgeMode, ErrUnsupportedCombination)
	}

	if m.AddrValid {
		addrBytes = m.AddrBytes
		if addrBytes == 0 {
			addrBytes = rc.AddrBytes
		}
		switch addrBytes {
		case 3:
			if m.Addr >= 1<<24 {
				return 0, 0, fmt.Errorf("ospi: address %#x exceeds 24 bit: %w", m.Addr, ErrInvalidParameter)
			}
		case 4:
		default:
			return 0, 0, fmt.Errorf("ospi: %d address bytes: %w", addrBytes, ErrInvalidParameter)
		}
	}

	switch n := len(m.Data); {
	case n == 0 && m.rx():
		return pathNone, addrBytes, nil
	case n <= hw.STIGMaxBytes:
		return pathSTIG, addrBytes, nil
	case !m.AddrValid:
		return 0, 0, fmt.Errorf("ospi: %d bytes without address: %w", n, ErrInvalidParameter)
	case m.rx():
		return pathIndRead, addrBytes, nil
	default:
		return pathIndWrite, addrBytes, nil
	}
}

// instr returns the instruction register value for an indirect transfer.
func (m *Msg) instr() hw.DevInstr {
	proto := m.proto()
	v := hw.DevInstr(m.Opcode)
	v |= lineType(proto.Cmd()) << hw.InstrTypeShift
	v |= lineType(proto.Addr()) << hw.InstrAddrTypeShift
	v |= lineType(proto.Data()) << hw.InstrDataTypeShift
	v |= hw.DevInstr(m.Dummy) << hw.InstrDummyShift
	if m.DDR {
		v |= hw.InstrDDR
	}
	return v
}
