package ospi

import (
	"fmt"

	"periph.io/x/conn/v3"
)

// Bus exposes the controller as a half duplex periph.io connection. Each Tx
// is one polled transfer: w[0] is the opcode, the next AddrBytes bytes of w
// the big endian address and the rest of w transmit data. Data is received
// into r.
type Bus struct {
	ctrl      *Controller
	Proto     Proto
	AddrBytes int // 0 for commands without address
	Dummy     int
}

var _ conn.Conn = (*Bus)(nil)

// Conn returns a connection issuing commands with the given protocol and
// address width.
func (c *Controller) Conn(proto Proto, addrBytes int) *Bus {
	return &Bus{ctrl: c, Proto: proto, AddrBytes: addrBytes}
}

func (b *Bus) String() string {
	return fmt.Sprintf("ospi%d/%v", b.ctrl.desc.ID, b.Proto)
}

func (b *Bus) Duplex() conn.Duplex {
	return conn.Half
}

func (b *Bus) Tx(w, r []byte) error {
	if len(w) < 1+b.AddrBytes {
		return fmt.Errorf("ospi: %d byte command with %d address bytes: %w", len(w), b.AddrBytes, ErrInvalidParameter)
	}
	msg := Msg{
		Opcode: w[0],
		Dummy:  b.Dummy,
		Proto:  b.Proto,
		DDR:    b.ctrl.cfg.EdgeMode == EdgeDDRPHY,
	}
	if b.AddrBytes > 0 {
		msg.AddrValid = true
		msg.AddrBytes = b.AddrBytes
		for _, v := range w[1 : 1+b.AddrBytes] {
			msg.Addr = msg.Addr<<8 | uint32(v)
		}
	}

	tx := w[1+b.AddrBytes:]
	switch {
	case len(tx) > 0 && len(r) > 0:
		return fmt.Errorf("ospi: full duplex transfer: %w", ErrInvalidParameter)
	case len(r) > 0:
		msg.Data, msg.Flags = r, MsgRx
	case len(tx) > 0:
		msg.Data, msg.Flags = tx, MsgTx
	}
	return b.ctrl.PollTransfer(&msg)
}
