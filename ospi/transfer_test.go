package ospi_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/clktmr/ospi/ospi"
	"github.com/clktmr/ospi/ospi/ospisim"
	ospitesting "github.com/clktmr/ospi/testing"
)

func readID(c *ospi.Controller) ([]byte, error) {
	id := make([]byte, 3)
	err := c.PollTransfer(&ospi.Msg{Opcode: ospisim.OpReadID, Data: id, Flags: ospi.MsgRx})
	return id, err
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + i>>8)
	}
	return p
}

func readMsg(addr uint32, n int) *ospi.Msg {
	return &ospi.Msg{Opcode: 0x03, Addr: addr, AddrValid: true, Data: make([]byte, n), Flags: ospi.MsgRx}
}

// program writes data with a polled write enable and page program and waits
// until the flash is ready again.
func program(t *testing.T, c *ospi.Controller, addr uint32, data []byte) {
	t.Helper()
	if err := c.PollTransfer(&ospi.Msg{Opcode: ospisim.OpWriteEnable}); err != nil {
		t.Fatal(err)
	}
	msg := ospi.Msg{Opcode: 0x02, Addr: addr, AddrValid: true, Data: data, Flags: ospi.MsgTx}
	if err := c.PollTransfer(&msg); err != nil {
		t.Fatal(err)
	}
	waitReady(t, c)
}

func waitReady(t *testing.T, c *ospi.Controller) {
	t.Helper()
	for i := 0; i < 100; i++ {
		ready, err := c.FlashReady()
		if err != nil {
			t.Fatal(err)
		}
		if ready {
			return
		}
	}
	t.Fatal("flash not ready")
}

type recorder struct {
	calls  int
	status ospi.Status
	n      int
}

func (r *recorder) TransferStatus(s ospi.Status, n int) {
	r.calls++
	r.status, r.n = s, n
}

func TestPollTransfer(t *testing.T) {
	c, sim := ospitesting.Setup(t)

	id, err := readID(c)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(id, ospisim.DefaultID[:]) {
		t.Fatalf("expected id %x, got %x", ospisim.DefaultID, id)
	}

	tests := map[string]struct {
		addr uint32
		n    int
	}{
		"stig":        {0x100, 8},
		"stigOdd":     {0x203, 5},
		"indirect":    {0x1000, 256},
		"unaligned":   {0x2001, 301},
		"overFIFO":    {0x4000, 1000},
		"partialWord": {0x8000, 9},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			data := pattern(tc.n)
			program(t, c, tc.addr, data)

			msg := readMsg(tc.addr, tc.n)
			if err := c.PollTransfer(msg); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(msg.Data, data) {
				t.Fatalf("expected %x, got %x", data, msg.Data)
			}
			if c.Phase() != ospi.PhaseIdle {
				t.Fatalf("expected %v, got %v", ospi.PhaseIdle, c.Phase())
			}
			if got, want := sim.Checksum(tc.addr, tc.n), ospisim.CRC(data); got != want {
				t.Fatalf("expected checksum %#02x, got %#02x", want, got)
			}
		})
	}
}

func TestTransferErrors(t *testing.T) {
	tests := map[string]struct {
		msg *ospi.Msg
		err error
	}{
		"nil":           {nil, ospi.ErrInvalidParameter},
		"rxAndTx":       {&ospi.Msg{Opcode: 0x03, Data: make([]byte, 1), Flags: ospi.MsgRx | ospi.MsgTx}, ospi.ErrInvalidParameter},
		"noDirection":   {&ospi.Msg{Opcode: 0x03, Data: make([]byte, 1)}, ospi.ErrInvalidParameter},
		"unaddressed":   {&ospi.Msg{Opcode: 0x03, Data: make([]byte, 9), Flags: ospi.MsgRx}, ospi.ErrInvalidParameter},
		"addrTooWide":   {&ospi.Msg{Opcode: 0x03, Addr: 1 << 24, AddrValid: true, Data: make([]byte, 4), Flags: ospi.MsgRx}, ospi.ErrInvalidParameter},
		"addrBytes":     {&ospi.Msg{Opcode: 0x03, AddrValid: true, AddrBytes: 2, Data: make([]byte, 4), Flags: ospi.MsgRx}, ospi.ErrInvalidParameter},
		"dummy":         {&ospi.Msg{Opcode: 0x0b, Dummy: 32, Data: make([]byte, 4), Flags: ospi.MsgRx}, ospi.ErrInvalidParameter},
		"proto":         {&ospi.Msg{Opcode: 0x03, Proto: 0x113, Data: make([]byte, 4), Flags: ospi.MsgRx}, ospi.ErrInvalidParameter},
		"ddrInSDR":      {&ospi.Msg{Opcode: 0x03, DDR: true, Data: make([]byte, 4), Flags: ospi.MsgRx}, ospi.ErrUnsupportedCombination},
		"strategyRange": {&ospi.Msg{Opcode: 0x06}, ospi.ErrInvalidParameter},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c, _ := ospitesting.Setup(t)
			strategy := ospi.StrategyPoll
			if name == "strategyRange" {
				strategy = 3
			}
			err := c.IssueTransfer(tc.msg, strategy)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if c.Phase() != ospi.PhaseIdle {
				t.Fatalf("expected %v, got %v", ospi.PhaseIdle, c.Phase())
			}
		})
	}
}

func TestNoFlashSelected(t *testing.T) {
	c, _ := ospitesting.Setup(t)
	if err := c.SelectFlash(ospi.CSNone); err != nil {
		t.Fatal(err)
	}
	if _, err := readID(c); !errors.Is(err, ospi.ErrInvalidState) {
		t.Fatalf("expected %v, got %v", ospi.ErrInvalidState, err)
	}
}

func TestZeroLengthReceive(t *testing.T) {
	for _, strategy := range []ospi.Strategy{ospi.StrategyPoll, ospi.StrategyIntr, ospi.StrategyDMA} {
		t.Run(strategy.String(), func(t *testing.T) {
			c, sim := ospitesting.Setup(t)
			var rec recorder
			if err := c.SetStatusHandler(&rec); err != nil {
				t.Fatal(err)
			}

			// a stalled controller proves there is no bus traffic
			sim.Stall = true
			msg := ospi.Msg{Opcode: 0x03, Addr: 0x100, AddrValid: true, Data: []byte{}, Flags: ospi.MsgRx}
			if err := c.IssueTransfer(&msg, strategy); err != nil {
				t.Fatal(err)
			}
			if c.Phase() != ospi.PhaseIdle {
				t.Fatalf("expected %v, got %v", ospi.PhaseIdle, c.Phase())
			}

			switch strategy {
			case ospi.StrategyPoll:
				if rec.calls != 0 {
					t.Fatalf("expected no callback, got %+v", rec)
				}
				return
			case ospi.StrategyDMA:
				if s := c.CheckDmaDone(); s != ospi.DmaDone {
					t.Fatalf("expected %v, got %v", ospi.DmaDone, s)
				}
			}
			if rec.calls != 1 || rec.status != ospi.StatusSuccess || rec.n != 0 {
				t.Fatalf("expected one successful callback, got %+v", rec)
			}
		})
	}
}

func TestPollTimeout(t *testing.T) {
	c, sim := ospitesting.Setup(t)

	sim.Stall = true
	_, err := readID(c)
	if !errors.Is(err, ospi.ErrTransferTimeout) {
		t.Fatalf("expected %v, got %v", ospi.ErrTransferTimeout, err)
	}
	if c.Phase() != ospi.PhaseError {
		t.Fatalf("expected %v, got %v", ospi.PhaseError, c.Phase())
	}

	sim.Stall = false
	if _, err := readID(c); !errors.Is(err, ospi.ErrInvalidState) {
		t.Fatalf("expected %v, got %v", ospi.ErrInvalidState, err)
	}
	if err := c.Idle(); !errors.Is(err, ospi.ErrInvalidState) {
		t.Fatalf("expected %v, got %v", ospi.ErrInvalidState, err)
	}
	if c.Phase() != ospi.PhaseError {
		t.Fatalf("expected %v to persist, got %v", ospi.PhaseError, c.Phase())
	}

	c.Reset()
	if c.Phase() != ospi.PhaseIdle {
		t.Fatalf("expected %v, got %v", ospi.PhaseIdle, c.Phase())
	}
	id, err := readID(c)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(id, ospisim.DefaultID[:]) {
		t.Fatalf("expected id %x, got %x", ospisim.DefaultID, id)
	}
}

func TestIndirectTimeout(t *testing.T) {
	c, sim := ospitesting.Setup(t)
	sim.Stall = true
	err := c.PollTransfer(readMsg(0, 64))
	if !errors.Is(err, ospi.ErrTransferTimeout) {
		t.Fatalf("expected %v, got %v", ospi.ErrTransferTimeout, err)
	}
	if c.Phase() != ospi.PhaseError {
		t.Fatalf("expected %v, got %v", ospi.PhaseError, c.Phase())
	}
}

func TestIntrTransfer(t *testing.T) {
	tests := map[string]int{
		"stig":     4,
		"indirect": 100,
		"overFIFO": 1000,
	}
	for name, n := range tests {
		t.Run(name, func(t *testing.T) {
			c, sim := ospitesting.Setup(t)
			data := pattern(n)
			copy(sim.Flash[0x3000:], data)

			var rec recorder
			if err := c.SetStatusHandler(&rec); err != nil {
				t.Fatal(err)
			}
			msg := readMsg(0x3000, n)
			if err := c.IntrTransfer(msg); err != nil {
				t.Fatal(err)
			}
			ospitesting.RunIntr(t, c, sim)

			if rec.calls != 1 || rec.status != ospi.StatusSuccess || rec.n != n {
				t.Fatalf("expected one successful callback for %d bytes, got %+v", n, rec)
			}
			if !bytes.Equal(msg.Data, data) {
				t.Fatalf("expected %x, got %x", data, msg.Data)
			}
			if c.Phase() != ospi.PhaseIdle {
				t.Fatalf("expected %v, got %v", ospi.PhaseIdle, c.Phase())
			}
		})
	}
}

func TestIntrWrite(t *testing.T) {
	c, sim := ospitesting.Setup(t)
	var rec recorder
	if err := c.SetStatusHandler(&rec); err != nil {
		t.Fatal(err)
	}
	if err := c.PollTransfer(&ospi.Msg{Opcode: ospisim.OpWriteEnable}); err != nil {
		t.Fatal(err)
	}

	data := pattern(600)
	msg := ospi.Msg{Opcode: 0x02, Addr: 0x5000, AddrValid: true, Data: data, Flags: ospi.MsgTx}
	if err := c.IntrTransfer(&msg); err != nil {
		t.Fatal(err)
	}
	ospitesting.RunIntr(t, c, sim)

	if rec.calls != 1 || rec.status != ospi.StatusSuccess || rec.n != len(data) {
		t.Fatalf("expected one successful callback for %d bytes, got %+v", len(data), rec)
	}
	if !bytes.Equal(sim.Flash[0x5000:0x5000+len(data)], data) {
		t.Fatal("flash doesn't hold written data")
	}
}

func TestIntrWithoutHandler(t *testing.T) {
	c, _ := ospitesting.Setup(t)
	err := c.IntrTransfer(readMsg(0, 16))
	if !errors.Is(err, ospi.ErrInvalidParameter) {
		t.Fatalf("expected %v, got %v", ospi.ErrInvalidParameter, err)
	}
}

func TestIntrFault(t *testing.T) {
	tests := map[string]struct {
		fault  ospisim.Fault
		status ospi.Status
	}{
		"overrun":       {ospisim.FaultOverrun, ospi.StatusOverrun},
		"underrun":      {ospisim.FaultUnderrun, ospi.StatusUnderrun},
		"illegalAccess": {ospisim.FaultIllegalAccess, ospi.StatusBusFault},
		"writeProtect":  {ospisim.FaultWriteProtect, ospi.StatusBusFault},
		"pollExpired":   {ospisim.FaultPollExpired, ospi.StatusTimeout},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c, sim := ospitesting.Setup(t)
			var rec recorder
			if err := c.SetStatusHandler(&rec); err != nil {
				t.Fatal(err)
			}
			sim.Stall = true
			if err := c.IntrTransfer(readMsg(0, 512)); err != nil {
				t.Fatal(err)
			}
			sim.InjectFault(tc.fault)
			ospitesting.RunIntr(t, c, sim)

			if rec.calls != 1 || rec.status != tc.status {
				t.Fatalf("expected one %v callback, got %+v", tc.status, rec)
			}
			if !errors.Is(rec.status.Err(), tc.status.Err()) {
				t.Fatalf("expected %v, got %v", tc.status.Err(), rec.status.Err())
			}
			if c.Phase() != ospi.PhaseError {
				t.Fatalf("expected %v, got %v", ospi.PhaseError, c.Phase())
			}
		})
	}
}

func TestBusy(t *testing.T) {
	c, sim := ospitesting.Setup(t)
	var rec recorder
	if err := c.SetStatusHandler(&rec); err != nil {
		t.Fatal(err)
	}
	copy(sim.Flash[0x100:], pattern(64))

	sim.Stall = true
	msg := readMsg(0x100, 64)
	if err := c.IntrTransfer(msg); err != nil {
		t.Fatal(err)
	}
	phase := c.Phase()
	cfg := c.Config()

	tests := map[string]func() error{
		"poll":      func() error { _, err := readID(c); return err },
		"intr":      func() error { return c.IntrTransfer(readMsg(0, 16)) },
		"dma":       func() error { return c.StartDmaTransfer(readMsg(0, 16)) },
		"prescaler": func() error { return c.SetClockPrescaler(4) },
		"options":   func() error { return c.SetOptions(ospi.Addr4Byte) },
		"select":    func() error { return c.SelectFlash(ospi.CSNone) },
		"edgeMode":  func() error { return c.SetSdrDdrMode(ospi.EdgeSDRPHY) },
		"dllDelay":  func() error { return c.SetDllDelay(0x40) },
		"autoPoll":  func() error { return c.ConfigureAutoPolling(ospi.AutoPoll{Enable: true, Opcode: 0x05, Mask: 1}) },
		"handler":   func() error { return c.SetStatusHandler(nil) },
	}
	for name, fn := range tests {
		if err := fn(); !errors.Is(err, ospi.ErrDeviceBusy) {
			t.Fatalf("%s: expected %v, got %v", name, ospi.ErrDeviceBusy, err)
		}
		if c.Phase() != phase {
			t.Fatalf("%s: expected %v, got %v", name, phase, c.Phase())
		}
		if c.Config() != cfg {
			t.Fatalf("%s: configuration changed", name)
		}
	}

	sim.Stall = false
	ospitesting.RunIntr(t, c, sim)
	if rec.calls != 1 || rec.status != ospi.StatusSuccess {
		t.Fatalf("expected one successful callback, got %+v", rec)
	}
	if !bytes.Equal(msg.Data, pattern(64)) {
		t.Fatalf("expected %x, got %x", pattern(64), msg.Data)
	}
}
