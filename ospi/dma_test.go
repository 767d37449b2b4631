package ospi_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/clktmr/ospi/ospi"
	"github.com/clktmr/ospi/ospi/ospisim"
	ospitesting "github.com/clktmr/ospi/testing"
)

// waitDMA polls CheckDmaDone until the transfer finished.
func waitDMA(t *testing.T, c *ospi.Controller) ospi.DmaStatus {
	t.Helper()
	for i := 0; i < ospitesting.PollRetries; i++ {
		if s := c.CheckDmaDone(); s != ospi.DmaPending {
			return s
		}
	}
	t.Fatal("dma transfer still pending")
	return ospi.DmaPending
}

func TestDMARead(t *testing.T) {
	c, sim := ospitesting.Setup(t)
	data := pattern(4096)
	copy(sim.Flash[0x10000:], data)

	sim.Stall = true
	msg := readMsg(0x10000, len(data))
	if err := c.StartDmaTransfer(msg); err != nil {
		t.Fatal(err)
	}
	if s := c.CheckDmaDone(); s != ospi.DmaPending {
		t.Fatalf("expected %v, got %v", ospi.DmaPending, s)
	}
	if c.Phase() != ospi.PhaseData {
		t.Fatalf("expected %v, got %v", ospi.PhaseData, c.Phase())
	}

	sim.Stall = false
	if s := waitDMA(t, c); s != ospi.DmaDone {
		t.Fatalf("expected %v, got %v", ospi.DmaDone, s)
	}
	if s := c.CheckDmaDone(); s != ospi.DmaIdle {
		t.Fatalf("expected result to be reported once, got %v", s)
	}
	if !bytes.Equal(msg.Data, data) {
		t.Fatal("dma buffer doesn't hold flash data")
	}
	if sim.Invalidates == 0 {
		t.Fatal("expected receive buffer to be invalidated")
	}
	if c.Phase() != ospi.PhaseIdle {
		t.Fatalf("expected %v, got %v", ospi.PhaseIdle, c.Phase())
	}
}

func TestDMAWrite(t *testing.T) {
	c, sim := ospitesting.Setup(t)
	if err := c.PollTransfer(&ospi.Msg{Opcode: ospisim.OpWriteEnable}); err != nil {
		t.Fatal(err)
	}

	data := pattern(256)
	msg := ospi.Msg{Opcode: 0x02, Addr: 0x20000, AddrValid: true, Data: data, Flags: ospi.MsgTx}
	if err := c.StartDmaTransfer(&msg); err != nil {
		t.Fatal(err)
	}
	if s := waitDMA(t, c); s != ospi.DmaDone {
		t.Fatalf("expected %v, got %v", ospi.DmaDone, s)
	}
	if sim.Writebacks == 0 {
		t.Fatal("expected transmit buffer to be written back")
	}
	if !bytes.Equal(sim.Flash[0x20000:0x20000+len(data)], data) {
		t.Fatal("flash doesn't hold written data")
	}
}

func TestDMAError(t *testing.T) {
	c, sim := ospitesting.Setup(t)
	sim.FailDMA = true
	if err := c.StartDmaTransfer(readMsg(0, 512)); err != nil {
		t.Fatal(err)
	}
	if s := waitDMA(t, c); s != ospi.DmaError {
		t.Fatalf("expected %v, got %v", ospi.DmaError, s)
	}
	if s := c.CheckDmaDone(); s != ospi.DmaIdle {
		t.Fatalf("expected error to be reported once, got %v", s)
	}
	if c.Phase() != ospi.PhaseError {
		t.Fatalf("expected %v, got %v", ospi.PhaseError, c.Phase())
	}
}

func TestDMAWithHandler(t *testing.T) {
	c, sim := ospitesting.Setup(t)
	var rec recorder
	if err := c.SetStatusHandler(&rec); err != nil {
		t.Fatal(err)
	}
	data := pattern(2048)
	copy(sim.Flash, data)

	msg := readMsg(0, len(data))
	if err := c.StartDmaTransfer(msg); err != nil {
		t.Fatal(err)
	}
	if s := c.CheckDmaDone(); s != ospi.DmaPending {
		t.Fatalf("expected %v, got %v", ospi.DmaPending, s)
	}
	ospitesting.RunIntr(t, c, sim)

	if rec.calls != 1 || rec.status != ospi.StatusSuccess || rec.n != len(data) {
		t.Fatalf("expected one successful callback for %d bytes, got %+v", len(data), rec)
	}
	if s := c.CheckDmaDone(); s != ospi.DmaDone {
		t.Fatalf("expected %v, got %v", ospi.DmaDone, s)
	}
	if s := c.CheckDmaDone(); s != ospi.DmaIdle {
		t.Fatalf("expected %v, got %v", ospi.DmaIdle, s)
	}
	if !bytes.Equal(msg.Data, data) {
		t.Fatal("dma buffer doesn't hold flash data")
	}
}

func TestDMAWriteWaitsForFlash(t *testing.T) {
	for _, withHandler := range []bool{false, true} {
		name := "poll"
		if withHandler {
			name = "handler"
		}
		t.Run(name, func(t *testing.T) {
			c, sim := ospitesting.Setup(t)
			sim.BusyTicks = 50
			ap := c.Config().AutoPoll
			ap.Enable = true
			if err := c.ConfigureAutoPolling(ap); err != nil {
				t.Fatal(err)
			}
			var rec recorder
			if withHandler {
				if err := c.SetStatusHandler(&rec); err != nil {
					t.Fatal(err)
				}
			}
			if err := c.PollTransfer(&ospi.Msg{Opcode: ospisim.OpWriteEnable}); err != nil {
				t.Fatal(err)
			}

			data := pattern(256)
			msg := ospi.Msg{Opcode: 0x02, Addr: 0x4000, AddrValid: true, Data: data, Flags: ospi.MsgTx}
			if err := c.StartDmaTransfer(&msg); err != nil {
				t.Fatal(err)
			}
			if withHandler {
				ospitesting.RunIntr(t, c, sim)
				if rec.calls != 1 || rec.status != ospi.StatusSuccess || rec.n != len(data) {
					t.Fatalf("expected one successful callback for %d bytes, got %+v", len(data), rec)
				}
			}
			if s := waitDMA(t, c); s != ospi.DmaDone {
				t.Fatalf("expected %v, got %v", ospi.DmaDone, s)
			}

			// the write is done only once the flash finished programming
			ready, err := c.FlashReady()
			if err != nil {
				t.Fatal(err)
			}
			if !ready {
				t.Fatal("expected flash ready when the dma write completed")
			}
			if !bytes.Equal(sim.Flash[0x4000:0x4000+len(data)], data) {
				t.Fatal("flash doesn't hold written data")
			}
		})
	}
}

func TestDMASmallMessage(t *testing.T) {
	readIDMsg := func() *ospi.Msg {
		return &ospi.Msg{Opcode: ospisim.OpReadID, Data: make([]byte, 3), Flags: ospi.MsgRx}
	}

	t.Run("poll", func(t *testing.T) {
		c, sim := ospitesting.Setup(t)
		sim.Stall = true
		msg := readIDMsg()
		if err := c.StartDmaTransfer(msg); err != nil {
			t.Fatal(err)
		}
		if s := c.CheckDmaDone(); s != ospi.DmaPending {
			t.Fatalf("expected %v, got %v", ospi.DmaPending, s)
		}

		sim.Stall = false
		if s := waitDMA(t, c); s != ospi.DmaDone {
			t.Fatalf("expected %v, got %v", ospi.DmaDone, s)
		}
		if s := c.CheckDmaDone(); s != ospi.DmaIdle {
			t.Fatalf("expected result to be reported once, got %v", s)
		}
		if !bytes.Equal(msg.Data, ospisim.DefaultID[:]) {
			t.Fatalf("expected id %x, got %x", ospisim.DefaultID, msg.Data)
		}
	})

	t.Run("handler", func(t *testing.T) {
		c, sim := ospitesting.Setup(t)
		var rec recorder
		if err := c.SetStatusHandler(&rec); err != nil {
			t.Fatal(err)
		}
		sim.Stall = true
		msg := readIDMsg()
		if err := c.StartDmaTransfer(msg); err != nil {
			t.Fatal(err)
		}
		if rec.calls != 0 || c.Phase() == ospi.PhaseIdle {
			t.Fatalf("expected transfer running after issue, got %v with %+v", c.Phase(), rec)
		}

		sim.Stall = false
		ospitesting.RunIntr(t, c, sim)
		if rec.calls != 1 || rec.status != ospi.StatusSuccess || rec.n != 3 {
			t.Fatalf("expected one successful callback for 3 bytes, got %+v", rec)
		}
		if s := c.CheckDmaDone(); s != ospi.DmaDone {
			t.Fatalf("expected %v, got %v", ospi.DmaDone, s)
		}
		if !bytes.Equal(msg.Data, ospisim.DefaultID[:]) {
			t.Fatalf("expected id %x, got %x", ospisim.DefaultID, msg.Data)
		}
	})

	t.Run("fault", func(t *testing.T) {
		c, sim := ospitesting.Setup(t)
		sim.Stall = true
		if err := c.StartDmaTransfer(readIDMsg()); err != nil {
			t.Fatal(err)
		}
		sim.InjectFault(ospisim.FaultIllegalAccess)
		if s := c.CheckDmaDone(); s != ospi.DmaError {
			t.Fatalf("expected %v, got %v", ospi.DmaError, s)
		}
		if s := c.CheckDmaDone(); s != ospi.DmaIdle {
			t.Fatalf("expected error to be reported once, got %v", s)
		}
		if c.Phase() != ospi.PhaseError {
			t.Fatalf("expected %v, got %v", ospi.PhaseError, c.Phase())
		}
	})
}

func TestDMAParameters(t *testing.T) {
	t.Run("noMemory", func(t *testing.T) {
		c, _ := ospitesting.Setup(t, ospi.WithDMAMemory(nil))
		err := c.StartDmaTransfer(readMsg(0, 64))
		if !errors.Is(err, ospi.ErrInvalidParameter) {
			t.Fatalf("expected %v, got %v", ospi.ErrInvalidParameter, err)
		}
		if c.Phase() != ospi.PhaseIdle {
			t.Fatalf("expected %v, got %v", ospi.PhaseIdle, c.Phase())
		}
	})

	t.Run("highMem", func(t *testing.T) {
		c, sim := ospitesting.Setup(t)
		sim.HighMem = true
		copy(sim.Flash, pattern(64))

		msg := readMsg(0, 64)
		if err := c.StartDmaTransfer(msg); !errors.Is(err, ospi.ErrInvalidParameter) {
			t.Fatalf("expected %v, got %v", ospi.ErrInvalidParameter, err)
		}
		if err := c.SetOptions(ospi.RxAddrOver32Bit); err != nil {
			t.Fatal(err)
		}
		if err := c.StartDmaTransfer(msg); err != nil {
			t.Fatal(err)
		}
		if s := waitDMA(t, c); s != ospi.DmaDone {
			t.Fatalf("expected %v, got %v", ospi.DmaDone, s)
		}
		if !bytes.Equal(msg.Data, pattern(64)) {
			t.Fatal("dma buffer doesn't hold flash data")
		}
	})
}

func TestCheckDmaDoneIdle(t *testing.T) {
	c, _ := ospitesting.Setup(t)
	if s := c.CheckDmaDone(); s != ospi.DmaIdle {
		t.Fatalf("expected %v, got %v", ospi.DmaIdle, s)
	}
	if _, err := readID(c); err != nil {
		t.Fatal(err)
	}
	if s := c.CheckDmaDone(); s != ospi.DmaIdle {
		t.Fatalf("expected %v after poll transfer, got %v", ospi.DmaIdle, s)
	}
}
