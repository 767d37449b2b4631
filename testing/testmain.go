// Package testing provides utilities for testing code that drives an OSPI
// controller against the simulator.
package testing

import (
	"os"
	"testing"

	"github.com/clktmr/ospi/ospi"
	"github.com/clktmr/ospi/ospi/ospisim"
	"golang.org/x/exp/slog"
)

// TestMain should be used as TestMain for packages using Setup. Set
// OSPI_LOG=debug to see controller and flash logs.
func TestMain(m *testing.M) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("OSPI_LOG"))); err != nil {
		level = slog.LevelWarn
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(h))

	os.Exit(m.Run())
}

// PollRetries keeps timeouts short in tests.
const PollRetries = 1000

// Setup returns a controller on a fresh simulator with CS0 selected. opts
// are applied after the simulator options.
func Setup(tb testing.TB, opts ...ospi.InitOption) (*ospi.Controller, *ospisim.Sim) {
	tb.Helper()
	sim := ospisim.New(ospisim.DefaultSize)
	desc := ospi.ConfigTable[0]
	opts = append([]ospi.InitOption{
		ospi.WithRegisters(sim),
		ospi.WithDMAMemory(sim),
		ospi.WithPollRetries(PollRetries),
	}, opts...)

	c, err := ospi.Initialize(&desc, opts...)
	if err != nil {
		tb.Fatal(err)
	}
	if err := c.SelectFlash(ospi.CS0); err != nil {
		tb.Fatal(err)
	}
	return c, sim
}

// RunIntr calls the interrupt handler while the simulator raises its
// interrupt line, until no transfer is outstanding.
func RunIntr(tb testing.TB, c *ospi.Controller, sim *ospisim.Sim) {
	tb.Helper()
	for i := 0; i < PollRetries; i++ {
		if p := c.Phase(); p == ospi.PhaseIdle || p == ospi.PhaseError {
			return
		}
		if sim.IrqPending() {
			c.IntrHandler()
		}
	}
	tb.Fatalf("transfer still %v after %d steps", c.Phase(), PollRetries)
}
