// Ospictl drives a simulated OSPI controller and flash.
//
// Usage:
//
//	ospictl [-v] run [-trace] <script>
//	ospictl [-v] probe
//
// A script holds one command per line, see the script command list printed
// by 'ospictl run -h'.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/clktmr/ospi/ospi"
	"github.com/clktmr/ospi/ospi/ospisim"
	"github.com/clktmr/ospi/regs"
	"golang.org/x/exp/slog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

const usageString = `ospictl exercises the OSPI driver against a simulated controller.

Usage:

	%s [flags] <command> [arguments]

The commands are:

	run      execute a script
	probe    read the flash id
`

var verbose = flag.Bool("v", false, "log at debug level")

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), usageString, os.Args[0])
	flag.PrintDefaults()
}

type target struct {
	ctrl *ospi.Controller
	sim  *ospisim.Sim
	rst  *gpiotest.Pin
	log  *slog.Logger
}

func newTarget(trace bool) (*target, error) {
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	sim := ospisim.New(ospisim.DefaultSize)
	sim.Log = logger.With(slog.String("component", "sim"))
	var block regs.Block = sim
	if trace {
		block = regs.Traced(sim, logger, ospisim.RegName)
	}

	t := &target{sim: sim, rst: &gpiotest.Pin{N: "FLASH_RST", L: gpio.High}, log: logger}
	desc := ospi.LookupConfig(0)
	if desc == nil {
		return nil, fmt.Errorf("no controller 0")
	}
	c, err := ospi.Initialize(desc,
		ospi.WithRegisters(block),
		ospi.WithDMAMemory(sim),
		ospi.WithLogger(logger),
		ospi.WithResetPin(t.rst))
	if err != nil {
		return nil, err
	}
	t.ctrl = c
	return t, nil
}

func main() {
	log.Default().SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "run":
		runMain(flag.Args())
	case "probe":
		probeMain()
	default:
		fmt.Fprintf(flag.CommandLine.Output(), "unknown command: %s\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}
}

func probeMain() {
	t, err := newTarget(false)
	if err != nil {
		log.Fatal(err)
	}
	if err := t.ctrl.SelectFlash(ospi.CS0); err != nil {
		log.Fatal(err)
	}
	id := make([]byte, 3)
	if err := t.ctrl.Conn(ospi.Proto111, 0).Tx([]byte{ospisim.OpReadID}, id); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("jedec id %x\n", id)
}
