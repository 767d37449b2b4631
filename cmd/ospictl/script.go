package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/clktmr/ospi/ospi"
	"github.com/clktmr/ospi/ospi/ospisim"
	"golang.org/x/exp/slog"
)

const runUsage = `Execute a script against a simulated controller.

Usage: %s run [flags] <script>

Script commands:

	prescale <div>                     set the clock prescaler
	mode sdr|sdr-phy|ddr-phy           select the read sampling mode
	dll <tap>                          set the receive DLL tap
	calibrate                          sweep DLL taps reading the flash id
	select 0|1|none                    select a chip select
	options [dual] [addr4] [dac] [rx64]
	autopoll on|off [expiry=<cycles>]  hardware status polling
	xfer <opcode> [addr=<a>] [abytes=3|4] [dummy=<n>] [rx=<n>|tx=<hex>]
	     [strategy=poll|intr|dma] [proto=<c-a-d>] [ddr]
	read <addr> <len>                  read and print the CRC-8
	fill <addr> <len> <byte>           preset flash contents
	verify <addr> <len> <crc>          compare the CRC-8 of flash contents
	reset [controller|hwpin|inband|ospi]
	idle | ready | config

`

var (
	runFlags = flag.NewFlagSet("run", flag.ExitOnError)
	trace    = runFlags.Bool("trace", false, "log register accesses, needs -v")
)

func runMain(args []string) {
	runFlags.Usage = func() {
		fmt.Fprintf(runFlags.Output(), runUsage, os.Args[0])
		runFlags.PrintDefaults()
	}
	runFlags.Parse(args[1:])
	if runFlags.NArg() != 1 {
		runFlags.Usage()
		os.Exit(1)
	}

	f, err := os.Open(runFlags.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	t, err := newTarget(*trace)
	if err != nil {
		log.Fatal(err)
	}
	if err := t.run(f, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

// run executes the script read from r, writing command output to w.
func (t *target) run(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		words, err := shellwords.SplitPosix(text)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(words) == 0 {
			continue
		}
		if err := t.exec(words, w); err != nil {
			return fmt.Errorf("line %d: %s: %w", line, words[0], err)
		}
	}
	return scanner.Err()
}

var errUsage = errors.New("bad arguments")

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errUsage, err)
	}
	return v, nil
}

func (t *target) exec(words []string, w io.Writer) error {
	c := t.ctrl
	cmd, args := words[0], words[1:]
	switch cmd {
	case "prescale":
		if len(args) != 1 {
			return errUsage
		}
		div, err := parseUint(args[0], 8)
		if err != nil {
			return err
		}
		return c.SetClockPrescaler(int(div))

	case "mode":
		if len(args) != 1 {
			return errUsage
		}
		for _, m := range []ospi.EdgeMode{ospi.EdgeSDRNonPHY, ospi.EdgeSDRPHY, ospi.EdgeDDRPHY} {
			if m.String() == args[0] {
				return c.SetSdrDdrMode(m)
			}
		}
		return errUsage

	case "dll":
		if len(args) != 1 {
			return errUsage
		}
		tap, err := parseUint(args[0], 8)
		if err != nil {
			return err
		}
		return c.SetDllDelay(uint8(tap))

	case "calibrate":
		probe := ospi.Msg{Opcode: ospisim.OpReadID, Data: make([]byte, len(t.sim.ID)), Flags: ospi.MsgRx}
		if err := c.Calibrate(&probe, t.sim.ID[:]); err != nil {
			return err
		}
		fmt.Fprintf(w, "dll tap %#x\n", c.Config().DllTap)
		return nil

	case "select":
		if len(args) != 1 {
			return errUsage
		}
		switch args[0] {
		case "0":
			return c.SelectFlash(ospi.CS0)
		case "1":
			return c.SelectFlash(ospi.CS1)
		case "none":
			return c.SelectFlash(ospi.CSNone)
		}
		return errUsage

	case "options":
		var o ospi.Options
		for _, a := range args {
			switch a {
			case "dual":
				o |= ospi.DualByteOpcode
			case "addr4":
				o |= ospi.Addr4Byte
			case "dac":
				o |= ospi.DAC
			case "rx64":
				o |= ospi.RxAddrOver32Bit
			default:
				return errUsage
			}
		}
		return c.SetOptions(o)

	case "autopoll":
		return t.autopoll(args)

	case "xfer":
		return t.xfer(args, w)

	case "read":
		if len(args) != 2 {
			return errUsage
		}
		addr, err := parseUint(args[0], 32)
		if err != nil {
			return err
		}
		n, err := parseUint(args[1], 24)
		if err != nil {
			return err
		}
		msg := ospi.Msg{Opcode: 0x03, Addr: uint32(addr), AddrValid: true, Data: make([]byte, n), Flags: ospi.MsgRx}
		if c.GetOptions()&ospi.Addr4Byte != 0 {
			msg.Opcode = 0x13
		}
		if err := c.PollTransfer(&msg); err != nil {
			return err
		}
		fmt.Fprintf(w, "%#x+%d crc %#02x\n", addr, n, ospisim.CRC(msg.Data))
		return nil

	case "fill":
		if len(args) != 3 {
			return errUsage
		}
		addr, err := parseUint(args[0], 32)
		if err != nil {
			return err
		}
		n, err := parseUint(args[1], 32)
		if err != nil {
			return err
		}
		b, err := parseUint(args[2], 8)
		if err != nil {
			return err
		}
		if addr+n > uint64(len(t.sim.Flash)) {
			return errUsage
		}
		for i := range t.sim.Flash[addr : addr+n] {
			t.sim.Flash[addr+uint64(i)] = byte(b)
		}
		return nil

	case "verify":
		if len(args) != 3 {
			return errUsage
		}
		addr, err := parseUint(args[0], 32)
		if err != nil {
			return err
		}
		n, err := parseUint(args[1], 32)
		if err != nil {
			return err
		}
		want, err := parseUint(args[2], 8)
		if err != nil {
			return err
		}
		if addr+n > uint64(len(t.sim.Flash)) {
			return errUsage
		}
		if got := t.sim.Checksum(uint32(addr), int(n)); got != uint8(want) {
			return fmt.Errorf("crc %#02x, expected %#02x", got, want)
		}
		return nil

	case "reset":
		kind := "controller"
		if len(args) > 0 {
			kind = args[0]
		}
		switch kind {
		case "controller":
			c.Reset()
			return nil
		case "hwpin":
			return c.DeviceReset(ospi.ResetHWPin)
		case "inband":
			return c.DeviceReset(ospi.ResetInband)
		case "ospi":
			return c.DeviceResetViaOspi()
		}
		return errUsage

	case "idle":
		return c.Idle()

	case "ready":
		ready, err := c.FlashReady()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "ready %v\n", ready)
		return nil

	case "config":
		rc := c.Config()
		fmt.Fprintf(w, "prescaler %d (%v) mode %v dll bypass %v tap %#x calibrated %v\n",
			rc.Prescaler, rc.BusClock, rc.EdgeMode, rc.DllBypass, rc.DllTap, rc.Calibrated)
		fmt.Fprintf(w, "options %#x cs %d address bytes %d autopoll %v phase %v\n",
			uint32(rc.Options), rc.ChipSelect, rc.AddrBytes, rc.AutoPoll.Enable, c.Phase())
		return nil
	}
	return fmt.Errorf("unknown command")
}

func (t *target) autopoll(args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	ap := t.ctrl.Config().AutoPoll
	switch args[0] {
	case "on":
		ap.Enable = true
	case "off":
		ap.Enable = false
	default:
		return errUsage
	}
	for _, a := range args[1:] {
		v, ok := strings.CutPrefix(a, "expiry=")
		if !ok {
			return errUsage
		}
		n, err := parseUint(v, 32)
		if err != nil {
			return err
		}
		ap.Expiry = uint32(n)
	}
	return t.ctrl.ConfigureAutoPolling(ap)
}

func parseProto(s string) (ospi.Proto, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return 0, errUsage
	}
	var p ospi.Proto
	for _, part := range parts {
		lines, err := parseUint(part, 4)
		if err != nil {
			return 0, err
		}
		p = p<<4 | ospi.Proto(lines)
	}
	return p, nil
}

func (t *target) xfer(args []string, w io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	op, err := parseUint(args[0], 8)
	if err != nil {
		return err
	}
	msg := ospi.Msg{Opcode: uint8(op)}
	strategy := ospi.StrategyPoll

	for _, a := range args[1:] {
		key, val, _ := strings.Cut(a, "=")
		switch key {
		case "addr":
			v, err := parseUint(val, 32)
			if err != nil {
				return err
			}
			msg.Addr, msg.AddrValid = uint32(v), true
		case "abytes":
			v, err := parseUint(val, 8)
			if err != nil {
				return err
			}
			msg.AddrBytes = int(v)
		case "dummy":
			v, err := parseUint(val, 8)
			if err != nil {
				return err
			}
			msg.Dummy = int(v)
		case "rx":
			v, err := parseUint(val, 24)
			if err != nil {
				return err
			}
			msg.Data, msg.Flags = make([]byte, v), msg.Flags|ospi.MsgRx
		case "tx":
			data, err := hex.DecodeString(val)
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			msg.Data, msg.Flags = data, msg.Flags|ospi.MsgTx
		case "strategy":
			switch val {
			case "poll":
				strategy = ospi.StrategyPoll
			case "intr":
				strategy = ospi.StrategyIntr
			case "dma":
				strategy = ospi.StrategyDMA
			default:
				return errUsage
			}
		case "proto":
			if msg.Proto, err = parseProto(val); err != nil {
				return err
			}
		case "ddr":
			msg.DDR = true
		default:
			return errUsage
		}
	}

	var result ospi.Status
	if strategy == ospi.StrategyIntr {
		if err := t.ctrl.SetStatusHandler(ospi.StatusHandlerFunc(func(s ospi.Status, n int) {
			result = s
			t.log.Debug("transfer status", slog.String("status", s.String()), slog.Int("n", n))
		})); err != nil {
			return err
		}
	}
	if err := t.ctrl.IssueTransfer(&msg, strategy); err != nil {
		return err
	}

	switch strategy {
	case ospi.StrategyIntr:
		for t.ctrl.Phase() != ospi.PhaseIdle && t.ctrl.Phase() != ospi.PhaseError {
			if t.sim.IrqPending() {
				t.ctrl.IntrHandler()
			}
		}
		if err := result.Err(); err != nil {
			return err
		}
	case ospi.StrategyDMA:
		s := t.ctrl.CheckDmaDone()
		for s == ospi.DmaPending {
			if t.sim.IrqPending() {
				t.ctrl.IntrHandler()
			}
			s = t.ctrl.CheckDmaDone()
		}
		if s == ospi.DmaError {
			return ospi.ErrDmaError
		}
	}

	if msg.Flags&ospi.MsgRx != 0 {
		if len(msg.Data) <= 32 {
			fmt.Fprintf(w, "%x\n", msg.Data)
		} else {
			fmt.Fprintf(w, "%d bytes crc %#02x\n", len(msg.Data), ospisim.CRC(msg.Data))
		}
	}
	return nil
}
