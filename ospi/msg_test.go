package ospi

import (
	"errors"
	"testing"

	"github.com/clktmr/ospi/ospi/internal/hw"
	"periph.io/x/conn/v3/physic"
)

func TestMsgCheck(t *testing.T) {
	d := Descriptor{ID: 0, BaseAddr: 1, RefClk: 200 * physic.MegaHertz, BusWidth: 4}
	rc := defaultConfig(&d)

	tests := map[string]struct {
		msg  Msg
		path path
		addr int
		err  error
	}{
		"opcodeOnly":   {Msg{Opcode: 0x06}, pathSTIG, 0, nil},
		"zeroRx":       {Msg{Opcode: 0x03, Flags: MsgRx}, pathNone, 0, nil},
		"zeroTx":       {Msg{Opcode: 0x02, Flags: MsgTx}, pathSTIG, 0, nil},
		"stigRead":     {Msg{Opcode: 0x03, AddrValid: true, Data: make([]byte, 8), Flags: MsgRx}, pathSTIG, 3, nil},
		"indRead":      {Msg{Opcode: 0x03, AddrValid: true, Data: make([]byte, 9), Flags: MsgRx}, pathIndRead, 3, nil},
		"indWrite":     {Msg{Opcode: 0x02, AddrValid: true, Data: make([]byte, 9), Flags: MsgTx}, pathIndWrite, 3, nil},
		"addr4":        {Msg{Opcode: 0x13, Addr: 1 << 30, AddrValid: true, AddrBytes: 4, Data: make([]byte, 9), Flags: MsgRx}, pathIndRead, 4, nil},
		"quad":         {Msg{Opcode: 0xeb, AddrValid: true, Proto: Proto144, Data: make([]byte, 16), Flags: MsgRx}, pathIndRead, 3, nil},
		"octalOnQuad":  {Msg{Opcode: 0xcc, Proto: Proto188, Data: make([]byte, 4), Flags: MsgRx}, 0, 0, ErrInvalidParameter},
		"badLines":     {Msg{Opcode: 0x03, Proto: 0x131}, 0, 0, ErrInvalidParameter},
		"negDummy":     {Msg{Opcode: 0x03, Dummy: -1}, 0, 0, ErrInvalidParameter},
		"ddrOpcode":    {Msg{Opcode: 0x03, DDR: true}, 0, 0, ErrUnsupportedCombination},
		"unaddressed":  {Msg{Opcode: 0x02, Data: make([]byte, 9), Flags: MsgTx}, 0, 0, ErrInvalidParameter},
		"addrOverflow": {Msg{Opcode: 0x03, Addr: 1 << 24, AddrValid: true}, 0, 0, ErrInvalidParameter},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			p, addr, err := tc.msg.check(&rc, &d)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if err != nil {
				return
			}
			if p != tc.path || addr != tc.addr {
				t.Fatalf("expected %v with %d address bytes, got %v with %d", tc.path, tc.addr, p, addr)
			}
		})
	}
}

func TestMsgInstr(t *testing.T) {
	m := Msg{Opcode: 0xee, Proto: Proto888, Dummy: 20, DDR: true}
	v := m.instr()
	if op := v & hw.InstrOpcodeMask; op != 0xee {
		t.Fatalf("expected opcode 0xee, got %#x", op)
	}
	for name, mask := range map[string]hw.DevInstr{
		"cmd":  hw.InstrTypeMask,
		"addr": hw.InstrAddrTypeMask,
		"data": hw.InstrDataTypeMask,
	} {
		if v&mask != mask {
			t.Fatalf("expected octal %s lines, got %#x", name, v)
		}
	}
	if dummy := (v & hw.InstrDummyMask) >> hw.InstrDummyShift; dummy != 20 {
		t.Fatalf("expected 20 dummy cycles, got %d", dummy)
	}
	if v&hw.InstrDDR == 0 {
		t.Fatal("expected ddr opcode")
	}
	if ext := m.extOpcode(); ext != 0x11 {
		t.Fatalf("expected inverted extension 0x11, got %#x", ext)
	}
	m.Flags |= MsgExtOpcode
	m.ExtOpcode = 0x42
	if ext := m.extOpcode(); ext != 0x42 {
		t.Fatalf("expected extension 0x42, got %#x", ext)
	}
}

func TestDecodeIrq(t *testing.T) {
	tests := map[string]struct {
		irq    hw.Irq
		status Status
		fault  bool
	}{
		"none":          {0, StatusSuccess, false},
		"done":          {hw.IrqIndDone | hw.IrqStigDone, StatusSuccess, false},
		"watermark":     {hw.IrqIndWatermark | hw.IrqRxNotEmpty, StatusSuccess, false},
		"overflow":      {hw.IrqRxOverflow, StatusOverrun, true},
		"underflow":     {hw.IrqUnderflow, StatusUnderrun, true},
		"pollExpired":   {hw.IrqPollExpired, StatusTimeout, true},
		"modeFail":      {hw.IrqModeFail, StatusBusFault, true},
		"rejected":      {hw.IrqIndRejected, StatusBusFault, true},
		"writeProtect":  {hw.IrqWriteProtect, StatusBusFault, true},
		"illegalAccess": {hw.IrqIllegalAccess, StatusBusFault, true},
		"overflowFirst": {hw.IrqRxOverflow | hw.IrqIllegalAccess, StatusOverrun, true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, fault := decodeIrq(tc.irq)
			if s != tc.status || fault != tc.fault {
				t.Fatalf("expected %v/%v, got %v/%v", tc.status, tc.fault, s, fault)
			}
		})
	}
}

func TestDecodeDMA(t *testing.T) {
	tests := map[string]struct {
		st     hw.DMAIrq
		status Status
		done   bool
	}{
		"pending":     {0, StatusSuccess, false},
		"done":        {hw.DMADone, StatusSuccess, true},
		"axiError":    {hw.DMAAxiError, StatusDmaError, true},
		"invalidAddr": {hw.DMAInvalidAddr | hw.DMADone, StatusDmaError, true},
		"timeout":     {hw.DMATimeout, StatusDmaError, true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, done, fault := decodeDMA(tc.st)
			if s != tc.status || done != tc.done || fault != (tc.status != StatusSuccess) {
				t.Fatalf("expected %v/%v, got %v/%v/%v", tc.status, tc.done, s, done, fault)
			}
		})
	}
}

func TestTransitions(t *testing.T) {
	legal := map[[2]Phase]bool{
		{PhaseIdle, PhaseCommand}:       true,
		{PhaseCommand, PhaseAddress}:    true,
		{PhaseCommand, PhaseData}:       true,
		{PhaseCommand, PhaseCompleting}: true,
		{PhaseAddress, PhaseData}:       true,
		{PhaseData, PhaseCompleting}:    true,
		{PhaseCompleting, PhaseIdle}:    true,
		{PhaseData, PhaseError}:         true,
		{PhaseIdle, PhaseData}:          false,
		{PhaseData, PhaseAddress}:       false,
		{PhaseError, PhaseIdle}:         false,
		{PhaseCompleting, PhaseCommand}: false,
	}
	for tr, want := range legal {
		if got := allowed[tr[0]]&(1<<tr[1]) != 0; got != want {
			t.Errorf("%v -> %v: expected legal %v, got %v", tr[0], tr[1], want, got)
		}
	}
}

func TestStatusErr(t *testing.T) {
	tests := map[Status]error{
		StatusSuccess:  nil,
		StatusTimeout:  ErrTransferTimeout,
		StatusBusFault: ErrBusFault,
		StatusOverrun:  ErrOverrun,
		StatusUnderrun: ErrUnderrun,
		StatusDmaError: ErrDmaError,
	}
	for s, want := range tests {
		if got := s.Err(); got != want {
			t.Errorf("%v: expected %v, got %v", s, want, got)
		}
	}
}
