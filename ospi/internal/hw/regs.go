// Package hw describes the register file of the OSPI controller and its DMA
// channels.
package hw

import "github.com/clktmr/ospi/regs"

// Register offsets relative to the controller base.
const (
	OffConfig          = 0x000 // controller configuration (RW)
	OffDevInstrRd      = 0x004 // indirect read instruction (RW)
	OffDevInstrWr      = 0x008 // indirect write instruction (RW)
	OffDevDelay        = 0x00c // chip select timing (RW)
	OffReadCapture     = 0x010 // read data capture (RW)
	OffDevSize         = 0x014 // flash geometry and address bytes (RW)
	OffSRAMPartition   = 0x018 // SRAM split between read and write (RW)
	OffDMAPeriph       = 0x020 // DMA burst configuration (RW)
	OffSRAMFillLevel   = 0x02c // read [15:0] and write [31:16] fill in words (R)
	OffAutoPollMatch   = 0x034 // expected flash status and mask (RW)
	OffAutoPoll        = 0x038 // hardware status polling (RW)
	OffPollExpiry      = 0x03c // status polling expiration in cycles (RW)
	OffIrqStatus       = 0x040 // raw interrupt status (R, W1C)
	OffIrqMask         = 0x044 // interrupt enable (RW)
	OffIndRdCtrl       = 0x060 // indirect read control (RW)
	OffIndRdWatermark  = 0x064 // indirect read watermark in bytes (RW)
	OffIndRdStartAddr  = 0x068 // indirect read flash address (RW)
	OffIndRdNumBytes   = 0x06c // indirect read length (RW)
	OffIndWrCtrl       = 0x070 // indirect write control (RW)
	OffIndWrWatermark  = 0x074 // indirect write watermark in bytes (RW)
	OffIndWrStartAddr  = 0x078 // indirect write flash address (RW)
	OffIndWrNumBytes   = 0x07c // indirect write length (RW)
	OffFlashCmdCtrl    = 0x090 // STIG command control (RW)
	OffFlashCmdAddr    = 0x094 // STIG address (RW)
	OffFlashRdDataLo   = 0x0a0 // STIG read data bytes 0-3 (R)
	OffFlashRdDataHi   = 0x0a4 // STIG read data bytes 4-7 (R)
	OffFlashWrDataLo   = 0x0a8 // STIG write data bytes 0-3 (RW)
	OffFlashWrDataHi   = 0x0ac // STIG write data bytes 4-7 (RW)
	OffPollStatus      = 0x0b0 // last flash status seen by auto polling (R)
	OffPHYConfig       = 0x0b4 // PHY DLL taps (RW)
	OffPHYMasterCtrl   = 0x0b8 // PHY DLL master (RW)
	OffDLLObsLower     = 0x0bc // DLL lock status (R)
	OffOpcodeExtLower  = 0x0e0 // extended opcodes for dual byte mode (RW)
	OffOpcodeExtUpper  = 0x0e4 // extended STIG opcode (RW)
	OffModuleID        = 0x0fc // controller revision (R)
	OffSRAMData        = 0x100 // indirect transfer FIFO port (RW)
	OffDMASrcAddr      = 0x1000
	OffDMASrcSize      = 0x1004
	OffDMASrcStatus    = 0x1008
	OffDMASrcIrqStatus = 0x1014
	OffDMASrcIrqEnable = 0x1018
	OffDMASrcIrqMask   = 0x1020
	OffDMASrcAddrMSB   = 0x1028
	OffDMADstAddr      = 0x1800
	OffDMADstSize      = 0x1804
	OffDMADstStatus    = 0x1808
	OffDMADstIrqStatus = 0x1814
	OffDMADstIrqEnable = 0x1818
	OffDMADstIrqMask   = 0x1820
	OffDMADstAddrMSB   = 0x1828

	BlockSize = 0x2000
)

// FIFOWords is the depth of each SRAM partition in 32 bit words.
const FIFOWords = 64

// STIGMaxBytes is the data capacity of the STIG data registers.
const STIGMaxBytes = 8

type Config uint32

const (
	CfgEnable      Config = 1 << 0
	CfgPHYEnable   Config = 1 << 3
	CfgResetPin    Config = 1 << 5 // drives the flash reset pin low
	CfgResetCfg    Config = 1 << 6 // flash reset on dedicated pin instead of DQ3
	CfgDAC         Config = 1 << 7
	CfgDecodeCS    Config = 1 << 9
	CfgDMAEnable   Config = 1 << 15
	CfgDTR         Config = 1 << 24
	CfgDualOpcode  Config = 1 << 30
	CfgIdle        Config = 1 << 31 // read only
	CfgCSShift            = 10
	CfgCSMask      Config = 0xf << CfgCSShift
	CfgBaudShift          = 19
	CfgBaudMask    Config = 0xf << CfgBaudShift
	CfgCSNone      Config = 0xf << CfgCSShift
	CfgCS0         Config = 0xe << CfgCSShift
	CfgCS1         Config = 0xd << CfgCSShift
	CfgWriteMask          = ^CfgIdle
	CfgBaudDivisor        = 2 // divisor = 2*(baud+1)
)

type DevInstr uint32

const (
	InstrOpcodeMask     DevInstr = 0xff
	InstrTypeShift               = 8
	InstrDDR            DevInstr = 1 << 10
	InstrAddrTypeShift           = 12
	InstrDataTypeShift           = 16
	InstrDummyShift              = 24
	InstrDummyMask      DevInstr = 0x1f << InstrDummyShift
	InstrTypeMask       DevInstr = 0x3 << InstrTypeShift
	InstrAddrTypeMask   DevInstr = 0x3 << InstrAddrTypeShift
	InstrDataTypeMask   DevInstr = 0x3 << InstrDataTypeShift
)

type ReadCapture uint32

const (
	RCBypass     ReadCapture = 1 << 0
	RCDelayShift             = 1
	RCDelayMask  ReadCapture = 0xf << RCDelayShift
	RCDQSEnable  ReadCapture = 1 << 8
)

type DevSize uint32

const (
	SizeAddrBytesMask DevSize = 0xf // address bytes - 1
	SizePageShift             = 4
	SizePageMask      DevSize = 0xfff << SizePageShift
)

type FillLevel uint32

func (f FillLevel) Read() int  { return int(f & 0xffff) }
func (f FillLevel) Write() int { return int(f >> 16) }

type AutoPollMatch uint32

const (
	MatchPatternMask AutoPollMatch = 0xff
	MatchMaskShift                 = 8
)

type AutoPoll uint32

const (
	PollOpcodeMask    AutoPoll = 0xff
	PollDisable       AutoPoll = 1 << 14
	PollExpiryEnable  AutoPoll = 1 << 15
	PollIntervalShift          = 24
)

type PollStatus uint32

const (
	PollStatusMask  PollStatus = 0xff
	PollStatusValid PollStatus = 1 << 8
)

// Irq bits are shared by the raw status and the mask register.
type Irq uint32

const (
	IrqModeFail      Irq = 1 << 0
	IrqUnderflow     Irq = 1 << 1
	IrqIndDone       Irq = 1 << 2
	IrqIndRejected   Irq = 1 << 3
	IrqWriteProtect  Irq = 1 << 4
	IrqIllegalAccess Irq = 1 << 5
	IrqIndWatermark  Irq = 1 << 6
	IrqRxOverflow    Irq = 1 << 7
	IrqTxNotFull     Irq = 1 << 8
	IrqTxFull        Irq = 1 << 9
	IrqRxNotEmpty    Irq = 1 << 10
	IrqRxFull        Irq = 1 << 11
	IrqIndSRAMFull   Irq = 1 << 12
	IrqPollExpired   Irq = 1 << 13
	IrqStigDone      Irq = 1 << 14

	IrqAll Irq = 1<<15 - 1
)

type IndCtrl uint32

const (
	IndStart      IndCtrl = 1 << 0
	IndCancel     IndCtrl = 1 << 1
	IndInProgress IndCtrl = 1 << 2 // read only
	IndDone       IndCtrl = 1 << 5 // W1C
)

type CmdCtrl uint32

const (
	CmdExecute         CmdCtrl = 1 << 0
	CmdInProgress      CmdCtrl = 1 << 1 // read only
	CmdDummyShift              = 7
	CmdDummyMask       CmdCtrl = 0x1f << CmdDummyShift
	CmdWrBytesShift            = 12 // bytes - 1
	CmdWrEnable        CmdCtrl = 1 << 15
	CmdAddrBytesShift          = 16 // bytes - 1
	CmdAddrEnable      CmdCtrl = 1 << 19
	CmdRdBytesShift            = 20 // bytes - 1
	CmdRdEnable        CmdCtrl = 1 << 23
	CmdOpcodeShift             = 24
)

type PHYConfig uint32

const (
	PHYRxDLLMask  PHYConfig = 0x7f
	PHYTxDLLShift           = 16
	PHYTxDLLMask  PHYConfig = 0x7f << PHYTxDLLShift
	PHYReset      PHYConfig = 1 << 30
	PHYResync     PHYConfig = 1 << 31
)

type PHYMaster uint32

const (
	MasterInitialDelayMask PHYMaster = 0x7f
	MasterBypass           PHYMaster = 1 << 23
)

type DLLObs uint32

const (
	DLLLock         DLLObs = 1 << 0
	DLLLoopbackLock DLLObs = 1 << 15
)

type OpcodeExt uint32

const (
	ExtReadShift  = 24 // lower register
	ExtWriteShift = 16 // lower register
	ExtPollShift  = 8  // lower register
	ExtStigShift  = 24 // upper register
)

type DMAStatus uint32

const DMABusy DMAStatus = 1 << 0

// DMAIrq bits are shared by the DMA channel status, enable and mask
// registers.
type DMAIrq uint32

const (
	DMADone         DMAIrq = 1 << 1
	DMAAxiError     DMAIrq = 1 << 3
	DMAInvalidAddr  DMAIrq = 1 << 4
	DMAFIFOOverflow DMAIrq = 1 << 5
	DMATimeout      DMAIrq = 1 << 6

	DMAErrors DMAIrq = DMAAxiError | DMAInvalidAddr | DMAFIFOOverflow | DMATimeout
	DMAAll    DMAIrq = DMADone | DMAErrors
)

// DMAChannel is one direction of the OSPI DMA engine. The destination
// channel moves data from the controller to memory, the source channel the
// other way.
type DMAChannel struct {
	Addr      regs.U32
	Size      regs.U32
	Status    regs.R32[DMAStatus]
	IrqStatus regs.R32[DMAIrq] // W1C
	IrqEnable regs.R32[DMAIrq]
	IrqMask   regs.R32[DMAIrq]
	AddrMSB   regs.U32
}

// Registers is the register file of one controller instance.
type Registers struct {
	Config        regs.R32[Config]
	DevInstrRd    regs.R32[DevInstr]
	DevInstrWr    regs.R32[DevInstr]
	DevDelay      regs.U32
	ReadCapture   regs.R32[ReadCapture]
	DevSize       regs.R32[DevSize]
	SRAMPartition regs.U32
	DMAPeriph     regs.U32
	SRAMFillLevel regs.R32[FillLevel]
	AutoPollMatch regs.R32[AutoPollMatch]
	AutoPoll      regs.R32[AutoPoll]
	PollExpiry    regs.U32
	IrqStatus     regs.R32[Irq] // W1C
	IrqMask       regs.R32[Irq]
	IndRdCtrl     regs.R32[IndCtrl]
	IndRdMark     regs.U32
	IndRdAddr     regs.U32
	IndRdBytes    regs.U32
	IndWrCtrl     regs.R32[IndCtrl]
	IndWrMark     regs.U32
	IndWrAddr     regs.U32
	IndWrBytes    regs.U32
	CmdCtrl       regs.R32[CmdCtrl]
	CmdAddr       regs.U32
	CmdRdData     [2]regs.U32
	CmdWrData     [2]regs.U32
	PollStatus    regs.R32[PollStatus]
	PHYConfig     regs.R32[PHYConfig]
	PHYMaster     regs.R32[PHYMaster]
	DLLObs        regs.R32[DLLObs]
	OpcodeExtLo   regs.R32[OpcodeExt]
	OpcodeExtHi   regs.R32[OpcodeExt]
	ModuleID      regs.U32
	SRAMData      regs.U32

	DMASrc DMAChannel
	DMADst DMAChannel
}

// Map overlays the register file on b.
func Map(b regs.Block) *Registers {
	return &Registers{
		Config:        regs.At[Config](b, OffConfig),
		DevInstrRd:    regs.At[DevInstr](b, OffDevInstrRd),
		DevInstrWr:    regs.At[DevInstr](b, OffDevInstrWr),
		DevDelay:      regs.At[uint32](b, OffDevDelay),
		ReadCapture:   regs.At[ReadCapture](b, OffReadCapture),
		DevSize:       regs.At[DevSize](b, OffDevSize),
		SRAMPartition: regs.At[uint32](b, OffSRAMPartition),
		DMAPeriph:     regs.At[uint32](b, OffDMAPeriph),
		SRAMFillLevel: regs.At[FillLevel](b, OffSRAMFillLevel),
		AutoPollMatch: regs.At[AutoPollMatch](b, OffAutoPollMatch),
		AutoPoll:      regs.At[AutoPoll](b, OffAutoPoll),
		PollExpiry:    regs.At[uint32](b, OffPollExpiry),
		IrqStatus:     regs.At[Irq](b, OffIrqStatus),
		IrqMask:       regs.At[Irq](b, OffIrqMask),
		IndRdCtrl:     regs.At[IndCtrl](b, OffIndRdCtrl),
		IndRdMark:     regs.At[uint32](b, OffIndRdWatermark),
		IndRdAddr:     regs.At[uint32](b, OffIndRdStartAddr),
		IndRdBytes:    regs.At[uint32](b, OffIndRdNumBytes),
		IndWrCtrl:     regs.At[IndCtrl](b, OffIndWrCtrl),
		IndWrMark:     regs.At[uint32](b, OffIndWrWatermark),
		IndWrAddr:     regs.At[uint32](b, OffIndWrStartAddr),
		IndWrBytes:    regs.At[uint32](b, OffIndWrNumBytes),
		CmdCtrl:       regs.At[CmdCtrl](b, OffFlashCmdCtrl),
		CmdAddr:       regs.At[uint32](b, OffFlashCmdAddr),
		CmdRdData:     [2]regs.U32{regs.At[uint32](b, OffFlashRdDataLo), regs.At[uint32](b, OffFlashRdDataHi)},
		CmdWrData:     [2]regs.U32{regs.At[uint32](b, OffFlashWrDataLo), regs.At[uint32](b, OffFlashWrDataHi)},
		PollStatus:    regs.At[PollStatus](b, OffPollStatus),
		PHYConfig:     regs.At[PHYConfig](b, OffPHYConfig),
		PHYMaster:     regs.At[PHYMaster](b, OffPHYMasterCtrl),
		DLLObs:        regs.At[DLLObs](b, OffDLLObsLower),
		OpcodeExtLo:   regs.At[OpcodeExt](b, OffOpcodeExtLower),
		OpcodeExtHi:   regs.At[OpcodeExt](b, OffOpcodeExtUpper),
		ModuleID:      regs.At[uint32](b, OffModuleID),
		SRAMData:      regs.At[uint32](b, OffSRAMData),
		DMASrc: DMAChannel{
			Addr:      regs.At[uint32](b, OffDMASrcAddr),
			Size:      regs.At[uint32](b, OffDMASrcSize),
			Status:    regs.At[DMAStatus](b, OffDMASrcStatus),
			IrqStatus: regs.At[DMAIrq](b, OffDMASrcIrqStatus),
			IrqEnable: regs.At[DMAIrq](b, OffDMASrcIrqEnable),
			IrqMask:   regs.At[DMAIrq](b, OffDMASrcIrqMask),
			AddrMSB:   regs.At[uint32](b, OffDMASrcAddrMSB),
		},
		DMADst: DMAChannel{
			Addr:      regs.At[uint32](b, OffDMADstAddr),
			Size:      regs.At[uint32](b, OffDMADstSize),
			Status:    regs.At[DMAStatus](b, OffDMADstStatus),
			IrqStatus: regs.At[DMAIrq](b, OffDMADstIrqStatus),
			IrqEnable: regs.At[DMAIrq](b, OffDMADstIrqEnable),
			IrqMask:   regs.At[DMAIrq](b, OffDMADstIrqMask),
			AddrMSB:   regs.At[uint32](b, OffDMADstAddrMSB),
		},
	}
}

var names = map[uintptr]string{
	OffConfig: "config", OffDevInstrRd: "devInstrRd", OffDevInstrWr: "devInstrWr",
	OffDevDelay: "devDelay", OffReadCapture: "readCapture", OffDevSize: "devSize",
	OffSRAMPartition: "sramPartition", OffDMAPeriph: "dmaPeriph",
	OffSRAMFillLevel: "sramFill", OffAutoPollMatch: "autoPollMatch",
	OffAutoPoll: "autoPoll", OffPollExpiry: "pollExpiry", OffIrqStatus: "irqStatus",
	OffIrqMask: "irqMask", OffIndRdCtrl: "indRdCtrl", OffIndRdWatermark: "indRdMark",
	OffIndRdStartAddr: "indRdAddr", OffIndRdNumBytes: "indRdBytes",
	OffIndWrCtrl: "indWrCtrl", OffIndWrWatermark: "indWrMark",
	OffIndWrStartAddr: "indWrAddr", OffIndWrNumBytes: "indWrBytes",
	OffFlashCmdCtrl: "cmdCtrl", OffFlashCmdAddr: "cmdAddr",
	OffFlashRdDataLo: "cmdRdLo", OffFlashRdDataHi: "cmdRdHi",
	OffFlashWrDataLo: "cmdWrLo", OffFlashWrDataHi: "cmdWrHi",
	OffPollStatus: "pollStatus", OffPHYConfig: "phyConfig",
	OffPHYMasterCtrl: "phyMaster", OffDLLObsLower: "dllObs",
	OffOpcodeExtLower: "opcodeExtLo", OffOpcodeExtUpper: "opcodeExtHi",
	OffModuleID: "moduleID", OffSRAMData: "sramData",
	OffDMASrcAddr: "dmaSrcAddr", OffDMASrcSize: "dmaSrcSize",
	OffDMASrcStatus: "dmaSrcStatus", OffDMASrcIrqStatus: "dmaSrcIrq",
	OffDMASrcIrqEnable: "dmaSrcIrqEn", OffDMASrcIrqMask: "dmaSrcIrqMask",
	OffDMASrcAddrMSB: "dmaSrcAddrMSB",
	OffDMADstAddr: "dmaDstAddr", OffDMADstSize: "dmaDstSize",
	OffDMADstStatus: "dmaDstStatus", OffDMADstIrqStatus: "dmaDstIrq",
	OffDMADstIrqEnable: "dmaDstIrqEn", OffDMADstIrqMask: "dmaDstIrqMask",
	OffDMADstAddrMSB: "dmaDstAddrMSB",
}

// Name returns the name of the register at off, e.g. for regs.Traced.
func Name(off uintptr) string {
	return names[off]
}
