package ospi

import "github.com/clktmr/ospi/ospi/internal/hw"

// Status is the outcome of a transfer.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusBusFault
	StatusOverrun
	StatusUnderrun
	StatusDmaError
)

var statusErrs = [...]error{
	StatusSuccess:  nil,
	StatusTimeout:  ErrTransferTimeout,
	StatusBusFault: ErrBusFault,
	StatusOverrun:  ErrOverrun,
	StatusUnderrun: ErrUnderrun,
	StatusDmaError: ErrDmaError,
}

// Err returns the sentinel error for s, or nil for StatusSuccess.
func (s Status) Err() error {
	if int(s) >= len(statusErrs) {
		return ErrBusFault
	}
	return statusErrs[s]
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusBusFault:
		return "bus fault"
	case StatusOverrun:
		return "overrun"
	case StatusUnderrun:
		return "underrun"
	case StatusDmaError:
		return "dma error"
	}
	return "unknown"
}

// StatusHandler receives the result of asynchronous transfers. It is called
// exactly once per transfer, from the context that observed the completion:
// IntrHandler for interrupt transfers, or the issuing call for transfers that
// complete without bus traffic. n is the number of data bytes transferred.
//
// The controller is idle (or in error) when TransferStatus runs, so the
// handler may issue the next transfer.
type StatusHandler interface {
	TransferStatus(s Status, n int)
}

// StatusHandlerFunc adapts a function to a StatusHandler.
type StatusHandlerFunc func(s Status, n int)

func (f StatusHandlerFunc) TransferStatus(s Status, n int) { f(s, n) }

// Controller faults. Indirect operation completion and FIFO levels aren't
// faults and are handled by the transfer paths.
const irqFaults = hw.IrqModeFail | hw.IrqUnderflow | hw.IrqIndRejected |
	hw.IrqWriteProtect | hw.IrqIllegalAccess | hw.IrqRxOverflow |
	hw.IrqPollExpired

// decodeIrq classifies raw controller interrupt status. ok is false if irq
// holds no fault.
func decodeIrq(irq hw.Irq) (s Status, ok bool) {
	switch {
	case irq&hw.IrqRxOverflow != 0:
		return StatusOverrun, true
	case irq&hw.IrqUnderflow != 0:
		return StatusUnderrun, true
	case irq&hw.IrqPollExpired != 0:
		return StatusTimeout, true
	case irq&(hw.IrqModeFail|hw.IrqIndRejected|hw.IrqWriteProtect|hw.IrqIllegalAccess) != 0:
		return StatusBusFault, true
	}
	return StatusSuccess, false
}

// decodeDMA classifies DMA channel interrupt status. done is set if the
// channel finished, ok if s is a fault.
func decodeDMA(st hw.DMAIrq) (s Status, done, ok bool) {
	if st&hw.DMAErrors != 0 {
		return StatusDmaError, true, true
	}
	return StatusSuccess, st&hw.DMADone != 0, false
}
