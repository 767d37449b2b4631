package ospi

import "errors"

// Errors returned by the driver are wrapped with context. Compare them with
// errors.Is.
var (
	// ErrInvalidParameter reports bad caller input. Nothing was changed.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnsupportedCombination reports conflicting configuration. Nothing
	// was changed.
	ErrUnsupportedCombination = errors.New("unsupported combination")

	// ErrDeviceBusy reports an outstanding transfer. Retry after it
	// completed.
	ErrDeviceBusy = errors.New("device busy")

	// ErrInvalidState reports an operation not allowed in the current
	// controller state, e.g. a transfer before calibration or after an
	// error.
	ErrInvalidState = errors.New("invalid state")

	// Transfer failures, one per Status. The controller is left in the
	// error phase until it is reset.
	ErrTransferTimeout = errors.New("transfer timeout")
	ErrBusFault        = errors.New("bus fault")
	ErrOverrun         = errors.New("receive overrun")
	ErrUnderrun        = errors.New("transmit underrun")
	ErrDmaError        = errors.New("dma error")

	// ErrCalibration reports that no DLL tap returned the expected data.
	ErrCalibration = errors.New("no valid dll tap")
)
