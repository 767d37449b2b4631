package ospi

import (
	"fmt"

	"github.com/clktmr/ospi/debug"
)

// Phase is the position of the transfer engine in its state machine.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseCommand
	PhaseAddress
	PhaseData
	PhaseCompleting
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCommand:
		return "command"
	case PhaseAddress:
		return "address"
	case PhaseData:
		return "data"
	case PhaseCompleting:
		return "completing"
	case PhaseError:
		return "error"
	}
	return fmt.Sprintf("Phase(%d)", p)
}

// Strategy selects how a transfer is driven to completion.
type Strategy uint8

const (
	StrategyPoll Strategy = iota
	StrategyIntr
	StrategyDMA
)

func (s Strategy) String() string {
	switch s {
	case StrategyPoll:
		return "poll"
	case StrategyIntr:
		return "intr"
	case StrategyDMA:
		return "dma"
	}
	return fmt.Sprintf("Strategy(%d)", s)
}

// allowed lists the legal successors of each phase. Phases may be skipped
// forward, never entered backwards.
var allowed = [...]uint8{
	PhaseIdle:       1 << PhaseCommand,
	PhaseCommand:    1<<PhaseAddress | 1<<PhaseData | 1<<PhaseCompleting | 1<<PhaseError,
	PhaseAddress:    1<<PhaseData | 1<<PhaseCompleting | 1<<PhaseError,
	PhaseData:       1<<PhaseCompleting | 1<<PhaseError,
	PhaseCompleting: 1<<PhaseIdle | 1<<PhaseError,
	PhaseError:      0, // left only by reset
}

// transfer is the state of the single outstanding transfer. Between
// IssueTransfer and completion it is owned by whichever context drives the
// transfer: the issuing goroutine for polled transfers, IntrHandler or
// CheckDmaDone for asynchronous ones.
type transfer struct {
	strategy Strategy
	path     path
	msg      *Msg
	addr     int // address bytes
	n        int // data bytes moved so far
	queued   int // bytes pushed into the write FIFO
	dmaBuf   []byte
	dmaIntr  bool
	dmaDone  bool // channel finished, write may still be programming
}

// advance moves the engine to phase next. Illegal transitions are driver
// bugs.
func (c *Controller) advance(next Phase) {
	cur := Phase(c.phase.Load())
	debug.Assertf(int(cur) < len(allowed) && allowed[cur]&(1<<next) != 0,
		"ospi: illegal transition %v -> %v", cur, next)
	c.phase.Store(uint32(next))
}

// Phase returns the current phase of the transfer engine.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}
