package regs

import (
	"context"
	"fmt"

	"golang.org/x/exp/slog"
)

// Namer returns a register name for an offset, or "" if unknown.
type Namer func(off uintptr) string

type traced struct {
	b     Block
	log   *slog.Logger
	names Namer
}

// Traced wraps b and logs every access to log at debug level.
func Traced(b Block, log *slog.Logger, names Namer) Block {
	if names == nil {
		names = func(uintptr) string { return "" }
	}
	return &traced{b, log, names}
}

func (t *traced) Load(off uintptr) uint32 {
	v := t.b.Load(off)
	t.trace("load", off, v)
	return v
}

func (t *traced) Store(off uintptr, v uint32) {
	t.trace("store", off, v)
	t.b.Store(off, v)
}

func (t *traced) trace(op string, off uintptr, v uint32) {
	if !t.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	attrs := []any{slog.String("op", op), slog.String("off", fmt.Sprintf("%#x", off)), slog.String("val", fmt.Sprintf("%#08x", v))}
	if name := t.names(off); name != "" {
		attrs = append(attrs, slog.String("reg", name))
	}
	t.log.Debug("reg", attrs...)
}
