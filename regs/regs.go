// Package regs provides access to memory mapped register blocks.
//
// A Block is addressed by byte offsets relative to its base. Accesses are
// always 32 bit wide and have no side effects besides the ones the hardware
// (or a model of it) implements. Nothing in this package validates or
// serializes accesses.
package regs

import "errors"

// Block is a 32 bit register file.
type Block interface {
	Load(off uintptr) uint32
	Store(off uintptr, v uint32)
}

var ErrNoMMIO = errors.New("regs: memory mapped io not available")

// R32 is a typed register at a fixed offset of a Block.
type R32[T ~uint32] struct {
	b   Block
	off uintptr
}

// At returns the register at offset off of b.
func At[T ~uint32](b Block, off uintptr) R32[T] {
	return R32[T]{b, off}
}

func (r R32[T]) Load() T {
	return T(r.b.Load(r.off))
}

func (r R32[T]) Store(v T) {
	r.b.Store(r.off, uint32(v))
}

// LoadBits returns the register value masked with mask.
func (r R32[T]) LoadBits(mask T) T {
	return r.Load() & mask
}

// StoreBits replaces the bits selected by mask with the ones in v.
func (r R32[T]) StoreBits(mask, v T) {
	r.Store(r.Load()&^mask | v&mask)
}

func (r R32[T]) SetBits(mask T) {
	r.Store(r.Load() | mask)
}

func (r R32[T]) ClearBits(mask T) {
	r.Store(r.Load() &^ mask)
}

func (r R32[T]) Offset() uintptr {
	return r.off
}

// U32 is an untyped register.
type U32 = R32[uint32]

// Mem is a register file backed by ordinary memory. Word i is at offset 4*i.
type Mem []uint32

// NewMem allocates a Mem covering size bytes.
func NewMem(size uintptr) Mem {
	return make(Mem, (size+3)/4)
}

func (m Mem) Load(off uintptr) uint32 {
	return m[off>>2]
}

func (m Mem) Store(off uintptr, v uint32) {
	m[off>>2] = v
}
