//go:build noos

package regs

import (
	"embedded/mmio"
	"unsafe"
)

type mmioBlock struct {
	base uintptr
	size uintptr
}

// Map returns the register block of size bytes at physical address base.
func Map(base, size uintptr) (Block, error) {
	if base == 0 || size == 0 {
		return nil, ErrNoMMIO
	}
	return &mmioBlock{base, size}, nil
}

//go:nosplit
func (b *mmioBlock) Load(off uintptr) uint32 {
	return (*mmio.U32)(unsafe.Pointer(b.base + off)).Load()
}

//go:nosplit
func (b *mmioBlock) Store(off uintptr, v uint32) {
	(*mmio.U32)(unsafe.Pointer(b.base + off)).Store(v)
}

type cpuMemory struct{}

// CPUMemory returns the DMA address translation of the running target. The
// interconnect is cache coherent, so cache maintenance is a no-op.
func CPUMemory() DMAMemory { return cpuMemory{} }

func (cpuMemory) BusAddr(p []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(unsafe.SliceData(p))))
}

func (cpuMemory) Writeback(p []byte)  {}
func (cpuMemory) Invalidate(p []byte) {}
