package regs

// DMAMemory translates CPU buffers for a DMA engine and keeps caches
// consistent around a transfer.
type DMAMemory interface {
	// BusAddr returns the address of p[0] as seen by the DMA engine.
	BusAddr(p []byte) uint64

	// Writeback must be called before the DMA engine reads p.
	Writeback(p []byte)

	// Invalidate must be called after the DMA engine wrote p.
	Invalidate(p []byte)
}
