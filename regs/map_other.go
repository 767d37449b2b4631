//go:build !noos

package regs

// Map always fails on hosted targets. Use a simulated Block instead.
func Map(base, size uintptr) (Block, error) {
	return nil, ErrNoMMIO
}

// CPUMemory returns nil on hosted targets, where no DMA engine can reach
// process memory.
func CPUMemory() DMAMemory { return nil }
