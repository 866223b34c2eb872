package sandbox

import (
	"fmt"
	"time"
)

const wasmPageSize = 65536

// Limits bound a single plugin invocation.
type Limits struct {
	MaxMemoryBytes uint64        `json:"max_memory_bytes"` // Hard linear memory cap
	CPUTimeout     time.Duration `json:"cpu_timeout"`      // Wall-clock budget per invocation
	MaxHostCalls   uint64        `json:"max_host_calls"`   // Host call quota per invocation
}

func DefaultLimits() Limits {
	return Limits{
		MaxMemoryBytes: 16 * 1024 * 1024, // 16MB
		CPUTimeout:     100 * time.Millisecond,
		MaxHostCalls:   1000,
	}
}

func (l Limits) Validate() error {
	if l.MaxMemoryBytes < wasmPageSize || l.MaxMemoryBytes > 1<<32 {
		return fmt.Errorf("%w: max_memory_bytes must be %d-%d, got %d", ErrInvalidRequest, wasmPageSize, uint64(1)<<32, l.MaxMemoryBytes)
	}
	if l.CPUTimeout < time.Millisecond || l.CPUTimeout > time.Minute {
		return fmt.Errorf("%w: cpu_timeout must be 1ms-1m, got %s", ErrInvalidRequest, l.CPUTimeout)
	}
	if l.MaxHostCalls < 1 || l.MaxHostCalls > 10_000_000 {
		return fmt.Errorf("%w: max_host_calls must be 1-10000000, got %d", ErrInvalidRequest, l.MaxHostCalls)
	}
	return nil
}

// MemoryPages converts the byte cap to 64KiB wasm pages, rounding up.
// The runtime enforces memory at page granularity.
func (l Limits) MemoryPages() uint32 {
	pages := (l.MaxMemoryBytes + wasmPageSize - 1) / wasmPageSize
	if pages < 1 {
		pages = 1
	}
	if pages > 65536 {
		pages = 65536
	}
	return uint32(pages)
}
