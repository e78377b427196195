package hostchip

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// MPU simulates a memory protection unit by mmap'ing a single flat arena up
// front and handing out page-aligned, mprotect-able sub-regions from it.
// Real Tock boards program a handful of hardware regions directly; this
// backend instead leans on the host kernel's own MMU so region violations
// actually fault, which is the closest a hosted Go process can get to the
// original's region-based enforcement without writing an interpreter.
type MPU struct {
	arena      []byte
	pageSize   int
	allocated  map[int]int // base -> size, both page-aligned
	numRegions int

	mu         sync.Mutex
	appEnabled bool
}

// NewMPU maps an arena of size arenaSize bytes and reports up to
// numRegions simultaneously allocated regions, the way a real MPU reports a
// fixed region count (8 is typical on Cortex-M).
func NewMPU(arenaSize, numRegions int) (*MPU, error) {
	pageSize := unix.Getpagesize()
	rounded := roundUp(arenaSize, pageSize)
	arena, err := unix.Mmap(-1, 0, rounded, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("hostchip: mmap mpu arena: %w", err)
	}
	return &MPU{
		arena:      arena,
		pageSize:   pageSize,
		allocated:  make(map[int]int),
		numRegions: numRegions,
	}, nil
}

func roundUp(v, mult int) int {
	if v%mult == 0 {
		return v
	}
	return (v/mult + 1) * mult
}

func (m *MPU) NumberTotalRegions() int { return m.numRegions }

// AllocateRegion finds minSize bytes, rounded up to a whole page (the
// coarsest alignment mprotect supports), within [regionStart,
// regionStart+regionSize) of the arena.
func (m *MPU) AllocateRegion(regionStart, regionSize, minSize, minAlign int) (int, int, bool) {
	if len(m.allocated) >= m.numRegions {
		return 0, 0, false
	}
	size := roundUp(minSize, m.pageSize)
	align := m.pageSize
	if minAlign > align {
		align = roundUp(minAlign, m.pageSize)
	}
	base := roundUp(regionStart, align)
	for moved := true; moved; {
		moved = false
		for b, s := range m.allocated {
			if base < b+s && b < base+size {
				base = roundUp(b+s, align)
				moved = true
			}
		}
	}
	if base+size > regionStart+regionSize || base+size > len(m.arena) {
		return 0, 0, false
	}
	if err := unix.Mprotect(m.arena[base:base+size], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return 0, 0, false
	}
	m.allocated[base] = size
	return base, size, true
}

func (m *MPU) FreeRegion(base, size int) {
	if got, ok := m.allocated[base]; !ok || got != size {
		return
	}
	unix.Mprotect(m.arena[base:base+size], unix.PROT_NONE)
	delete(m.allocated, base)
}

// EnableAppMPU marks app-region enforcement active. The arena's regions are
// already mprotect'd individually, so the toggle here is bookkeeping that
// AppMPUEnabled exposes to tests and debug output.
func (m *MPU) EnableAppMPU() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appEnabled = true
}

// DisableAppMPU marks app-region enforcement inactive.
func (m *MPU) DisableAppMPU() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appEnabled = false
}

// AppMPUEnabled reports whether the app MPU is currently enabled.
func (m *MPU) AppMPUEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appEnabled
}

// Close unmaps the arena. Boards that run for the lifetime of the process
// rarely need to call this.
func (m *MPU) Close() error {
	return unix.Munmap(m.arena)
}
