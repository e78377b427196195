package hostchip

import (
	"os"
	"testing"
)

func TestMPUAllocateWithinArena(t *testing.T) {
	mpu, err := NewMPU(4096*4, 4)
	if err != nil {
		t.Fatalf("NewMPU: %v", err)
	}
	defer mpu.Close()

	base, size, ok := mpu.AllocateRegion(0, 4096*4, 100, 1)
	if !ok {
		t.Fatal("AllocateRegion failed within arena bounds")
	}
	if size < 100 {
		t.Fatalf("size %d smaller than requested minSize", size)
	}
	if base%os.Getpagesize() != 0 {
		t.Fatalf("base %d not page aligned", base)
	}
}

func TestMPURegionCountEnforced(t *testing.T) {
	mpu, err := NewMPU(4096*8, 2)
	if err != nil {
		t.Fatalf("NewMPU: %v", err)
	}
	defer mpu.Close()

	for i := 0; i < 2; i++ {
		if _, _, ok := mpu.AllocateRegion(0, 4096*8, 4096, 1); !ok {
			t.Fatalf("allocation %d unexpectedly failed", i)
		}
	}
	if _, _, ok := mpu.AllocateRegion(0, 4096*8, 4096, 1); ok {
		t.Fatal("expected third allocation to fail once numRegions is exhausted")
	}
}

func TestMPUFreeRegionAllowsReuse(t *testing.T) {
	mpu, err := NewMPU(4096*4, 1)
	if err != nil {
		t.Fatalf("NewMPU: %v", err)
	}
	defer mpu.Close()

	base, size, ok := mpu.AllocateRegion(0, 4096*4, 4096, 1)
	if !ok {
		t.Fatal("first allocation failed")
	}
	if _, _, ok := mpu.AllocateRegion(0, 4096*4, 4096, 1); ok {
		t.Fatal("expected allocation to fail while the single region is held")
	}
	mpu.FreeRegion(base, size)
	if _, _, ok := mpu.AllocateRegion(0, 4096*4, 4096, 1); !ok {
		t.Fatal("expected allocation to succeed after freeing the only region")
	}
}

func TestMPUAllocateRejectsOversizedRegion(t *testing.T) {
	mpu, err := NewMPU(4096, 4)
	if err != nil {
		t.Fatalf("NewMPU: %v", err)
	}
	defer mpu.Close()

	if _, _, ok := mpu.AllocateRegion(0, 4096, 4096*10, 1); ok {
		t.Fatal("expected allocation larger than the arena to fail")
	}
}

func TestMPUAppEnableDisableToggle(t *testing.T) {
	mpu, err := NewMPU(4096, 4)
	if err != nil {
		t.Fatalf("NewMPU: %v", err)
	}
	defer mpu.Close()

	if mpu.AppMPUEnabled() {
		t.Fatal("app MPU should start disabled")
	}
	mpu.EnableAppMPU()
	if !mpu.AppMPUEnabled() {
		t.Fatal("EnableAppMPU did not take effect")
	}
	mpu.DisableAppMPU()
	if mpu.AppMPUEnabled() {
		t.Fatal("DisableAppMPU did not take effect")
	}
}
