package foundation

import (
	"testing"

	"github.com/tedstreete/six-degrees/internal/digest"
)

func TestConfigure(t *testing.T) {
	topo, err := Configure(8589934, 8, 16)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if topo.WorkerCount != 16 {
		t.Errorf("WorkerCount = %d, want 16", topo.WorkerCount)
	}
	if topo.SlabsPerWorker != 256 {
		t.Errorf("SlabsPerWorker = %d, want 256", topo.SlabsPerWorker)
	}
	if topo.SpareSlabs != 6534 {
		t.Errorf("SpareSlabs = %d, want 6534", topo.SpareSlabs)
	}
}

func TestConfigureWorkersFromCores(t *testing.T) {
	topo, err := Configure(16*1024*1024, 6, 0)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	// cores*2 = 12, rounded down to a power of two.
	if topo.WorkerCount != 8 {
		t.Errorf("WorkerCount = %d, want 8", topo.WorkerCount)
	}
}

func TestConfigurePowerOfTwoInvariant(t *testing.T) {
	cases := []struct {
		memoryKiB uint64
		cores     int
		override  int
	}{
		{4 * 1024 * 1024, 1, 0},
		{8 * 1024 * 1024, 3, 0},
		{8589934, 8, 16},
		{64 * 1024 * 1024, 48, 0},
		{64 * 1024 * 1024, 8, 4096},
	}

	for _, tc := range cases {
		topo, err := Configure(tc.memoryKiB, tc.cores, tc.override)
		if err != nil {
			t.Errorf("Configure(%d, %d, %d): %v", tc.memoryKiB, tc.cores, tc.override, err)
			continue
		}
		if topo.WorkerCount&(topo.WorkerCount-1) != 0 {
			t.Errorf("WorkerCount %d is not a power of two", topo.WorkerCount)
		}
		if topo.SlabsPerWorker&(topo.SlabsPerWorker-1) != 0 {
			t.Errorf("SlabsPerWorker %d is not a power of two", topo.SlabsPerWorker)
		}
		if topo.WorkerCount > 65536 {
			t.Errorf("WorkerCount %d exceeds the cap", topo.WorkerCount)
		}
		product := uint64(topo.WorkerCount) * uint64(topo.SlabsPerWorker)
		if product > 1<<32 {
			t.Errorf("worker x slab product %d exceeds 32 bits", product)
		}
		if topo.SpareSlabs < 0 {
			t.Errorf("SpareSlabs = %d, negative", topo.SpareSlabs)
		}
	}
}

func TestConfigureRejectsLowMemory(t *testing.T) {
	if _, err := Configure(1024*1024, 8, 0); err == nil {
		t.Error("Configure below the 2 GiB floor should fail")
	}
}

func TestLargestPow2LE(t *testing.T) {
	tests := []struct {
		in   uint64
		want int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 4},
		{460, 256},
		{65535, 32768},
		{65536, 65536},
	}

	for _, tt := range tests {
		if got := largestPow2LE(tt.in); got != tt.want {
			t.Errorf("largestPow2LE(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTopologyRouting(t *testing.T) {
	topo := Topology{WorkerCount: 16, SlabsPerWorker: 256}
	d := digest.Sum("Rail transport")

	if got := topo.Worker(d); got != 11 {
		t.Errorf("Worker = %d, want 11", got)
	}
	if got := topo.Slab(d); got != 196 {
		t.Errorf("Slab = %d, want 196", got)
	}
}

func TestDetectOverrides(t *testing.T) {
	memoryKiB, cores, err := Detect(8589934, 4)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if memoryKiB != 8589934 {
		t.Errorf("memoryKiB = %d, want override 8589934", memoryKiB)
	}
	if cores != 4 {
		t.Errorf("cores = %d, want override 4", cores)
	}
}

func TestDetectSystem(t *testing.T) {
	memoryKiB, cores, err := Detect(0, 0)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if memoryKiB == 0 {
		t.Error("detected memory should be non-zero")
	}
	if cores < 1 {
		t.Errorf("detected cores = %d, want >= 1", cores)
	}
}
