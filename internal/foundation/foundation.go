// Package foundation sizes the shard topology from available memory and
// cores, and exposes the digest routing for the resulting topology.
package foundation

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tedstreete/six-degrees/internal/digest"
)

const (
	// minMemoryKiB is the configuration floor: 2 GiB.
	minMemoryKiB = 2 << 20

	// maxWorkers bounds the mesh regardless of core count.
	maxWorkers = 65536

	// maxSlabs bounds the total slab population.
	maxSlabs = 65535

	// workingMemoryKiB is reserved for execution and working memory: 1 GiB.
	workingMemoryKiB = 1 << 20
)

// Topology is the shard layout the mesh is built from. Worker and slab
// counts are powers of two; their product fits in 32 bits.
type Topology struct {
	WorkerCount    int
	SlabsPerWorker int
	SpareSlabs     int
}

// Worker returns the owning worker index for a digest.
func (t Topology) Worker(d digest.Digest) int {
	return d.Worker(t.WorkerCount)
}

// Slab returns the slab index within the owning worker for a digest.
func (t Topology) Slab(d digest.Digest) int {
	return d.Slab(t.SlabsPerWorker)
}

// Configure computes the topology for the given resources. overrideWorkers
// forces the raw worker count when positive; otherwise cores*2 is used.
func Configure(memoryKiB uint64, cores int, overrideWorkers int) (Topology, error) {
	if memoryKiB < minMemoryKiB {
		return Topology{}, fmt.Errorf("%s of memory is below the %s floor",
			humanize.IBytes(memoryKiB*1024), humanize.IBytes(minMemoryKiB*1024))
	}

	rawWorkers := overrideWorkers
	if rawWorkers <= 0 {
		rawWorkers = cores * 2
	}
	if rawWorkers > maxWorkers {
		rawWorkers = maxWorkers
	}
	workerCount := largestPow2LE(uint64(rawWorkers))
	if workerCount < 1 {
		return Topology{}, fmt.Errorf("cannot size a mesh for %d cores", cores)
	}

	w := uint64(workerCount)
	txHandlePool := 8 * w / 1024
	if txHandlePool < 1024 {
		txHandlePool = 1024
	}
	messageBuffer := w
	taskCache := 64 * w / 1024
	reserveKiB := uint64(workingMemoryKiB) + txHandlePool + messageBuffer + taskCache
	if reserveKiB >= memoryKiB {
		return Topology{}, fmt.Errorf("no memory left for slabs after %s reserve",
			humanize.IBytes(reserveKiB*1024))
	}

	slabsTotal := (memoryKiB - reserveKiB) / 1024
	if slabsTotal > maxSlabs {
		slabsTotal = maxSlabs
	}
	slabsPerWorker := largestPow2LE(slabsTotal / w)
	if slabsPerWorker < 1 {
		return Topology{}, fmt.Errorf("topology overflow: %d slabs cannot cover %d workers",
			slabsTotal, workerCount)
	}

	spare := 2 * (slabsTotal - w*uint64(slabsPerWorker))

	topo := Topology{
		WorkerCount:    workerCount,
		SlabsPerWorker: slabsPerWorker,
		SpareSlabs:     int(spare),
	}

	slog.Debug("topology configured",
		"workers", topo.WorkerCount,
		"slabs_per_worker", topo.SlabsPerWorker,
		"spare_slabs", topo.SpareSlabs,
		"slab_memory", humanize.IBytes(slabsTotal*1024*1024),
	)

	return topo, nil
}

// Detect reads total system memory and core count, honoring development
// overrides when positive.
func Detect(memoryOverrideKiB uint64, coresOverride int) (uint64, int, error) {
	memoryKiB := memoryOverrideKiB
	if memoryKiB == 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return 0, 0, fmt.Errorf("detecting system memory: %w", err)
		}
		memoryKiB = vm.Total / 1024
	}

	cores := coresOverride
	if cores <= 0 {
		cores = runtime.NumCPU()
	}

	return memoryKiB, cores, nil
}

// largestPow2LE returns the largest power of two that is <= v, or 0 for
// v == 0. largestPow2LE(1) == 1.
func largestPow2LE(v uint64) int {
	if v == 0 {
		return 0
	}
	p := uint64(1)
	for p<<1 <= v && p<<1 != 0 {
		p <<= 1
	}
	return int(p)
}
