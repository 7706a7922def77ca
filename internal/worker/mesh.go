package worker

import (
	"sync"

	"github.com/tedstreete/six-degrees/internal/digest"
	"github.com/tedstreete/six-degrees/internal/fetcher"
	"github.com/tedstreete/six-degrees/internal/foundation"
	"github.com/tedstreete/six-degrees/internal/slab"
)

// Dispatcher is the fetch gateway a worker hands misses to. Satisfied by
// *fetcher.Fetcher.
type Dispatcher interface {
	Submit(title string, reply chan<- fetcher.Result)
}

// Mesh owns the worker inboxes and the shared spare-slab reserve. Inbox
// capacity equals the worker count: a full one-to-one fan-out fits without
// head-of-line blocking, anything more applies backpressure.
type Mesh struct {
	topo    foundation.Topology
	inboxes []chan Command
	reserve *slab.Reserve
	fetch   Dispatcher
	wg      sync.WaitGroup
}

// NewMesh builds the mesh and its workers without starting them.
func NewMesh(topo foundation.Topology, fetch Dispatcher) *Mesh {
	m := &Mesh{
		topo:    topo,
		inboxes: make([]chan Command, topo.WorkerCount),
		reserve: slab.NewReserve(topo.SpareSlabs),
		fetch:   fetch,
	}
	for i := range m.inboxes {
		m.inboxes[i] = make(chan Command, topo.WorkerCount)
	}
	return m
}

// Start spawns one goroutine per worker.
func (m *Mesh) Start() {
	for id := range m.inboxes {
		w := newWorker(id, m.topo, m.inboxes[id], m)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			w.run()
		}()
	}
}

// Send delivers a command to a worker's inbox, blocking when it is full.
func (m *Mesh) Send(workerID int, cmd Command) {
	m.inboxes[workerID] <- cmd
}

// Route returns the worker that owns a title.
func (m *Mesh) Route(title string) int {
	return m.topo.Worker(digest.Sum(title))
}

// Topology exposes the layout the mesh was built for.
func (m *Mesh) Topology() foundation.Topology {
	return m.topo
}

// SpareSlabs reports the remaining spare-slab reserve.
func (m *Mesh) SpareSlabs() int {
	return m.reserve.Remaining()
}

// Shutdown asks every worker to exit and waits for the loops to drain.
func (m *Mesh) Shutdown() {
	for id := range m.inboxes {
		m.Send(id, End{})
	}
	m.wg.Wait()
}
