// Package worker implements the sharded owners of the page-link table.
//
// Every title belongs to exactly one worker, selected by its digest. Workers
// never share memory: all cross-shard traffic is message passing over the
// mesh, so slab access is race-free without a lock. A worker that receives a
// request for a title it does not own has been handed a routing bug, and
// panics.
package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tedstreete/six-degrees/internal/digest"
	"github.com/tedstreete/six-degrees/internal/fetcher"
	"github.com/tedstreete/six-degrees/internal/foundation"
	"github.com/tedstreete/six-degrees/internal/slab"
)

// Command is a message a worker accepts on its inbox.
type Command interface{ isCommand() }

// Request asks the owning worker for a title's link set. The reply is one
// of Links, Missing, or Fetch; the worker never blocks the caller on an
// upstream fetch.
type Request struct {
	Title string
	Reply chan<- Reply
}

// Update installs the outcome of a completed fetch. A nil Entry clears the
// pending slot so a later request retries the fetch.
type Update struct {
	Title string
	Entry *slab.Entry
}

// End asks the worker to exit its loop. In-flight fetches complete and
// their updates are dropped with the inbox.
type End struct{}

func (Request) isCommand() {}
func (Update) isCommand()  {}
func (End) isCommand()     {}

// ReplyKind discriminates a worker's answer to a Request.
type ReplyKind int

const (
	// ReplyLinks: the entry is resolved; Entry carries the link set.
	ReplyLinks ReplyKind = iota
	// ReplyMissing: upstream has said the page does not exist.
	ReplyMissing
	// ReplyFetch: not available yet; a fetch is in flight. Re-query later.
	ReplyFetch
)

// Reply is a worker's answer to a Request, tagged with the title so callers
// can fan out many requests over one reply channel.
type Reply struct {
	Title string
	Kind  ReplyKind
	Entry *slab.Entry
}

type worker struct {
	id    int
	topo  foundation.Topology
	slabs []*slab.Slab
	inbox chan Command
	mesh  *Mesh
	now   func() time.Time
}

func newWorker(id int, topo foundation.Topology, inbox chan Command, mesh *Mesh) *worker {
	slabs := make([]*slab.Slab, topo.SlabsPerWorker)
	for i := range slabs {
		slabs[i] = slab.New(slab.PrimaryBudget)
	}
	return &worker{
		id:    id,
		topo:  topo,
		slabs: slabs,
		inbox: inbox,
		mesh:  mesh,
		now:   time.Now,
	}
}

func (w *worker) run() {
	slog.Debug("worker started", "worker", w.id)

	for cmd := range w.inbox {
		switch c := cmd.(type) {
		case Request:
			w.handleRequest(c)
		case Update:
			w.handleUpdate(c)
		case End:
			slog.Debug("worker exiting", "worker", w.id)
			return
		}
	}
}

func (w *worker) handleRequest(req Request) {
	d := digest.Sum(req.Title)
	if owner := w.topo.Worker(d); owner != w.id {
		panic(fmt.Sprintf("worker %d received request for %q owned by worker %d",
			w.id, req.Title, owner))
	}

	s := w.slabs[w.topo.Slab(d)]
	entry := s.Lookup(d, req.Title)

	switch {
	case entry == nil:
		w.install(s, &slab.Entry{Digest: d, Title: req.Title, Status: slab.Pending})
		w.dispatchFetch(req.Title)
		req.Reply <- Reply{Title: req.Title, Kind: ReplyFetch}

	case entry.Expired(w.now()):
		// Aged out; re-fetch. The stale entry stays pending so concurrent
		// requests don't double-dispatch.
		entry.Status = slab.Pending
		w.dispatchFetch(req.Title)
		req.Reply <- Reply{Title: req.Title, Kind: ReplyFetch}

	case entry.Status == slab.Resolved:
		req.Reply <- Reply{Title: req.Title, Kind: ReplyLinks, Entry: entry}

	case entry.Status == slab.Missing:
		req.Reply <- Reply{Title: req.Title, Kind: ReplyMissing, Entry: entry}

	default: // Pending: a fetch is already in flight.
		req.Reply <- Reply{Title: req.Title, Kind: ReplyFetch}
	}
}

func (w *worker) handleUpdate(u Update) {
	d := digest.Sum(u.Title)
	s := w.slabs[w.topo.Slab(d)]

	if u.Entry == nil {
		// The fetch failed with something other than missingtitle. Clear
		// the pending slot; the next request retries.
		if e := s.Lookup(d, u.Title); e != nil && e.Status == slab.Pending {
			s.Remove(d, u.Title)
		}
		return
	}

	entry := u.Entry
	if entry.Title != u.Title {
		// Upstream normalized the title. Re-key the entry by the requested
		// form so the pending slot resolves; ownership follows the request,
		// and the canonical form resolves on its own when asked for.
		rekeyed := *entry
		rekeyed.Title = u.Title
		rekeyed.Digest = d
		entry = &rekeyed
	}

	w.install(s, entry)
	w.backfillInbound(entry)
}

// install places an entry, pulling a spare slab from the reserve when the
// chain saturates. Exhaustion is survivable: the entry is dropped and the
// title resolves through fetch again on a later request.
func (w *worker) install(s *slab.Slab, entry *slab.Entry) {
	if err := s.Insert(entry); err == nil {
		return
	}

	spare, ok := w.mesh.reserve.Acquire()
	if !ok {
		slog.Error("slab saturated and spare reserve exhausted",
			"worker", w.id, "title", entry.Title)
		return
	}
	slog.Debug("chained spare slab", "worker", w.id, "remaining", w.mesh.reserve.Remaining())
	s.Extend(spare)

	if err := s.Insert(entry); err != nil {
		slog.Error("entry does not fit a fresh spare slab",
			"worker", w.id, "title", entry.Title, "error", err)
	}
}

// backfillInbound is best-effort: when a resolved entry lands, any of its
// outbound titles already resolved on this worker gain an inbound edge.
// Cross-worker inbound edges are never fetched for.
func (w *worker) backfillInbound(entry *slab.Entry) {
	if entry.Status != slab.Resolved {
		return
	}

	for _, title := range entry.Outbound {
		d := digest.Sum(title)
		if w.topo.Worker(d) != w.id {
			continue
		}
		target := w.slabs[w.topo.Slab(d)].Lookup(d, title)
		if target == nil || target.Status != slab.Resolved {
			continue
		}
		if !contains(target.Inbound, entry.Title) {
			target.Inbound = append(target.Inbound, entry.Title)
		}
	}
}

// dispatchFetch hands the title to the fetcher and spawns an ancillary task
// that routes the completion back to this worker as an Update. The worker
// loop itself never waits on the fetcher.
func (w *worker) dispatchFetch(title string) {
	workerID := w.id
	mesh := w.mesh
	now := w.now

	go func() {
		reply := make(chan fetcher.Result, 1)
		mesh.fetch.Submit(title, reply)
		res := <-reply

		var entry *slab.Entry
		switch {
		case res.Err == nil:
			entry = res.Entry
		case fetcher.IsMissingTitle(res.Err):
			entry = &slab.Entry{
				Digest:     digest.Sum(title),
				Title:      title,
				Status:     slab.Missing,
				ResolvedAt: now(),
			}
		default:
			slog.Warn("fetch failed", "title", title, "error", res.Err)
		}

		mesh.Send(workerID, Update{Title: title, Entry: entry})
	}()
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
