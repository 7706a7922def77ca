// Package slab provides the per-worker entry store: fixed-budget slabs that
// hold resolved page link sets, and the process-wide spare-slab reserve.
//
// A slab never shares entries across workers; the owning worker is the sole
// reader and writer, so nothing here takes a lock except the reserve counter.
package slab

import (
	"errors"
	"time"

	"github.com/tedstreete/six-degrees/internal/digest"
)

const (
	// PrimaryBudget is the byte budget of a worker's primary slabs.
	PrimaryBudget = 1 << 20
	// SpareBudget is the byte budget of a reserve slab, half a primary.
	SpareBudget = 512 << 10

	// entryOverhead approximates the fixed cost of an entry beyond its
	// strings: digest, status, timestamp, slice headers.
	entryOverhead = 64

	// maxEntryAge is the floor of the aging policy for both resolved and
	// missing entries.
	maxEntryAge = 7 * 24 * time.Hour
)

// ErrSlabFull reports that no slab in a chain has room for an entry.
var ErrSlabFull = errors.New("slab full")

// Status is the lifecycle state of an entry.
type Status int

const (
	// Pending: a fetch has been dispatched but has not completed.
	Pending Status = iota
	// Resolved: the upstream link set is installed.
	Resolved
	// Missing: upstream reported no such page.
	Missing
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Missing:
		return "missing"
	}
	return "unknown"
}

// Entry is one page's resolved link set. The digest is the primary key
// within a slab; the title disambiguates digest collisions.
type Entry struct {
	Digest     digest.Digest
	Title      string
	Outbound   []string
	Inbound    []string
	Status     Status
	ResolvedAt time.Time
}

// Expired reports whether the aging policy requires a re-fetch. Pending
// entries never expire; their fetch either completes or is cleared.
func (e *Entry) Expired(now time.Time) bool {
	switch e.Status {
	case Resolved, Missing:
		return now.Sub(e.ResolvedAt) > maxEntryAge
	}
	return false
}

func (e *Entry) size() int {
	n := entryOverhead + len(e.Title)
	for _, t := range e.Outbound {
		n += len(t) + 16
	}
	for _, t := range e.Inbound {
		n += len(t) + 16
	}
	return n
}

// Slab is a fixed-budget container of entries. Saturated slabs chain to a
// spare handed out by the reserve; lookups walk the chain. Entries never
// move between slabs once placed.
type Slab struct {
	budget  int
	used    int
	entries []*Entry
	next    *Slab
}

// New creates an empty slab with the given byte budget.
func New(budget int) *Slab {
	return &Slab{budget: budget}
}

// Lookup finds the entry for (d, title) anywhere in the chain.
func (s *Slab) Lookup(d digest.Digest, title string) *Entry {
	for cur := s; cur != nil; cur = cur.next {
		for _, e := range cur.entries {
			if e.Digest == d && e.Title == title {
				return e
			}
		}
	}
	return nil
}

// Insert places an entry in the first chained slab with room, replacing any
// existing entry with the same identity. Returns ErrSlabFull when the whole
// chain is saturated.
func (s *Slab) Insert(e *Entry) error {
	if old := s.Lookup(e.Digest, e.Title); old != nil {
		// Replace in place; the entry keeps its slab.
		for cur := s; cur != nil; cur = cur.next {
			for i, have := range cur.entries {
				if have == old {
					cur.used += e.size() - old.size()
					cur.entries[i] = e
					return nil
				}
			}
		}
	}

	size := e.size()
	for cur := s; ; cur = cur.next {
		if cur.used+size <= cur.budget {
			cur.entries = append(cur.entries, e)
			cur.used += size
			return nil
		}
		if cur.next == nil {
			return ErrSlabFull
		}
	}
}

// Remove deletes the entry for (d, title) from the chain, reporting whether
// it was present.
func (s *Slab) Remove(d digest.Digest, title string) bool {
	for cur := s; cur != nil; cur = cur.next {
		for i, e := range cur.entries {
			if e.Digest == d && e.Title == title {
				cur.used -= e.size()
				cur.entries = append(cur.entries[:i], cur.entries[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Extend appends a spare slab to the end of the chain.
func (s *Slab) Extend(spare *Slab) {
	cur := s
	for cur.next != nil {
		cur = cur.next
	}
	cur.next = spare
}

// Len counts entries across the chain.
func (s *Slab) Len() int {
	n := 0
	for cur := s; cur != nil; cur = cur.next {
		n += len(cur.entries)
	}
	return n
}

// Used reports the occupied bytes across the chain.
func (s *Slab) Used() int {
	n := 0
	for cur := s; cur != nil; cur = cur.next {
		n += cur.used
	}
	return n
}
