// Package assembler drives one bounded breadth-first expansion across the
// worker mesh per API request.
//
// An assembler never blocks on a miss: workers answer Fetch for titles that
// are still being resolved, the assembler marks those nodes Incomplete, and
// after each hop it re-queries that hop's holes exactly once. Incomplete is a
// first-class outcome; callers are expected to retry the whole request.
package assembler

import (
	"context"
	"log/slog"
	"time"

	"github.com/tedstreete/six-degrees/internal/config"
	"github.com/tedstreete/six-degrees/internal/worker"
)

// NodeStatus annotates each node of the result graph.
type NodeStatus string

const (
	// StatusResolved: the node's link set was available and expanded.
	StatusResolved NodeStatus = "resolved"
	// StatusMissing: upstream says the page does not exist.
	StatusMissing NodeStatus = "missing"
	// StatusIncomplete: the link set was not available before the
	// response deadline. Retry the request later.
	StatusIncomplete NodeStatus = "incomplete"
)

// Node is one page in the expansion.
type Node struct {
	Title  string
	Status NodeStatus
	// Hop is the distance from the root at which the node was discovered.
	Hop int
}

// Edge is a directed link between two materialized nodes.
type Edge struct {
	Source string
	Target string
}

// Graph is the assembled result of one expansion.
type Graph struct {
	Root  string
	Depth int
	Nodes map[string]*Node
	Edges []Edge
}

// Complete reports whether every node resolved one way or the other.
func (g *Graph) Complete() bool {
	for _, n := range g.Nodes {
		if n.Status == StatusIncomplete {
			return false
		}
	}
	return true
}

// Mesh is the worker fan-out surface the assembler drives. Satisfied by
// *worker.Mesh.
type Mesh interface {
	Send(workerID int, cmd worker.Command)
	Route(title string) int
}

// Assembler builds expansion graphs. One instance serves all requests; the
// per-request state lives on the stack of Expand.
type Assembler struct {
	mesh       Mesh
	retryDelay time.Duration

	// wait is the retry delay, injectable for tests.
	wait func(ctx context.Context, d time.Duration)
}

func New(mesh Mesh, retryDelay time.Duration) *Assembler {
	return &Assembler{
		mesh:       mesh,
		retryDelay: retryDelay,
		wait: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
		},
	}
}

// Expand runs a breadth-first expansion from title. Depth is clamped to the
// configured bounds; depth 1 resolves the root only. The context bounds the
// whole request: on cancellation the graph so far is returned with the
// unexpanded frontier marked Incomplete.
func (a *Assembler) Expand(ctx context.Context, title string, depth int) *Graph {
	depth = config.ClampDepth(depth)

	graph := &Graph{
		Root:  title,
		Depth: depth,
		Nodes: make(map[string]*Node),
	}

	visited := map[string]bool{title: true}
	frontier := []string{title}
	outbound := make(map[string][]string)

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		replies := a.queryAll(ctx, frontier)

		// Re-query the holes once after the retry window; results that
		// arrived in the meantime upgrade Incomplete nodes in place.
		var pending []string
		for _, t := range frontier {
			if r, ok := replies[t]; !ok || r.Kind == worker.ReplyFetch {
				pending = append(pending, t)
			}
		}
		if len(pending) > 0 && ctx.Err() == nil {
			slog.Debug("expansion has holes, waiting to retry",
				"root", title, "hop", hop, "pending", len(pending))
			a.wait(ctx, a.retryDelay)
			for t, r := range a.queryAll(ctx, pending) {
				replies[t] = r
			}
		}

		var next []string
		for _, t := range frontier {
			node := &Node{Title: t, Hop: hop, Status: StatusIncomplete}
			graph.Nodes[t] = node

			r, ok := replies[t]
			if !ok {
				continue
			}
			switch r.Kind {
			case worker.ReplyLinks:
				node.Status = StatusResolved
				outbound[t] = r.Entry.Outbound
				for _, target := range r.Entry.Outbound {
					if !visited[target] {
						visited[target] = true
						next = append(next, target)
					}
				}
			case worker.ReplyMissing:
				node.Status = StatusMissing
			}
		}
		frontier = next
	}

	// Edges join materialized nodes only; links that leave the expansion
	// radius are not part of the answer.
	for source, targets := range outbound {
		for _, target := range targets {
			if _, ok := graph.Nodes[target]; ok {
				graph.Edges = append(graph.Edges, Edge{Source: source, Target: target})
			}
		}
	}

	return graph
}

// queryAll fans one hop's titles out to their owning workers and drains
// every reply. A reply lost to cancellation leaves its title out of the
// map, which renders as Incomplete.
func (a *Assembler) queryAll(ctx context.Context, titles []string) map[string]worker.Reply {
	replies := make(map[string]worker.Reply, len(titles))
	if len(titles) == 0 {
		return replies
	}

	// Capacity covers the full fan-out, so no worker blocks on the send.
	replyCh := make(chan worker.Reply, len(titles))
	for _, t := range titles {
		a.mesh.Send(a.mesh.Route(t), worker.Request{Title: t, Reply: replyCh})
	}

	for range titles {
		select {
		case r := <-replyCh:
			replies[r.Title] = r
		case <-ctx.Done():
			slog.Warn("expansion abandoned mid-hop", "collected", len(replies))
			return replies
		}
	}
	return replies
}
