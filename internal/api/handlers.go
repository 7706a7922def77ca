package api

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/tedstreete/six-degrees/internal/api/middleware"
	"github.com/tedstreete/six-degrees/internal/assembler"
	"github.com/tedstreete/six-degrees/internal/config"
)

// handleConnections runs a bounded expansion from a starting page.
// GET /connections?title=<t>&depth=<d>  (or ?url=<u> as alternate start)
func (s *Server) handleConnections(c *gin.Context) {
	title := c.Query("title")
	if title == "" {
		if raw := c.Query("url"); raw != "" {
			var err error
			title, err = titleFromURL(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{
					Error:     "invalid_url",
					Message:   err.Error(),
					RequestID: middleware.GetRequestID(c),
				})
				return
			}
		}
	}
	if title == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "missing_parameter",
			Message:   "one of title or url is required",
			RequestID: middleware.GetRequestID(c),
		})
		return
	}

	depth := s.cfg.DefaultDepth
	if depth == 0 {
		depth = config.DefaultDepth
	}
	if raw := c.Query("depth"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			depth = n
		}
	}
	depth = config.ClampDepth(depth)

	graph := s.expander.Expand(c.Request.Context(), title, depth)
	c.JSON(http.StatusOK, toConnectionsResponse(graph))
}

// handleHealth reports liveness on the management bind.
// GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: Version,
		Workers: s.stats.Topology.WorkerCount,
	})
}

// handleStats reports topology and fetch counters on the management bind.
// GET /stats
func (s *Server) handleStats(c *gin.Context) {
	resp := StatsResponse{
		Workers:        s.stats.Topology.WorkerCount,
		SlabsPerWorker: s.stats.Topology.SlabsPerWorker,
	}

	if s.stats.SpareSlabs != nil {
		resp.SpareSlabs = s.stats.SpareSlabs()
	}
	if s.stats.Fetches != nil {
		resp.UpstreamCalls, resp.CacheHits = s.stats.Fetches()
	}
	if s.stats.Ledger != nil {
		if stats, err := s.stats.Ledger.Stats(); err == nil {
			resp.PagesResolved = stats.Resolved
			resp.PagesMissing = stats.Missing
		}
		if size, err := s.stats.Ledger.SizeBytes(); err == nil {
			resp.LedgerSize = humanize.IBytes(uint64(size))
		}
	}

	c.JSON(http.StatusOK, resp)
}

// titleFromURL extracts the page title from a wiki article URL, e.g.
// https://en.wikipedia.org/wiki/Rail_transport -> "Rail transport".
func titleFromURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("unparsable url %q", raw)
	}

	const prefix = "/wiki/"
	if !strings.HasPrefix(parsed.Path, prefix) {
		return "", fmt.Errorf("url %q does not name a wiki page", raw)
	}

	title := strings.TrimPrefix(parsed.Path, prefix)
	if decoded, err := url.PathUnescape(title); err == nil {
		title = decoded
	}
	title = strings.ReplaceAll(title, "_", " ")
	if title == "" {
		return "", fmt.Errorf("url %q does not name a wiki page", raw)
	}
	return title, nil
}

func toConnectionsResponse(g *assembler.Graph) ConnectionsResponse {
	nodes := make([]GraphNode, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, GraphNode{
			Title:  n.Title,
			Status: string(n.Status),
			Hop:    n.Hop,
		})
	}
	// Stable order: by hop, then title.
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Hop != nodes[j].Hop {
			return nodes[i].Hop < nodes[j].Hop
		}
		return nodes[i].Title < nodes[j].Title
	})

	edges := make([]GraphEdge, 0, len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, GraphEdge{Source: e.Source, Target: e.Target})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})

	return ConnectionsResponse{
		Root:      g.Root,
		Depth:     g.Depth,
		Complete:  g.Complete(),
		Nodes:     nodes,
		Edges:     edges,
		NodeCount: len(nodes),
		EdgeCount: len(edges),
	}
}
