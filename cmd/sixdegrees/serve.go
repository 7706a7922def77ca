package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tedstreete/six-degrees/internal/api"
	"github.com/tedstreete/six-degrees/internal/assembler"
	"github.com/tedstreete/six-degrees/internal/config"
	"github.com/tedstreete/six-degrees/internal/database"
	"github.com/tedstreete/six-degrees/internal/fetcher"
	"github.com/tedstreete/six-degrees/internal/fetchlog"
	"github.com/tedstreete/six-degrees/internal/foundation"
	"github.com/tedstreete/six-degrees/internal/worker"
)

var (
	serveAPI        string
	serveManagement string
	serveCache      string
	serveDepth      int
	serveDomainName string
	serveMemory     uint64
	serveCores      int
	serveWorkers    int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SixDegrees API server",
	Long: `Start the SixDegrees HTTP API server.

The server sizes a worker mesh from available memory and cores, then answers
bounded breadth-first expansions of the Wikipedia link graph on demand.
Pages are fetched from the MediaWiki parse API one request at a time, and
raw payloads are cached on disk.

Examples:
  sixdegrees serve
  sixdegrees serve --api 0.0.0.0:8080 --depth 3
  sixdegrees serve --domain_name https://de.wikipedia.org/ --cache /var/cache/sixdegrees`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAPI, "api", "", "API bind address (addr[:port])")
	serveCmd.Flags().StringVar(&serveManagement, "management", "", "management bind address (addr[:port])")
	serveCmd.Flags().StringVar(&serveCache, "cache", "", "directory where pages are cached")
	serveCmd.Flags().IntVar(&serveDepth, "depth", 0, "default expansion depth (1-6)")
	serveCmd.Flags().StringVar(&serveDomainName, "domain_name", "", "upstream MediaWiki root URL")
	serveCmd.Flags().Uint64Var(&serveMemory, "memory", 0, "override detected memory in KiB (development)")
	serveCmd.Flags().IntVar(&serveCores, "cores", 0, "override detected core count")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "override computed worker count (max 65536)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("received shutdown signal")
		cancel()
	}()

	applyServeFlags(cmd)

	apiAddr, err := config.ParseAddr(cfg.API.Addr, config.DefaultAPIPort)
	if err != nil {
		return fmt.Errorf("api address: %w", err)
	}
	managementAddr, err := config.ParseAddr(cfg.Management.Addr, config.DefaultManagementPort)
	if err != nil {
		return fmt.Errorf("management address: %w", err)
	}

	// Size the mesh. Failures here are fatal configuration: exit code 1.
	memoryKiB, cores, err := foundation.Detect(cfg.Topology.MemoryKiB, cfg.Topology.Cores)
	if err != nil {
		return fmt.Errorf("detecting system resources: %w", err)
	}
	topo, err := foundation.Configure(memoryKiB, cores, cfg.Topology.Workers)
	if err != nil {
		return fmt.Errorf("sizing topology: %w", err)
	}

	slog.Info("foundation",
		"memory", humanize.IBytes(memoryKiB*1024),
		"cores", cores,
		"workers", topo.WorkerCount,
		"slabs_per_worker", topo.SlabsPerWorker,
		"spare_slabs", topo.SpareSlabs,
	)
	slog.Info("caching", "root", cfg.Cache.Root)

	db, err := database.Open(filepath.Join(cfg.Cache.Root, "fetch_log.db"))
	if err != nil {
		return fmt.Errorf("opening fetch ledger: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating fetch ledger: %w", err)
	}
	ledger := fetchlog.New(db)

	f := fetcher.New(fetcher.Config{
		Domain:         cfg.Upstream.Domain,
		UserAgent:      cfg.Upstream.UserAgent,
		CacheRoot:      cfg.Cache.Root,
		RateLimit:      cfg.Upstream.RateLimit,
		RequestTimeout: cfg.Upstream.RequestTimeout,
		QueueDepth:     topo.WorkerCount,
	}, ledger)

	mesh := worker.NewMesh(topo, f)
	mesh.Start()
	defer mesh.Shutdown()

	asm := assembler.New(mesh, cfg.Expand.RetryDelay)

	server := api.New(asm, api.StatsSource{
		Topology:   topo,
		SpareSlabs: mesh.SpareSlabs,
		Fetches:    f.Stats,
		Ledger:     ledger,
	}, api.Config{
		APIAddr:         apiAddr,
		ManagementAddr:  managementAddr,
		DefaultDepth:    cfg.Expand.Depth,
		ReadTimeout:     cfg.API.ReadTimeout,
		WriteTimeout:    cfg.API.WriteTimeout,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
		RateLimit:       cfg.API.RateLimit,
		RateBurst:       cfg.API.RateBurst,
		Production:      cfg.API.Production,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := f.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return server.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// applyServeFlags lets explicit command-line flags win over the loaded
// configuration.
func applyServeFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("api") {
		cfg.API.Addr = serveAPI
	}
	if cmd.Flags().Changed("management") {
		cfg.Management.Addr = serveManagement
	}
	if cmd.Flags().Changed("cache") {
		cfg.Cache.Root = config.ExpandPath(serveCache)
	}
	if cmd.Flags().Changed("depth") {
		cfg.Expand.Depth = config.ClampDepth(serveDepth)
	}
	if cmd.Flags().Changed("domain_name") {
		cfg.Upstream.Domain = serveDomainName
	}
	if cmd.Flags().Changed("memory") {
		cfg.Topology.MemoryKiB = serveMemory
	}
	if cmd.Flags().Changed("cores") {
		cfg.Topology.Cores = serveCores
	}
	if cmd.Flags().Changed("workers") {
		cfg.Topology.Workers = serveWorkers
	}
}
