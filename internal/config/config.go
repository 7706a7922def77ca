// Package config provides application configuration via Viper.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultAPIPort is the port the public API binds when none is given.
	DefaultAPIPort = 6457
	// DefaultManagementPort is the port the management surface binds.
	DefaultManagementPort = 6458

	// MinDepth and MaxDepth bound the expansion depth. 1 expands the
	// requested page only.
	MinDepth = 1
	MaxDepth = 6
	// DefaultDepth is used when a request carries no depth.
	DefaultDepth = 2
)

type Config struct {
	API        APIConfig
	Management ManagementConfig
	Cache      CacheConfig
	Expand     ExpandConfig
	Upstream   UpstreamConfig
	Topology   TopologyConfig
	Log        LogConfig
}

type APIConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       float64
	RateBurst       int
	Production      bool
}

type ManagementConfig struct {
	Addr string
}

type CacheConfig struct {
	// Root is the cache directory; $HOME and ~ are expanded.
	Root string
}

type ExpandConfig struct {
	Depth      int
	RetryDelay time.Duration
}

type UpstreamConfig struct {
	// Domain is the MediaWiki root, e.g. https://en.wikipedia.org/.
	Domain         string
	UserAgent      string
	RateLimit      float64
	RequestTimeout time.Duration
}

type TopologyConfig struct {
	// MemoryKiB overrides detected memory when non-zero (development use).
	MemoryKiB uint64
	// Cores overrides the detected core count when non-zero.
	Cores int
	// Workers overrides the computed worker count when non-zero.
	Workers int
}

type LogConfig struct {
	Level string
}

var defaultConfig = Config{
	API: APIConfig{
		Addr:            fmt.Sprintf("127.0.0.1:%d", DefaultAPIPort),
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    90 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimit:       100.0,
		RateBurst:       200,
		Production:      false,
	},
	Management: ManagementConfig{
		Addr: fmt.Sprintf("127.0.0.1:%d", DefaultManagementPort),
	},
	Cache: CacheConfig{
		Root: "$HOME/six_degrees_cache",
	},
	Expand: ExpandConfig{
		Depth:      DefaultDepth,
		RetryDelay: 20 * time.Second,
	},
	Upstream: UpstreamConfig{
		Domain:         "https://en.wikipedia.org/",
		UserAgent:      "SixDegrees/1.0 sixdegrees@streete.net",
		RateLimit:      2.0,
		RequestTimeout: 30 * time.Second,
	},
	Log: LogConfig{
		Level: "info",
	},
}

// Reads configuration from file and environment variables. An explicit
// cfgFile wins; otherwise the search locations are ./config.yaml and
// ~/.config/sixdegrees/config.yaml.
// Env vars prefixed with SIXDEGREES_ (e.g., SIXDEGREES_CACHE_ROOT).
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(ExpandPath(cfgFile))
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(userConfigDir(), "sixdegrees"))
	}

	v.SetEnvPrefix("SIXDEGREES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A named config file must exist; the default search may come up
		// empty.
		if cfgFile != "" {
			return nil, fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	cfg.API.Addr = v.GetString("api.addr")
	cfg.API.ReadTimeout = v.GetDuration("api.read_timeout")
	cfg.API.WriteTimeout = v.GetDuration("api.write_timeout")
	cfg.API.ShutdownTimeout = v.GetDuration("api.shutdown_timeout")
	cfg.API.RateLimit = v.GetFloat64("api.rate_limit")
	cfg.API.RateBurst = v.GetInt("api.rate_burst")
	cfg.API.Production = v.GetBool("api.production")

	cfg.Management.Addr = v.GetString("management.addr")

	cfg.Cache.Root = ExpandPath(v.GetString("cache.root"))

	cfg.Expand.Depth = ClampDepth(v.GetInt("expand.depth"))
	cfg.Expand.RetryDelay = v.GetDuration("expand.retry_delay")

	cfg.Upstream.Domain = v.GetString("upstream.domain")
	cfg.Upstream.UserAgent = v.GetString("upstream.user_agent")
	cfg.Upstream.RateLimit = v.GetFloat64("upstream.rate_limit")
	cfg.Upstream.RequestTimeout = v.GetDuration("upstream.request_timeout")

	cfg.Topology.MemoryKiB = v.GetUint64("topology.memory_kib")
	cfg.Topology.Cores = v.GetInt("topology.cores")
	cfg.Topology.Workers = v.GetInt("topology.workers")

	cfg.Log.Level = v.GetString("log.level")

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.addr", defaultConfig.API.Addr)
	v.SetDefault("api.read_timeout", defaultConfig.API.ReadTimeout)
	v.SetDefault("api.write_timeout", defaultConfig.API.WriteTimeout)
	v.SetDefault("api.shutdown_timeout", defaultConfig.API.ShutdownTimeout)
	v.SetDefault("api.rate_limit", defaultConfig.API.RateLimit)
	v.SetDefault("api.rate_burst", defaultConfig.API.RateBurst)
	v.SetDefault("api.production", defaultConfig.API.Production)

	v.SetDefault("management.addr", defaultConfig.Management.Addr)

	v.SetDefault("cache.root", defaultConfig.Cache.Root)

	v.SetDefault("expand.depth", defaultConfig.Expand.Depth)
	v.SetDefault("expand.retry_delay", defaultConfig.Expand.RetryDelay)

	v.SetDefault("upstream.domain", defaultConfig.Upstream.Domain)
	v.SetDefault("upstream.user_agent", defaultConfig.Upstream.UserAgent)
	v.SetDefault("upstream.rate_limit", defaultConfig.Upstream.RateLimit)
	v.SetDefault("upstream.request_timeout", defaultConfig.Upstream.RequestTimeout)

	v.SetDefault("topology.memory_kib", defaultConfig.Topology.MemoryKiB)
	v.SetDefault("topology.cores", defaultConfig.Topology.Cores)
	v.SetDefault("topology.workers", defaultConfig.Topology.Workers)

	v.SetDefault("log.level", defaultConfig.Log.Level)
}

// ParseAddr resolves an addr[:port] option to a bindable host:port.
// Accepted forms: "host:port", "host" (default port), ":port" (loopback),
// "" (loopback, default port).
func ParseAddr(s string, defaultPort int) (string, error) {
	if s == "" {
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(defaultPort)), nil
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// No port component; the whole option is a host.
		host, port = s, strconv.Itoa(defaultPort)
	}
	if host == "" {
		host = "127.0.0.1"
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("invalid port %q in address %q", port, s)
	}

	return net.JoinHostPort(host, port), nil
}

// ExpandPath expands a leading ~ or $HOME in a filesystem path.
func ExpandPath(p string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}

	switch {
	case p == "~" || p == "$HOME":
		return home
	case strings.HasPrefix(p, "~/"):
		return filepath.Join(home, p[2:])
	case strings.HasPrefix(p, "$HOME/"):
		return filepath.Join(home, p[len("$HOME/"):])
	}
	return p
}

// ClampDepth forces a requested depth into [MinDepth, MaxDepth].
func ClampDepth(d int) int {
	if d < MinDepth {
		return MinDepth
	}
	if d > MaxDepth {
		return MaxDepth
	}
	return d
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return ""
}
