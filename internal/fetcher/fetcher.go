// Package fetcher is the serialized gateway to the upstream MediaWiki parse
// API.
//
// MediaWiki etiquette (https://www.mediawiki.org/wiki/API:Etiquette) asks
// clients to keep a single request in flight per session, accept gzip, send
// an identifying User-Agent, and honor the maxlag deferral signal. The
// serialization here is structural: one loop dequeues one request and runs
// its full retry budget before touching the next. Adding concurrency would
// break the contract, not just the tuning.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/tedstreete/six-degrees/internal/fetchlog"
	"github.com/tedstreete/six-degrees/internal/slab"
)

const (
	apiPath = "/w/api.php"

	// maxAttempts bounds upstream calls for one get: the initial request
	// plus up to four maxlag retries.
	maxAttempts = 5

	// lagSleep is the fixed deferral between maxlag retries.
	lagSleep = 5 * time.Second

	defaultQueueDepth = 256
)

// Result is the terminal outcome of one fetch.
type Result struct {
	Entry *slab.Entry
	Err   error
}

type request struct {
	title string
	reply chan<- Result
}

type pendingFetch struct {
	body   []byte
	status int
	err    error
}

type Config struct {
	// Domain is the MediaWiki root, e.g. https://en.wikipedia.org/.
	Domain         string
	UserAgent      string
	CacheRoot      string
	RateLimit      float64
	RequestTimeout time.Duration
	QueueDepth     int
}

// Fetcher is the singleton upstream gateway. Callers submit requests on the
// queue and await the reply on their own channel; the run loop serves one
// request at a time.
type Fetcher struct {
	collector *colly.Collector
	limiter   *rate.Limiter
	requests  chan request
	// inflight captures the response of the one request the serialized
	// loop has outstanding. Never shared across calls.
	inflight  *pendingFetch
	apiURL    string
	cacheRoot string
	ledger    *fetchlog.Log

	upstreamCalls atomic.Int64
	cacheHits     atomic.Int64

	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a fetcher. ledger may be nil, in which case disk-cache hits
// are always treated as fresh.
func New(cfg Config, ledger *fetchlog.Log) *Fetcher {
	queueDepth := cfg.QueueDepth
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 2.0
	}

	f := &Fetcher{
		limiter:   rate.NewLimiter(rate.Limit(rateLimit), 1),
		requests:  make(chan request, queueDepth),
		apiURL:    strings.TrimSuffix(cfg.Domain, "/") + apiPath,
		cacheRoot: cfg.CacheRoot,
		ledger:    ledger,
		sleep:     time.Sleep,
		now:       time.Now,
	}

	// One collector reused across calls. Revisits are the norm here: a
	// maxlag retry hits the identical URL.
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.RequestTimeout > 0 {
		c.SetRequestTimeout(cfg.RequestTimeout)
	}

	c.OnResponse(func(r *colly.Response) {
		if p := f.inflight; p != nil {
			p.status = r.StatusCode
			p.body = make([]byte, len(r.Body))
			copy(p.body, r.Body)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if p := f.inflight; p != nil {
			p.status = r.StatusCode
			p.err = err
		}
	})

	f.collector = c
	return f
}

// Submit enqueues a fetch; the result arrives on reply. The queue applies
// backpressure when the loop falls behind.
func (f *Fetcher) Submit(title string, reply chan<- Result) {
	f.requests <- request{title: title, reply: reply}
}

// Run serves the request queue until the context is cancelled. An in-flight
// fetch completes; it is not cancelable mid-HTTP.
func (f *Fetcher) Run(ctx context.Context) error {
	slog.Info("fetcher started", "upstream", f.apiURL, "cache", f.cacheRoot)

	for {
		select {
		case <-ctx.Done():
			slog.Info("fetcher stopped")
			return ctx.Err()
		case req := <-f.requests:
			req.reply <- f.get(req.title)
		}
	}
}

// Stats reports upstream call and cache hit counts for the management
// surface.
func (f *Fetcher) Stats() (upstreamCalls, cacheHits int64) {
	return f.upstreamCalls.Load(), f.cacheHits.Load()
}

// get resolves one title: disk cache first, then upstream with the maxlag
// retry loop.
func (f *Fetcher) get(title string) Result {
	title = strings.TrimSpace(title)

	if body, ok := f.cached(title); ok {
		slog.Debug("cache hit", "title", title)
		f.cacheHits.Add(1)
		entry, err := Parse(body)
		return Result{Entry: entry, Err: err}
	}

	slog.Debug("pulling from upstream", "title", title)
	lastLag := 0.0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, err := f.fetch(title)
		if err != nil {
			return Result{Err: err}
		}

		entry, err := Parse(body)

		var fe *Error
		if errors.As(err, &fe) && fe.Kind == KindLag {
			lastLag = fe.Lag
			slog.Info("upstream lagged, deferring",
				"title", title, "lag_seconds", fe.Lag, "attempt", attempt)
			if attempt < maxAttempts {
				f.sleep(lagSleep)
			}
			continue
		}

		switch {
		case err == nil:
			f.store(title, body, fetchlog.StatusResolved)
		case IsMissingTitle(err):
			f.store(title, body, fetchlog.StatusMissing)
		}

		return Result{Entry: entry, Err: err}
	}

	return Result{Err: &Error{Kind: KindLag, Lag: lastLag}}
}

// cached returns a disk-cached body, skipping entries the ledger says have
// aged out.
func (f *Fetcher) cached(title string) ([]byte, bool) {
	body, ok, err := readCache(f.cacheRoot, title)
	if err != nil {
		slog.Warn("cache read failed", "title", title, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	if f.ledger != nil {
		fresh, err := f.ledger.Fresh(title, f.now())
		if err != nil {
			slog.Warn("ledger lookup failed", "title", title, "error", err)
		} else if !fresh {
			slog.Debug("cache entry aged out", "title", title)
			return nil, false
		}
	}

	return body, true
}

// store writes the raw body to the disk cache and records the terminal
// outcome in the ledger. Failures here are logged, not fatal: the fetch
// itself succeeded.
func (f *Fetcher) store(title string, body []byte, status fetchlog.Status) {
	if err := writeCache(f.cacheRoot, title, body); err != nil {
		slog.Warn("cache write failed", "title", title, "error", err)
		return
	}
	if f.ledger != nil {
		if err := f.ledger.Record(title, status, f.now()); err != nil {
			slog.Warn("ledger record failed", "title", title, "error", err)
		}
	}
}

// fetch performs a single upstream GET and returns the raw body.
func (f *Fetcher) fetch(title string) ([]byte, error) {
	target := f.buildURL(title)

	if err := f.limiter.Wait(context.Background()); err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}

	p := &pendingFetch{}
	f.inflight = p
	defer func() { f.inflight = nil }()

	f.upstreamCalls.Add(1)
	visitErr := f.collector.Visit(target)

	switch {
	case p.status != 0 && (p.status < 200 || p.status > 299):
		return nil, &Error{Kind: KindHTTP, Status: p.status}
	case p.err != nil:
		return nil, &Error{Kind: KindTransport, Err: p.err}
	case p.status == 0:
		if visitErr != nil {
			return nil, &Error{Kind: KindTransport, Err: visitErr}
		}
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("no response for %q", target)}
	}

	return p.body, nil
}

func (f *Fetcher) buildURL(title string) string {
	params := url.Values{}
	params.Set("action", "parse")
	params.Set("format", "json")
	params.Set("page", title)
	params.Set("prop", "links")
	params.Set("maxlag", "5")
	return f.apiURL + "?" + params.Encode()
}
