package fetcher

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tedstreete/six-degrees/internal/digest"
	"github.com/tedstreete/six-degrees/internal/slab"
)

const successPage = `{
	"parse": {
		"title": "Value network",
		"pageid": 1614337,
		"links": [
			{"ns": 1, "exists": "", "*": "Talk:Value network"},
			{"ns": 0, "exists": "", "*": "Adolescent cliques"},
			{"ns": 0, "exists": "", "*": "Assortative mixing"},
			{"ns": 11, "exists": "", "*": "Template talk:Social networking"},
			{"ns": 12, "exists": "", "*": "Help:Maintenance template removal"}
		]
	}
}`

const maxLagPage = `{
	"error": {
		"code": "maxlag",
		"info": "Waiting for 10.64.48.58: 0.596932 seconds lagged.",
		"host": "10.64.48.58",
		"lag": 0.596,
		"type": "db",
		"*": "See https://www.mediawiki.org/w/api.php for API usage."
	},
	"servedby": "mw1359"
}`

const missingTitlePage = `{
	"error": {
		"code": "missingtitle",
		"info": "The page you specified doesn't exist.",
		"*": "See https://en.wikipedia.org/w/api.php for API usage."
	},
	"servedby": "mw1316"
}`

const failPage = `{
	"invalid": {
		"title": "Value network",
		"pageid": 1614337,
		"links": [{"ns": 0, "exists": "", "*": "Adolescent cliques"}]
	}
}`

func newTestFetcher(t *testing.T, domain string) *Fetcher {
	t.Helper()

	f := New(Config{
		Domain:    domain,
		UserAgent: "SixDegreesTest/1.0 test@example.org",
		CacheRoot: t.TempDir(),
		RateLimit: 10000,
	}, nil)
	f.sleep = func(time.Duration) {}
	return f
}

func TestParseSuccess(t *testing.T) {
	entry, err := Parse([]byte(successPage))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if entry.Title != "Value network" {
		t.Errorf("Title = %q, want Value network", entry.Title)
	}
	want := digest.Digest{
		0xa5, 0x2e, 0x8d, 0x38, 0x66, 0x2f, 0x0e, 0x94,
		0xba, 0x5a, 0x46, 0x5c, 0xb5, 0x0c, 0x60, 0x2e,
	}
	if entry.Digest != want {
		t.Errorf("Digest = %v, want %v", entry.Digest, want)
	}
	if len(entry.Outbound) != 2 {
		t.Fatalf("Outbound = %v, want 2 ns==0 links", entry.Outbound)
	}
	if entry.Outbound[0] != "Adolescent cliques" || entry.Outbound[1] != "Assortative mixing" {
		t.Errorf("Outbound = %v", entry.Outbound)
	}
	if entry.Status != slab.Resolved {
		t.Errorf("Status = %v, want Resolved", entry.Status)
	}
}

func TestParseMaxLag(t *testing.T) {
	_, err := Parse([]byte(maxLagPage))

	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindLag {
		t.Fatalf("Parse = %v, want KindLag", err)
	}
	if fe.Lag != 0.596 {
		t.Errorf("Lag = %v, want 0.596", fe.Lag)
	}
}

func TestParseMissingTitle(t *testing.T) {
	_, err := Parse([]byte(missingTitlePage))

	if !IsMissingTitle(err) {
		t.Fatalf("Parse = %v, want KindMissingTitle", err)
	}
}

func TestParseUnknownPayload(t *testing.T) {
	for _, body := range []string{failPage, "not json at all", "{}"} {
		_, err := Parse([]byte(body))

		var fe *Error
		if !errors.As(err, &fe) || fe.Kind != KindParse {
			t.Errorf("Parse(%.20q) = %v, want KindParse", body, err)
			continue
		}
		if fe.Body != body {
			t.Errorf("parse error should preserve the raw body")
		}
	}
}

func TestGetSuccess(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/w/api.php" {
			t.Errorf("path = %q, want /w/api.php", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("action") != "parse" || q.Get("format") != "json" ||
			q.Get("prop") != "links" || q.Get("maxlag") != "5" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		if q.Get("page") != "Value network" {
			t.Errorf("page = %q, want Value network", q.Get("page"))
		}
		w.Write([]byte(successPage))
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL)
	res := f.get("Value network")
	if res.Err != nil {
		t.Fatalf("get: %v", res.Err)
	}
	if res.Entry.Title != "Value network" || len(res.Entry.Outbound) != 2 {
		t.Errorf("entry = %+v", res.Entry)
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hits = %d, want 1", hits.Load())
	}
}

func TestGetMaxLagExhaustsBudget(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(maxLagPage))
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL)
	res := f.get("Value network")

	var fe *Error
	if !errors.As(res.Err, &fe) || fe.Kind != KindLag {
		t.Fatalf("get = %v, want KindLag", res.Err)
	}
	if n := hits.Load(); n < 4 || n > 5 {
		t.Errorf("upstream attempts = %d, want initial plus up to 4 retries", n)
	}
}

func TestGetMaxLagThenSuccess(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.Write([]byte(maxLagPage))
			return
		}
		w.Write([]byte(successPage))
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL)
	res := f.get("Value network")
	if res.Err != nil {
		t.Fatalf("get after lag clears: %v", res.Err)
	}
	if hits.Load() != 3 {
		t.Errorf("upstream attempts = %d, want 3", hits.Load())
	}
}

func TestGetMissingTitle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(missingTitlePage))
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL)
	res := f.get("No such page anywhere")
	if !IsMissingTitle(res.Err) {
		t.Fatalf("get = %v, want KindMissingTitle", res.Err)
	}
}

func TestGetHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL)
	res := f.get("Value network")

	var fe *Error
	if !errors.As(res.Err, &fe) || fe.Kind != KindHTTP {
		t.Fatalf("get = %v, want KindHTTP", res.Err)
	}
	if fe.Status != http.StatusTeapot {
		t.Errorf("Status = %d, want 418", fe.Status)
	}
}

func TestGetServesSecondCallFromCache(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(successPage))
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL)

	first := f.get("Value network")
	if first.Err != nil {
		t.Fatalf("first get: %v", first.Err)
	}
	second := f.get("Value network")
	if second.Err != nil {
		t.Fatalf("second get: %v", second.Err)
	}

	if hits.Load() != 1 {
		t.Errorf("upstream hits = %d, want 1 (second get from cache)", hits.Load())
	}
	if second.Entry.Title != first.Entry.Title {
		t.Error("cached entry should parse identically")
	}

	calls, cacheHits := f.Stats()
	if calls != 1 || cacheHits != 1 {
		t.Errorf("Stats = %d calls / %d hits, want 1/1", calls, cacheHits)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	root := t.TempDir()

	if err := writeCache(root, "Value network", []byte(successPage)); err != nil {
		t.Fatalf("writeCache: %v", err)
	}

	body, ok, err := readCache(root, "Value network")
	if err != nil {
		t.Fatalf("readCache: %v", err)
	}
	if !ok {
		t.Fatal("cached body should be found")
	}

	want, err := Parse([]byte(successPage))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Parse(body)
	if err != nil {
		t.Fatalf("parsing round-tripped body: %v", err)
	}
	if got.Title != want.Title || got.Digest != want.Digest ||
		len(got.Outbound) != len(want.Outbound) {
		t.Errorf("round-tripped entry = %+v, want %+v", got, want)
	}
}

func TestCacheLayout(t *testing.T) {
	root := t.TempDir()
	if err := writeCache(root, "Value network", []byte(successPage)); err != nil {
		t.Fatal(err)
	}

	// digest("Value network") = a5 2e 8d ...: directories are d[2]/d[1]/d[0].
	if _, err := os.Stat(digest.CachePath(root, "Value network")); err != nil {
		t.Fatalf("cache file not at digest path: %v", err)
	}

	_, ok, err := readCache(root, "Some other title")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("readCache should miss for an uncached title")
	}
}

func TestBuildURL(t *testing.T) {
	f := newTestFetcher(t, "https://en.wikipedia.org/")

	raw := f.buildURL("Schrödinger's cat")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("buildURL produced unparsable URL %q: %v", raw, err)
	}
	if u.Path != "/w/api.php" {
		t.Errorf("path = %q", u.Path)
	}
	if got := u.Query().Get("page"); got != "Schrödinger's cat" {
		t.Errorf("page param round-trip = %q", got)
	}
}
