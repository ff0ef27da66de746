package seeder

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracklens/sitescanner/internal/scan"
)

func TestDiscoverViaRobotsSitemap(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nAllow: /\nSitemap: %s/sitemap-index.xml\n", srv.URL)
	})
	mux.HandleFunc("/sitemap-index.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/sitemap-pages.xml</loc></sitemap>
</sitemapindex>`, srv.URL)
	})
	mux.HandleFunc("/sitemap-pages.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/about/</loc></url>
  <url><loc>%s/pricing</loc></url>
  <url><loc>%s/about</loc></url>
  <url><loc>https://elsewhere.example/off-domain</loc></url>
</urlset>`, srv.URL, srv.URL, srv.URL)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	s := New(Config{}, nil)
	got := s.Discover(context.Background(), srv.URL)

	require.True(t, got.RobotsFound)
	require.True(t, got.SitemapFound)
	// /about/ and /about normalize to the same key; the off-domain URL
	// is dropped.
	require.Len(t, got.URLs, 2)
}

func TestDiscoverKeepsSchemeAndPort(t *testing.T) {
	t.Parallel()

	var gotHosts []string
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		gotHosts = append(gotHosts, r.Host)
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := New(Config{}, nil)
	got := s.Discover(context.Background(), srv.URL)

	// httptest serves plain http on an ephemeral port; the robots probe
	// must hit that exact origin, not an https rewrite of the host.
	require.True(t, got.RobotsFound)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	require.Equal(t, []string{u.Host}, gotHosts)
}

func TestDiscoverMissingEverything(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	s := New(Config{}, nil)
	got := s.Discover(context.Background(), srv.URL)
	require.False(t, got.RobotsFound)
	require.False(t, got.SitemapFound)
	require.Empty(t, got.URLs)
}

func TestDiscoverMalformedSitemap(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<urlset><url><loc>broken")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := New(Config{}, nil)
	got := s.Discover(context.Background(), srv.URL)
	require.Empty(t, got.URLs, "malformed sitemap degrades to empty, never errors")
}

func TestDiscoverHonorsCeiling(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><urlset>`)
		for i := 0; i < 50; i++ {
			fmt.Fprintf(w, "<url><loc>%s/page-%d</loc></url>", srv.URL, i)
		}
		fmt.Fprint(w, `</urlset>`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	s := New(Config{URLCeiling: 10}, nil)
	got := s.Discover(context.Background(), srv.URL)
	require.Len(t, got.URLs, 10)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := New(Config{}, nil)
	require.NoError(t, s.Probe(context.Background(), srv.URL), "an HTTP error still proves the site answers")

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	require.Error(t, s.Probe(context.Background(), dead.URL))
}

func TestSeedQueue(t *testing.T) {
	t.Parallel()

	queue := SeedQueue("https://example.com/", Result{
		URLs: []string{"https://example.com/a", "https://example.com/", "https://example.com/b"},
	}, 0)

	require.Equal(t, scan.QueuedURL{URL: "https://example.com/", Depth: 0, Source: scan.SourceHomepage}, queue[0])
	require.Len(t, queue, 3, "homepage listed in sitemap is not duplicated")
	require.Equal(t, scan.SourceSitemap, queue[1].Source)
	require.Equal(t, 1, queue[1].Depth)
}
