package fetch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<!doctype html>
<html>
<head>
  <title>Acme Dental — Book an Appointment</title>
  <meta name="description" content="Family dentistry in Springfield">
  <meta property="og:type" content="website">
  <script src="https://www.googletagmanager.com/gtag/js?id=G-XYZ"></script>
</head>
<body class="wp-content-theme">
  <h1>Welcome to Acme Dental</h1>
  <h2>Our Services</h2>
  <p>We provide gentle, affordable dental care for the whole family.</p>
  <form action="/contact"><input type="text" name="name"></form>
  <a href="/about/">About</a>
  <a href="/about#team">About team</a>
  <a href="https://other-site.example/partner">Partner</a>
  <a href="tel:+15551234567">Call us</a>
  <a href="mailto:info@acme.example">Email</a>
  <a class="btn" href="/book">Book now</a>
  <iframe src="https://www.youtube.com/embed/abc123"></iframe>
</body>
</html>`

func TestExtractSignals(t *testing.T) {
	t.Parallel()

	result, err := extract("https://acme.example/", 200, []byte(samplePage))
	require.NoError(t, err)

	require.Equal(t, "Acme Dental — Book an Appointment", result.Title)
	require.Equal(t, []string{"Welcome to Acme Dental", "Our Services"}, result.Headings)
	require.Equal(t, "Family dentistry in Springfield", result.MetaTags["description"])

	require.True(t, result.Signals.HasForm)
	require.True(t, result.Signals.HasCTA)
	require.True(t, result.Signals.HasVideo)
	require.True(t, result.Signals.HasPhoneLink)
	require.True(t, result.Signals.HasEmailLink)
	require.False(t, result.AuthWallDetected)

	require.Contains(t, result.ContentSummary, "gentle, affordable dental care")
	require.Contains(t, result.Technologies, "wordpress")
	require.Contains(t, result.Analytics, "ga4")
}

func TestExtractLinksNormalizedAndDeduped(t *testing.T) {
	t.Parallel()

	result, err := extract("https://acme.example/", 200, []byte(samplePage))
	require.NoError(t, err)

	// /about/ and /about#team collapse to one normalized link; tel: and
	// mailto: anchors are never links.
	require.Contains(t, result.Links, "https://acme.example/about")
	require.Contains(t, result.Links, "https://other-site.example/partner")
	count := 0
	for _, l := range result.Links {
		if l == "https://acme.example/about" {
			count++
		}
	}
	require.Equal(t, 1, count)
	for _, l := range result.Links {
		require.NotContains(t, l, "tel:")
		require.NotContains(t, l, "mailto:")
	}
}

func TestDetectAuthWallByStatus(t *testing.T) {
	t.Parallel()

	result, err := extract("https://acme.example/account", 401, []byte("<html><body>Unauthorized</body></html>"))
	require.NoError(t, err)
	require.True(t, result.AuthWallDetected)
}

func TestDetectAuthWallByLoginForm(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>Member Login</title></head>
<body><form action="/login"><input type="password" name="pw"></form></body></html>`

	result, err := extract("https://acme.example/login", 200, []byte(page))
	require.NoError(t, err)
	require.True(t, result.AuthWallDetected)

	// A password field on a checkout page alone is not a wall.
	checkout := `<html><head><title>Checkout</title></head>
<body><p>Pay here</p><p>More</p><p>Even more</p><form><input type="password"></form></body></html>`
	result, err = extract("https://acme.example/checkout", 200, []byte(checkout))
	require.NoError(t, err)
	require.False(t, result.AuthWallDetected)
}

func TestShellDetector(t *testing.T) {
	t.Parallel()

	d := newShellDetector(2048)

	require.True(t, d.looksLikeShell(200, nil), "empty body must promote")
	require.False(t, d.looksLikeShell(404, nil))

	shell := []byte(`<html><body><div id="root"></div><script src="/bundle.js"></script></body></html>`)
	require.True(t, d.looksLikeShell(200, shell))

	rendered := []byte(`<html><body><div id="root"><p>a</p><p>b</p><h1>c</h1></div></body></html>`)
	require.False(t, d.looksLikeShell(200, rendered), "SPA markers with real text stay on the fast path")
}
