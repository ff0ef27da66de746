package urlutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTrailingSlash(t *testing.T) {
	t.Parallel()

	a, err := Normalize("https://x.com/about")
	require.NoError(t, err)
	b, err := Normalize("https://x.com/about/")
	require.NoError(t, err)
	require.Equal(t, a, b, "trailing slash must not change the dedup key")

	root, err := Normalize("https://x.com/")
	require.NoError(t, err)
	require.Equal(t, "https://x.com/", root, "root path keeps its slash")
}

func TestNormalizeFragments(t *testing.T) {
	t.Parallel()

	plain, err := Normalize("https://x.com/pricing#features")
	require.NoError(t, err)
	require.Equal(t, "https://x.com/pricing", plain)

	hashRoute, err := Normalize("https://x.com/app#/dashboard")
	require.NoError(t, err)
	require.Equal(t, "https://x.com/app#/dashboard", hashRoute,
		"hash-routing fragments are significant and must survive")
}

func TestNormalizeCaseAndScheme(t *testing.T) {
	t.Parallel()

	got, err := Normalize("HTTPS://Example.COM/About")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/About", got, "path case is preserved, host is not")

	defaulted, err := Normalize("example.com/about")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/about", defaulted)

	withPort, err := Normalize("example.com:8080/about")
	require.NoError(t, err)
	require.Equal(t, "https://example.com:8080/about", withPort)
}

func TestNormalizeRejectsHostless(t *testing.T) {
	t.Parallel()

	_, err := Normalize("/relative/only")
	require.Error(t, err)
}

func TestSameHost(t *testing.T) {
	t.Parallel()

	require.True(t, SameHost("https://www.example.com/a", "https://example.com/b"))
	require.True(t, SameHost("https://example.com", "https://EXAMPLE.com/x"))
	require.False(t, SameHost("https://example.com", "https://other.com"))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	got, err := Resolve("https://example.com/blog/post", "../pricing/")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/pricing", got)

	abs, err := Resolve("https://example.com/", "https://example.com/contact#top")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/contact", abs)
}
