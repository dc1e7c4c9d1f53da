package cache

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	siteuri "github.com/always-cache/static-cache/pkg/site-uri"
	"github.com/always-cache/static-cache/pkg/sites"
)

var testSites = sites.Sites{
	{ID: 1, Name: "Main", Hostname: "example.com", BaseURL: "https://example.com"},
	{ID: 2, Name: "Blog", Hostname: "blog.example.com", BaseURL: "https://blog.example.com"},
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	logger := zerolog.Nop()
	store := NewFileStore(FileStoreConfig{
		Root:       "/var/cache/static",
		Filesystem: memfs.New(),
		Sites:      testSites,
		Logger:     &logger,
	})
	store.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return store
}

func TestPathFor(t *testing.T) {
	store := newTestStore(t)

	assert.Equal(t, "/var/cache/static/example.com/a/b/index.html", store.PathFor(siteuri.New(1, "a/b")))
	assert.Equal(t, "/var/cache/static/example.com/index.html", store.PathFor(siteuri.New(1, siteuri.HomeURI)))
	assert.Equal(t, store.PathFor(siteuri.SiteURI{SiteID: 1, URI: siteuri.HomeURI}), store.PathFor(siteuri.SiteURI{SiteID: 1, URI: ""}))
	assert.Equal(t, "", store.PathFor(siteuri.New(9, "a")))
}

func TestPathForWithoutRoot(t *testing.T) {
	logger := zerolog.Nop()
	store := NewFileStore(FileStoreConfig{Sites: testSites, Logger: &logger})

	assert.Equal(t, "", store.PathFor(siteuri.New(1, "a")))
	assert.Equal(t, Skipped, store.Write(siteuri.New(1, "a"), []byte("x")).Status)
}

func TestWriteAppendsMarker(t *testing.T) {
	store := newTestStore(t)

	res := store.Write(siteuri.New(1, "about"), []byte("<html>About</html>"))
	require.NoError(t, res.Err)
	assert.Equal(t, Written, res.Status)
	assert.Equal(t, "/var/cache/static/example.com/about/index.html", res.Path)

	b, ok, err := store.Read(siteuri.New(1, "about"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<html>About</html>\n<!-- Cached by static-cache 2024-05-01T12:00:00Z -->", string(b))
}

func TestWriteReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	siteURI := siteuri.New(2, siteuri.HomeURI)

	require.Equal(t, Written, store.Write(siteURI, []byte("first")).Status)
	require.Equal(t, Written, store.Write(siteURI, []byte("second")).Status)

	b, ok, err := store.Read(siteURI)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(b), "second\n"))

	entries, err := store.fs.ReadDir("blog.example.com")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestReadMissing(t *testing.T) {
	store := newTestStore(t)

	b, ok, err := store.Read(siteuri.New(1, "missing"))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, b)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	siteURI := siteuri.New(1, "a")
	store.Write(siteURI, []byte("x"))

	require.NoError(t, store.Delete(siteURI))
	_, ok, _ := store.Read(siteURI)
	assert.False(t, ok)

	assert.NoError(t, store.Delete(siteURI), "deleting a missing page is a no-op")
}

func TestPurgeRemovesOnlyOneSite(t *testing.T) {
	store := newTestStore(t)
	store.Write(siteuri.New(1, "a"), []byte("a"))
	store.Write(siteuri.New(1, "a/b"), []byte("b"))
	store.Write(siteuri.New(2, "c"), []byte("c"))

	require.NoError(t, store.Purge(1))

	_, ok, _ := store.Read(siteuri.New(1, "a"))
	assert.False(t, ok)
	_, ok, _ = store.Read(siteuri.New(1, "a/b"))
	assert.False(t, ok)
	_, ok, _ = store.Read(siteuri.New(2, "c"))
	assert.True(t, ok)
}

func TestPurgeAll(t *testing.T) {
	store := newTestStore(t)
	store.Write(siteuri.New(1, "a"), []byte("a"))
	store.Write(siteuri.New(2, "c"), []byte("c"))

	require.NoError(t, store.PurgeAll())

	_, err := store.fs.Stat("example.com")
	assert.True(t, os.IsNotExist(err))
	_, err = store.fs.Stat("blog.example.com")
	assert.True(t, os.IsNotExist(err))
}

func TestList(t *testing.T) {
	store := newTestStore(t)
	store.Write(siteuri.New(1, siteuri.HomeURI), []byte("home"))
	store.Write(siteuri.New(1, "a"), []byte("a"))
	store.Write(siteuri.New(1, "a/b"), []byte("b"))
	store.Write(siteuri.New(2, "c"), []byte("c"))

	uris, err := store.List(1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []siteuri.SiteURI{
		siteuri.New(1, siteuri.HomeURI),
		siteuri.New(1, "a"),
		siteuri.New(1, "a/b"),
	}, uris)

	uris, err = store.List(3)
	require.NoError(t, err)
	assert.Empty(t, uris)
}

func TestListEmptySite(t *testing.T) {
	store := newTestStore(t)

	uris, err := store.List(1)
	require.NoError(t, err)
	assert.Empty(t, uris)
}
