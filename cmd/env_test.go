package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/crawler"
	"github.com/sells-group/prospector/pkg/google/mocks"
)

func TestAppEnv_Close_Nil(t *testing.T) {
	env := &appEnv{}
	assert.NotPanics(t, func() { env.Close() })
}

func TestAppEnv_Close_ReverseOrder(t *testing.T) {
	var order []int
	env := &appEnv{closers: []func(){
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
	}}
	env.Close()
	env.Close()
	assert.Equal(t, []int{2, 1}, order)
}

func TestInitEnv_ValidatesFirst(t *testing.T) {
	_, err := initEnv(context.Background(), &config.Config{}, "discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestInitRobotsCache_Memory(t *testing.T) {
	c := &config.Config{}
	c.Crawl.RobotsCacheTTLMin = 5

	cache, closeFn, err := initRobotsCache(context.Background(), c)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &crawler.MemoryRobotsCache{}, cache)
}

func TestInitRobotsCache_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	c := &config.Config{}
	c.Redis.Addr = mr.Addr()
	c.Crawl.RobotsCacheTTLMin = 5

	cache, closeFn, err := initRobotsCache(context.Background(), c)
	require.NoError(t, err)
	defer closeFn()
	require.IsType(t, &crawler.RedisRobotsCache{}, cache)

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "https://acme.jp", crawler.RobotsEntry{StatusCode: 200, Body: []byte("User-agent: *\nDisallow: /private")}))
	got, ok, err := cache.Get(ctx, "https://acme.jp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 200, got.StatusCode)

	mr.FastForward(6 * time.Minute)
	_, ok, err = cache.Get(ctx, "https://acme.jp")
	require.NoError(t, err)
	assert.False(t, ok, "entries expire with the configured TTL")
}

func TestInitRobotsCache_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := &config.Config{}
	c.Redis.Addr = addr
	_, _, err := initRobotsCache(context.Background(), c)
	assert.Error(t, err)
}

func TestInitFetcher(t *testing.T) {
	c := &config.Config{}
	c.Crawl.Fetcher = "http"
	c.Crawl.NavTimeoutSecs = 5

	f, closeFn := initFetcher(c)
	defer closeFn()
	assert.Equal(t, "http", f.Name())

	c.Crawl.Fetcher = "browser"
	b, closeBrowser := initFetcher(c)
	// The browser process starts on first Open, so building it is cheap.
	defer closeBrowser()
	assert.Equal(t, "browser", b.Name())
}

func TestDiscoveryOptions(t *testing.T) {
	c := &config.Config{}
	assert.Empty(t, discoveryOptions(c, nil))

	c.Registry.BaseURL = "https://registry.example"
	c.Registry.CallsPerWindow = 10
	assert.Len(t, discoveryOptions(c, nil), 1)

	c.Discovery.DirectoryHosts = []string{"example-directory.jp"}
	assert.Len(t, discoveryOptions(c, mocks.NewMockClient(t)), 3)
}
