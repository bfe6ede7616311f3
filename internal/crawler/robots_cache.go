package crawler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// MemoryRobotsCache keeps robots.txt responses in process for ttl.
type MemoryRobotsCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryRobots
}

type memoryRobots struct {
	entry   RobotsEntry
	expires time.Time
}

// NewMemoryRobotsCache creates a MemoryRobotsCache.
func NewMemoryRobotsCache(ttl time.Duration) *MemoryRobotsCache {
	return &MemoryRobotsCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryRobots)}
}

// Get implements RobotsCache.
func (c *MemoryRobotsCache) Get(_ context.Context, origin string) (*RobotsEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[origin]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(m.expires) {
		delete(c.entries, origin)
		return nil, false, nil
	}
	e := m.entry
	return &e, true, nil
}

// Set implements RobotsCache.
func (c *MemoryRobotsCache) Set(_ context.Context, origin string, entry RobotsEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[origin] = memoryRobots{entry: entry, expires: c.now().Add(c.ttl)}
	return nil
}

const robotsKeyPrefix = "prospector:robots:"

// RedisRobotsCache shares robots.txt responses between worker processes.
// Values are stored as "<status>\n<body>".
type RedisRobotsCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisRobotsCache creates a RedisRobotsCache.
func NewRedisRobotsCache(client redis.UniversalClient, ttl time.Duration) *RedisRobotsCache {
	return &RedisRobotsCache{client: client, ttl: ttl}
}

// Get implements RobotsCache.
func (c *RedisRobotsCache) Get(ctx context.Context, origin string) (*RobotsEntry, bool, error) {
	raw, err := c.client.Get(ctx, robotsKeyPrefix+origin).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "crawler: redis get robots %s", origin)
	}
	entry, err := decodeRobots(raw)
	if err != nil {
		return nil, false, eris.Wrapf(err, "crawler: decode robots %s", origin)
	}
	return entry, true, nil
}

// Set implements RobotsCache.
func (c *RedisRobotsCache) Set(ctx context.Context, origin string, entry RobotsEntry) error {
	val := append([]byte(strconv.Itoa(entry.StatusCode)+"\n"), entry.Body...)
	return eris.Wrapf(c.client.Set(ctx, robotsKeyPrefix+origin, val, c.ttl).Err(),
		"crawler: redis set robots %s", origin)
}

func decodeRobots(raw []byte) (*RobotsEntry, error) {
	for i, b := range raw {
		if b != '\n' {
			continue
		}
		status, err := strconv.Atoi(string(raw[:i]))
		if err != nil {
			return nil, err
		}
		return &RobotsEntry{StatusCode: status, Body: raw[i+1:]}, nil
	}
	return nil, eris.New("missing status line")
}
