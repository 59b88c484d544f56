package lease

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SentinelScheme marks a discovery-mode lease URL. The target is a
// ";"-separated list of sentinel nodes, e.g.
// "sentinel://s1:26379;sentinel://s2:26379", and RedisConfig.MasterName must
// name the logical primary to resolve.
const SentinelScheme = "sentinel://"

// renewScript extends the lease TTL only while token is still the owner.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

// releaseScript deletes the lease only while token is still the owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// RedisConfig holds connection settings for the Redis lock backend.
type RedisConfig struct {
	// URL is the connection target: a redis:// URL for direct mode or a
	// sentinel:// node list for discovery mode.
	URL string

	// MasterName is the logical primary to resolve in discovery mode.
	// Required when URL uses the sentinel scheme.
	MasterName string

	// Password authenticates against the resolved Redis server.
	Password string

	// SentinelPassword authenticates against the sentinel nodes themselves.
	SentinelPassword string

	// DB selects the Redis database in discovery mode. Direct mode takes
	// the database from the URL path.
	DB int
}

// RedisBackend implements Backend against Redis or a Sentinel-managed
// primary. The connection is resolved lazily on first use and memoized.
type RedisBackend struct {
	cfg RedisConfig

	mu     sync.Mutex
	client redis.UniversalClient
}

// Ensure RedisBackend implements Backend.
var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend validates cfg and returns an unconnected backend.
// Configuration problems, including a sentinel URL without a master name,
// fail here, before any network I/O.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("lease URL is required")
	}
	if strings.HasPrefix(cfg.URL, SentinelScheme) {
		if cfg.MasterName == "" {
			return nil, fmt.Errorf("master name is required for sentinel lease URLs")
		}
		if _, err := parseSentinelAddrs(cfg.URL); err != nil {
			return nil, err
		}
	} else {
		if _, err := redis.ParseURL(cfg.URL); err != nil {
			return nil, fmt.Errorf("invalid lease URL: %w", err)
		}
	}
	return &RedisBackend{cfg: cfg}, nil
}

// NewRedisBackendWithClient creates a backend with an existing client (for testing).
func NewRedisBackendWithClient(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// resolve returns the memoized client, connecting on first use.
func (b *RedisBackend) resolve() (redis.UniversalClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return b.client, nil
	}

	if strings.HasPrefix(b.cfg.URL, SentinelScheme) {
		addrs, err := parseSentinelAddrs(b.cfg.URL)
		if err != nil {
			return nil, err
		}
		b.client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       b.cfg.MasterName,
			SentinelAddrs:    addrs,
			SentinelPassword: b.cfg.SentinelPassword,
			Password:         b.cfg.Password,
			DB:               b.cfg.DB,
		})
		return b.client, nil
	}

	opts, err := redis.ParseURL(b.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid lease URL: %w", err)
	}
	if b.cfg.Password != "" {
		opts.Password = b.cfg.Password
	}
	b.client = redis.NewClient(opts)
	return b.client, nil
}

// Acquire performs a set-if-absent with millisecond expiry.
func (b *RedisBackend) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	client, err := b.resolve()
	if err != nil {
		return false, err
	}
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease acquire: %w", err)
	}
	return ok, nil
}

// Renew extends the TTL if token still owns the lease.
func (b *RedisBackend) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	client, err := b.resolve()
	if err != nil {
		return false, err
	}
	res, err := renewScript.Run(ctx, client, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lease renew: %w", err)
	}
	return res == 1, nil
}

// Release deletes the lease if token still owns it, else no-op.
func (b *RedisBackend) Release(ctx context.Context, key, token string) error {
	client, err := b.resolve()
	if err != nil {
		return err
	}
	_, err = releaseScript.Run(ctx, client, []string{key}, token).Result()
	if err == redis.Nil {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

// Ping checks connectivity to the resolved backend.
func (b *RedisBackend) Ping(ctx context.Context) error {
	client, err := b.resolve()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

// Close closes the memoized connection if one was resolved.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

// parseSentinelAddrs splits a ";"-separated sentinel URL list into host:port addrs.
func parseSentinelAddrs(target string) ([]string, error) {
	var addrs []string
	for _, raw := range strings.Split(target, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid sentinel URL %q: %w", raw, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("sentinel URL %q has no host", raw)
		}
		addrs = append(addrs, u.Host)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no sentinel addresses in %q", target)
	}
	return addrs, nil
}
