// Package devicelock leases a device to one runner process at a time using
// a Redis key per device serial.
package devicelock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
)

// DefaultPrefix namespaces device lease keys.
const DefaultPrefix = "pixelmon:device:"

var (
	// ErrLocked is returned when another process holds the device for the
	// whole wait.
	ErrLocked = errors.New("device is leased by another runner")

	// ErrNotHeld is returned when a lease expired or was taken over.
	ErrNotHeld = errors.New("device lease is no longer held")
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// refreshScript extends the key's TTL only if it still holds our token.
var refreshScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Locker acquires device leases.
type Locker struct {
	client   backend.UniversalClient
	prefix   string
	interval time.Duration // acquire poll interval
}

// New creates a Locker. An empty prefix means DefaultPrefix.
func New(client backend.UniversalClient, prefix string) *Locker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Locker{
		client:   client,
		prefix:   prefix,
		interval: 500 * time.Millisecond,
	}
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*backend.Client, error) {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return client, nil
}

// Key returns the Redis key for a device serial.
func (l *Locker) Key(serial string) string {
	return l.prefix + serial
}

// Acquire leases the device, polling until wait elapses. The lease expires
// after ttl unless refreshed.
func (l *Locker) Acquire(ctx context.Context, serial string, ttl, wait time.Duration) (*Lease, error) {
	lease := &Lease{
		client: l.client,
		key:    l.Key(serial),
		token:  uuid.NewString(),
		ttl:    ttl,
	}

	tries := uint64(wait / l.interval)
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(l.interval), tries), ctx)

	err := backoff.Retry(func() error {
		ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("redis error acquiring lease: %w", err))
		}
		if !ok {
			return ErrLocked
		}
		return nil
	}, b)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrLocked) {
			holder, _ := l.client.Get(ctx, lease.key).Result()
			return nil, fmt.Errorf("%w: %s held by %s", ErrLocked, serial, holder)
		}
		return nil, err
	}

	logger.Info("leased device %s (%s, ttl %s)", serial, lease.token, ttl)
	return lease, nil
}

// Holder returns the token of the current lease on serial, or "" if free.
func (l *Locker) Holder(ctx context.Context, serial string) (string, error) {
	token, err := l.client.Get(ctx, l.Key(serial)).Result()
	if errors.Is(err, backend.Nil) {
		return "", nil
	}
	return token, err
}

// Lease is a held device lease.
type Lease struct {
	client backend.UniversalClient
	key    string
	token  string
	ttl    time.Duration
}

// Token returns the value identifying this lease.
func (l *Lease) Token() string { return l.token }

// Key returns the Redis key of the lease.
func (l *Lease) Key() string { return l.key }

// Refresh extends the lease by its TTL.
func (l *Lease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lease: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// KeepAlive refreshes the lease every ttl/3 until ctx is done.
func (l *Lease) KeepAlive(ctx context.Context) {
	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Refresh(ctx); err != nil {
					if ctx.Err() == nil {
						logger.Warn("device lease %s: %v", l.key, err)
					}
					return
				}
			}
		}
	}()
}

// Release deletes the lease if it is still ours. Releasing twice is safe
// and returns ErrNotHeld the second time.
func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	logger.Info("released device lease %s", l.key)
	return nil
}
