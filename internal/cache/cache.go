// Package cache stores rendered analytics responses per organization.
// Entries are namespaced by a per-org version; invalidating an org bumps
// the version so older entries are never read again and expire on their own.
// A result is stored under the version its lookup saw, so a response built
// while an invalidation ran lands under a dead key.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "analytics:"

// Lookup is the outcome of Get. Version is the org version observed before
// the entry was read and is what Set must be given.
type Lookup struct {
	Data    []byte
	Hit     bool
	Version int64
}

type Cache interface {
	Get(ctx context.Context, orgID int64, key string) (Lookup, error)
	Set(ctx context.Context, orgID, version int64, key string, value []byte) error
	Invalidate(ctx context.Context, orgID int64) error
}

// Noop never stores anything. It is used when REDIS_ADDR is empty.
type Noop struct{}

func (Noop) Get(context.Context, int64, string) (Lookup, error)       { return Lookup{}, nil }
func (Noop) Set(context.Context, int64, int64, string, []byte) error { return nil }
func (Noop) Invalidate(context.Context, int64) error                 { return nil }

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func versionKey(orgID int64) string {
	return keyPrefix + strconv.FormatInt(orgID, 10) + ":ver"
}

func entryKey(orgID, version int64, key string) string {
	return keyPrefix + strconv.FormatInt(orgID, 10) + ":v" + strconv.FormatInt(version, 10) + ":" + key
}

func (r *Redis) version(ctx context.Context, orgID int64) (int64, error) {
	v, err := r.client.Get(ctx, versionKey(orgID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (r *Redis) Get(ctx context.Context, orgID int64, key string) (Lookup, error) {
	v, err := r.version(ctx, orgID)
	if err != nil {
		return Lookup{}, err
	}
	data, err := r.client.Get(ctx, entryKey(orgID, v, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Lookup{Version: v}, nil
	}
	if err != nil {
		return Lookup{Version: v}, err
	}
	return Lookup{Data: data, Hit: true, Version: v}, nil
}

// Set stores value under version. When the org has moved past version the
// entry is unreachable and simply expires.
func (r *Redis) Set(ctx context.Context, orgID, version int64, key string, value []byte) error {
	return r.client.Set(ctx, entryKey(orgID, version, key), value, r.ttl).Err()
}

func (r *Redis) Invalidate(ctx context.Context, orgID int64) error {
	return r.client.Incr(ctx, versionKey(orgID)).Err()
}
