package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrDenylistUnavailable = errors.New("token denylist unavailable")
)

// JTIDenylist records revoked token ids until their natural expiry.
type JTIDenylist struct {
	redis  redis.UniversalClient
	prefix string
}

func NewJTIDenylist(redisClient redis.UniversalClient, prefix string) *JTIDenylist {
	if prefix == "" {
		prefix = "cjd"
	}
	return &JTIDenylist{redis: redisClient, prefix: prefix}
}

func (d *JTIDenylist) key(jti string) string {
	return d.prefix + ":" + jti
}

// Revoke denylists jti for ttl with SET NX PX. It reports true only for
// the caller that added the entry; a jti that is already denylisted
// returns false. A non-positive ttl is a no-op reporting false: the token
// has already expired.
func (d *JTIDenylist) Revoke(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if jti == "" {
		return false, errors.New("empty jti")
	}
	if ttl <= 0 {
		return false, nil
	}
	// Redis PX granularity; never round a live token down to zero.
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	added, err := d.redis.SetNX(ctx, d.key(jti), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDenylistUnavailable, err)
	}
	return added, nil
}

// IsRevoked reports whether jti is currently denylisted.
func (d *JTIDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	n, err := d.redis.Exists(ctx, d.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDenylistUnavailable, err)
	}
	return n == 1, nil
}
