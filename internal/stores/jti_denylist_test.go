package stores

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestDenylistRevokeAndExpire(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewJTIDenylist(rdb, "")
	ctx := context.Background()

	added, err := d.Revoke(ctx, "jti-1", time.Minute)
	if err != nil || !added {
		t.Fatalf("Revoke: added=%v err=%v", added, err)
	}
	revoked, err := d.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v %v", revoked, err)
	}
	if ttl := mr.TTL("cjd:jti-1"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	revoked, err = d.IsRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected entry to lapse, got %v %v", revoked, err)
	}
}

func TestDenylistSkipsExpiredTokens(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewJTIDenylist(rdb, "x")

	if added, err := d.Revoke(context.Background(), "jti-2", -time.Second); err != nil || added {
		t.Fatalf("Revoke: added=%v err=%v", added, err)
	}
	if mr.Exists("x:jti-2") {
		t.Fatal("expected no entry for already expired token")
	}
	if _, err := d.Revoke(context.Background(), "", time.Minute); err == nil {
		t.Fatal("expected empty jti error")
	}
}

func TestDenylistUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewJTIDenylist(rdb, "")
	mr.Close()

	if _, err := d.IsRevoked(context.Background(), "jti"); !errors.Is(err, ErrDenylistUnavailable) {
		t.Fatalf("expected ErrDenylistUnavailable, got %v", err)
	}
}

func TestDenylistRevokeIsSingleWinner(t *testing.T) {
	_, rdb := newTestRedis(t)
	d := NewJTIDenylist(rdb, "")
	ctx := context.Background()

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := d.Revoke(ctx, "jti-race", time.Minute)
			if err != nil {
				t.Errorf("Revoke: %v", err)
				return
			}
			if added {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one Revoke to add the jti, got %d", got)
	}
	if added, err := d.Revoke(ctx, "jti-race", time.Minute); err != nil || added {
		t.Fatalf("expected repeat Revoke to report existing entry, got added=%v err=%v", added, err)
	}
}
