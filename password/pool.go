package password

import (
	"context"
	"errors"
	"runtime"
)

// ErrPoolTimeout is returned when no hashing slot frees up before the
// context is done.
var ErrPoolTimeout = errors.New("password hashing pool: timed out waiting for a worker")

// Pool bounds the number of concurrent hash and verify computations.
// Hashing is CPU bound; callers on request paths wait for a slot instead of
// starving the scheduler.
type Pool struct {
	hasher Hasher
	slots  chan struct{}
}

// NewPool wraps h with at most workers concurrent operations. A
// non-positive workers selects runtime.NumCPU().
func NewPool(h Hasher, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		hasher: h,
		slots:  make(chan struct{}, workers),
	}
}

// Hasher returns the wrapped hasher.
func (p *Pool) Hasher() Hasher {
	return p.hasher
}

// Hash hashes password on a pool slot.
func (p *Pool) Hash(ctx context.Context, password string) (string, error) {
	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	defer p.release()

	return p.hasher.Hash(password)
}

// Verify compares password against encodedHash on a pool slot.
func (p *Pool) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	if err := p.acquire(ctx); err != nil {
		return false, err
	}
	defer p.release()

	return p.hasher.Verify(password, encodedHash), nil
}

// CanUse runs the history reuse check on a single pool slot.
func (p *Pool) CanUse(ctx context.Context, candidate string, history []string) (bool, string, error) {
	if err := p.acquire(ctx); err != nil {
		return false, "", err
	}
	defer p.release()

	ok, reason := CanUse(p.hasher, candidate, history)
	return ok, reason, nil
}

// NeedsRehash does not take a slot; it only parses the hash.
func (p *Pool) NeedsRehash(encodedHash string) bool {
	return p.hasher.NeedsRehash(encodedHash)
}

func (p *Pool) acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrPoolTimeout
	}
}

func (p *Pool) release() {
	<-p.slots
}
