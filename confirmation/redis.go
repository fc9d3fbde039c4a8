package confirmation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout under prefix P (purpose rendered as its numeric value n):
//
//	P:t:<sha256 hex>      record, TTL = ttl + UsedRetention
//	P:s:<n>:<subject>     pending token hash for (purpose, subject)
//	P:p:<n>               sorted set of pending hashes scored by expiresAt ms
//
// The scripts derive index keys from the record, so the store expects a
// single Redis node (standalone or sentinel), not a cluster.

// createLua stores a record and replaces any pending token for the same
// (purpose, subject).
// KEYS[1] record, KEYS[2] subject index, KEYS[3] pending set
// ARGV[1] record bytes, ARGV[2] key ttl ms, ARGV[3] token hash,
// ARGV[4] expiresAt ms, ARGV[5] record key prefix
var createLua = redis.NewScript(`
local old = redis.call('GET', KEYS[2])
if old then
  redis.call('DEL', ARGV[5] .. old)
  redis.call('ZREM', KEYS[3], old)
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[3])
return 1
`)

// consumeLua checks and marks a record used in one step.
// KEYS[1] record
// ARGV[1] now ms, ARGV[2] expected purpose, ARGV[3] prefix, ARGV[4] token hash
//
// Returns the record bytes as they were before marking, or an error string:
// "not_found", "expired", "already_used", "purpose_mismatch".
var consumeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end
if string.byte(data, 1) ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local purpose = string.byte(data, 2)
local used = string.byte(data, 3)
local expiresAt = 0
for i = 12, 19 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end
local subLen = string.byte(data, 20) * 256 + string.byte(data, 21)
local subject = string.sub(data, 22, 21 + subLen)

local idxKey = ARGV[3] .. ':s:' .. purpose .. ':' .. subject
local pendingKey = ARGV[3] .. ':p:' .. purpose

local function spend()
  redis.call('SETRANGE', KEYS[1], 2, string.char(1))
  if redis.call('GET', idxKey) == ARGV[4] then
    redis.call('DEL', idxKey)
  end
  redis.call('ZREM', pendingKey, ARGV[4])
end

if tonumber(ARGV[1]) >= expiresAt then
  if used == 0 then
    spend()
  end
  return {err='expired'}
end
if used ~= 0 then
  return {err='already_used'}
end
if purpose ~= tonumber(ARGV[2]) then
  return {err='purpose_mismatch'}
end

spend()
return data
`)

// cancelLua drops the pending token for (purpose, subject).
// KEYS[1] subject index, KEYS[2] pending set
// ARGV[1] record key prefix
var cancelLua = redis.NewScript(`
local h = redis.call('GET', KEYS[1])
if not h then
  return 0
end
redis.call('DEL', ARGV[1] .. h)
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], h)
return 1
`)

// sweepLua removes up to ARGV[4] expired, unused records of one purpose.
// KEYS[1] pending set
// ARGV[1] now ms, ARGV[2] prefix, ARGV[3] purpose, ARGV[4] batch size
var sweepLua = redis.NewScript(`
local hashes = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[4]))
for _, h in ipairs(hashes) do
  local rk = ARGV[2] .. ':t:' .. h
  local data = redis.call('GET', rk)
  if data and string.byte(data, 3) == 0 then
    local subLen = string.byte(data, 20) * 256 + string.byte(data, 21)
    local idxKey = ARGV[2] .. ':s:' .. ARGV[3] .. ':' .. string.sub(data, 22, 21 + subLen)
    if redis.call('GET', idxKey) == h then
      redis.call('DEL', idxKey)
    end
    redis.call('DEL', rk)
  end
  redis.call('ZREM', KEYS[1], h)
end
return #hashes
`)

const sweepBatch = 500

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Prefix        string
	UsedRetention time.Duration
	Now           func() time.Time
}

// RedisStore is a Store backed by Redis key expiry and Lua scripts.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore returns a RedisStore. An empty prefix selects "ccf".
func NewRedisStore(redisClient redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = "ccf"
	}
	if opts.UsedRetention <= 0 {
		opts.UsedRetention = DefaultUsedRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RedisStore{
		redis:     redisClient,
		prefix:    opts.Prefix,
		retention: opts.UsedRetention,
		now:       opts.Now,
	}
}

func (s *RedisStore) recordKey(hash string) string {
	return s.prefix + ":t:" + hash
}

func (s *RedisStore) indexKey(purpose Purpose, subjectID string) string {
	return s.prefix + ":s:" + strconv.Itoa(int(purpose)) + ":" + subjectID
}

func (s *RedisStore) pendingKey(purpose Purpose) string {
	return s.prefix + ":p:" + strconv.Itoa(int(purpose))
}

// Create issues a new token. A non-positive ttl yields a token that is
// already expired.
func (s *RedisStore) Create(ctx context.Context, purpose Purpose, subjectID string, payload map[string]string, ttl time.Duration) (string, error) {
	if err := validateCreate(purpose, subjectID); err != nil {
		return "", err
	}
	if ttl < 0 {
		ttl = 0
	}

	token, hash, err := newToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	rec := &record{
		Purpose:   purpose,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
		SubjectID: subjectID,
		Payload:   copyPayload(payload),
	}
	encoded, err := encodeRecord(rec)
	if err != nil {
		return "", err
	}

	// Key TTL always exceeds the logical ttl so a ttl of zero never means
	// "no expiry" to Redis and expired tokens stay observable.
	keyTTL := ttl + s.retention

	err = createLua.Run(ctx, s.redis,
		[]string{s.recordKey(hash), s.indexKey(purpose, subjectID), s.pendingKey(purpose)},
		encoded,
		keyTTL.Milliseconds(),
		hash,
		rec.ExpiresAt,
		s.prefix+":t:",
	).Err()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return token, nil
}

// Consume redeems token for purpose.
func (s *RedisStore) Consume(ctx context.Context, token string, purpose Purpose) (Result, error) {
	if !wellFormed(token) {
		return Result{Status: StatusNotFound}, nil
	}
	hash := hashToken(token)

	res, err := consumeLua.Run(ctx, s.redis,
		[]string{s.recordKey(hash)},
		s.now().UnixMilli(),
		int(purpose),
		s.prefix,
		hash,
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return Result{Status: StatusNotFound}, nil
		case "expired":
			return Result{Status: StatusExpired}, nil
		case "already_used":
			return Result{Status: StatusAlreadyUsed}, nil
		case "purpose_mismatch":
			return Result{Status: StatusPurposeMismatch}, nil
		default:
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	data, ok := res.(string)
	if !ok {
		return Result{}, fmt.Errorf("%w: unexpected lua result type", ErrUnavailable)
	}
	rec, err := decodeRecord([]byte(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return rec.result(StatusOK), nil
}

// Cancel removes the pending token for (purpose, subjectID), if any.
func (s *RedisStore) Cancel(ctx context.Context, purpose Purpose, subjectID string) (bool, error) {
	if err := validateCreate(purpose, subjectID); err != nil {
		return false, err
	}

	n, err := cancelLua.Run(ctx, s.redis,
		[]string{s.indexKey(purpose, subjectID), s.pendingKey(purpose)},
		s.prefix+":t:",
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// Pending counts unexpired, unused tokens for purpose.
func (s *RedisStore) Pending(ctx context.Context, purpose Purpose) (int, error) {
	if !purpose.valid() {
		return 0, ErrInvalidPurpose
	}

	n, err := s.redis.ZCount(ctx, s.pendingKey(purpose), "("+strconv.FormatInt(s.now().UnixMilli(), 10), "+inf").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// Sweep deletes expired, unused records for every purpose and returns how
// many were removed.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for _, purpose := range Purposes {
		for {
			n, err := sweepLua.Run(ctx, s.redis,
				[]string{s.pendingKey(purpose)},
				now.UnixMilli(),
				s.prefix,
				int(purpose),
				sweepBatch,
			).Int()
			if err != nil {
				return total, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			total += n
			if n < sweepBatch {
				break
			}
			if err := ctx.Err(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}
