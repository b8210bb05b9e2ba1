package quota

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps quota counters in Redis. The capped increment runs as a
// single Lua script so concurrent workers cannot interleave a GET → check →
// INCR sequence and jointly overshoot a ceiling.
type RedisStore struct {
	redis *redis.Client

	incrementScript *redis.Script
	releaseScript   *redis.Script
}

// Grants as much of the request as fits under both ceilings, then increments
// both counters by that amount. TTLs are set when a counter is created.
const incrementCappedLuaScript = `
local dayKey = KEYS[1]
local windowKey = KEYS[2]
local want = tonumber(ARGV[1])
local dayLimit = tonumber(ARGV[2])
local windowLimit = tonumber(ARGV[3])
local dayTTL = tonumber(ARGV[4])
local windowTTL = tonumber(ARGV[5])

local day = tonumber(redis.call("GET", dayKey) or "0")
local win = tonumber(redis.call("GET", windowKey) or "0")

local grant = want
if dayLimit - day < grant then
    grant = dayLimit - day
end
if windowLimit - win < grant then
    grant = windowLimit - win
end
if grant <= 0 then
    return {0, day, win}
end

local newDay = redis.call("INCRBY", dayKey, grant)
if newDay == grant then
    redis.call("PEXPIRE", dayKey, dayTTL)
end

local newWin = redis.call("INCRBY", windowKey, grant)
if newWin == grant then
    redis.call("PEXPIRE", windowKey, windowTTL)
end

return {grant, newDay, newWin}
`

// Decrements both counters, never below zero.
const releaseLuaScript = `
local n = tonumber(ARGV[1])
for i = 1, 2 do
    local cur = tonumber(redis.call("GET", KEYS[i]) or "0")
    local dec = n
    if dec > cur then
        dec = cur
    end
    if dec > 0 then
        redis.call("DECRBY", KEYS[i], dec)
    end
end
return 1
`

// NewRedisStore creates a counter store with pre-compiled Lua scripts.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		redis:           client,
		incrementScript: redis.NewScript(incrementCappedLuaScript),
		releaseScript:   redis.NewScript(releaseLuaScript),
	}
}

// Get reads both counters. Missing keys count as zero.
func (s *RedisStore) Get(ctx context.Context, k Keys) (Counts, error) {
	vals, err := s.redis.MGet(ctx, k.Day, k.Window).Result()
	if err != nil {
		return Counts{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Counts{Day: parseCount(vals[0]), Window: parseCount(vals[1])}, nil
}

// IncrementCapped atomically grants and records up to n sends.
func (s *RedisStore) IncrementCapped(ctx context.Context, k Keys, n int, lim Limits) (int, Counts, error) {
	res, err := s.incrementScript.Run(ctx, s.redis,
		[]string{k.Day, k.Window},
		n,
		lim.Daily,
		lim.Window,
		k.DayTTL.Milliseconds(),
		k.WindowTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, Counts{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 3 {
		return 0, Counts{}, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}
	return int(res[0]), Counts{Day: int(res[1]), Window: int(res[2])}, nil
}

// Decrement rolls back n recorded sends.
func (s *RedisStore) Decrement(ctx context.Context, k Keys, n int) error {
	if err := s.releaseScript.Run(ctx, s.redis, []string{k.Day, k.Window}, n).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func parseCount(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int
	fmt.Sscanf(s, "%d", &n)
	return n
}
