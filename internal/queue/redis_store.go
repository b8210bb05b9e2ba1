package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis lists, sorted sets and strings.
type RedisStore struct {
	redis     *redis.Client
	prefix    string
	jobTTL    time.Duration
	pollEvery time.Duration
	now       func() time.Time

	popScript      *redis.Script
	scheduleScript *redis.Script
	recoverScript  *redis.Script
}

// Moves due delayed ids to ready, pops one id and leases it under the
// caller's token.
const popLuaScript = `
local ready = KEYS[1]
local delayed = KEYS[2]
local processing = KEYS[3]
local waiting = KEYS[4]
local now = tonumber(ARGV[1])
local token = ARGV[2]

local due = redis.call("ZRANGEBYSCORE", delayed, "-inf", now)
for _, id in ipairs(due) do
    redis.call("ZREM", delayed, id)
    if redis.call("SADD", waiting, id) == 1 then
        redis.call("RPUSH", ready, id)
    end
end

local id = redis.call("LPOP", ready)
if not id then
    return false
end
redis.call("SREM", waiting, id)
redis.call("ZADD", processing, now, id .. "|" .. token)
return id
`

// Drops an optional lease, then puts the id on ready (due 0) or delayed.
// An id already waiting on ready is left where it is.
const scheduleLuaScript = `
local ready = KEYS[1]
local delayed = KEYS[2]
local processing = KEYS[3]
local waiting = KEYS[4]
local id = ARGV[1]
local due = tonumber(ARGV[2])
local lease = ARGV[3]

if lease ~= "" then
    redis.call("ZREM", processing, lease)
end
if redis.call("SISMEMBER", waiting, id) == 1 then
    return 0
end
if due <= 0 then
    redis.call("ZREM", delayed, id)
    redis.call("SADD", waiting, id)
    redis.call("RPUSH", ready, id)
else
    redis.call("ZADD", delayed, due, id)
end
return 1
`

// Returns every lease older than the cutoff to the ready list.
const recoverLuaScript = `
local processing = KEYS[1]
local ready = KEYS[2]
local delayed = KEYS[3]
local waiting = KEYS[4]
local cutoff = tonumber(ARGV[1])

local stale = redis.call("ZRANGEBYSCORE", processing, "-inf", cutoff)
for _, member in ipairs(stale) do
    redis.call("ZREM", processing, member)
    local id = string.match(member, "^(.*)|[^|]*$")
    if id then
        redis.call("ZREM", delayed, id)
        if redis.call("SADD", waiting, id) == 1 then
            redis.call("RPUSH", ready, id)
        end
    end
end
return #stale
`

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix namespaces every key.
func WithPrefix(p string) RedisOption { return func(s *RedisStore) { s.prefix = p } }

// WithJobTTL sets how long job snapshots and recipient lists are kept.
func WithJobTTL(d time.Duration) RedisOption { return func(s *RedisStore) { s.jobTTL = d } }

// WithPollInterval sets how often Dequeue retries an empty queue.
func WithPollInterval(d time.Duration) RedisOption { return func(s *RedisStore) { s.pollEvery = d } }

// NewRedisStore creates a queue store on client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		redis:          client,
		prefix:         "fanmail",
		jobTTL:         30 * 24 * time.Hour,
		pollEvery:      200 * time.Millisecond,
		now:            time.Now,
		popScript:      redis.NewScript(popLuaScript),
		scheduleScript: redis.NewScript(scheduleLuaScript),
		recoverScript:  redis.NewScript(recoverLuaScript),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) jobKey(id string) string        { return fmt.Sprintf("%s:job:%s", s.prefix, id) }
func (s *RedisStore) recipientsKey(id string) string { return fmt.Sprintf("%s:job:%s:recipients", s.prefix, id) }
func (s *RedisStore) failedKey(id string) string     { return fmt.Sprintf("%s:job:%s:failed", s.prefix, id) }
func (s *RedisStore) readyKey() string               { return s.prefix + ":queue:ready" }
func (s *RedisStore) delayedKey() string             { return s.prefix + ":queue:delayed" }
func (s *RedisStore) processingKey() string          { return s.prefix + ":queue:processing" }
func (s *RedisStore) waitingKey() string             { return s.prefix + ":queue:waiting" }

func (s *RedisStore) queueKeys() []string {
	return []string{s.readyKey(), s.delayedKey(), s.processingKey(), s.waitingKey()}
}

func leaseMember(l Lease) string { return l.JobID + "|" + l.Token }

func (s *RedisStore) SaveJob(ctx context.Context, job *domain.SendJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.redis.Set(ctx, s.jobKey(job.ID), data, s.jobTTL).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) GetJob(ctx context.Context, id string) (*domain.SendJob, error) {
	data, err := s.redis.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job domain.SendJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *RedisStore) DeleteJob(ctx context.Context, id string) error {
	leased, err := s.redis.ZRange(ctx, s.processingKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.jobKey(id), s.recipientsKey(id), s.failedKey(id))
	pipe.LRem(ctx, s.readyKey(), 0, id)
	pipe.SRem(ctx, s.waitingKey(), id)
	pipe.ZRem(ctx, s.delayedKey(), id)
	for _, m := range leased {
		if strings.HasPrefix(m, id+"|") {
			pipe.ZRem(ctx, s.processingKey(), m)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) pushRecipients(ctx context.Context, key string, recipients []domain.Recipient) error {
	if len(recipients) == 0 {
		return nil
	}
	vals := make([]interface{}, 0, len(recipients))
	for _, r := range recipients {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		vals = append(vals, b)
	}
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, vals...)
	pipe.Expire(ctx, key, s.jobTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func decodeRecipients(raw []string) ([]domain.Recipient, error) {
	out := make([]domain.Recipient, 0, len(raw))
	for _, v := range raw {
		var r domain.Recipient
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("decode recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) SaveRecipients(ctx context.Context, jobID string, recipients []domain.Recipient) error {
	key := s.recipientsKey(jobID)
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset recipients %s: %w", jobID, err)
	}
	if err := s.pushRecipients(ctx, key, recipients); err != nil {
		return fmt.Errorf("save recipients %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) LoadRecipients(ctx context.Context, jobID string, offset, limit int) ([]domain.Recipient, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.redis.LRange(ctx, s.recipientsKey(jobID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("load recipients %s: %w", jobID, err)
	}
	return decodeRecipients(raw)
}

func (s *RedisStore) AppendFailed(ctx context.Context, jobID string, recipients []domain.Recipient) error {
	if err := s.pushRecipients(ctx, s.failedKey(jobID), recipients); err != nil {
		return fmt.Errorf("append failed recipients %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) LoadFailed(ctx context.Context, jobID string) ([]domain.Recipient, error) {
	raw, err := s.redis.LRange(ctx, s.failedKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load failed recipients %s: %w", jobID, err)
	}
	return decodeRecipients(raw)
}

func (s *RedisStore) schedule(ctx context.Context, jobID string, due int64, lease string) error {
	return s.scheduleScript.Run(ctx, s.redis, s.queueKeys(), jobID, due, lease).Err()
}

func (s *RedisStore) Enqueue(ctx context.Context, jobID string) error {
	if err := s.schedule(ctx, jobID, 0, ""); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) EnqueueAfter(ctx context.Context, jobID string, delay time.Duration) error {
	if delay <= 0 {
		return s.Enqueue(ctx, jobID)
	}
	if err := s.schedule(ctx, jobID, s.now().Add(delay).UnixMilli(), ""); err != nil {
		return fmt.Errorf("delay %s: %w", jobID, err)
	}
	return nil
}

// Dequeue polls until a job id is ready, the timeout passes, or ctx ends.
func (s *RedisStore) Dequeue(ctx context.Context, timeout time.Duration) (Lease, error) {
	deadline := time.Now().Add(timeout)
	for {
		token := newLeaseToken()
		id, err := s.popScript.Run(ctx, s.redis, s.queueKeys(), s.now().UnixMilli(), token).Text()
		if err == nil {
			return Lease{JobID: id, Token: token}, nil
		}
		if !errors.Is(err, redis.Nil) {
			return Lease{}, fmt.Errorf("dequeue: %w", err)
		}
		if !time.Now().Before(deadline) {
			return Lease{}, ErrEmpty
		}
		select {
		case <-ctx.Done():
			return Lease{}, ctx.Err()
		case <-time.After(s.pollEvery):
		}
	}
}

func (s *RedisStore) Ack(ctx context.Context, lease Lease) error {
	if err := s.redis.ZRem(ctx, s.processingKey(), leaseMember(lease)).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", lease.JobID, err)
	}
	return nil
}

func (s *RedisStore) Requeue(ctx context.Context, lease Lease, delay time.Duration) error {
	var due int64
	if delay > 0 {
		due = s.now().Add(delay).UnixMilli()
	}
	if err := s.schedule(ctx, lease.JobID, due, leaseMember(lease)); err != nil {
		return fmt.Errorf("requeue %s: %w", lease.JobID, err)
	}
	return nil
}

func (s *RedisStore) RecoverStale(ctx context.Context, lease time.Duration) (int, error) {
	cutoff := s.now().Add(-lease).UnixMilli()
	keys := []string{s.processingKey(), s.readyKey(), s.delayedKey(), s.waitingKey()}
	n, err := s.recoverScript.Run(ctx, s.redis, keys, cutoff).Int()
	if err != nil {
		return 0, fmt.Errorf("recover stale leases: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Depth(ctx context.Context) (Depth, error) {
	pipe := s.redis.Pipeline()
	ready := pipe.LLen(ctx, s.readyKey())
	delayed := pipe.ZCard(ctx, s.delayedKey())
	processing := pipe.ZCard(ctx, s.processingKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Depth{}, fmt.Errorf("queue depth: %w", err)
	}
	return Depth{Ready: ready.Val(), Delayed: delayed.Val(), Processing: processing.Val()}, nil
}
