package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"logbook/internal/logbook/models"
	"logbook/internal/logbook/ports"
	"logbook/internal/logbook/query"
	id "logbook/pkg/domain"
	"logbook/pkg/platform/sentinel"
)

// Refresh promotes every pending write into the visible hash in one atomic
// step. Ids are sorted so a refresh appends new documents deterministically.
var refreshScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local pending = redis.call('HGETALL', KEYS[2])
local ids = {}
local docs = {}
for i = 1, #pending, 2 do
  ids[#ids + 1] = pending[i]
  docs[pending[i]] = pending[i + 1]
end
table.sort(ids)
for _, docID in ipairs(ids) do
  if not redis.call('ZSCORE', KEYS[4], docID) then
    redis.call('ZADD', KEYS[4], redis.call('INCR', KEYS[5]), docID)
  end
  redis.call('HSET', KEYS[3], docID, docs[docID])
end
redis.call('DEL', KEYS[2])
return #ids
`)

// Upsert writes each (id, version, payload) triple to the pending hash unless
// the versions hash already records a newer version for that id. Returns nil
// when the index does not exist.
var upsertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local written = 0
for i = 1, #ARGV, 3 do
  local current = redis.call('HGET', KEYS[3], ARGV[i])
  if not current or tonumber(current) <= tonumber(ARGV[i + 1]) then
    redis.call('HSET', KEYS[2], ARGV[i], ARGV[i + 2])
    redis.call('HSET', KEYS[3], ARGV[i], ARGV[i + 1])
    written = written + 1
  end
end
return written
`)

// Returns the visible documents in insertion order, or nil when the index
// does not exist.
var visibleScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local ids = redis.call('ZRANGE', KEYS[2], 0, -1)
local out = {}
for i, docID in ipairs(ids) do
  out[i] = redis.call('HGET', KEYS[3], docID)
end
return out
`)

type indexKeys struct {
	meta, pending, docs, order, seq, versions string
}

// RedisIndex stores each logical index as a meta key, a pending hash, a
// visible hash, a sorted set recording insertion order and a hash of the
// newest accepted version per document.
type RedisIndex struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures a RedisIndex.
type RedisOption func(*RedisIndex)

// WithKeyPrefix namespaces every key written by the index.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisIndex) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedis creates a Redis-backed search index.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *RedisIndex {
	r := &RedisIndex{client: client, prefix: "logbook", now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisIndex) keys(c models.Collection, tenant id.TenantID) indexKeys {
	base := r.prefix + ":idx:" + models.IndexName(c, tenant)
	return indexKeys{
		meta:     base + ":meta",
		pending:  base + ":pending",
		docs:     base + ":docs",
		order:    base + ":order",
		seq:      base + ":seq",
		versions: base + ":versions",
	}
}

func mapRedisError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
}

func (r *RedisIndex) EnsureIndex(ctx context.Context, c models.Collection, tenant id.TenantID) error {
	k := r.keys(c, tenant)
	if err := r.client.SetNX(ctx, k.meta, r.now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("ensure index %s: %w", models.IndexName(c, tenant), mapRedisError(err))
	}
	return nil
}

// BulkUpsert writes every valid payload to the pending hash in one script
// call. Items that fail validation are reported per item. A payload older
// than the version already held is skipped and reported as written.
func (r *RedisIndex) BulkUpsert(ctx context.Context, c models.Collection, tenant id.TenantID, docs map[string][]byte) (ports.BulkResult, error) {
	k := r.keys(c, tenant)
	result := ports.BulkResult{Items: make([]ports.BulkItemResult, 0, len(docs))}
	args := make([]any, 0, 3*len(docs))
	var valid []string
	for _, docID := range sortedKeys(docs) {
		version, err := decodeItem(tenant, docID, docs[docID])
		if err != nil {
			result.Items = append(result.Items, ports.BulkItemResult{ID: docID, Err: err})
			continue
		}
		args = append(args, docID, version, docs[docID])
		valid = append(valid, docID)
	}

	err := upsertScript.Run(ctx, r.client, []string{k.meta, k.pending, k.versions}, args...).Err()
	if errors.Is(err, redis.Nil) {
		return ports.BulkResult{}, missingIndex(c, tenant)
	}
	if err != nil {
		return ports.BulkResult{}, fmt.Errorf("bulk upsert %s: %w", models.IndexName(c, tenant), mapRedisError(err))
	}
	for _, docID := range valid {
		result.Items = append(result.Items, ports.BulkItemResult{ID: docID})
	}
	return result, nil
}

func (r *RedisIndex) Refresh(ctx context.Context, c models.Collection, tenant id.TenantID) error {
	k := r.keys(c, tenant)
	n, err := refreshScript.Run(ctx, r.client, []string{k.meta, k.pending, k.docs, k.order, k.seq}).Int()
	if err != nil {
		return fmt.Errorf("refresh %s: %w", models.IndexName(c, tenant), mapRedisError(err))
	}
	if n < 0 {
		return missingIndex(c, tenant)
	}
	return nil
}

func (r *RedisIndex) Search(ctx context.Context, c models.Collection, tenant id.TenantID, q *query.Query, from, size int) (ports.SearchPage, error) {
	k := r.keys(c, tenant)
	raw, err := visibleScript.Run(ctx, r.client, []string{k.meta, k.order, k.docs}).Slice()
	if errors.Is(err, redis.Nil) {
		return ports.SearchPage{}, missingIndex(c, tenant)
	}
	if err != nil {
		return ports.SearchPage{}, fmt.Errorf("search %s: %w", models.IndexName(c, tenant), mapRedisError(err))
	}

	visible := make([][]byte, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		visible = append(visible, []byte(s))
	}
	return search(visible, q, from, size)
}

func (r *RedisIndex) DropIndex(ctx context.Context, c models.Collection, tenant id.TenantID) error {
	k := r.keys(c, tenant)
	if err := r.client.Del(ctx, k.meta, k.pending, k.docs, k.order, k.seq, k.versions).Err(); err != nil {
		return fmt.Errorf("drop index %s: %w", models.IndexName(c, tenant), mapRedisError(err))
	}
	return nil
}
