// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisMarkerScript is the SETNX+EXPIRE idempotent-marker pattern from the
// teacher's persistence/redis.go, repurposed here: instead of guarding a
// counter decrement, it guards "has this idempotency key already been
// committed", storing the serialized response body as the marker's value
// so a second replica can read it back directly instead of re-running the
// handler.
const redisMarkerScript = `
local marker = KEYS[1]
local body = ARGV[1]
local ttl = tonumber(ARGV[2])
local set = redis.call('SETNX', marker, body)
if set == 1 then
  if ttl and ttl > 0 then redis.call('EXPIRE', marker, ttl) end
end
return redis.call('GET', marker)
`

type redisRecord struct {
	StatusCode int   `json:"status_code"`
	Body       []byte `json:"body"`
}

// RedisBackend gives Store a cross-replica commit marker: Commit races
// between gateway replicas for the same idempotency key resolve to whoever
// wins the SETNX, and every replica (winner or not) reads back the same
// stored response. Purely additive — Store's local singleflight collapsing
// still governs same-process concurrency; RedisBackend only matters when
// REDIS_ADDR configures more than one gateway replica behind the same key
// space.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend wraps addr in a go-redis client. ttl bounds how long a
// commit marker survives, mirroring the store's own TTL.
func NewRedisBackend(addr string, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisBackend{client: redis.NewClient(&redis.Options{Addr: addr}), ttl: ttl}
}

// CommitOrFetch attempts to atomically claim key with the serialized form
// of (statusCode, body); if another replica already claimed it, returns
// that replica's stored response instead.
func (b *RedisBackend) CommitOrFetch(ctx context.Context, key string, statusCode int, body []byte) (gotStatusCode int, gotBody []byte, wasFirst bool, err error) {
	payload, err := json.Marshal(redisRecord{StatusCode: statusCode, Body: body})
	if err != nil {
		return 0, nil, false, err
	}
	res, err := b.client.Eval(ctx, redisMarkerScript, []string{"idem:" + key}, string(payload), int(b.ttl.Seconds())).Result()
	if err != nil {
		return 0, nil, false, err
	}
	raw, _ := res.(string)
	var rec redisRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return 0, nil, false, err
	}
	return rec.StatusCode, rec.Body, raw == string(payload), nil
}

// Close releases the underlying Redis client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
