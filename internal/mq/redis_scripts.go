package mq

import "github.com/redis/go-redis/v9"

// sweepLua moves due ids from the delayed set to the ready set. The ZREM
// result guards every move, so overlapping sweeps never move an id twice.
const sweepLua = `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local moved = 0
for _, id in ipairs(ids) do
	if redis.call('ZREM', KEYS[1], id) == 1 then
		local pr = redis.call('HGET', KEYS[3], id)
		if pr then
			redis.call('ZADD', KEYS[2], pr, id)
			moved = moved + 1
		end
	end
end
`

// KEYS: delayed, ready, priorities
// ARGV: now_ms, limit
var sweepScript = redis.NewScript(sweepLua + `
return moved
`)

// KEYS: delayed, ready, priorities, messages, inflight, stats
// ARGV: now_ms, limit, track, marker_prefix, visibility_s, deadline_ms
//
// Pops the highest-priority ready id, writes its processing marker and
// returns {id, body}.
// With track=1 the body stays in the messages hash until acked and the id
// is recorded in the inflight set for the reaper.
var dequeueScript = redis.NewScript(sweepLua + `
while true do
	local popped = redis.call('ZPOPMAX', KEYS[2])
	if #popped == 0 then
		return false
	end
	local id = popped[1]
	local body = redis.call('HGET', KEYS[4], id)
	if body then
		redis.call('SET', ARGV[4] .. id, body, 'EX', ARGV[5])
		if ARGV[3] == '1' then
			redis.call('ZADD', KEYS[5], ARGV[6], id)
			redis.call('HINCRBY', KEYS[6], 'processing', 1)
		else
			redis.call('HDEL', KEYS[4], id)
			redis.call('HDEL', KEYS[3], id)
		end
		return {id, body}
	end
	redis.call('HDEL', KEYS[3], id)
end
`)

// KEYS: delayed, ready, priorities, messages
// ARGV: now_ms, limit
var peekScript = redis.NewScript(sweepLua + `
while true do
	local top = redis.call('ZREVRANGE', KEYS[2], 0, 0)
	if #top == 0 then
		return false
	end
	local body = redis.call('HGET', KEYS[4], top[1])
	if body then
		return body
	end
	redis.call('ZREM', KEYS[2], top[1])
	redis.call('HDEL', KEYS[3], top[1])
end
`)

// KEYS: inflight, messages, priorities, stats, marker
// ARGV: id, counter, elapsed_ms
//
// Finishes a tracked delivery: completed or failed (dead-lettered).
// Returns 0 and leaves the queue untouched when the id is no longer
// inflight, i.e. the queue was deleted or the reaper took the message back.
var finishScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('DEL', KEYS[5])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HINCRBY', KEYS[4], 'processing', -1)
redis.call('HINCRBY', KEYS[4], ARGV[2], 1)
if ARGV[2] == 'completed' then
	redis.call('HINCRBY', KEYS[4], 'processing_ms', ARGV[3])
end
return 1
`)

// KEYS: inflight, messages, priorities, stats, marker, delayed
// ARGV: id, body, due_ms, priority
//
// Writes the updated body back and parks the id in the delayed set. Like
// finish, it returns 0 without writing when the id is no longer inflight.
var retryScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('DEL', KEYS[5])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[4])
redis.call('ZADD', KEYS[6], ARGV[3], ARGV[1])
redis.call('HINCRBY', KEYS[4], 'processing', -1)
redis.call('HINCRBY', KEYS[4], 'retried', 1)
return 1
`)

// KEYS: ready, delayed, messages, priorities
//
// Drops every pending id with its body. In-flight bodies are kept.
var purgeScript = redis.NewScript(`
local dropped = 0
for _, key in ipairs({KEYS[1], KEYS[2]}) do
	local ids = redis.call('ZRANGE', key, 0, -1)
	for _, id in ipairs(ids) do
		redis.call('HDEL', KEYS[3], id)
		redis.call('HDEL', KEYS[4], id)
		dropped = dropped + 1
	end
	redis.call('DEL', key)
end
return dropped
`)

// KEYS: inflight, ready, priorities, messages, stats
// ARGV: now_ms, marker_prefix, limit
//
// Returns to the ready set every inflight id whose marker has expired.
var reapScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
local requeued = 0
for _, id in ipairs(ids) do
	if redis.call('EXISTS', ARGV[2] .. id) == 0 then
		if redis.call('ZREM', KEYS[1], id) == 1 then
			redis.call('HINCRBY', KEYS[5], 'processing', -1)
			local pr = redis.call('HGET', KEYS[3], id)
			if pr and redis.call('HEXISTS', KEYS[4], id) == 1 then
				redis.call('ZADD', KEYS[2], pr, id)
				requeued = requeued + 1
			end
		end
	end
end
return requeued
`)
