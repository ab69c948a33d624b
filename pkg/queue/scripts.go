package queue

import "github.com/redis/go-redis/v9"

// trimFinished removes jobs from a finished set past the age or count bound.
const trimFinished = `
local function trim(setKey, jobPrefix, now, maxAge, maxCount)
	local removed = 0
	if maxAge > 0 then
		local old = redis.call("ZRANGEBYSCORE", setKey, "-inf", now - maxAge)
		for _, jid in ipairs(old) do
			redis.call("DEL", jobPrefix .. jid)
		end
		if #old > 0 then
			redis.call("ZREMRANGEBYSCORE", setKey, "-inf", now - maxAge)
		end
		removed = removed + #old
	end
	if maxCount >= 0 then
		local n = redis.call("ZCARD", setKey)
		if n > maxCount then
			local extra = redis.call("ZRANGE", setKey, 0, n - maxCount - 1)
			for _, jid in ipairs(extra) do
				redis.call("DEL", jobPrefix .. jid)
			end
			redis.call("ZREMRANGEBYRANK", setKey, 0, n - maxCount - 1)
			removed = removed + #extra
		end
	end
	return removed
end

local function clearDedupe(dedupeKey, jobKey, id)
	local idem = redis.call("HGET", jobKey, "idempotency_key")
	if idem and idem ~= "" and redis.call("HGET", dedupeKey, idem) == id then
		redis.call("HDEL", dedupeKey, idem)
	end
end
`

// KEYS: dedupe, waiting, delayed
// ARGV: jobPrefix, id, idempotencyKey, kind, payload, attempts, backoffType,
// backoffDelayMs, nowMs, delayMs, queue
var enqueueScript = redis.NewScript(`
local jobPrefix = ARGV[1]
local idem = ARGV[3]
if idem ~= "" then
	local existing = redis.call("HGET", KEYS[1], idem)
	if existing then
		local existingKey = jobPrefix .. existing
		local state = redis.call("HGET", existingKey, "state")
		if state == "waiting" or state == "delayed" then
			redis.call("HSET", existingKey, "payload", ARGV[5])
			return {existing, 1}
		end
	end
end

local id = ARGV[2]
local jobKey = jobPrefix .. id
local now = tonumber(ARGV[9])
local delay = tonumber(ARGV[10])
local state = "waiting"
local runAt = now
if delay > 0 then
	state = "delayed"
	runAt = now + delay
end

redis.call("HSET", jobKey,
	"id", id,
	"queue", ARGV[11],
	"kind", ARGV[4],
	"payload", ARGV[5],
	"idempotency_key", idem,
	"attempts_allowed", ARGV[6],
	"attempts_made", 0,
	"backoff_type", ARGV[7],
	"backoff_delay_ms", ARGV[8],
	"state", state,
	"progress", 0,
	"created_at", now,
	"run_at", runAt)

if state == "delayed" then
	redis.call("ZADD", KEYS[3], runAt, id)
else
	redis.call("LPUSH", KEYS[2], id)
end
if idem ~= "" then
	redis.call("HSET", KEYS[1], idem, id)
end
return {id, 0}
`)

// KEYS: waiting, delayed, active
// ARGV: jobPrefix, nowMs, leaseMs, leaseToken
var leaseScript = redis.NewScript(`
local jobPrefix = ARGV[1]
local now = tonumber(ARGV[2])

local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", now, "LIMIT", 0, 100)
for _, jid in ipairs(due) do
	redis.call("ZREM", KEYS[2], jid)
	redis.call("HSET", jobPrefix .. jid, "state", "waiting")
	redis.call("LPUSH", KEYS[1], jid)
end

for _ = 1, 10 do
	local id = redis.call("RPOP", KEYS[1])
	if not id then
		return false
	end
	local jobKey = jobPrefix .. id
	if redis.call("EXISTS", jobKey) == 1 then
		local expires = now + tonumber(ARGV[3])
		redis.call("ZADD", KEYS[3], expires, id)
		redis.call("HSET", jobKey,
			"state", "active",
			"lease_token", ARGV[4],
			"lease_expires_at", expires,
			"processed_at", now)
		redis.call("HINCRBY", jobKey, "attempts_made", 1)
		return redis.call("HGETALL", jobKey)
	end
end
return false
`)

// KEYS: active
// ARGV: jobPrefix, id, leaseToken, nowMs, leaseMs
var heartbeatScript = redis.NewScript(`
local jobKey = ARGV[1] .. ARGV[2]
if redis.call("HGET", jobKey, "state") ~= "active" or redis.call("HGET", jobKey, "lease_token") ~= ARGV[3] then
	return 0
end
local expires = tonumber(ARGV[4]) + tonumber(ARGV[5])
redis.call("ZADD", KEYS[1], expires, ARGV[2])
redis.call("HSET", jobKey, "lease_expires_at", expires)
return 1
`)

// ARGV: jobPrefix, id, leaseToken, progress
var progressScript = redis.NewScript(`
local jobKey = ARGV[1] .. ARGV[2]
if redis.call("HGET", jobKey, "state") ~= "active" or redis.call("HGET", jobKey, "lease_token") ~= ARGV[3] then
	return 0
end
redis.call("HSET", jobKey, "progress", ARGV[4])
return 1
`)

// KEYS: active, completed, dedupe
// ARGV: jobPrefix, id, leaseToken, nowMs, maxAgeMs, maxCount
var completeScript = redis.NewScript(trimFinished + `
local jobPrefix = ARGV[1]
local id = ARGV[2]
local jobKey = jobPrefix .. id
if redis.call("HGET", jobKey, "state") ~= "active" or redis.call("HGET", jobKey, "lease_token") ~= ARGV[3] then
	return 0
end
local now = tonumber(ARGV[4])
redis.call("ZREM", KEYS[1], id)
redis.call("HSET", jobKey,
	"state", "completed",
	"progress", 100,
	"finished_at", now,
	"lease_token", "")
clearDedupe(KEYS[3], jobKey, id)
redis.call("ZADD", KEYS[2], now, id)
trim(KEYS[2], jobPrefix, now, tonumber(ARGV[5]), tonumber(ARGV[6]))
return 1
`)

// KEYS: active, delayed, failed, dedupe
// ARGV: jobPrefix, id, leaseToken, nowMs, lastError, retry, backoffMs,
// maxAgeMs, maxCount
var failScript = redis.NewScript(trimFinished + `
local jobPrefix = ARGV[1]
local id = ARGV[2]
local jobKey = jobPrefix .. id
if redis.call("HGET", jobKey, "state") ~= "active" or redis.call("HGET", jobKey, "lease_token") ~= ARGV[3] then
	return 0
end
local now = tonumber(ARGV[4])
redis.call("ZREM", KEYS[1], id)
if ARGV[6] == "1" then
	local runAt = now + tonumber(ARGV[7])
	redis.call("HSET", jobKey,
		"state", "delayed",
		"run_at", runAt,
		"last_error", ARGV[5],
		"lease_token", "")
	redis.call("ZADD", KEYS[2], runAt, id)
	return 1
end
redis.call("HSET", jobKey,
	"state", "failed",
	"finished_at", now,
	"last_error", ARGV[5],
	"lease_token", "")
clearDedupe(KEYS[4], jobKey, id)
redis.call("ZADD", KEYS[3], now, id)
trim(KEYS[3], jobPrefix, now, tonumber(ARGV[8]), tonumber(ARGV[9]))
return 2
`)

// KEYS: active, waiting, failed, dedupe
// ARGV: jobPrefix, nowMs
var reclaimScript = redis.NewScript(trimFinished + `
local jobPrefix = ARGV[1]
local now = tonumber(ARGV[2])
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", now, "LIMIT", 0, 1000)
local reclaimed = 0
local exhausted = 0
for _, id in ipairs(expired) do
	redis.call("ZREM", KEYS[1], id)
	local jobKey = jobPrefix .. id
	if redis.call("EXISTS", jobKey) == 1 then
		local made = tonumber(redis.call("HGET", jobKey, "attempts_made")) or 0
		local allowed = tonumber(redis.call("HGET", jobKey, "attempts_allowed")) or 1
		if made >= allowed then
			redis.call("HSET", jobKey,
				"state", "failed",
				"finished_at", now,
				"last_error", "job stalled more than allowable limit",
				"lease_token", "")
			clearDedupe(KEYS[4], jobKey, id)
			redis.call("ZADD", KEYS[3], now, id)
			exhausted = exhausted + 1
		else
			redis.call("HSET", jobKey, "state", "waiting", "lease_token", "")
			redis.call("RPUSH", KEYS[2], id)
			reclaimed = reclaimed + 1
		end
	end
end
return {reclaimed, exhausted}
`)

// KEYS: completed, failed
// ARGV: jobPrefix, nowMs, completedAgeMs, completedCount, failedAgeMs, failedCount
var cleanScript = redis.NewScript(trimFinished + `
local jobPrefix = ARGV[1]
local now = tonumber(ARGV[2])
local a = trim(KEYS[1], jobPrefix, now, tonumber(ARGV[3]), tonumber(ARGV[4]))
local b = trim(KEYS[2], jobPrefix, now, tonumber(ARGV[5]), tonumber(ARGV[6]))
return {a, b}
`)
