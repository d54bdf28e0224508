package shared

import goredis "github.com/redis/go-redis/v9"

// Server-executed scripts. Each one is a single atomic step on the Redis
// side; the result codes are part of the Store contract (shared.go).

// deduct_stock(KEYS[1]=stockKey, ARGV[1]=qty)
// -1 key absent, -2 qty exceeds current value, else new value.
var deductStockScript = goredis.NewScript(`
local v = redis.call('get', KEYS[1])
if not v then
  return -1
end
local qty = tonumber(ARGV[1])
if tonumber(v) < qty then
  return -2
end
return redis.call('decrby', KEYS[1], qty)
`)

// check_and_deduct(KEYS[1]=stockKey, KEYS[2]=limitKey,
//                  ARGV[1]=userId, ARGV[2]=activityId, ARGV[3]=qty, ARGV[4]=limitPerUser)
// -1 limit exceeded, -2 stock key absent, -3 insufficient stock, else new
// stock value. Side effect: records the user's cumulative quantity under
// limitKey (hash field per user).
var checkAndDeductScript = goredis.NewScript(`
local qty = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
local bought = tonumber(redis.call('hget', KEYS[2], ARGV[1])) or 0
if bought + qty > limit then
  return -1
end
local stock = redis.call('get', KEYS[1])
if not stock then
  return -2
end
if tonumber(stock) < qty then
  return -3
end
local left = redis.call('decrby', KEYS[1], qty)
redis.call('hincrby', KEYS[2], ARGV[1], qty)
return left
`)

// set_if_absent_with_expiry(KEYS[1]=key, ARGV[1]=value, ARGV[2]=ttlMillis)
// Sets the key and its expiry atomically only if it did not already exist.
var setIfAbsentScript = goredis.NewScript(`
if redis.call('setnx', KEYS[1], ARGV[1]) == 1 then
  if tonumber(ARGV[2]) > 0 then
    redis.call('pexpire', KEYS[1], ARGV[2])
  end
  return 1
end
return 0
`)

// increment_by(KEYS[1]=key, ARGV[1]=delta)
// Initializes an absent key to delta rather than zero-then-add in two steps.
var incrementByScript = goredis.NewScript(`
local v = redis.call('get', KEYS[1])
if not v then
  redis.call('set', KEYS[1], ARGV[1])
  return tonumber(ARGV[1])
end
return redis.call('incrby', KEYS[1], ARGV[1])
`)

// compare_and_del(KEYS[1]=key, ARGV[1]=expect)
// Deletes the key only while it still holds the expected value.
var compareAndDelScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
end
return 0
`)

// compare_and_expire(KEYS[1]=key, ARGV[1]=expect, ARGV[2]=ttlMillis)
// Refreshes the expiry only while the key still holds the expected value.
var compareAndExpireScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('pexpire', KEYS[1], ARGV[2])
end
return 0
`)
