package redis

const (
	// addUsageScript atomically adds dwell time and one visit to a domain
	addUsageScript = `
local time_key = KEYS[1]       -- kidswatch:usage_{date}:time
local visits_key = KEYS[2]     -- kidswatch:usage_{date}:visits

local domain = ARGV[1]
local elapsed = tonumber(ARGV[2])
local ttl_seconds = tonumber(ARGV[3])

local total = redis.call('HINCRBY', time_key, domain, elapsed)
redis.call('HINCRBY', visits_key, domain, 1)

if ttl_seconds > 0 then
  redis.call('EXPIRE', time_key, ttl_seconds)
  redis.call('EXPIRE', visits_key, ttl_seconds)
end

return total
`
)
