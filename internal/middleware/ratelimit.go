package middleware

import (
	"fmt"
	"net/http"
	"time"

	rediskey "food_rescue/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// luaRateLimit is an atomic sliding window over a sorted set.
// KEYS[1]=window key, ARGV: now, window start, window seconds, member, limit.
// Returns the request count inside the window, or -1 when the limit is hit.
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// RedisRateLimit limits requests per organization, falling back to the
// client IP for anonymous callers. Redis failures let the request through.
func RedisRateLimit(rdb *rd.Client, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var key string
		if orgID := OrgID(c); orgID > 0 {
			key = rediskey.RateLimitOrgKey(orgID)
		} else {
			key = rediskey.RateLimitIPKey(c.ClientIP())
		}

		now := time.Now()
		windowSec := int64(window.Seconds())
		windowStart := now.Unix() - windowSec
		member := fmt.Sprintf("%d-%d", now.Unix(), now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now.Unix(), windowStart, windowSec, member, limit).Int()
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
			c.Next()
			return
		}

		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "too many requests, please retry later",
			})
			return
		}
		c.Next()
	}
}
