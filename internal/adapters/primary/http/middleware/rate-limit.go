package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long a client's bucket survives without traffic.
const idleLimiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	bucket    map[string]*clientLimiter
	rate      rate.Limit
	burstSize int
	mutex     sync.Mutex
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(reqRate rate.Limit, burstSize int) *rateLimiter {
	return &rateLimiter{
		bucket:    make(map[string]*clientLimiter),
		rate:      reqRate,
		burstSize: burstSize,
		now:       time.Now,
	}
}

// getLimiterFrom returns the bucket for ip, creating it on first use and
// dropping buckets that have been idle longer than idleLimiterTTL.
func (r *rateLimiter) getLimiterFrom(ip string) *rate.Limiter {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) > idleLimiterTTL {
		for key, cl := range r.bucket {
			if now.Sub(cl.lastSeen) > idleLimiterTTL {
				delete(r.bucket, key)
			}
		}
		r.lastSweep = now
	}

	cl, exist := r.bucket[ip]
	if !exist {
		cl = &clientLimiter{limiter: rate.NewLimiter(r.rate, r.burstSize)}
		r.bucket[ip] = cl
	}
	cl.lastSeen = now

	return cl.limiter
}

// RateLimit throttles each client IP to rps requests per second with the
// given burst. A non-positive rps disables limiting.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}

	limiter := newRateLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if !limiter.getLimiterFrom(clientIP).Allow() {
			log.WithFields(log.Fields{
				"client_ip":  clientIP,
				"request_id": c.GetString(ContextRequestID),
			}).Warn("too many requests")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}

		c.Next()
	}
}
