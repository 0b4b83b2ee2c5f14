// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package trace

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the per-client limiter table. The least
// recently seen client is forgotten first.
const maxTrackedClients = 10_000

// ClientRateLimiter hands out a token bucket per client IP.
//
// Thread Safety: Safe for concurrent use.
type ClientRateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewClientRateLimiter creates a limiter allowing rps requests per second
// per client with the given burst.
func NewClientRateLimiter(rps float64, burst int) *ClientRateLimiter {
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, *rate.Limiter](maxTrackedClients)
	return &ClientRateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: cache,
	}
}

// reserve takes a token for client, returning how long to wait when none
// is available.
func (l *ClientRateLimiter) reserve(client string) (bool, time.Duration) {
	lim, ok := l.limiters.Get(client)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		// Another request may have raced us; keep whichever landed first.
		if prev, loaded, _ := l.limiters.PeekOrAdd(client, lim); loaded {
			lim = prev
		}
	}

	now := time.Now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (l *ClientRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.reserve(c.ClientIP())
		if ok {
			c.Next()
			return
		}

		retryAfter := int(math.Ceil(wait.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		slog.Warn("request rate limited",
			slog.String("client", c.ClientIP()),
			slog.String("path", c.Request.URL.Path),
			slog.Int("retry_after_s", retryAfter),
		)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "rate limit exceeded",
			Code:  "RATE_LIMITED",
		})
	}
}
