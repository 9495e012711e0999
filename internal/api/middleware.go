package api

import (
	"strconv"
	"strings"
	"time"

	"payment-service/internal/util"

	"github.com/gin-gonic/gin"
)

const (
	headerAcceptCurrency  = "Accept-Currency"
	headerContentCurrency = "Content-Currency"
	contextKeyCurrency    = "currency"
)

// currencyMiddleware trusts Accept-Currency only for allowed codes and falls
// back to the base currency otherwise
func currencyMiddleware(base string, allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed)+1)
	for _, code := range allowed {
		set[strings.ToUpper(code)] = struct{}{}
	}
	set[base] = struct{}{}

	return func(c *gin.Context) {
		cur := base
		if requested := strings.ToUpper(strings.TrimSpace(c.GetHeader(headerAcceptCurrency))); requested != "" {
			if _, ok := set[requested]; ok {
				cur = requested
			}
		}
		c.Set(contextKeyCurrency, cur)
		c.Header(headerContentCurrency, cur)
		c.Next()
	}
}

// requestCurrency returns the currency chosen by currencyMiddleware
func requestCurrency(c *gin.Context, fallback string) string {
	if v := c.GetString(contextKeyCurrency); v != "" {
		return v
	}
	return fallback
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
