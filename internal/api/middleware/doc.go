// Package middleware holds the Gin middleware in front of the sandbox API.
//
//   - CORS: only the configured frontends may call /execute and friends
//   - RateLimit: per-IP token bucket with idle client eviction
//   - GlobalRateLimit: one bucket for the whole server
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins...)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
