package rpc

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimitEnabledEnv = "KEYBRIDGE_RATE_LIMIT_ENABLED"
	rateLimitRPSEnv     = "KEYBRIDGE_RATE_LIMIT_RPS"
	rateLimitBurstEnv   = "KEYBRIDGE_RATE_LIMIT_BURST"
)

type rateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type requestRateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byKey   map[string]*rateLimitEntry
	hits    uint64
	idleTTL time.Duration
}

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func loadRateLimitConfig() rateLimitConfig {
	cfg := rateLimitConfig{
		Enabled: true,
		RPS:     50,
		Burst:   100,
	}
	if env, ok := parseBoolEnv(rateLimitEnabledEnv); ok {
		cfg.Enabled = env
	} else {
		switch strings.ToLower(strings.TrimSpace(os.Getenv("KEYBRIDGE_ENV"))) {
		case "test", "testing":
			cfg.Enabled = false
		}
	}
	if raw := strings.TrimSpace(os.Getenv(rateLimitRPSEnv)); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			cfg.RPS = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv(rateLimitBurstEnv)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.Burst = parsed
		}
	}
	return cfg
}

func newRequestRateLimiter(cfg rateLimitConfig) *requestRateLimiter {
	if !cfg.Enabled {
		return nil
	}
	return &requestRateLimiter{
		limit:   rate.Limit(cfg.RPS),
		burst:   cfg.Burst,
		byKey:   make(map[string]*rateLimitEntry),
		idleTTL: 10 * time.Minute,
	}
}

func (l *requestRateLimiter) allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.byKey[key]
	if !ok {
		entry = &rateLimitEntry{
			limiter:  rate.NewLimiter(l.limit, l.burst),
			lastSeen: now,
		}
		l.byKey[key] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

func rateLimitKey(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}

func parseBoolEnv(name string) (bool, bool) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
