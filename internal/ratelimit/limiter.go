package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

type Decision struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter int // seconds
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// UnmarshalYAML accepts "1m" style windows; yaml.v3 will not decode a
// duration string into time.Duration by itself.
func (c *LimitConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Rate   int    `yaml:"rate"`
		Window string `yaml:"window"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.Rate = raw.Rate
	if raw.Window != "" {
		w, err := time.ParseDuration(raw.Window)
		if err != nil {
			return fmt.Errorf("invalid window %q: %w", raw.Window, err)
		}
		c.Window = w
	}
	return nil
}

type Limiter struct {
	client *redis.Client
	salt   string // for IP hashing stability
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	if salt == "" {
		salt = "default-salt-change-me"
	}
	return &Limiter{client: client, salt: salt}
}

// HashIP creates a privacy-safe hash of the IP.
func (l *Limiter) HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(hash[:])
}

// Atomic INCR with expiry set on first hit. The window starts at the
// first request and resets when the key expires.
var windowScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// CheckRateLimit counts the request against key's window and decides
// whether it is allowed.
func (l *Limiter) CheckRateLimit(ctx context.Context, key string, config LimitConfig) (*Decision, error) {
	count, err := windowScript.Run(ctx, l.client, []string{key}, config.Window.Milliseconds()).Int()
	if err != nil {
		return nil, ErrRedisUnavailable
	}

	remaining := config.Rate - count
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Limit:      config.Rate,
		Remaining:  remaining,
		Reset:      time.Now().Add(config.Window),
		RetryAfter: int(config.Window.Seconds()),
		Allowed:    count <= config.Rate,
	}, nil
}
