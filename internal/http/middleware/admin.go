package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

type AdminConfig struct {
	MasterKey      string
	AllowedIPs     []string // empty allows every address
	FailedAttempts int
	Window         time.Duration // failed attempts are counted within this window
	Lockout        time.Duration
	KeyPrefix      string
}

// AdminGuard tracks failed admin logins per client IP in Redis so the lockout
// holds across restarts and replicas.
type AdminGuard struct {
	rdb *redis.Client
	cfg AdminConfig
}

func NewAdminGuard(rdb *redis.Client, cfg AdminConfig) *AdminGuard {
	if cfg.FailedAttempts <= 0 {
		cfg.FailedAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = 30 * time.Minute
	}
	return &AdminGuard{rdb: rdb, cfg: cfg}
}

func (g *AdminGuard) failKey(ip string) string { return g.cfg.KeyPrefix + "admin:fail:" + ip }
func (g *AdminGuard) lockKey(ip string) string { return g.cfg.KeyPrefix + "admin:lock:" + ip }

func (g *AdminGuard) allowedIP(ip string) bool {
	return len(g.cfg.AllowedIPs) == 0 || slices.Contains(g.cfg.AllowedIPs, ip)
}

// LockedFor returns the remaining lockout for ip, zero when not locked.
func (g *AdminGuard) LockedFor(ctx context.Context, ip string) (time.Duration, error) {
	ttl, err := g.rdb.PTTL(ctx, g.lockKey(ip)).Result()
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// RecordFailure counts one failed attempt and locks ip once the threshold is
// reached. It reports whether ip is now locked.
func (g *AdminGuard) RecordFailure(ctx context.Context, ip string) (bool, error) {
	key := g.failKey(ip)

	// the window starts at the first failure; NX keeps later failures from extending it
	var incr *redis.IntCmd
	_, err := g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, g.cfg.Window)
		return nil
	})
	if err != nil {
		return false, err
	}
	n := incr.Val()
	if n < int64(g.cfg.FailedAttempts) {
		return false, nil
	}

	_, err = g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, g.lockKey(ip), n, g.cfg.Lockout)
		pipe.Del(ctx, key)
		return nil
	})
	return err == nil, err
}

func (g *AdminGuard) RecordSuccess(ctx context.Context, ip string) error {
	return g.rdb.Del(ctx, g.failKey(ip)).Err()
}

func (g *AdminGuard) validKey(provided string) bool {
	if g.cfg.MasterKey == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(g.cfg.MasterKey)) == 1
}

// adminKey accepts X-Admin-Key or HTTP basic auth with user "admin".
func adminKey(c echo.Context) string {
	if k := strings.TrimSpace(c.Request().Header.Get("X-Admin-Key")); k != "" {
		return k
	}
	if user, pass, ok := c.Request().BasicAuth(); ok && user == "admin" {
		return pass
	}
	return ""
}

// AdminMiddleware guards the admin API: IP allow-list, lockout, then master key.
func AdminMiddleware(g *AdminGuard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ip := c.RealIP()

			if g.cfg.MasterKey == "" {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "admin api disabled"})
			}
			if !g.allowedIP(ip) {
				c.Logger().Warnf("admin access denied, ip %s not allowed", ip)
				return c.JSON(http.StatusForbidden, map[string]string{"error": "ip not allowed"})
			}

			locked, err := g.LockedFor(ctx, ip)
			if err != nil {
				c.Logger().Errorf("admin guard: %v", err)
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "auth backend unavailable"})
			}
			if locked > 0 {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(locked.Round(time.Second)/time.Second)))
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": fmt.Sprintf("ip locked for %d minutes", int((locked+time.Minute-1)/time.Minute)),
				})
			}

			if !g.validKey(adminKey(c)) {
				nowLocked, err := g.RecordFailure(ctx, ip)
				if err != nil {
					c.Logger().Errorf("admin guard: %v", err)
				}
				if nowLocked {
					c.Logger().Warnf("admin ip %s locked after failed attempts", ip)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid admin key"})
			}

			if err := g.RecordSuccess(ctx, ip); err != nil {
				c.Logger().Warnf("admin guard: %v", err)
			}
			return next(c)
		}
	}
}
