package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmehdipour/keygate/internal/model"
	echo "github.com/labstack/echo/v4"
)

const (
	ctxCredential = "credential"
	ctxSummary    = "credential_summary"
)

type Validator interface {
	Validate(ctx context.Context, id string) (model.ValidationResult, error)
}

// CredentialFromCtx returns the credential accepted by APIKeyMiddleware.
func CredentialFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxCredential).(string)
	return id, ok && id != ""
}

func SummaryFromCtx(c echo.Context) (*model.Summary, bool) {
	s, ok := c.Get(ctxSummary).(*model.Summary)
	return s, ok && s != nil
}

// presentedKey looks in X-API-Key, Authorization: Bearer, ?apiKey= and the
// :apiKey path parameter, in that order.
func presentedKey(c echo.Context) string {
	req := c.Request()
	if k := strings.TrimSpace(req.Header.Get("X-API-Key")); k != "" {
		return k
	}
	if auth := req.Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
		if k := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); k != "" {
			return k
		}
	}
	if k := strings.TrimSpace(c.QueryParam("apiKey")); k != "" {
		return k
	}
	return strings.TrimSpace(c.Param("apiKey"))
}

// APIKeyMiddleware validates the presented credential. Every accepted request
// counts as one usage event.
func APIKeyMiddleware(v Validator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := presentedKey(c)
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}

			res, err := v.Validate(c.Request().Context(), key)
			if err != nil {
				c.Logger().Errorf("validate %s: %v", model.KeyPrefix(key, 8), err)
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "credential store unavailable"})
			}
			if !res.Valid {
				c.Logger().Warnf("rejected api key %s: %s from %s", model.KeyPrefix(key, 8), res.Reason, c.RealIP())
				return c.JSON(http.StatusForbidden, map[string]string{
					"error":  "invalid api key",
					"reason": res.Reason.String(),
				})
			}

			c.Set(ctxCredential, key)
			c.Set(ctxSummary, res.Summary)
			return next(c)
		}
	}
}
