package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/keygate/internal/model"
	"github.com/jmehdipour/keygate/internal/repository"
	"github.com/labstack/echo/v4"
)

// parseSince reads ?since= as RFC 3339 or as a duration back from now ("24h").
func parseSince(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d), true
	}
	return time.Time{}, false
}

func listEventsHandler(chRepo repository.CHEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := repository.EventFilter{Limit: 50}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				f.Limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				f.Offset = n
			}
		}

		if raw := strings.TrimSpace(c.QueryParam("type")); raw != "" {
			t := model.EventType(raw)
			if !t.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid event type"})
			}
			f.Type = t
		}

		// events only carry fingerprints; accept either form
		if key := strings.TrimSpace(c.QueryParam("key")); key != "" {
			f.Credential = model.Fingerprint(key)
		} else {
			f.Credential = strings.TrimSpace(c.QueryParam("credential"))
		}

		since, ok := parseSince(c.QueryParam("since"), time.Now())
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid since"})
		}
		f.Since = since

		events, err := chRepo.List(c.Request().Context(), f)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   f.Limit,
			"offset":  f.Offset,
			"count":   len(events),
			"results": events,
		})
	}
}

func eventsSummaryHandler(chRepo repository.CHEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.QueryParam("since")
		if raw == "" {
			raw = "24h"
		}
		since, ok := parseSince(raw, time.Now())
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid since"})
		}

		counts, err := chRepo.CountByType(c.Request().Context(), since)
		if err != nil {
			c.Logger().Errorf("clickhouse summary failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"since":   since.UTC(),
			"results": counts,
		})
	}
}
