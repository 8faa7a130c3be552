package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/keygate/internal/service/credential"
	"github.com/jmehdipour/keygate/internal/sweeper"
	"github.com/labstack/echo/v4"
)

// respondError maps service errors onto status codes.
func respondError(c echo.Context, err error) error {
	var (
		verr *credential.ValidationError
		derr *credential.DateRangeError
	)

	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":      "validation_failed",
			"violations": verr.Violations,
		})
	case errors.As(err, &derr):
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":   "invalid_date_range",
			"rule":    derr.Rule,
			"message": derr.Error(),
		})
	case errors.Is(err, credential.ErrDuplicateID):
		return c.JSON(http.StatusConflict, map[string]string{"error": "duplicate_id"})
	case errors.Is(err, sweeper.ErrAlreadyRunning):
		return c.JSON(http.StatusConflict, map[string]string{"error": "sweep_already_running"})
	case errors.Is(err, credential.ErrStoreUnavailable):
		c.Logger().Errorf("store unavailable: %v", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "store_unavailable"})
	default:
		c.Logger().Errorf("unexpected error: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal_error"})
	}
}

func notFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, map[string]string{"error": "credential not found"})
}
