package http

import (
	"net/http"

	"github.com/jmehdipour/keygate/internal/sweeper"
	"github.com/labstack/echo/v4"
)

func runSweepHandler(s *sweeper.Sweeper) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := s.RunNow(c.Request().Context())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func sweepStatsHandler(s *sweeper.Sweeper) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := s.Stats(c.Request().Context())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, st)
	}
}
