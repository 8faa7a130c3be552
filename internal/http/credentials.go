package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/keygate/internal/http/middleware"
	"github.com/jmehdipour/keygate/internal/model"
	"github.com/jmehdipour/keygate/internal/service/credential"
	"github.com/labstack/echo/v4"
)

type issueReq struct {
	ID                string             `json:"id"`
	OwnerName         string             `json:"owner_name"`
	ContactName       string             `json:"contact_name"`
	ContactPhone      string             `json:"contact_phone"`
	BillingInfo       *model.BillingInfo `json:"billing_info"`
	SubscriptionStart *time.Time         `json:"subscription_start"`
	SubscriptionEnd   *time.Time         `json:"subscription_end"`
	Term              string             `json:"term"` // 14_days | 1_month | 1_year | 2_years
}

func credentialSummaryHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		sum, ok := middleware.SummaryFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		return c.JSON(http.StatusOK, model.ValidationResult{Valid: true, Summary: sum})
	}
}

func listCredentialsHandler(svc *credential.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		views, err := svc.List(c.Request().Context())
		if err != nil {
			return respondError(c, err)
		}

		if c.QueryParam("full") != "true" {
			for i := range views {
				views[i] = views[i].Redacted()
			}
		}

		return c.JSON(http.StatusOK, map[string]any{
			"count":   len(views),
			"results": views,
		})
	}
}

func issueCredentialHandler(svc *credential.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req issueReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		opts := credential.IssueOptions{ID: req.ID}
		if req.SubscriptionStart != nil {
			opts.Start = *req.SubscriptionStart
		}
		if req.SubscriptionEnd != nil {
			opts.End = *req.SubscriptionEnd
		}
		if strings.TrimSpace(req.Term) != "" {
			term, err := credential.ParseTerm(req.Term)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			opts.Term = term
		}

		ctx := c.Request().Context()
		id, err := svc.Issue(ctx, model.OwnerData{
			OwnerName:    req.OwnerName,
			ContactName:  req.ContactName,
			ContactPhone: req.ContactPhone,
			BillingInfo:  req.BillingInfo,
		}, opts)
		if err != nil {
			return respondError(c, err)
		}

		d, err := svc.GetDetails(ctx, id)
		if err != nil || d == nil {
			// issued, but the read-back failed; the key is still the caller's
			return c.JSON(http.StatusCreated, map[string]string{"full_key": id})
		}
		return c.JSON(http.StatusCreated, d)
	}
}

func getCredentialHandler(svc *credential.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		d, err := svc.GetDetails(c.Request().Context(), c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		if d == nil {
			return notFound(c)
		}
		return c.JSON(http.StatusOK, d)
	}
}

func updateCredentialHandler(svc *credential.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var p model.Patch
		if err := c.Bind(&p); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		ctx := c.Request().Context()
		id := c.Param("id")

		ok, err := svc.Update(ctx, id, p)
		if err != nil {
			return respondError(c, err)
		}
		if !ok {
			return notFound(c)
		}

		d, err := svc.GetDetails(ctx, id)
		if err != nil {
			return respondError(c, err)
		}
		if d == nil {
			return notFound(c)
		}
		return c.JSON(http.StatusOK, d)
	}
}

func setActiveHandler(svc *credential.Service, active bool) echo.HandlerFunc {
	change := svc.Deactivate
	if active {
		change = svc.Activate
	}

	return func(c echo.Context) error {
		id := c.Param("id")
		ok, err := change(c.Request().Context(), id)
		if err != nil {
			return respondError(c, err)
		}
		if !ok {
			return notFound(c)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"key":    model.KeyPrefix(id, 8),
			"active": active,
		})
	}
}

func purgeCredentialHandler(svc *credential.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ok, err := svc.Purge(c.Request().Context(), c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		if !ok {
			return notFound(c)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
