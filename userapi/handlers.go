package userapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/unkn0wn-root/respcache"
)

// ErrorDetail is the error body shape: {"detail": "..."}.
type ErrorDetail struct {
	Detail string `json:"detail"`
}

type Handlers struct {
	fetch respcache.Fetcher[User]
}

// NewHandlers wires the store lookup through the cache-aside wrapper.
// The cache is injected, not constructed per request; one shared client
// serves all requests.
func NewHandlers(store Store, cache respcache.Cache[User]) *Handlers {
	return &Handlers{
		fetch: cache.Wrap(func(ctx context.Context, id string) (User, error) {
			n, err := strconv.Atoi(id)
			if err != nil {
				return User{}, ErrUserNotFound
			}
			return store.User(ctx, n)
		}),
	}
}

// Register mounts the routes on e.
func (h *Handlers) Register(e *echo.Echo) {
	e.GET("/_health", h.Health)
	e.GET("/records/:id", h.GetRecord)
}

type HealthStatus struct {
	Status string `json:"status"`
}

func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{Status: "ok"})
}

// GetRecord serves GET /records/:id.
//
//	200 {id,name,email,age}           - record found (cache hit or miss)
//	400 {"detail":"Invalid record id"} - non-integer id
//	404 {"detail":"User not found"}    - no record for id
//	500 {"detail":"Error caching data: <cause>"} - cache write failed
func (h *Handlers) GetRecord(c echo.Context) error {
	id := c.Param("id")
	if _, err := strconv.Atoi(id); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorDetail{Detail: "Invalid record id"})
	}

	u, err := h.fetch(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return c.JSON(http.StatusNotFound, ErrorDetail{Detail: "User not found"})
		}
		var we *respcache.WriteError
		if errors.As(err, &we) {
			slog.Error("cache write failed", "id", id, "err", we.Err)
			return c.JSON(http.StatusInternalServerError,
				ErrorDetail{Detail: fmt.Sprintf("Error caching data: %v", we.Err)})
		}
		slog.Error("record lookup failed", "id", id, "err", err)
		return c.JSON(http.StatusInternalServerError, ErrorDetail{Detail: "Internal server error"})
	}

	return c.JSON(http.StatusOK, u)
}
