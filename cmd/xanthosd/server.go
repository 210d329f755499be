// server.go: HTTP surface of the daemon
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/agilira/xanthos"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type server struct {
	facade  *xanthos.Facade
	backend *backend
	logger  xanthos.Logger
}

// dataResponse is the envelope of data endpoints.
type dataResponse struct {
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
	Cached bool            `json:"cached,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// newEcho builds the router. metrics may be nil.
func newEcho(s *server, metrics http.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	v1 := e.Group("/v1")
	v1.GET("/data/:key", s.getData)
	v1.POST("/critical/:key", s.critical)
	v1.POST("/prefetch/:key", s.prefetch)
	v1.DELETE("/cache", s.invalidate)
	v1.GET("/stats", s.stats)

	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
	return e
}

// getData serves GET /v1/data/:key. ?stale=1 selects stale-while-revalidate
// and reports whether a cached copy was served; ?priority= is high, medium
// or low.
func (s *server) getData(c echo.Context) error {
	key := c.Param("key")
	var opts []xanthos.Option
	if p := c.QueryParam("priority"); p != "" {
		prio, ok := xanthos.ParsePriority(p)
		if !ok || prio == xanthos.PriorityCritical {
			return echo.NewHTTPError(http.StatusBadRequest, "priority must be high, medium or low")
		}
		opts = append(opts, xanthos.WithPriority(prio))
	}

	ctx := c.Request().Context()
	op := s.backend.get(key)

	if c.QueryParam("stale") == "1" {
		cached := false
		opts = append(opts, xanthos.WithOnStale(func(interface{}) { cached = true }))
		v, err := s.facade.FetchWithStale(ctx, key, op, opts...)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, dataResponse{Key: key, Value: rawJSON(v), Cached: cached})
	}

	v, err := s.facade.Fetch(ctx, key, op, opts...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dataResponse{Key: key, Value: rawJSON(v)})
}

// critical serves POST /v1/critical/:key. The request body is forwarded to
// the backend; ?invalidate= may be repeated.
func (s *server) critical(c echo.Context) error {
	key := c.Param("key")
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	var opts []xanthos.Option
	if patterns := c.QueryParams()["invalidate"]; len(patterns) > 0 {
		opts = append(opts, xanthos.WithInvalidate(patterns...))
	}
	v, err := s.facade.ExecuteCritical(c.Request().Context(), key, s.backend.post(key, body), opts...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dataResponse{Key: key, Value: rawJSON(v)})
}

func (s *server) prefetch(c echo.Context) error {
	key := c.Param("key")
	s.facade.Prefetch(key, s.backend.get(key))
	return c.NoContent(http.StatusAccepted)
}

// invalidate serves DELETE /v1/cache?pattern=... or ?tag=...; with neither
// the whole cache is dropped.
func (s *server) invalidate(c echo.Context) error {
	ctx := c.Request().Context()
	pattern, tag := c.QueryParam("pattern"), c.QueryParam("tag")
	switch {
	case pattern != "" && tag != "":
		return echo.NewHTTPError(http.StatusBadRequest, "pattern and tag are exclusive")
	case pattern != "":
		if err := s.facade.InvalidateCache(ctx, pattern); err != nil {
			return err
		}
	case tag != "":
		n := s.facade.InvalidateTag(ctx, tag)
		return c.JSON(http.StatusOK, map[string]int{"removed": n})
	default:
		s.facade.ClearCache(ctx)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *server) stats(c echo.Context) error {
	st := s.facade.Stats()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"cache_size":          st.CacheSize,
		"max_cache_size":      st.MaxCacheSize,
		"queue_depth":         st.QueueDepth,
		"running":             st.Running,
		"pending_dedup_count": st.PendingDedupCount,
		"is_processing":       st.IsProcessing,
		"is_paused":           st.IsPaused,
		"hits":                st.Cache.Hits,
		"misses":              st.Cache.Misses,
		"promotions":          st.Cache.Promotions,
		"evictions":           st.Cache.Evictions,
		"hit_ratio":           st.Cache.HitRatio(),
	})
}

// errorHandler maps coded errors to HTTP statuses.
func (s *server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusBadGateway
	var he *echo.HTTPError
	switch {
	case asHTTPError(err, &he):
		status = he.Code
	case xanthos.IsEmptyKey(err):
		status = http.StatusBadRequest
	default:
		switch xanthos.GetErrorCode(err) {
		case xanthos.ErrCodeInvalidPattern, xanthos.ErrCodeInvalidPriority, xanthos.ErrCodeInvalidOperation:
			status = http.StatusBadRequest
		case xanthos.ErrCodeTimeout:
			status = http.StatusGatewayTimeout
		case xanthos.ErrCodeClosed, xanthos.ErrCodeCancelled:
			status = http.StatusServiceUnavailable
		}
		if code, ok := backendStatus(err); ok && code < http.StatusInternalServerError {
			status = code
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "path", c.Path(), "status", status, "error", err)
	}
	msg := err.Error()
	if he != nil {
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	_ = c.JSON(status, errorResponse{Error: msg, Code: string(xanthos.GetErrorCode(err))})
}

func asHTTPError(err error, target **echo.HTTPError) bool {
	he, ok := err.(*echo.HTTPError)
	if ok {
		*target = he
	}
	return ok
}

// rawJSON renders a cached value. Backend values are already JSON; values
// set by other means are marshalled.
func rawJSON(v interface{}) json.RawMessage {
	switch x := v.(type) {
	case json.RawMessage:
		return x
	case nil:
		return json.RawMessage("null")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
