package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hxnx/lightshow/internal/device"
	"github.com/hxnx/lightshow/internal/display"
	"github.com/hxnx/lightshow/internal/playback"
)

var errDeviceOffline = errors.New("device offline")

func statusFor(err error) int {
	switch {
	case errors.Is(err, playback.ErrNotFound),
		errors.Is(err, display.ErrNoMessage),
		errors.Is(err, display.ErrNoAdvertising):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, playback.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, playback.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, playback.ErrQueueClosed),
		errors.Is(err, device.ErrTransport),
		errors.Is(err, errDeviceOffline):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c echo.Context, err error) error {
	code := statusFor(err)
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("request failed")
	}
	return c.JSON(code, echo.Map{"message": err.Error()})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"message": message})
}
