package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hxnx/lightshow/internal/display"
)

func (s *Server) deviceState(c echo.Context) error {
	state := s.deps.States.State(c.Request().Context())
	if state == nil {
		return s.fail(c, errDeviceOffline)
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) devicePower(c echo.Context) error {
	ctx := c.Request().Context()

	var err error
	switch mode := strings.ToLower(c.Param("mode")); mode {
	case "on":
		err = s.deps.Power.PowerOn(ctx)
	case "off":
		err = s.deps.Power.PowerOff(ctx)
	default:
		return badRequest(c, "mode must be on or off")
	}
	if err != nil {
		return s.fail(c, err)
	}

	s.logger.Info().Str("mode", c.Param("mode")).Msg("device power switched")
	return c.JSON(http.StatusOK, echo.Map{"power": strings.ToLower(c.Param("mode"))})
}

func (s *Server) displayNext(c echo.Context) error {
	action := s.deps.Dispatcher.Next(c.Request().Context())
	return c.JSON(http.StatusOK, echo.Map{"action": action})
}

func (s *Server) displayCounters(c echo.Context) error {
	counters, err := s.deps.Dispatcher.Counters(c.Request().Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("display counters unavailable")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"message": "display counters unavailable"})
	}
	return c.JSON(http.StatusOK, counters)
}

func (s *Server) displayTitle(c echo.Context) error {
	title, ok := s.deps.Content.CurrentTitle(c.Request().Context())
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, echo.Map{"title": title})
}

type messageResponse struct {
	*display.SocialMessage
	Text string `json:"text"`
}

func (s *Server) displayMessage(c echo.Context) error {
	msg, err := s.deps.Content.FirstUnprocessed(c.Request().Context())
	if err != nil {
		if !errors.Is(err, display.ErrNoMessage) {
			s.logger.Warn().Err(err).Msg("load social message failed")
		}
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, messageResponse{SocialMessage: msg, Text: display.MessageText(msg)})
}

func (s *Server) takeMessage(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return badRequest(c, "message id must be an integer")
	}

	msg, err := s.deps.Content.TakeMessage(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{SocialMessage: msg, Text: display.MessageText(msg)})
}

func (s *Server) addMessage(c echo.Context) error {
	var body struct {
		Sender  string `json:"sender"`
		Message string `json:"message"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(body.Message) == "" {
		return badRequest(c, "message is required")
	}

	msg, err := s.deps.Messages.AddMessage(c.Request().Context(), strings.TrimSpace(body.Sender), body.Message, s.now())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (s *Server) displayAdvertising(c echo.Context) error {
	ad, err := s.deps.Content.Advertising(c.Request().Context())
	if err != nil {
		if !errors.Is(err, display.ErrNoAdvertising) {
			s.logger.Warn().Err(err).Msg("load advertising failed")
		}
		return c.NoContent(http.StatusNoContent)
	}

	c.Response().Header().Set("X-Advertising-Name", ad.Name)
	return c.Blob(http.StatusOK, http.DetectContentType(ad.Content), ad.Content)
}
