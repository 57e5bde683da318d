package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/hxnx/lightshow/internal/display"
	"github.com/hxnx/lightshow/internal/playback"
)

const defaultMaxUploadBytes = 1 << 20

// PowerSwitch toggles the light controller's power port.
type PowerSwitch interface {
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
}

// MessageSink accepts social messages for the display.
type MessageSink interface {
	AddMessage(ctx context.Context, sender, message string, receivedAt time.Time) (*display.SocialMessage, error)
}

type Deps struct {
	Playback   *playback.Service
	States     playback.StateSource
	Power      PowerSwitch
	Dispatcher *display.Dispatcher
	Content    *display.Content
	Messages   MessageSink

	AdminSecret    string
	MaxUploadBytes int64
}

type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

func New(deps Deps, logger zerolog.Logger) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}

	s := &Server{
		echo:   echo.New(),
		deps:   deps,
		logger: logger.With().Str("component", "http").Logger(),
		now:    time.Now,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	// the submission host feeds the rate limit, so forwarding headers are ignored
	s.echo.IPExtractor = echo.ExtractIPDirect()

	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				event = s.logger.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	admin := requireAdmin([]byte(s.deps.AdminSecret))

	api := s.echo.Group("/api")
	api.GET("/health", s.health)

	queue := api.Group("/queue")
	queue.GET("", s.listQueue)
	queue.GET("/eta", s.queueETA)
	queue.POST("", s.enqueue)

	commands := api.Group("/commands")
	commands.GET("/:id", s.getCommand)
	commands.GET("/:id/content", s.getCommandContent)
	commands.PUT("/:id/executed", s.markExecuted, admin)
	commands.PUT("/:id/failed", s.markFailed, admin)

	dev := api.Group("/device")
	dev.GET("/state", s.deviceState)
	dev.POST("/power/:mode", s.devicePower, admin)

	disp := api.Group("/display")
	disp.GET("/next", s.displayNext)
	disp.GET("/counters", s.displayCounters)
	disp.GET("/title", s.displayTitle)
	disp.GET("/message", s.displayMessage)
	disp.POST("/messages", s.addMessage, admin)
	disp.POST("/messages/:id/take", s.takeMessage)
	disp.GET("/advertising", s.displayAdvertising)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
