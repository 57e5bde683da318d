package httpapi

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hxnx/lightshow/internal/playback"
)

type queueEntry struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Status      playback.Status `json:"playStatus"`
	FileName    string          `json:"fileName"`
	TrackName   string          `json:"trackName,omitempty"`
	Duration    int             `json:"duration"`
	Created     *time.Time      `json:"created,omitempty"`
	TimeToStart int             `json:"timeToStart"`
	Remaining   int             `json:"remaining"`
}

type queueResponse struct {
	Online             bool         `json:"online"`
	QueueOpen          bool         `json:"queueOpen"`
	ProcessingPlayback bool         `json:"processingPlayback"`
	Commands           []queueEntry `json:"commands"`
}

func toQueueEntry(e playback.Entry) queueEntry {
	out := queueEntry{
		ID:          e.Command.ID,
		Kind:        e.Kind.String(),
		Status:      e.Status,
		FileName:    e.Command.FileName,
		TrackName:   e.Command.TrackName,
		Duration:    e.Command.DurationSeconds,
		TimeToStart: e.TimeToStart,
		Remaining:   e.Remaining,
	}
	if !e.Command.CreatedAt.IsZero() {
		created := e.Command.CreatedAt
		out.Created = &created
	}
	if e.Track != nil {
		out.ID = e.Track.ID
		if e.Track.FileName != "" {
			out.FileName = e.Track.FileName
		}
	}
	return out
}

func parseStatuses(raw string) ([]playback.Status, error) {
	var statuses []playback.Status
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		status, err := playback.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *Server) listQueue(c echo.Context) error {
	statuses, err := parseStatuses(c.QueryParam("status"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	limit := playback.DefaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return badRequest(c, "limit must be a positive integer")
		}
	}

	overview, err := s.deps.Playback.Overview(c.Request().Context(), statuses, limit)
	if err != nil {
		return s.fail(c, err)
	}

	resp := queueResponse{
		Online:             overview.Online,
		QueueOpen:          overview.QueueOpen,
		ProcessingPlayback: overview.ProcessingPlayback,
		Commands:           make([]queueEntry, 0, len(overview.Entries)),
	}
	for _, e := range overview.Entries {
		resp.Commands = append(resp.Commands, toQueueEntry(e))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) queueETA(c echo.Context) error {
	seconds, err := s.deps.Playback.Estimator().EstimateDrainSeconds(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"seconds": seconds})
}

func (s *Server) enqueue(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	if fh.Size > s.deps.MaxUploadBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"message": fmt.Sprintf("file exceeds %d bytes", s.deps.MaxUploadBytes),
		})
	}

	duration, err := strconv.Atoi(strings.TrimSpace(c.FormValue("duration")))
	if err != nil {
		return badRequest(c, "duration must be an integer number of seconds")
	}

	f, err := fh.Open()
	if err != nil {
		return s.fail(c, fmt.Errorf("open upload: %w", err))
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, s.deps.MaxUploadBytes+1))
	if err != nil {
		return s.fail(c, fmt.Errorf("read upload: %w", err))
	}
	if int64(len(content)) > s.deps.MaxUploadBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"message": fmt.Sprintf("file exceeds %d bytes", s.deps.MaxUploadBytes),
		})
	}

	contentType := fh.Header.Get(echo.HeaderContentType)
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}

	result, err := s.deps.Playback.Enqueue(c.Request().Context(), playback.EnqueueRequest{
		CommandID:         c.FormValue("commandId"),
		FileName:          fh.Filename,
		ContentType:       contentType,
		Content:           content,
		TrackName:         c.FormValue("trackName"),
		DurationSeconds:   duration,
		SubmissionHost:    c.RealIP(),
		ExternalSessionID: c.FormValue("externalSessionId"),
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *Server) getCommand(c echo.Context) error {
	cmd, err := s.deps.Playback.Command(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, cmd)
}

func (s *Server) getCommandContent(c echo.Context) error {
	content, err := s.deps.Playback.TrackContent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}

	c.Response().Header().Set("X-Request-Id", content.ID)
	c.Response().Header().Set("X-Request-FileName", content.FileName)
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": content.FileName}))
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, content.Content)
}

func (s *Server) markExecuted(c echo.Context) error {
	id := c.Param("id")
	if err := s.deps.Playback.MarkExecuted(c.Request().Context(), id); err != nil {
		return s.fail(c, err)
	}
	return s.getCommand(c)
}

func (s *Server) markFailed(c echo.Context) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid body")
		}
	}

	id := c.Param("id")
	if err := s.deps.Playback.MarkFailed(c.Request().Context(), id, body.Reason); err != nil {
		return s.fail(c, err)
	}
	return s.getCommand(c)
}
