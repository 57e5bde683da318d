package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultListLimit   = 100
	defaultContentType = "audio/midi"
	enqueuedMessage    = "Enqueued"
)

type EnqueueRequest struct {
	CommandID         string
	FileName          string
	ContentType       string
	Content           []byte
	TrackName         string
	DurationSeconds   int
	SubmissionHost    string
	ExternalSessionID string
}

type EnqueueResult struct {
	CommandID      string `json:"enqueuedCommandId"`
	Status         Status `json:"playStatus"`
	Message        string `json:"message"`
	TrackName      string `json:"trackName"`
	DurationToPlay int    `json:"durationToPlay"`
}

type Overview struct {
	Entries            []Entry
	Online             bool
	QueueOpen          bool
	ProcessingPlayback bool
}

type ServiceConfig struct {
	QueueOpen       bool
	RateLimit       int
	RateLimitWindow time.Duration
}

type Service struct {
	commands    CommandStore
	attachments AttachmentStore
	states      StateSource
	estimator   *Estimator
	cfg         ServiceConfig
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(commands CommandStore, attachments AttachmentStore, states StateSource, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 10 * time.Minute
	}
	return &Service{
		commands:    commands,
		attachments: attachments,
		states:      states,
		estimator:   NewEstimator(commands, states),
		cfg:         cfg,
		logger:      logger.With().Str("component", "playback").Logger(),
		now:         time.Now,
	}
}

func (s *Service) Estimator() *Estimator {
	return s.estimator
}

func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	if !s.cfg.QueueOpen {
		return EnqueueResult{}, ErrQueueClosed
	}
	if err := validateEnqueue(req); err != nil {
		return EnqueueResult{}, err
	}

	if s.cfg.RateLimit > 0 {
		since := s.now().Add(-s.cfg.RateLimitWindow)
		count, err := s.commands.CountRecent(ctx, req.ExternalSessionID, req.SubmissionHost, since)
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("count recent commands: %w", err)
		}
		if count >= s.cfg.RateLimit {
			return EnqueueResult{}, fmt.Errorf("%w: %d within %s", ErrRateLimited, count, s.cfg.RateLimitWindow)
		}
	}

	id := strings.TrimSpace(req.CommandID)
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.commands.FindByID(ctx, id); err == nil {
		return EnqueueResult{}, fmt.Errorf("%w: command %s already exists", ErrInvalidRequest, id)
	} else if !errors.Is(err, ErrNotFound) {
		return EnqueueResult{}, err
	}

	now := s.now().UTC()
	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	// estimate before saving so the new command does not count itself
	drain, err := s.estimator.EstimateDrainSeconds(ctx)
	if err != nil {
		return EnqueueResult{}, err
	}

	attachmentID, err := s.attachments.PutAttachment(ctx, Attachment{
		ParentID:    id,
		FileName:    req.FileName,
		ContentType: contentType,
		Content:     req.Content,
		CreatedAt:   now,
	})
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("store attachment: %w", err)
	}

	cmd := Command{
		ID:                id,
		CreatedAt:         now,
		DurationSeconds:   req.DurationSeconds,
		Status:            StatusEnqueued,
		FileName:          req.FileName,
		TrackName:         req.TrackName,
		SubmissionHost:    req.SubmissionHost,
		ExternalSessionID: req.ExternalSessionID,
		AttachmentID:      attachmentID,
	}
	if err := s.commands.Save(ctx, cmd); err != nil {
		if delErr := s.attachments.DeleteAttachment(ctx, attachmentID); delErr != nil {
			s.logger.Warn().Err(delErr).Str("attachment_id", attachmentID).Msg("failed to remove orphaned attachment")
		}
		return EnqueueResult{}, fmt.Errorf("save command: %w", err)
	}

	s.logger.Info().
		Str("command_id", id).
		Str("track", req.TrackName).
		Int("duration", req.DurationSeconds).
		Int("time_to_play", drain).
		Msg("command enqueued")

	return EnqueueResult{
		CommandID:      id,
		Status:         StatusEnqueued,
		Message:        enqueuedMessage,
		TrackName:      req.TrackName,
		DurationToPlay: drain,
	}, nil
}

func (s *Service) Command(ctx context.Context, id string) (*Command, error) {
	cmd, err := s.commands.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func (s *Service) MarkExecuted(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusExecuted, "")
}

func (s *Service) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.transition(ctx, id, StatusFailed, reason)
}

func (s *Service) transition(ctx context.Context, id string, to Status, reason string) error {
	if err := s.commands.UpdateStatus(ctx, id, to, reason); err != nil {
		return err
	}

	s.logger.Info().Str("command_id", id).Str("status", string(to)).Msg("command status changed")
	return nil
}

// TrackContent loads the stored file of a command. A command whose
// attachment is gone is reported as ErrInconsistent.
func (s *Service) TrackContent(ctx context.Context, id string) (*TrackContent, error) {
	cmd, err := s.commands.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	attachment, err := s.attachments.GetAttachment(ctx, cmd.AttachmentID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: cannot find file for play command %s", ErrInconsistent, id)
	}
	if err != nil {
		return nil, err
	}

	fileName := attachment.FileName
	if fileName == "" {
		fileName = cmd.FileName
	}

	return &TrackContent{
		ID:       cmd.ID,
		FileName: fileName,
		Content:  attachment.Content,
	}, nil
}

func (s *Service) Overview(ctx context.Context, statuses []Status, limit int) (Overview, error) {
	if len(statuses) == 0 {
		statuses = []Status{StatusEnqueued}
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	entries, err := s.estimator.ListUpcoming(ctx, statuses, limit)
	if err != nil {
		return Overview{}, err
	}

	state := s.states.State(ctx)
	return Overview{
		Entries:            entries,
		Online:             state != nil,
		QueueOpen:          s.cfg.QueueOpen,
		ProcessingPlayback: state != nil && state.Running,
	}, nil
}

// NextEnqueued returns the oldest command still waiting to be played.
func (s *Service) NextEnqueued(ctx context.Context) (*Command, error) {
	cmds, err := s.commands.FindByStatus(ctx, StatusEnqueued, 1)
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, ErrNotFound
	}
	return &cmds[0], nil
}

func validateEnqueue(req EnqueueRequest) error {
	switch {
	case len(req.Content) == 0:
		return fmt.Errorf("%w: file content is required", ErrInvalidRequest)
	case strings.TrimSpace(req.FileName) == "":
		return fmt.Errorf("%w: file name is required", ErrInvalidRequest)
	case req.DurationSeconds < 0:
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidRequest)
	}
	return nil
}
