package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hxnx/lightshow/internal/device"
)

var (
	ErrNotFound          = errors.New("play command not found")
	ErrInconsistent      = errors.New("play command content is missing")
	ErrInvalidTransition = errors.New("invalid play status transition")
	ErrInvalidRequest    = errors.New("invalid enqueue request")
	ErrRateLimited       = errors.New("too many enqueued commands")
	ErrQueueClosed       = errors.New("queue is closed")
)

type Status string

const (
	StatusEnqueued Status = "ENQUEUED"
	StatusPlaying  Status = "PLAYING"
	StatusExecuted Status = "EXECUTED"
	StatusFailed   Status = "FAILED"
)

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusEnqueued, StatusPlaying, StatusExecuted, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown play status %q", raw)
	}
}

func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed
}

type Command struct {
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"created"`
	DurationSeconds   int       `json:"duration"`
	Status            Status    `json:"playStatus"`
	FileName          string    `json:"fileName"`
	TrackName         string    `json:"trackName"`
	SubmissionHost    string    `json:"submissionHost"`
	ExternalSessionID string    `json:"externalSessionId"`
	AttachmentID      string    `json:"-"`
	Exception         string    `json:"exception,omitempty"`
}

// Transition moves an enqueued command into a terminal status. PLAYING is a
// display-only status and is never persisted.
func (c *Command) Transition(to Status) error {
	if c.Status != StatusEnqueued || !to.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	c.Status = to
	return nil
}

type Attachment struct {
	ID          string
	ParentID    string
	FileName    string
	ContentType string
	Content     []byte
	CreatedAt   time.Time
}

type TrackContent struct {
	ID       string
	FileName string
	Content  []byte
}

type CommandStore interface {
	// FindByStatus returns commands ordered by creation time, oldest first.
	// A limit of zero means no limit.
	FindByStatus(ctx context.Context, status Status, limit int) ([]Command, error)
	FindByID(ctx context.Context, id string) (*Command, error)
	Save(ctx context.Context, cmd Command) error
	// UpdateStatus moves an ENQUEUED command to a terminal status in one
	// step. It fails with ErrInvalidTransition when the command has already
	// left ENQUEUED and with ErrNotFound when it does not exist.
	UpdateStatus(ctx context.Context, id string, to Status, exception string) error
	CountRecent(ctx context.Context, externalSessionID, submissionHost string, since time.Time) (int, error)
}

type AttachmentStore interface {
	PutAttachment(ctx context.Context, a Attachment) (string, error)
	GetAttachment(ctx context.Context, id string) (*Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
}

// StateSource is satisfied by device.StateCache.
type StateSource interface {
	State(ctx context.Context) *device.PlaybackState
}
