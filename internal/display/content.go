package display

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hxnx/lightshow/internal/device"
)

var (
	ErrNoMessage     = errors.New("no social message")
	ErrNoAdvertising = errors.New("no advertising asset")
)

type SocialMessage struct {
	ID         int64     `json:"id"`
	Sender     string    `json:"sender"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received"`
	Processed  bool      `json:"processed"`
}

type SocialStore interface {
	MessageAvailability
	// FirstUnprocessed returns the oldest unprocessed message or ErrNoMessage.
	FirstUnprocessed(ctx context.Context) (*SocialMessage, error)
	// MarkProcessed flags a message as shown and returns it, or ErrNoMessage.
	MarkProcessed(ctx context.Context, id int64) (*SocialMessage, error)
}

type Advertisement struct {
	Name    string
	Content []byte
}

type Content struct {
	states   StateSource
	messages SocialStore
	adDir    string
	adPrefix string
	logger   zerolog.Logger
}

func NewContent(states StateSource, messages SocialStore, adDir, adPrefix string, logger zerolog.Logger) *Content {
	return &Content{
		states:   states,
		messages: messages,
		adDir:    adDir,
		adPrefix: adPrefix,
		logger:   logger.With().Str("component", "display_content").Logger(),
	}
}

// CurrentTitle returns the text for the title panel, or false when nothing
// is playing.
func (c *Content) CurrentTitle(ctx context.Context) (string, bool) {
	title := TitleText(c.states.State(ctx))
	if title == "" {
		return "", false
	}
	c.logger.Info().Str("title", title).Msg("current title")
	return title, true
}

func (c *Content) FirstUnprocessed(ctx context.Context) (*SocialMessage, error) {
	return c.messages.FirstUnprocessed(ctx)
}

func (c *Content) TakeMessage(ctx context.Context, id int64) (*SocialMessage, error) {
	msg, err := c.messages.MarkProcessed(ctx, id)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Int64("message_id", id).Str("sender", msg.Sender).Msg("message taken for display")
	return msg, nil
}

// Advertising picks a random asset whose file name starts with the
// configured prefix.
func (c *Content) Advertising(context.Context) (*Advertisement, error) {
	files, err := listAdvertising(c.adDir, c.adPrefix)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoAdvertising
	}

	path := files[rand.Intn(len(files))]
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read advertising %s: %w", path, err)
	}

	c.logger.Info().Str("file", path).Msg("advertising")
	return &Advertisement{Name: filepath.Base(path), Content: data}, nil
}

func listAdvertising(dir, prefix string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), prefix) {
			files = append(files, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoAdvertising
	}
	if err != nil {
		return nil, err
	}
	return files, nil
}

// TitleText formats the playing track. The sequence name wins when both
// names are known; a remaining time adds an " (m:ss)" suffix.
func TitleText(state *device.PlaybackState) string {
	if !state.IsPlaying() {
		return ""
	}

	track := state.Track
	fileName := strings.TrimSpace(track.FileName)
	sequenceName := strings.TrimSpace(track.SequenceName)

	var title string
	switch {
	case sequenceName != "":
		title = sequenceName
	case fileName != "":
		title = fileName
	default:
		return ""
	}

	if state.EstimatedSecondsToPlay > 0 {
		title += " (" + formatRemaining(state.EstimatedSecondsToPlay) + ")"
	}
	return title
}

func formatRemaining(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// MessageText renders a message on a single line.
func MessageText(m *SocialMessage) string {
	if m == nil {
		return ""
	}
	text := m.Sender + ": " + m.Message
	text = strings.NewReplacer("\r", " ", "\n", " ").Replace(text)
	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}
	return text
}
