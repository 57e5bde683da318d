package device

import (
	"context"
	"errors"
)

var ErrTransport = errors.New("device transport failed")

type Track struct {
	ID           string `json:"id"`
	FileName     string `json:"fileName"`
	SequenceName string `json:"sequenceName"`
}

// PlaybackState is a snapshot reported by the relay. A nil *PlaybackState
// means the device could not be reached; all helpers accept a nil receiver.
type PlaybackState struct {
	Running                bool   `json:"running"`
	Track                  *Track `json:"track,omitempty"`
	EstimatedSecondsToPlay int    `json:"estimatedSecondsToPlay"`
}

func (s *PlaybackState) IsPlaying() bool {
	return s != nil && s.Running && s.Track != nil
}

// CurrentTrack returns the reported track regardless of the running flag.
func (s *PlaybackState) CurrentTrack() *Track {
	if s == nil {
		return nil
	}
	return s.Track
}

func (s *PlaybackState) CurrentPlayID() string {
	if !s.IsPlaying() {
		return ""
	}
	return s.Track.ID
}

func (s *PlaybackState) RemainingSeconds() int {
	if s == nil || !s.Running || s.EstimatedSecondsToPlay < 0 {
		return 0
	}
	return s.EstimatedSecondsToPlay
}

type StateFetcher interface {
	FetchState(ctx context.Context) (PlaybackState, error)
}

type Transport interface {
	StateFetcher
	Play(ctx context.Context, id, fileName string, content []byte) error
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
}
