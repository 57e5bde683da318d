package playback

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hxnx/lightshow/internal/device"
)

const (
	CommandOverheadSeconds   = 5
	TimeBetweenTracksSeconds = 3
)

type EntryKind int

const (
	EntryPersisted EntryKind = iota
	EntryLive
)

func (k EntryKind) String() string {
	if k == EntryLive {
		return "live"
	}
	return "persisted"
}

// Entry is one row of the forecast. Live entries stand for the track the
// device is playing right now; Status is then PLAYING regardless of what is
// persisted.
type Entry struct {
	Kind        EntryKind
	Command     Command
	Track       *device.Track
	Status      Status
	TimeToStart int
	Remaining   int
}

type Estimator struct {
	commands CommandStore
	states   StateSource
}

func NewEstimator(commands CommandStore, states StateSource) *Estimator {
	return &Estimator{commands: commands, states: states}
}

// EstimateDrainSeconds returns how long until everything currently enqueued
// has been played.
func (e *Estimator) EstimateDrainSeconds(ctx context.Context) (int, error) {
	queued, err := e.commands.FindByStatus(ctx, StatusEnqueued, 0)
	if err != nil {
		return 0, fmt.Errorf("load enqueued commands: %w", err)
	}

	total := 0
	for _, cmd := range queued {
		total += max(0, cmd.DurationSeconds) + CommandOverheadSeconds
	}

	if state := e.states.State(ctx); state != nil && state.Running {
		total += max(0, state.EstimatedSecondsToPlay)
	}

	return total, nil
}

// ListUpcoming forecasts start times for commands in the given statuses. It
// is a lower bound: failures and device-side retries are not accounted for.
func (e *Estimator) ListUpcoming(ctx context.Context, statuses []Status, limit int) ([]Entry, error) {
	if limit <= 0 {
		return []Entry{}, nil
	}

	candidates, err := e.candidates(ctx, statuses, limit)
	if err != nil {
		return nil, err
	}

	state := e.states.State(ctx)
	result := make([]Entry, 0, min(limit, len(candidates)+1))
	timeToStart := 0

	live, err := e.liveEntry(ctx, state)
	if err != nil {
		return nil, err
	}
	if live != nil {
		result = append(result, *live)
		timeToStart = live.Remaining + TimeBetweenTracksSeconds
	}

	for _, cmd := range withoutPlaying(candidates, state) {
		if len(result) >= limit {
			break
		}
		duration := max(0, cmd.DurationSeconds)
		result = append(result, Entry{
			Kind:        EntryPersisted,
			Command:     cmd,
			Status:      cmd.Status,
			TimeToStart: timeToStart,
			Remaining:   duration,
		})
		timeToStart += duration + TimeBetweenTracksSeconds
	}

	return result, nil
}

func (e *Estimator) candidates(ctx context.Context, statuses []Status, limit int) ([]Command, error) {
	unique := slices.Clone(statuses)
	slices.Sort(unique)

	var all []Command
	for _, status := range slices.Compact(unique) {
		cmds, err := e.commands.FindByStatus(ctx, status, limit)
		if err != nil {
			return nil, fmt.Errorf("load %s commands: %w", status, err)
		}
		all = append(all, cmds...)
	}

	slices.SortStableFunc(all, func(a, b Command) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return all, nil
}

func (e *Estimator) liveEntry(ctx context.Context, state *device.PlaybackState) (*Entry, error) {
	track := state.CurrentTrack()
	if track == nil || track.ID == "" {
		return nil, nil
	}

	cmd, err := e.commands.FindByID(ctx, track.ID)
	if errors.Is(err, ErrNotFound) {
		// playback started outside the queue
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load playing command: %w", err)
	}

	remaining := max(0, state.EstimatedSecondsToPlay)
	return &Entry{
		Kind:        EntryLive,
		Command:     *cmd,
		Track:       track,
		Status:      StatusPlaying,
		TimeToStart: 0,
		Remaining:   remaining,
	}, nil
}

// withoutPlaying drops the command the device reports as its current track;
// it is already represented by the live entry.
func withoutPlaying(cmds []Command, state *device.PlaybackState) []Command {
	track := state.CurrentTrack()
	if track == nil || track.ID == "" {
		return cmds
	}
	return slices.DeleteFunc(slices.Clone(cmds), func(c Command) bool {
		return c.ID == track.ID
	})
}
