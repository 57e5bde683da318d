package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultWorkerInterval = 2 * time.Second
	playTimeout           = 10 * time.Second
)

// Player is the part of the device transport the worker needs.
type Player interface {
	Play(ctx context.Context, id, fileName string, content []byte) error
}

// Worker feeds enqueued commands to the device whenever it is idle.
type Worker struct {
	service  *Service
	states   StateSource
	player   Player
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

func NewWorker(service *Service, states StateSource, player Player, interval time.Duration, logger zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultWorkerInterval
	}
	return &Worker{
		service:  service,
		states:   states,
		player:   player,
		interval: interval,
		logger:   logger.With().Str("component", "playback_worker").Logger(),
	}
}

func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopCh != nil {
		return
	}
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})

	go w.loop(w.stopCh, w.done)
}

func (w *Worker) Stop() {
	w.mu.Lock()
	stopCh, done := w.stopCh, w.done
	w.stopCh, w.done = nil, nil
	w.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done
}

func (w *Worker) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn().Err(err).Msg("playback tick failed")
			}
		}
	}
}

// Tick sends at most one command to the device. It reports whether a
// command was dispatched.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	state := w.states.State(ctx)
	if state == nil || state.Running {
		return false, nil
	}

	cmd, err := w.service.NextEnqueued(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	content, err := w.service.TrackContent(ctx, cmd.ID)
	if err != nil {
		// store outages leave the command queued for the next tick
		if !errors.Is(err, ErrInconsistent) {
			return false, err
		}
		if markErr := w.service.MarkFailed(ctx, cmd.ID, err.Error()); markErr != nil {
			return false, errors.Join(err, markErr)
		}
		return false, err
	}

	playCtx, cancel := context.WithTimeout(ctx, playTimeout)
	defer cancel()

	if err := w.player.Play(playCtx, content.ID, content.FileName, content.Content); err != nil {
		w.logger.Warn().Err(err).Str("command_id", cmd.ID).Msg("device rejected command")
		if markErr := w.service.MarkFailed(ctx, cmd.ID, err.Error()); markErr != nil {
			return false, errors.Join(err, markErr)
		}
		return false, nil
	}

	if err := w.service.MarkExecuted(ctx, cmd.ID); err != nil {
		return true, err
	}

	w.logger.Info().Str("command_id", cmd.ID).Str("file", content.FileName).Msg("command sent to device")
	return true, nil
}
