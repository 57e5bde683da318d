package app

import (
	"context"
	"time"
)

const statusReportInterval = 60 * time.Second

func (a *App) startStatusReporter() {
	if a.statusStop != nil {
		return
	}
	stop := make(chan struct{})
	a.statusStop = stop
	go func() {
		ticker := time.NewTicker(statusReportInterval)
		defer ticker.Stop()

		a.reportStatus()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.reportStatus()
			}
		}
	}()
}

func (a *App) stopStatusReporter() {
	if a.statusStop == nil {
		return
	}
	close(a.statusStop)
	a.statusStop = nil
}

func (a *App) reportStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state := a.states.State(ctx)
	drain, err := a.playback.Estimator().EstimateDrainSeconds(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to estimate queue drain")
		return
	}

	event := a.logger.Info().
		Bool("online", state != nil).
		Bool("playing", state.IsPlaying()).
		Int("drain_seconds", drain).
		Int("remaining_seconds", a.states.RemainingTime(ctx)).
		Int("cached_windows", a.states.Len())
	if track := state.CurrentTrack(); track != nil {
		event = event.Str("track", track.FileName)
	}
	event.Msg("status")
}
