package display

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hxnx/lightshow/internal/device"
)

type Action string

const (
	ActionTitle       Action = "TITLE"
	ActionTweet       Action = "TWEET"
	ActionAdvertising Action = "ADVERTISING"
)

type Counters struct {
	Advertising int `json:"advertising"`
	Title       int `json:"title"`
	Tweet       int `json:"tweet"`
}

func (c Counters) exceeds(ceiling int) bool {
	return ceiling > 0 && (c.Advertising > ceiling || c.Title > ceiling || c.Tweet > ceiling)
}

func (c Counters) increment(a Action) Counters {
	switch a {
	case ActionTitle:
		c.Title++
	case ActionTweet:
		c.Tweet++
	default:
		c.Advertising++
	}
	return c
}

// Select decides what the display shows next and returns the counters after
// the choice has been counted. A playing track always wins; otherwise a
// waiting message is shown unless messages are ahead of advertising.
func Select(state *device.PlaybackState, messageAvailable bool, counters Counters, ceiling int) (Action, Counters) {
	if counters.exceeds(ceiling) {
		counters = Counters{}
	}

	action := ActionAdvertising
	switch {
	case state.IsPlaying():
		action = ActionTitle
	case !messageAvailable:
		action = ActionAdvertising
	case counters.Tweet <= counters.Advertising:
		action = ActionTweet
	}

	return action, counters.increment(action)
}

type StateSource interface {
	State(ctx context.Context) *device.PlaybackState
}

type MessageAvailability interface {
	HasUnprocessed(ctx context.Context) (bool, error)
}

// CounterStore persists the rotation counters. Update must apply fn
// atomically with respect to other Update calls.
type CounterStore interface {
	Get(ctx context.Context) (Counters, error)
	Update(ctx context.Context, fn func(Counters) Counters) (Counters, error)
}

type Dispatcher struct {
	states   StateSource
	messages MessageAvailability
	counters CounterStore
	ceiling  int
	logger   zerolog.Logger
}

func NewDispatcher(states StateSource, messages MessageAvailability, counters CounterStore, ceiling int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		states:   states,
		messages: messages,
		counters: counters,
		ceiling:  ceiling,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Next picks the next display action. It never fails; when inputs cannot be
// read it falls back to advertising.
func (d *Dispatcher) Next(ctx context.Context) Action {
	state := d.states.State(ctx)

	available, err := d.messages.HasUnprocessed(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("message availability check failed")
		available = false
	}

	var action Action
	counters, err := d.counters.Update(ctx, func(current Counters) Counters {
		var next Counters
		action, next = Select(state, available, current, d.ceiling)
		return next
	})
	if err != nil {
		d.logger.Warn().Err(err).Msg("display counters unavailable")
		action, _ = Select(state, available, Counters{}, d.ceiling)
		return action
	}

	d.logger.Debug().
		Str("action", string(action)).
		Int("advertising", counters.Advertising).
		Int("title", counters.Title).
		Int("tweet", counters.Tweet).
		Msg("dispatch selected")
	return action
}

func (d *Dispatcher) Counters(ctx context.Context) (Counters, error) {
	return d.counters.Get(ctx)
}
