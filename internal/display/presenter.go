package display

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/battstat/internal/battery"
	"codeberg.org/mutker/battstat/internal/errors"
	"codeberg.org/mutker/battstat/internal/events"
	"codeberg.org/mutker/battstat/internal/logger"
)

// Presenter samples the estimator and pushes the rendered status to its
// sinks.
type Presenter struct {
	mu        sync.RWMutex
	estimator Estimator
	sinks     []Sink
	now       func() time.Time
}

func NewPresenter(estimator Estimator, sinks ...Sink) *Presenter {
	return &Presenter{
		estimator: estimator,
		sinks:     sinks,
		now:       time.Now,
	}
}

// SetEstimator swaps the estimator used by subsequent refreshes.
func (p *Presenter) SetEstimator(estimator Estimator) {
	p.mu.Lock()
	p.estimator = estimator
	p.mu.Unlock()
}

// Refresh takes one sample. When the state is unknown no sink is touched
// and ok is false. Sink failures are logged and do not stop the others.
func (p *Presenter) Refresh(ctx context.Context) (Status, bool) {
	p.mu.RLock()
	estimator := p.estimator
	p.mu.RUnlock()

	state := estimator.Estimate(ctx)
	text, ok := battery.Format(state)
	if !ok {
		return Status{}, false
	}

	st := Status{State: state, Text: text, Time: p.now()}
	for _, sink := range p.sinks {
		if err := sink.Update(st); err != nil {
			var appErr errors.Error
			if !errors.As(err, &appErr) {
				appErr = errors.New().Wrap(errors.ErrSinkUpdate, err)
			}
			logger.ErrorWithCode(appErr).Msg("Failed to update sink")
		}
	}

	logger.Debug().Str("text", text).Bool("fast_charging", state.FastCharging).Msg("Status updated")

	return st, true
}

// Listen subscribes to hub, refreshes once and then on every event until
// ctx is done.
func (p *Presenter) Listen(ctx context.Context, hub *events.Hub) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	logger.Debug().Str("trigger", events.Startup).Msg("Refreshing battery status")
	p.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			logger.Debug().
				Str("trigger", ev.Name).
				Dur("queued", time.Since(ev.Time)).
				Msg("Refreshing battery status")
			p.Refresh(ctx)
		}
	}
}
