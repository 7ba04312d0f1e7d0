package display

import (
	"context"

	"codeberg.org/mutker/battstat/internal/battery"
)

// Sink receives every known Status.
type Sink interface {
	Update(Status) error
}

// Estimator produces one battery snapshot per call.
type Estimator interface {
	Estimate(ctx context.Context) battery.State
}
