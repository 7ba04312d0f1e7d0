package battery

import (
	"context"

	"codeberg.org/mutker/battstat/internal/telemetry"
)

// TelemetryReader is the subset of telemetry.Reader the estimator needs.
type TelemetryReader interface {
	ReadFirst(paths []string) telemetry.Sample
	ReadCommandOutput(ctx context.Context, command string) (string, bool)
}
