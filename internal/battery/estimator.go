// Package battery turns raw telemetry into a BatteryState: a percentage
// and a fast/normal charging classification.
package battery

import (
	"context"
	"math"

	"codeberg.org/mutker/battstat/internal/errors"
	"codeberg.org/mutker/battstat/internal/logger"
)

const (
	DefaultFastChargeThreshold int64 = 800000
	DefaultDumpCommand               = "dumpsys battery"

	powerSupplyDir = "/sys/class/power_supply/battery/"
)

// Sources lists candidate paths per quantity, tried in order.
type Sources struct {
	ChargeCounter    []string
	ChargeFull       []string
	ChargeFullDesign []string
	CurrentNow       []string
}

type Options struct {
	Sources     Sources
	DumpCommand string
	// FastChargeThreshold is compared against |current_now| in the
	// source's native micro-units.
	FastChargeThreshold int64
}

func DefaultOptions() Options {
	return Options{
		Sources: Sources{
			ChargeCounter:    []string{powerSupplyDir + "charge_counter"},
			ChargeFull:       []string{powerSupplyDir + "charge_full"},
			ChargeFullDesign: []string{powerSupplyDir + "charge_full_design"},
			CurrentNow:       []string{powerSupplyDir + "current_now"},
		},
		DumpCommand:         DefaultDumpCommand,
		FastChargeThreshold: DefaultFastChargeThreshold,
	}
}

// Estimator samples telemetry on every call. It keeps no state between
// calls and is safe for concurrent use.
type Estimator struct {
	reader TelemetryReader
	opts   Options
}

// NewEstimator returns an Estimator. A non-positive threshold selects
// DefaultFastChargeThreshold.
func NewEstimator(reader TelemetryReader, opts Options) *Estimator {
	if opts.FastChargeThreshold <= 0 {
		opts.FastChargeThreshold = DefaultFastChargeThreshold
	}

	return &Estimator{reader: reader, opts: opts}
}

func (e *Estimator) Options() Options {
	return e.opts
}

// Estimate takes one snapshot. It never fails: when no percentage can be
// determined it returns Unknown.
func (e *Estimator) Estimate(ctx context.Context) State {
	pass := &pass{estimator: e, ctx: ctx}

	pct, src := pass.percentage()
	if src == SourceUnknown {
		logger.DebugWithCode(errors.New().New(errors.ErrTotalUnknown)).Msg("Battery state unknown")
		return Unknown
	}

	state := State{
		Percentage:   pct,
		FastCharging: pass.fastCharging(),
		Source:       src,
	}

	logger.Debug().
		Float64("percentage", state.Percentage).
		Bool("fast_charging", state.FastCharging).
		Stringer("source", state.Source).
		Msg("Battery state estimated")

	return state
}

// pass holds what one Estimate call has read so far. The dump command runs
// at most once per pass.
type pass struct {
	estimator *Estimator
	ctx       context.Context

	dumpRead bool
	dump     string
	dumpOK   bool
}

func (p *pass) percentage() (float64, Source) {
	reader, src := p.estimator.reader, p.estimator.opts.Sources

	counter := reader.ReadFirst(src.ChargeCounter)
	if !counter.Present {
		dump, ok := p.readDump()
		if !ok {
			return 0, SourceUnknown
		}
		level, ok := ParseDumpLevel(dump)
		if !ok {
			return 0, SourceUnknown
		}
		return float64(level), SourceLevelFallback
	}

	full := reader.ReadFirst(src.ChargeFull)
	if !full.Present {
		full = reader.ReadFirst(src.ChargeFullDesign)
	}
	// A counter without a denominator is not retried through the dump.
	if !full.Present {
		logger.Debug().Str("counter", counter.Source).Msg("No full capacity source for charge counter")
		return 0, SourceUnknown
	}

	pct := counter.Value / full.Value * 100.0
	if math.IsNaN(pct) || math.IsInf(pct, 0) || pct < 0 {
		logger.Debug().
			Float64("counter", counter.Value).
			Float64("full", full.Value).
			Msg("Charge ratio out of range")
		return 0, SourceUnknown
	}

	return pct, SourceCounterRatio
}

func (p *pass) fastCharging() bool {
	current := p.estimator.reader.ReadFirst(p.estimator.opts.Sources.CurrentNow)
	if current.Present {
		return math.Abs(current.Value) >= float64(p.estimator.opts.FastChargeThreshold)
	}

	dump, ok := p.readDump()
	if !ok {
		return false
	}

	return HasFastHint(dump)
}

func (p *pass) readDump() (string, bool) {
	if !p.dumpRead {
		p.dump, p.dumpOK = p.estimator.reader.ReadCommandOutput(p.ctx, p.estimator.opts.DumpCommand)
		p.dumpRead = true
	}

	return p.dump, p.dumpOK
}
