package battery_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/battstat/internal/battery"
	"codeberg.org/mutker/battstat/internal/telemetry"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dir = "/sys/class/power_supply/battery/"

// fakeReader serves numeric values by path and a canned dump.
type fakeReader struct {
	values map[string]float64
	dump   *string

	mu        sync.Mutex
	dumpCalls int
}

func (f *fakeReader) ReadFirst(paths []string) telemetry.Sample {
	for _, p := range paths {
		if v, ok := f.values[p]; ok {
			return telemetry.Sample{Source: p, Value: v, Present: true}
		}
	}
	if len(paths) == 0 {
		return telemetry.Sample{}
	}

	return telemetry.Sample{Source: paths[0]}
}

func (f *fakeReader) ReadCommandOutput(_ context.Context, _ string) (string, bool) {
	f.mu.Lock()
	f.dumpCalls++
	f.mu.Unlock()

	if f.dump == nil {
		return "", false
	}

	return *f.dump, true
}

func dumpText(s string) *string {
	return &s
}

func estimate(r *fakeReader) battery.State {
	return battery.NewEstimator(r, battery.DefaultOptions()).Estimate(context.Background())
}

func TestEstimatePercentageFromCounterRatio(t *testing.T) {
	pairs := []struct {
		counter, full float64
	}{
		{2500000, 5000000},
		{1, 3},
		{4999999, 5000000},
		{5100000, 5000000},
		{0, 5000000},
	}
	for _, p := range pairs {
		r := &fakeReader{values: map[string]float64{
			dir + "charge_counter": p.counter,
			dir + "charge_full":    p.full,
		}}

		state := estimate(r)
		require.True(t, state.Known())
		assert.Equal(t, battery.SourceCounterRatio, state.Source)
		assert.Equal(t, (p.counter/p.full)*100, state.Percentage, "Expected unrounded ratio for %v/%v", p.counter, p.full)
	}
}

func TestEstimateFullDesignFallback(t *testing.T) {
	r := &fakeReader{values: map[string]float64{
		dir + "charge_counter":     3000000,
		dir + "charge_full_design": 4000000,
	}}

	state := estimate(r)
	assert.Equal(t, 75.0, state.Percentage)
	assert.Equal(t, battery.SourceCounterRatio, state.Source)
}

func TestEstimateFullPreferredOverDesign(t *testing.T) {
	r := &fakeReader{values: map[string]float64{
		dir + "charge_counter":     3000000,
		dir + "charge_full":        6000000,
		dir + "charge_full_design": 4000000,
	}}

	assert.Equal(t, 50.0, estimate(r).Percentage)
}

func TestEstimateLevelFallback(t *testing.T) {
	r := &fakeReader{dump: dumpText("Current Battery Service state:\n  AC powered: true\n  level: 42\n  scale: 100\n")}

	state := estimate(r)
	require.True(t, state.Known())
	assert.Equal(t, 42.0, state.Percentage)
	assert.Equal(t, battery.SourceLevelFallback, state.Source)
	assert.False(t, state.FastCharging)
	assert.Equal(t, 1, r.dumpCalls, "Expected one dump per estimation pass")
}

func TestEstimateLevelFallbackStillClassifies(t *testing.T) {
	r := &fakeReader{
		values: map[string]float64{dir + "current_now": -1200000},
		dump:   dumpText("  level: 42\n"),
	}

	state := estimate(r)
	assert.Equal(t, 42.0, state.Percentage)
	assert.True(t, state.FastCharging)
}

func TestEstimateUnknown(t *testing.T) {
	t.Run("no counter and no dump", func(t *testing.T) {
		r := &fakeReader{values: map[string]float64{dir + "current_now": 900000}}

		state := estimate(r)
		assert.Equal(t, battery.Unknown, state)
		assert.False(t, state.Known())
		assert.False(t, state.FastCharging, "Expected no classification for unknown state")
	})

	t.Run("no counter and dump without level", func(t *testing.T) {
		r := &fakeReader{dump: dumpText("status: Fast charging\n")}

		assert.Equal(t, battery.Unknown, estimate(r))
	})

	t.Run("counter without denominator is not retried via dump", func(t *testing.T) {
		r := &fakeReader{
			values: map[string]float64{dir + "charge_counter": 2500000},
			dump:   dumpText("  level: 50\n"),
		}

		assert.Equal(t, battery.Unknown, estimate(r))
		assert.Zero(t, r.dumpCalls)
	})

	t.Run("zero denominator", func(t *testing.T) {
		r := &fakeReader{values: map[string]float64{
			dir + "charge_counter": 0,
			dir + "charge_full":    0,
		}}

		assert.Equal(t, battery.Unknown, estimate(r), "Expected NaN ratio to be unknown, not 0 or NaN")
	})

	t.Run("negative ratio", func(t *testing.T) {
		r := &fakeReader{values: map[string]float64{
			dir + "charge_counter": -10,
			dir + "charge_full":    100,
		}}

		assert.Equal(t, battery.Unknown, estimate(r))
	})
}

func TestEstimateFastChargeThreshold(t *testing.T) {
	tests := []struct {
		current float64
		fast    bool
	}{
		{800000, true},
		{799999, false},
		{-800000, true},
		{-799999, false},
		{2400000, true},
		{0, false},
	}
	for _, tt := range tests {
		r := &fakeReader{
			values: map[string]float64{
				dir + "charge_counter": 1,
				dir + "charge_full":    2,
				dir + "current_now":    tt.current,
			},
			dump: dumpText("fast"),
		}

		state := estimate(r)
		assert.Equal(t, tt.fast, state.FastCharging, "current_now=%v", tt.current)
		assert.Zero(t, r.dumpCalls, "Expected current_now to take precedence over the dump")
	}
}

func TestEstimateCustomThreshold(t *testing.T) {
	r := &fakeReader{values: map[string]float64{
		dir + "charge_counter": 1,
		dir + "charge_full":    2,
		dir + "current_now":    500000,
	}}
	opts := battery.DefaultOptions()
	opts.FastChargeThreshold = 500000

	state := battery.NewEstimator(r, opts).Estimate(context.Background())
	assert.True(t, state.FastCharging)
}

func TestEstimateFastHintFromDump(t *testing.T) {
	base := map[string]float64{
		dir + "charge_counter": 1,
		dir + "charge_full":    2,
	}

	r := &fakeReader{values: base, dump: dumpText("  Charger type: Fast\n")}
	assert.True(t, estimate(r).FastCharging, "Expected mixed-case hint to classify as fast")

	r = &fakeReader{values: base, dump: dumpText("  status: Charging\n")}
	assert.False(t, estimate(r).FastCharging)

	r = &fakeReader{values: base}
	assert.False(t, estimate(r).FastCharging, "Expected normal when no regime source exists")
}

func TestEstimateIdempotent(t *testing.T) {
	r := &fakeReader{
		values: map[string]float64{
			dir + "charge_counter": 1234567,
			dir + "charge_full":    4321000,
			dir + "current_now":    -812345,
		},
	}
	est := battery.NewEstimator(r, battery.DefaultOptions())

	first := est.Estimate(context.Background())
	second := est.Estimate(context.Background())
	assert.Equal(t, first, second)
	assert.True(t, first == second)
}

func TestEstimateConcurrent(t *testing.T) {
	r := &fakeReader{values: map[string]float64{
		dir + "charge_counter": 2500000,
		dir + "charge_full":    5000000,
	}, dump: dumpText("")}
	est := battery.NewEstimator(r, battery.DefaultOptions())

	var wg sync.WaitGroup
	results := make([]battery.State, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = est.Estimate(context.Background())
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Equal(t, results[0], s)
	}
}

func TestEstimateEndToEnd(t *testing.T) {
	t.Run("fast charging from sysfs", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, dir+"charge_counter", []byte("2500000\n"), 0o644))
		require.NoError(t, afero.WriteFile(fs, dir+"charge_full", []byte("5000000\n"), 0o644))
		require.NoError(t, afero.WriteFile(fs, dir+"current_now", []byte("900000\n"), 0o644))

		opts := battery.DefaultOptions()
		opts.DumpCommand = "exit 1"
		state := battery.NewEstimator(telemetry.NewReader(fs, 0), opts).Estimate(context.Background())

		assert.Equal(t, battery.State{Percentage: 50.0, FastCharging: true, Source: battery.SourceCounterRatio}, state)
		text, ok := battery.Format(state)
		require.True(t, ok)
		assert.Equal(t, "50.00%", text)
	})

	t.Run("level after an oversized dump line", func(t *testing.T) {
		opts := battery.DefaultOptions()
		opts.DumpCommand = `head -c 2000000 /dev/zero | tr '\0' 'x'; printf '\n  level: 42\n'`
		state := battery.NewEstimator(telemetry.NewReader(afero.NewMemMapFs(), 5*time.Second), opts).Estimate(context.Background())

		assert.Equal(t, battery.State{Percentage: 42.0, Source: battery.SourceLevelFallback}, state)
	})

	t.Run("level fallback from dump command", func(t *testing.T) {
		opts := battery.DefaultOptions()
		opts.DumpCommand = `printf 'Current Battery Service state:\n  level: 67\n  status: Charging\n'`
		state := battery.NewEstimator(telemetry.NewReader(afero.NewMemMapFs(), 0), opts).Estimate(context.Background())

		assert.Equal(t, battery.State{Percentage: 67.0, FastCharging: false, Source: battery.SourceLevelFallback}, state)
		text, ok := battery.Format(state)
		require.True(t, ok)
		assert.Equal(t, "67%", text)
	})
}
