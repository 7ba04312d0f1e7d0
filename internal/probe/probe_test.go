package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"codeberg.org/mutker/battstat/internal/battery"
	"codeberg.org/mutker/battstat/internal/telemetry"
	osbattery "github.com/distatus/battery"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dir = "/sys/class/power_supply/battery/"

func stubSystem(t *testing.T, info *host.InfoStat, infoErr error, bats []*osbattery.Battery, batErr error) {
	t.Helper()
	origHost, origBat := hostInfo, getBatteries
	hostInfo = func(context.Context) (*host.InfoStat, error) { return info, infoErr }
	getBatteries = func() ([]*osbattery.Battery, error) { return bats, batErr }
	t.Cleanup(func() {
		hostInfo, getBatteries = origHost, origBat
	})
}

func fixtureReader(t *testing.T) *telemetry.Reader {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, dir+"charge_counter", []byte("2500000\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, dir+"charge_full", []byte("5000000\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, dir+"current_now", []byte("-900000\n"), 0o644))
	return telemetry.NewReader(fs, 0)
}

func TestCollect(t *testing.T) {
	stubSystem(t,
		&host.InfoStat{Hostname: "pixel", Platform: "android", KernelArch: "aarch64"}, nil,
		[]*osbattery.Battery{{Current: 2500, Full: 5000, Design: 5200}}, nil,
	)

	opts := battery.DefaultOptions()
	opts.DumpCommand = `printf '  level: 49\n  Fast charger\n'`
	r := Collect(context.Background(), fixtureReader(t), opts)

	require.Len(t, r.Quantities, 4)
	assert.Equal(t, "charge_counter", r.Quantities[0].Name)
	assert.True(t, r.Quantities[0].Sample.Present)
	assert.False(t, r.Quantities[2].Sample.Present, "Expected charge_full_design to be absent")
	assert.Equal(t, dir+"charge_full_design", r.Quantities[2].Sample.Source)
	assert.Equal(t, -900000.0, r.Quantities[3].Sample.Value)

	assert.True(t, r.Dump.Present)
	assert.Equal(t, 2, r.Dump.Lines)
	require.NotNil(t, r.Dump.Level)
	assert.Equal(t, 49, *r.Dump.Level)
	assert.True(t, r.Dump.FastHint)

	assert.Equal(t, battery.State{Percentage: 50, FastCharging: true, Source: battery.SourceCounterRatio}, r.State)
	assert.Equal(t, "50.00%", r.Text)

	require.NotNil(t, r.Host)
	assert.Equal(t, "pixel", r.Host.Hostname)

	require.Len(t, r.Batteries, 1)
	require.NotNil(t, r.Batteries[0].Percentage)
	assert.Equal(t, 50.0, *r.Batteries[0].Percentage)
	assert.Empty(t, r.Errors)
}

func TestCollectPartialFailures(t *testing.T) {
	stubSystem(t,
		nil, errors.New("not implemented yet"),
		[]*osbattery.Battery{nil, {Current: 1, Full: 0}}, osbattery.Errors{errors.New("no such device"), nil},
	)

	opts := battery.DefaultOptions()
	opts.DumpCommand = ""
	r := Collect(context.Background(), telemetry.NewReader(afero.NewMemMapFs(), 0), opts)

	assert.Equal(t, battery.Unknown, r.State)
	assert.Empty(t, r.Text)
	assert.False(t, r.Dump.Present)
	assert.Nil(t, r.Host)

	require.Len(t, r.Batteries, 2)
	assert.Equal(t, "no such device", r.Batteries[0].Error)
	assert.Nil(t, r.Batteries[1].Percentage, "Expected no percentage without full capacity")
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "host info")
}

func TestCollectBatteryLookupFailure(t *testing.T) {
	stubSystem(t, &host.InfoStat{}, nil, nil, errors.New("unsupported platform"))

	r := Collect(context.Background(), fixtureReader(t), battery.DefaultOptions())

	assert.Empty(t, r.Batteries)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "unsupported platform")
}

// countingReader serves fixed values and changes them after the first read
// of each quantity, so a second read would be visible in the estimate.
type countingReader struct {
	reads map[string]int
	dumps int
}

func (c *countingReader) ReadFirst(paths []string) telemetry.Sample {
	if len(paths) == 0 {
		return telemetry.Sample{}
	}
	c.reads[paths[0]]++
	values := map[string]float64{
		dir + "charge_counter": 2500000,
		dir + "charge_full":    5000000,
		dir + "current_now":    900000,
	}
	v, ok := values[paths[0]]
	if !ok {
		return telemetry.Sample{Source: paths[0]}
	}
	if c.reads[paths[0]] > 1 {
		v /= 2
	}
	return telemetry.Sample{Source: paths[0], Value: v, Present: true}
}

func (c *countingReader) ReadCommandOutput(context.Context, string) (string, bool) {
	c.dumps++
	return "  level: 10\n", true
}

func TestCollectReadsEachSourceOnce(t *testing.T) {
	stubSystem(t, &host.InfoStat{}, nil, nil, nil)

	reader := &countingReader{reads: make(map[string]int)}
	r := Collect(context.Background(), reader, battery.DefaultOptions())

	assert.Equal(t, 1, reader.dumps, "Expected the dump command to run once")
	for path, n := range reader.reads {
		assert.Equal(t, 1, n, "Expected a single read of %s", path)
	}
	assert.Equal(t, 900000.0, r.Quantities[3].Sample.Value)
	assert.Equal(t, battery.State{Percentage: 50, FastCharging: true, Source: battery.SourceCounterRatio}, r.State)
}

func TestReportOutput(t *testing.T) {
	stubSystem(t, &host.InfoStat{Hostname: "pixel"}, nil, nil, nil)

	opts := battery.DefaultOptions()
	opts.DumpCommand = "exit 3"
	r := Collect(context.Background(), fixtureReader(t), opts)

	var text bytes.Buffer
	r.WriteText(&text)
	assert.Contains(t, text.String(), "50.00%")
	assert.Contains(t, text.String(), "pixel")
	assert.Contains(t, text.String(), "charge_full_design:")

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"source":"counter_ratio"`)
	assert.Contains(t, string(b), `"hostname":"pixel"`)
}
