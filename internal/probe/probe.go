// Package probe gathers everything battstat can see about the battery into
// one report, for diagnosing why an estimate came out the way it did.
package probe

import (
	"context"
	"fmt"
	"io"
	"strings"

	"codeberg.org/mutker/battstat/internal/battery"
	"codeberg.org/mutker/battstat/internal/telemetry"
	osbattery "github.com/distatus/battery"
	"github.com/fatih/color"
	"github.com/shirou/gopsutil/v3/host"
)

// Overridable in tests.
var (
	hostInfo     = host.InfoWithContext
	getBatteries = osbattery.GetAll
)

type Quantity struct {
	Name   string           `json:"name"`
	Sample telemetry.Sample `json:"sample"`
}

type Dump struct {
	Command  string `json:"command"`
	Present  bool   `json:"present"`
	Lines    int    `json:"lines"`
	Level    *int   `json:"level"`
	FastHint bool   `json:"fast_hint"`
}

type Host struct {
	Hostname        string `json:"hostname"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	KernelArch      string `json:"kernel_arch"`
}

// OSBattery is the operating system's own view of one battery.
type OSBattery struct {
	Index      int      `json:"index"`
	State      string   `json:"state"`
	Current    float64  `json:"current"`
	Full       float64  `json:"full"`
	Design     float64  `json:"design"`
	ChargeRate float64  `json:"charge_rate"`
	Percentage *float64 `json:"percentage"`
	Error      string   `json:"error,omitempty"`
}

type Report struct {
	Quantities []Quantity    `json:"quantities"`
	Dump       Dump          `json:"dump"`
	State      battery.State `json:"state"`
	Text       string        `json:"text"`
	Host       *Host         `json:"host"`
	Batteries  []OSBattery   `json:"os_batteries"`
	Errors     []string      `json:"errors,omitempty"`
}

// Collect builds a Report. It never fails as a whole; lookups that fail are
// listed in Report.Errors. Every source is read and the dump command run at
// most once, so the raw values and the estimate describe the same moment.
func Collect(ctx context.Context, reader battery.TelemetryReader, opts battery.Options) Report {
	var r Report
	reader = newSnapshot(reader)

	src := opts.Sources
	for _, q := range []struct {
		name  string
		paths []string
	}{
		{"charge_counter", src.ChargeCounter},
		{"charge_full", src.ChargeFull},
		{"charge_full_design", src.ChargeFullDesign},
		{"current_now", src.CurrentNow},
	} {
		r.Quantities = append(r.Quantities, Quantity{Name: q.name, Sample: reader.ReadFirst(q.paths)})
	}

	r.Dump.Command = opts.DumpCommand
	if text, ok := reader.ReadCommandOutput(ctx, opts.DumpCommand); ok {
		r.Dump.Present = true
		r.Dump.Lines = strings.Count(text, "\n")
		if level, ok := battery.ParseDumpLevel(text); ok {
			r.Dump.Level = &level
		}
		r.Dump.FastHint = battery.HasFastHint(text)
	}

	r.State = battery.NewEstimator(reader, opts).Estimate(ctx)
	r.Text, _ = battery.Format(r.State)

	if info, err := hostInfo(ctx); err == nil {
		r.Host = &Host{
			Hostname:        info.Hostname,
			Platform:        info.Platform,
			PlatformVersion: info.PlatformVersion,
			KernelVersion:   info.KernelVersion,
			KernelArch:      info.KernelArch,
		}
	} else {
		r.Errors = append(r.Errors, fmt.Sprintf("host info: %v", err))
	}

	r.Batteries, r.Errors = osBatteries(r.Errors)

	return r
}

func osBatteries(errs []string) ([]OSBattery, []string) {
	batteries, err := getBatteries()
	partial, isPartial := err.(osbattery.Errors)
	if err != nil && !isPartial {
		return nil, append(errs, fmt.Sprintf("os batteries: %v", err))
	}

	var out []OSBattery
	for i, bat := range batteries {
		ob := OSBattery{Index: i}
		if isPartial && i < len(partial) && partial[i] != nil {
			ob.Error = partial[i].Error()
		}
		if bat != nil {
			ob.State = bat.State.String()
			ob.Current = bat.Current
			ob.Full = bat.Full
			ob.Design = bat.Design
			ob.ChargeRate = bat.ChargeRate
			if bat.Full > 0 {
				pct := bat.Current / bat.Full * 100
				ob.Percentage = &pct
			}
		}
		out = append(out, ob)
	}

	return out, errs
}

// WriteText prints the report for humans.
func (r Report) WriteText(w io.Writer) {
	bold := color.New(color.Bold)

	fmt.Fprintln(w, bold.Sprint("Telemetry"))
	for _, q := range r.Quantities {
		value := "absent"
		if q.Sample.Present {
			value = fmt.Sprintf("%g", q.Sample.Value)
		}
		fmt.Fprintf(w, "  %-19s %-12s %s\n", q.Name+":", value, q.Sample.Source)
	}

	fmt.Fprintln(w, bold.Sprint("Dump"))
	fmt.Fprintf(w, "  command:            %s\n", r.Dump.Command)
	if !r.Dump.Present {
		fmt.Fprintln(w, "  output:             absent")
	} else {
		fmt.Fprintf(w, "  output:             %d lines\n", r.Dump.Lines)
		level := "none"
		if r.Dump.Level != nil {
			level = fmt.Sprintf("%d", *r.Dump.Level)
		}
		fmt.Fprintf(w, "  level:              %s\n", level)
		fmt.Fprintf(w, "  fast hint:          %t\n", r.Dump.FastHint)
	}

	fmt.Fprintln(w, bold.Sprint("Estimate"))
	if r.State.Known() {
		fmt.Fprintf(w, "  status:             %s\n", r.Text)
		fmt.Fprintf(w, "  percentage:         %g\n", r.State.Percentage)
		fmt.Fprintf(w, "  fast charging:      %t\n", r.State.FastCharging)
	} else {
		fmt.Fprintf(w, "  status:             %s\n", color.RedString("unknown"))
	}
	fmt.Fprintf(w, "  source:             %s\n", r.State.Source)

	if r.Host != nil {
		fmt.Fprintln(w, bold.Sprint("Host"))
		fmt.Fprintf(w, "  hostname:           %s\n", r.Host.Hostname)
		fmt.Fprintf(w, "  platform:           %s %s\n", r.Host.Platform, r.Host.PlatformVersion)
		fmt.Fprintf(w, "  kernel:             %s (%s)\n", r.Host.KernelVersion, r.Host.KernelArch)
	}

	fmt.Fprintln(w, bold.Sprint("OS batteries"))
	if len(r.Batteries) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, b := range r.Batteries {
		pct := "n/a"
		if b.Percentage != nil {
			pct = fmt.Sprintf("%.2f%%", *b.Percentage)
		}
		fmt.Fprintf(w, "  #%d %s %s (current %g, full %g, design %g)\n", b.Index, b.State, pct, b.Current, b.Full, b.Design)
		if b.Error != "" {
			fmt.Fprintf(w, "     error: %s\n", b.Error)
		}
	}

	for _, e := range r.Errors {
		fmt.Fprintf(w, "%s %s\n", color.YellowString("warning:"), e)
	}
}

// snapshot remembers every read so repeated lookups return the first
// result.
type snapshot struct {
	reader  battery.TelemetryReader
	samples map[string]telemetry.Sample
	outputs map[string]commandOutput
}

type commandOutput struct {
	text string
	ok   bool
}

func newSnapshot(reader battery.TelemetryReader) *snapshot {
	return &snapshot{
		reader:  reader,
		samples: make(map[string]telemetry.Sample),
		outputs: make(map[string]commandOutput),
	}
}

func (s *snapshot) ReadFirst(paths []string) telemetry.Sample {
	key := strings.Join(paths, "\x00")
	if sample, ok := s.samples[key]; ok {
		return sample
	}
	sample := s.reader.ReadFirst(paths)
	s.samples[key] = sample
	return sample
}

func (s *snapshot) ReadCommandOutput(ctx context.Context, command string) (string, bool) {
	if out, ok := s.outputs[command]; ok {
		return out.text, out.ok
	}
	text, ok := s.reader.ReadCommandOutput(ctx, command)
	s.outputs[command] = commandOutput{text: text, ok: ok}
	return text, ok
}
