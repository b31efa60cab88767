package scope

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Units used by the measurement table.
const (
	UnitVolts       = "Volts"
	UnitSeconds     = "Seconds"
	UnitHertz       = "Hz"
	UnitPercent     = "%"
	UnitOccurrences = "Occurrences"
	UnitDegrees     = "Degrees"
	UnitSlew        = "Volts / Second"
	UnitVoltSeconds = "Volt Seconds"
)

// Measurement describes one :MEAS:ITEM.
type Measurement struct {
	Name        string
	Description string
	Mnemonic    string
	Unit        string
	Kind        Kind
	// DualSource items compare two channels.
	DualSource bool
}

var measurementList = []Measurement{
	{Name: "max_voltage", Mnemonic: "VMAX", Unit: UnitVolts, Kind: KindFloat, Description: "voltage value from the highest point of the waveform to the GND"},
	{Name: "min_voltage", Mnemonic: "VMIN", Unit: UnitVolts, Kind: KindFloat, Description: "voltage value from the lowest point of the waveform to the GND"},
	{Name: "peak_to_peak_voltage", Mnemonic: "VPP", Unit: UnitVolts, Kind: KindFloat, Description: "voltage value from the highest point to the lowest point of the waveform"},
	{Name: "top_voltage", Mnemonic: "VTOP", Unit: UnitVolts, Kind: KindFloat, Description: "voltage value from the flat top of the waveform to the GND"},
	{Name: "base_voltage", Mnemonic: "VBAS", Unit: UnitVolts, Kind: KindFloat, Description: "voltage value from the flat base of the waveform to the GND"},
	{Name: "top_to_base_voltage", Mnemonic: "VAMP", Unit: UnitVolts, Kind: KindFloat, Description: "voltage value from the top of the waveform to the base of the waveform"},
	{Name: "average_voltage", Mnemonic: "VAVG", Unit: UnitVolts, Kind: KindFloat, Description: "arithmetic average value on the whole waveform or on the gating area"},
	{Name: "rms_voltage", Mnemonic: "VRMS", Unit: UnitVolts, Kind: KindFloat, Description: "root mean square value on the whole waveform or the gating area"},
	{Name: "upper_voltage", Mnemonic: "VUP", Unit: UnitVolts, Kind: KindFloat, Description: "actual voltage value corresponding to the threshold maximum value"},
	{Name: "mid_voltage", Mnemonic: "VMID", Unit: UnitVolts, Kind: KindFloat, Description: "actual voltage value corresponding to the threshold middle value"},
	{Name: "lower_voltage", Mnemonic: "VLOW", Unit: UnitVolts, Kind: KindFloat, Description: "actual voltage value corresponding to the threshold minimum value"},
	{Name: "overshoot_percent", Mnemonic: "OVER", Unit: UnitPercent, Kind: KindFloat, Description: "ratio of the difference of the maximum value and top value of the waveform to the amplitude value"},
	{Name: "preshoot_percent", Mnemonic: "PRES", Unit: UnitPercent, Kind: KindFloat, Description: "ratio of the difference of the minimum value and base value of the waveform to the amplitude value"},
	{Name: "variance_voltage", Mnemonic: "VARI", Unit: UnitVolts, Kind: KindFloat, Description: "average of the sum of the squares for the difference between the amplitude value of each waveform point and the waveform average value"},
	{Name: "period_rms_voltage", Mnemonic: "PVRMS", Unit: UnitVolts, Kind: KindFloat, Description: "root mean square value within a period of the waveform"},
	{Name: "period_time", Mnemonic: "PER", Unit: UnitSeconds, Kind: KindFloat, Description: "time between the middle threshold points of two consecutive, like-polarity edges"},
	{Name: "frequency", Mnemonic: "FREQ", Unit: UnitHertz, Kind: KindFloat, Description: "reciprocal of period"},
	{Name: "rise_time", Mnemonic: "RTIM", Unit: UnitSeconds, Kind: KindString, Description: "time for the signal amplitude to rise from the threshold lower limit to the threshold upper limit"},
	{Name: "fall_time", Mnemonic: "FTIM", Unit: UnitSeconds, Kind: KindString, Description: "time for the signal amplitude to fall from the threshold upper limit to the threshold lower limit"},
	{Name: "positive_width_time", Mnemonic: "PWID", Unit: UnitSeconds, Kind: KindFloat, Description: "time difference between the threshold middle value of a rising edge and the threshold middle value of the next falling edge of the pulse"},
	{Name: "negative_width_time", Mnemonic: "NWID", Unit: UnitSeconds, Kind: KindFloat, Description: "time difference between the threshold middle value of a falling edge and the threshold middle value of the next rising edge of the pulse"},
	{Name: "positive_duty_ratio", Mnemonic: "PDUT", Unit: UnitPercent, Kind: KindFloat, Description: "ratio of the positive pulse width to the period"},
	{Name: "negative_duty_ratio", Mnemonic: "NDUT", Unit: UnitPercent, Kind: KindFloat, Description: "ratio of the negative pulse width to the period"},
	{Name: "max_voltage_time", Mnemonic: "TVMAX", Unit: UnitSeconds, Kind: KindFloat, Description: "time corresponding to the waveform maximum value"},
	{Name: "min_voltage_time", Mnemonic: "TVMIN", Unit: UnitSeconds, Kind: KindFloat, Description: "time corresponding to the waveform minimum value"},
	{Name: "positive_pulse_number", Mnemonic: "PPUL", Unit: UnitOccurrences, Kind: KindInt, Description: "number of positive pulses that rise from below the threshold lower limit to above the threshold upper limit"},
	{Name: "negative_pulse_number", Mnemonic: "NPUL", Unit: UnitOccurrences, Kind: KindInt, Description: "number of negative pulses that fall from above the threshold upper limit to below the threshold lower limit"},
	{Name: "positive_edges_number", Mnemonic: "PEDG", Unit: UnitOccurrences, Kind: KindInt, Description: "number of rising edges that rise from below the threshold lower limit to above the threshold upper limit"},
	{Name: "negative_edges_number", Mnemonic: "NEDG", Unit: UnitOccurrences, Kind: KindInt, Description: "number of falling edges that fall from above the threshold upper limit to below the threshold lower limit"},
	{Name: "positive_slew_rate", Mnemonic: "PSLEW", Unit: UnitSlew, Kind: KindFloat, Description: "difference of the upper value and lower value on the rising edge divided by the corresponding time"},
	{Name: "negative_slew_rate", Mnemonic: "NSLEW", Unit: UnitSlew, Kind: KindFloat, Description: "difference of the lower value and upper value on the falling edge divided by the corresponding time"},
	{Name: "waveform_area", Mnemonic: "MAR", Unit: UnitVoltSeconds, Kind: KindFloat, Description: "algebraic sum of the area of the whole waveform within the screen"},
	{Name: "first_period_area", Mnemonic: "MPAR", Unit: UnitVoltSeconds, Kind: KindFloat, Description: "algebraic sum of the area of the first period of the waveform on the screen"},

	{Name: "rising_phase_ratio", Mnemonic: "RPH", Unit: UnitDegrees, Kind: KindFloat, DualSource: true, Description: "rising_delay_time / period_time x 360 degrees"},
	{Name: "falling_phase_ratio", Mnemonic: "FPH", Unit: UnitDegrees, Kind: KindFloat, DualSource: true, Description: "falling_delay_time / period_time x 360 degrees"},
	{Name: "rising_delay_time", Mnemonic: "RDEL", Unit: UnitSeconds, Kind: KindString, DualSource: true, Description: "time difference between the rising edges of source 1 and source 2"},
	{Name: "falling_delay_time", Mnemonic: "FDEL", Unit: UnitSeconds, Kind: KindString, DualSource: true, Description: "time difference between the falling edges of source 1 and source 2"},
}

var measurements = func() map[string]Measurement {
	m := make(map[string]Measurement, len(measurementList))
	for _, d := range measurementList {
		m[d.Name] = d
	}
	return m
}()

// Measurements returns every known measurement sorted by name.
func Measurements() []Measurement {
	out := make([]Measurement, 0, len(measurements))
	for _, m := range measurements {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupMeasurement finds a measurement by name or, failing that, by its
// instrument mnemonic.
func LookupMeasurement(name string) (Measurement, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if m, ok := measurements[key]; ok {
		return m, true
	}
	for _, m := range measurementList {
		if strings.EqualFold(m.Mnemonic, key) {
			return m, true
		}
	}
	return Measurement{}, false
}

func SingleSource() []Measurement { return filterMeasurements(false) }

func DualSource() []Measurement { return filterMeasurements(true) }

func filterMeasurements(dual bool) []Measurement {
	var out []Measurement
	for _, m := range measurementList {
		if m.DualSource == dual {
			out = append(out, m)
		}
	}
	return out
}

// Reading is a measurement result.
type Reading struct {
	Channel     int
	Measurement Measurement
	Value       Value
}

// String renders the value for display: percentages scaled by 100 with
// two decimals, floats in engineering notation.
func (r Reading) String() string {
	var v string
	switch r.Value.Kind {
	case KindFloat:
		if r.Measurement.Unit == UnitPercent {
			v = strconv.FormatFloat(r.Value.Float*100, 'f', 2, 64)
		} else {
			v = EngNotation(r.Value.Float)
		}
	case KindInt:
		v = strconv.FormatInt(r.Value.Int, 10)
	default:
		v = r.Value.Str
	}
	return fmt.Sprintf("Channel %d %s value is %s %s", r.Channel, r.Measurement.Name, v, r.Measurement.Unit)
}

// Measure reads one measurement item for channel.
func (s *Scope) Measure(ctx context.Context, channel int, name string) (Reading, error) {
	if err := checkChannel(channel); err != nil {
		return Reading{}, err
	}
	m, ok := LookupMeasurement(name)
	if !ok {
		return Reading{}, fmt.Errorf("scope: unknown measurement %q", name)
	}
	cmd := fmt.Sprintf(":MEAS:ITEM? %s,CHAN%d", m.Mnemonic, channel)
	if err := s.write(ctx, cmd); err != nil {
		return Reading{}, err
	}
	raw, err := s.t.ReadRaw(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("%s: %w", cmd, err)
	}
	v, err := ParseAs(string(raw), m.Kind)
	if err != nil {
		return Reading{}, fmt.Errorf("%s: %w", cmd, err)
	}
	return Reading{Channel: channel, Measurement: m, Value: v}, nil
}
