package scope

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rjboer/GoScope/internal/logging"
)

func formatNum(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// ChannelSetup configures one analog input. Probe is the attenuation set
// on the physical probe, normally 10 or 1.
type ChannelSetup struct {
	Channel     int
	On          bool
	OffsetDivs  float64
	VoltsPerDiv float64
	Probe       float64
}

func (s *Scope) writeAll(ctx context.Context, cmds ...string) error {
	for _, cmd := range cmds {
		if err := s.write(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// SetupChannel turns a channel on with the given scale, or off.
func (s *Scope) SetupChannel(ctx context.Context, c ChannelSetup) error {
	if err := checkChannel(c.Channel); err != nil {
		return err
	}
	prefix := fmt.Sprintf(":CHAN%d:", c.Channel)
	if !c.On {
		return s.write(ctx, prefix+"DISP OFF")
	}
	if c.VoltsPerDiv <= 0 {
		c.VoltsPerDiv = 1
	}
	if c.Probe <= 0 {
		c.Probe = 10
	}
	err := s.writeAll(ctx,
		prefix+"DISP ON",
		prefix+"SCAL "+formatNum(c.VoltsPerDiv),
		prefix+"OFFS "+formatNum(c.OffsetDivs*c.VoltsPerDiv),
		prefix+"PROB "+formatNum(c.Probe),
	)
	if err != nil {
		return err
	}
	s.log.Info("channel on", logging.F("channel", c.Channel), logging.F("volts_per_div", c.VoltsPerDiv),
		logging.F("offset_divs", c.OffsetDivs), logging.F("probe", c.Probe))
	return nil
}

// SetupTimebase sets the horizontal scale and delay from strings such as
// "1ms" and returns the values read back.
func (s *Scope) SetupTimebase(ctx context.Context, perDiv, delay string) (scale, offset float64, err error) {
	perDivSec, err := ParseMagnitude(perDiv)
	if err != nil {
		return 0, 0, err
	}
	delaySec, err := ParseMagnitude(delay)
	if err != nil {
		return 0, 0, err
	}
	if err := s.write(ctx, ":TIM:MAIN:SCAL "+formatNum(perDivSec)); err != nil {
		return 0, 0, err
	}
	readback, err := s.Get(ctx, ":TIM:MAIN:SCAL?")
	if err != nil {
		return 0, 0, err
	}
	s.log.Info("timebase set", logging.F("seconds_per_div", readback.String()))
	if err := s.write(ctx, ":TIM:MAIN:OFFS "+formatNum(delaySec)); err != nil {
		return 0, 0, err
	}
	if scale, err = s.queryFloat(ctx, ":TIM:MAIN:SCAL?"); err != nil {
		return 0, 0, err
	}
	if offset, err = s.queryFloat(ctx, ":TIM:MAIN:OFFS?"); err != nil {
		return 0, 0, err
	}
	return scale, offset, nil
}

// SetupTrigger configures an edge trigger on channel at level, e.g. "100mv".
func (s *Scope) SetupTrigger(ctx context.Context, channel int, rising bool, level string) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	lvl, err := ParseMagnitude(level)
	if err != nil {
		return err
	}
	slope := "POS"
	if !rising {
		slope = "NEG"
	}
	err = s.writeAll(ctx,
		fmt.Sprintf(":TRIG:EDG:SOUR CHAN%d", channel),
		":TRIG:EDG:SLOP "+slope,
		":TRIG:EDG:LEV "+formatNum(lvl),
	)
	if err != nil {
		return err
	}
	s.log.Info("edge trigger set", logging.F("channel", channel), logging.F("slope", slope), logging.F("level", level))
	return nil
}

// I2C decode display formats.
var decodeFormats = map[string]bool{"HEX": true, "ASC": true, "DEC": true, "BIN": true, "LINE": true}

// I2CDecode configures one of the two protocol decoders. PositionDivs
// counts divisions from the bottom of the screen.
type I2CDecode struct {
	Decoder      int
	On           bool
	SDAChannel   int
	SCLChannel   int
	Format       string
	PositionDivs float64
}

// SetupI2CDecode enables or disables an I2C decoder.
func (s *Scope) SetupI2CDecode(ctx context.Context, d I2CDecode) error {
	if d.Decoder != 1 && d.Decoder != 2 {
		return fmt.Errorf("scope: decoder must be 1 or 2, got %d", d.Decoder)
	}
	prefix := fmt.Sprintf(":DEC%d:", d.Decoder)
	if !d.On {
		return s.write(ctx, prefix+"CONF:LINE OFF")
	}
	if err := checkChannel(d.SDAChannel); err != nil {
		return err
	}
	if err := checkChannel(d.SCLChannel); err != nil {
		return err
	}
	format := strings.ToUpper(d.Format)
	if format == "" {
		format = "HEX"
	}
	if !decodeFormats[format] {
		return fmt.Errorf("scope: unknown decode format %q", d.Format)
	}
	return s.writeAll(ctx,
		prefix+"MODE IIC",
		prefix+"DISP ON",
		prefix+"FORM "+format,
		prefix+"POS "+formatNum(400-d.PositionDivs*50),
		prefix+"THRE AUTO",
		prefix+"CONF:LINE ON",
		fmt.Sprintf("%sIIC:CLK CHAN%d", prefix, d.SCLChannel),
		fmt.Sprintf("%sIIC:DATA CHAN%d", prefix, d.SDAChannel),
		prefix+"IIC:ADDR RW",
	)
}

// SampleRate returns the current sample rate in Sa/s.
func (s *Scope) SampleRate(ctx context.Context) (float64, error) {
	return s.queryFloat(ctx, ":ACQ:SRAT?")
}
