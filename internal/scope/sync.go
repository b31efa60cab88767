package scope

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rjboer/GoScope/internal/logging"
)

// TriggerState is the acquisition state reported by :TRIG:STAT?.
type TriggerState int

const (
	Triggered TriggerState = iota
	WaitingForTrigger
	Running
	AutoTriggered
	Stopped
)

var triggerTokens = map[string]TriggerState{
	"TD":   Triggered,
	"WAIT": WaitingForTrigger,
	"RUN":  Running,
	"AUTO": AutoTriggered,
	"STOP": Stopped,
}

// Token returns the device's spelling of the state.
func (t TriggerState) Token() string {
	for tok, st := range triggerTokens {
		if st == t {
			return tok
		}
	}
	return "?"
}

func (t TriggerState) String() string {
	switch t {
	case Triggered:
		return "triggered"
	case WaitingForTrigger:
		return "waiting"
	case Running:
		return "running"
	case AutoTriggered:
		return "auto"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("TriggerState(%d)", int(t))
	}
}

// ParseTriggerState maps a raw status token to its state.
func ParseTriggerState(s string) (TriggerState, error) {
	st, ok := triggerTokens[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return 0, &ProtocolError{Op: ":TRIG:STAT?", Got: s}
	}
	return st, nil
}

// Status reads the current trigger state.
func (s *Scope) Status(ctx context.Context) (TriggerState, error) {
	reply, err := s.query(ctx, ":TRIG:STAT?")
	if err != nil {
		return 0, err
	}
	return ParseTriggerState(reply)
}

// Wait polls *OPC? until the instrument reports completion. It returns
// false once timeout has elapsed; timeout <= 0 polls until ctx is done.
// Transport errors while polling are treated as transient.
func (s *Scope) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	start := time.Now()
	// pause sleeps d, clipped to the time left when timeout is bounded.
	pause := func(d time.Duration) error {
		if timeout > 0 {
			d = min(d, timeout-time.Since(start))
		}
		if d <= 0 {
			return nil
		}
		return sleep(ctx, d)
	}
	for timeout <= 0 || time.Since(start) < timeout {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		reply, err := s.t.Query(ctx, "*OPC?")
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			s.log.Debug("*OPC? failed, retrying", logging.F("error", err))
			if err := pause(s.opts.RetryDelay); err != nil {
				return false, err
			}
			continue
		}
		if v, err := ParseAs(reply, KindInt); err == nil && v.Int == 1 {
			return true, nil
		}
		if err := pause(s.opts.PollInterval); err != nil {
			return false, err
		}
	}
	s.log.Debug("operation complete not observed", logging.F("timeout", timeout))
	return false, nil
}

// Stop waits for the instrument to go idle, stops acquisition and waits
// again so the stopped state is settled before any read.
func (s *Scope) Stop(ctx context.Context) error {
	if _, err := s.Wait(ctx, 0); err != nil {
		return err
	}
	if err := s.write(ctx, ":STOP"); err != nil {
		return err
	}
	_, err := s.Wait(ctx, 0)
	return err
}

// Single arms a single-shot acquisition and reports whether it completed
// within TriggerWait.
func (s *Scope) Single(ctx context.Context) (bool, error) {
	if err := s.write(ctx, ":SING"); err != nil {
		return false, err
	}
	return s.Wait(ctx, s.opts.TriggerWait)
}

// Force issues a forced trigger.
func (s *Scope) Force(ctx context.Context) (bool, error) {
	if err := s.write(ctx, ":TFOR"); err != nil {
		return false, err
	}
	return s.Wait(ctx, s.opts.TriggerWait)
}

// Run restarts free-running acquisition. The instrument never reports
// completion while running, so Run only waits SettleDelay.
func (s *Scope) Run(ctx context.Context) error {
	if err := s.write(ctx, ":RUN"); err != nil {
		return err
	}
	return sleep(ctx, s.opts.SettleDelay)
}

// Reset restores factory defaults.
func (s *Scope) Reset(ctx context.Context) error {
	if _, err := s.Wait(ctx, 0); err != nil {
		return err
	}
	if err := s.write(ctx, "*RST"); err != nil {
		return err
	}
	if err := sleep(ctx, s.opts.ResetDelay); err != nil {
		return err
	}
	if _, err := s.Wait(ctx, 0); err != nil {
		return err
	}
	s.log.Info("instrument reset")
	return nil
}

// Autoscale runs :AUTO.
func (s *Scope) Autoscale(ctx context.Context) (bool, error) {
	if _, err := s.Wait(ctx, s.opts.TriggerWait); err != nil {
		return false, err
	}
	if err := s.write(ctx, ":AUTO"); err != nil {
		return false, err
	}
	return s.Wait(ctx, s.opts.TriggerWait)
}
