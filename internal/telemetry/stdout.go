package telemetry

import (
	"github.com/rjboer/GoScope/internal/logging"
)

// StdoutReporter logs capture summaries.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

func (r StdoutReporter) ReportCapture(c Capture) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "channel", Value: c.Channel},
		{Key: "samples", Value: c.Samples},
		{Key: "windows", Value: c.Windows},
		{Key: "duration", Value: c.Duration.String()},
	}
	if c.Truncated {
		fields = append(fields, logging.Field{Key: "truncated", Value: true})
	}
	if c.Stats.Count > 0 {
		fields = append(fields,
			logging.Field{Key: "min", Value: c.Stats.Min},
			logging.Field{Key: "max", Value: c.Stats.Max},
			logging.Field{Key: "mean", Value: c.Stats.Mean},
		)
	}
	if c.DominantHz != 0 {
		fields = append(fields, logging.Field{Key: "dominant_hz", Value: c.DominantHz})
	}
	r.logger.Info("capture", fields...)
}
