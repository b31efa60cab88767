package telemetry

import (
	"time"

	"github.com/rjboer/GoScope/internal/dsp"
)

// Capture summarizes one completed waveform transfer.
type Capture struct {
	Timestamp time.Time     `json:"timestamp"`
	Channel   int           `json:"channel"`
	Depth     int           `json:"depth"`
	Samples   int           `json:"samples"`
	Windows   int           `json:"windows"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"durationNs"`
	Stats     dsp.Stats     `json:"stats"`
	// DominantHz is set by the capture monitor when the sample rate is known.
	DominantHz float64 `json:"dominantHz,omitempty"`
}

// Reporter receives capture events.
type Reporter interface {
	ReportCapture(c Capture)
}

// MultiReporter fans out captures to multiple destinations.
type MultiReporter []Reporter

// ReportCapture forwards the capture to each configured reporter.
func (m MultiReporter) ReportCapture(c Capture) {
	for _, r := range m {
		if r != nil {
			r.ReportCapture(c)
		}
	}
}
