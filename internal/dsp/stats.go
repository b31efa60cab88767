package dsp

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes a block of waveform codes.
type Stats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Summarize computes basic statistics over raw 8-bit samples. An empty
// input yields the zero Stats.
func Summarize(samples []byte) Stats {
	if len(samples) == 0 {
		return Stats{}
	}
	x := make([]float64, len(samples))
	for i, v := range samples {
		x[i] = float64(v)
	}
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) == 1 {
		std = 0
	}
	return Stats{
		Count:  len(x),
		Min:    floats.Min(x),
		Max:    floats.Max(x),
		Mean:   mean,
		StdDev: std,
	}
}
