package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const adcScale = 128.0 // half the 8-bit code range

// toFloat converts waveform codes to float64 with the mean removed.
func toFloat(samples []byte) []float64 {
	x := make([]float64, len(samples))
	for i, v := range samples {
		x[i] = float64(v)
	}
	if len(x) > 0 {
		floats.AddConst(-stat.Mean(x, nil), x)
	}
	return x
}

// Spectrum returns the one-sided spectrum (n/2+1 bins) of the samples
// after DC removal and a Hamming window, normalized by the window sum.
func Spectrum(samples []byte) []complex128 {
	n := len(samples)
	if n == 0 {
		return []complex128{}
	}
	win := Hamming(n)
	windowed := ApplyWindow(toFloat(samples), win)
	coeffs := fourier.NewFFT(n).Coefficients(nil, windowed)
	sumWin := floats.Sum(win)
	for i := range coeffs {
		coeffs[i] /= complex(sumWin, 0)
	}
	return coeffs
}

// MagnitudeDBFS converts spectrum bins to dB relative to 8-bit full scale.
func MagnitudeDBFS(coeffs []complex128) []float64 {
	dbfs := make([]float64, len(coeffs))
	for i, v := range coeffs {
		mag := cmplx.Abs(v)
		if mag == 0 {
			dbfs[i] = -math.Inf(1)
			continue
		}
		dbfs[i] = 20 * math.Log10(mag/adcScale)
	}
	return dbfs
}

// DominantBin returns the strongest non-DC bin of the samples and its
// normalized magnitude. Fewer than two samples yield bin 0.
func DominantBin(samples []byte) (int, float64) {
	coeffs := Spectrum(samples)
	if len(coeffs) < 2 {
		return 0, 0
	}
	mags := make([]float64, len(coeffs)-1)
	for i, c := range coeffs[1:] {
		mags[i] = cmplx.Abs(c)
	}
	idx := floats.MaxIdx(mags)
	return idx + 1, mags[idx]
}

// BinFrequency converts a bin index of an n-point transform to Hz.
func BinFrequency(bin, n int, sampleRate float64) float64 {
	if n <= 0 {
		return 0
	}
	return float64(bin) * sampleRate / float64(n)
}
