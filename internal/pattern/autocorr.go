package pattern

import (
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// referenceEpoch anchors hour buckets to a Monday midnight UTC, so phase p
// of a 24h period is hour-of-day p and phase p of a 168h period is p hours
// after Monday 00:00.
var referenceEpoch = time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)

// AbsHour returns the number of whole hours between the reference epoch and t.
func AbsHour(t time.Time) int64 {
	d := t.Sub(referenceEpoch)
	h := int64(d / time.Hour)
	if d < 0 && d%time.Hour != 0 {
		h--
	}
	return h
}

// Phase returns t's offset in hours within a period, in [0, periodHours).
func Phase(t time.Time, periodHours int) int {
	return mod(AbsHour(t), int64(periodHours))
}

func mod(a, m int64) int {
	r := a % m
	if r < 0 {
		r += m
	}
	return int(r)
}

// Bin counts timestamps into 1-hour buckets spanning the first to the last
// timestamp inclusive. start is the absolute hour of bucket 0.
func Bin(timestamps []time.Time) (series []float64, start int64) {
	if len(timestamps) == 0 {
		return nil, 0
	}
	lo, hi := AbsHour(timestamps[0]), AbsHour(timestamps[0])
	for _, ts := range timestamps[1:] {
		h := AbsHour(ts)
		if h < lo {
			lo = h
		}
		if h > hi {
			hi = h
		}
	}
	series = make([]float64, hi-lo+1)
	for _, ts := range timestamps {
		series[AbsHour(ts)-lo]++
	}
	return series, lo
}

// Autocorrelation returns the autocorrelation of the mean-centred series for
// every lag in [0, len(series)), computed by multiplying the FFT of the
// zero-padded series with its own conjugate and inverting. Values are not
// normalised; divide by lag 0 for a correlation coefficient.
func Autocorrelation(series []float64) []float64 {
	n := len(series)
	if n == 0 {
		return nil
	}
	var mean float64
	for _, v := range series {
		mean += v
	}
	mean /= float64(n)

	// Padding to at least 2n keeps the circular correlation from wrapping.
	size := 1
	for size < 2*n {
		size <<= 1
	}
	padded := make([]float64, size)
	for i, v := range series {
		padded[i] = v - mean
	}

	fft := fourier.NewFFT(size)
	coeff := fft.Coefficients(nil, padded)
	for i, c := range coeff {
		coeff[i] = c * cmplx.Conj(c)
	}
	full := fft.Sequence(nil, coeff)

	// gonum's inverse is unnormalised by size; rescale so lag 0 equals the
	// sum of squares.
	out := make([]float64, n)
	for i := range out {
		out[i] = full[i] / float64(size)
	}
	return out
}

// LagConfidence returns the correlation coefficient at lag, bias-corrected for
// the shrinking overlap at long lags and clamped to [0, 1].
func LagConfidence(ac []float64, lag int) float64 {
	n := len(ac)
	if lag <= 0 || lag >= n || ac[0] <= 0 {
		return 0
	}
	r := (ac[lag] / ac[0]) * float64(n) / float64(n-lag)
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}
