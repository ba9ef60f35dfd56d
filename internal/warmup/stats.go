package warmup

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum instantaneous-FPS stddev as a
	// fraction of mean FPS. 30 FPS is stable below 4.5 FPS stddev.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the
	// expected interval. 30 FPS (33ms) is stable below 6.6ms.
	jitterStabilityThreshold = 0.20
)

// Stats describes the frame rate observed over a run of timestamps.
type Stats struct {
	FramesReceived int           // Number of timestamps analysed
	Duration       time.Duration // First-to-last span
	FPSMean        float64       // Intervals over span
	FPSStdDev      float64       // Standard deviation of instantaneous FPS
	FPSMin         float64       // Minimum instantaneous FPS
	FPSMax         float64       // Maximum instantaneous FPS
	IsStable       bool          // stddev < 15% of mean AND jitter < 20% of interval
	JitterMean     float64       // Mean |interval - expected| (seconds)
	JitterStdDev   float64       // Standard deviation of jitter (seconds)
	JitterMax      float64       // Maximum jitter observed (seconds)
}

// CalculateFPSStats computes rate statistics from capture timestamps in
// arrival order.
//
// Mean FPS is (n-1)/span, so it measures the rate between the first and last
// frame regardless of how long the caller waited around them. Non-positive
// intervals are ignored for instantaneous FPS.
func CalculateFPSStats(timestamps []time.Duration) Stats {
	n := len(timestamps)
	if n < 2 {
		return Stats{FramesReceived: n}
	}

	span := timestamps[n-1] - timestamps[0]
	stats := Stats{FramesReceived: n, Duration: span}
	if span <= 0 {
		return stats
	}
	stats.FPSMean = float64(n-1) / span.Seconds()

	intervals := make([]float64, 0, n-1)
	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := (timestamps[i] - timestamps[i-1]).Seconds()
		intervals = append(intervals, interval)
		if interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
		diff := fps - stats.FPSMean
		sumSquares += diff * diff
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1.0 / stats.FPSMean
	jitters := make([]float64, len(intervals))
	var jitterSum float64
	for i, interval := range intervals {
		j := math.Abs(interval - expected)
		jitters[i] = j
		jitterSum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		diff := j - stats.JitterMean
		jitterSquares += diff * diff
	}
	stats.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expected*jitterStabilityThreshold
	// A single interval says nothing about stability
	stats.IsStable = len(intervals) >= 2 && fpsStable && jitterStable

	return stats
}

// Drift returns the relative deviation of the measured rate from assumedFPS:
// +0.1 means the camera runs 10% faster than assumed. Zero when either rate
// is unknown.
func Drift(stats Stats, assumedFPS float64) float64 {
	if assumedFPS <= 0 || stats.FPSMean <= 0 {
		return 0
	}
	return (stats.FPSMean - assumedFPS) / assumedFPS
}

// CalibratedRate returns the rate the buffer should assume after a
// measurement: the measured mean when the stream is stable and drifts more
// than tolerance, otherwise assumedFPS unchanged.
func CalibratedRate(stats Stats, assumedFPS, tolerance float64) float64 {
	if !stats.IsStable {
		return assumedFPS
	}
	if math.Abs(Drift(stats, assumedFPS)) <= tolerance {
		return assumedFPS
	}
	return stats.FPSMean
}
