// Package feature turns a completed flow into the fixed-length,
// fixed-order feature vector consumed by preprocessing and the
// predictors.
package feature

import (
	"math"
	"sort"
	"time"

	"icc.tech/nds/internal/core"
)

// Extract projects a completed flow into a core.FeatureVector of length
// core.FeatureVectorLength, in the fixed order:
//
//	basics(5) | rates(2) | size fwd/bwd/total(4 each) |
//	IAT flow/fwd/bwd(4 each) | TCP flags fwd/bwd(8 each) | derived(3)
func Extract(f *core.Flow) core.FeatureVector {
	v := make(core.FeatureVector, 0, core.FeatureVectorLength)

	duration := f.Duration().Seconds()
	fwdPkts := f.Forward.Packets
	bwdPkts := f.Backward.Packets
	fwdBytes := f.Forward.Bytes
	bwdBytes := f.Backward.Bytes

	// Flow basics
	v = append(v, duration, float64(fwdPkts), float64(bwdPkts), float64(fwdBytes), float64(bwdBytes))

	// Rates
	totalBytes := fwdBytes + bwdBytes
	totalPkts := fwdPkts + bwdPkts
	v = append(v, ratePerSecond(float64(totalBytes), duration), ratePerSecond(float64(totalPkts), duration))

	// Packet size fwd / bwd / total
	v = append(v, sizeStats(f.Forward.Sizes)...)
	v = append(v, sizeStats(f.Backward.Sizes)...)
	v = append(v, sizeStats(append(append([]int{}, f.Forward.Sizes...), f.Backward.Sizes...))...)

	// IAT flow / fwd / bwd
	v = append(v, iatStats(mergedIATs(f))...)
	v = append(v, iatStats(f.Forward.IATs)...)
	v = append(v, iatStats(f.Backward.IATs)...)

	// TCP flag counters fwd / bwd
	for _, c := range f.Forward.FlagCounts {
		v = append(v, float64(c))
	}
	for _, c := range f.Backward.FlagCounts {
		v = append(v, float64(c))
	}

	// Derived
	downUpRatio := 0.0
	if fwdPkts > 0 {
		downUpRatio = float64(bwdPkts) / float64(fwdPkts)
	}
	v = append(v, downUpRatio, avgSegmentSize(fwdBytes, fwdPkts), avgSegmentSize(bwdBytes, bwdPkts))

	return core.FeatureVector(v)
}

func ratePerSecond(total, durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	return total / durationSeconds
}

func avgSegmentSize(bytes int64, pkts int) float64 {
	if pkts == 0 {
		return 0
	}
	return float64(bytes) / float64(pkts)
}

// sizeStats returns [mean, std, max, min] for a slice of packet sizes.
func sizeStats(sizes []int) []float64 {
	if len(sizes) == 0 {
		return []float64{0, 0, 0, 0}
	}
	floats := make([]float64, len(sizes))
	for i, s := range sizes {
		floats[i] = float64(s)
	}
	return []float64{mean(floats), stddev(floats), maxOf(floats), minOf(floats)}
}

// iatStats returns [mean, std, max, min] for a slice of inter-arrival
// times, in seconds.
func iatStats(iats []time.Duration) []float64 {
	if len(iats) == 0 {
		return []float64{0, 0, 0, 0}
	}
	floats := make([]float64, len(iats))
	for i, d := range iats {
		floats[i] = d.Seconds()
	}
	return []float64{mean(floats), stddev(floats), maxOf(floats), minOf(floats)}
}

// mergedIATs computes the flow-wide inter-arrival times across both
// directions, independent of per-direction ordering.
func mergedIATs(f *core.Flow) []time.Duration {
	total := f.Forward.Packets + f.Backward.Packets
	if total < 2 {
		return nil
	}
	timestamps := make([]time.Time, 0, total)
	timestamps = append(timestamps, reconstructTimestamps(f.Forward.FirstSeen, f.Forward.IATs)...)
	timestamps = append(timestamps, reconstructTimestamps(f.Backward.FirstSeen, f.Backward.IATs)...)
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	iats := make([]time.Duration, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		iats = append(iats, timestamps[i].Sub(timestamps[i-1]))
	}
	return iats
}

// reconstructTimestamps rebuilds an approximate arrival-time sequence
// from a direction's recorded inter-arrival times, anchored at the
// flow's first-seen timestamp. DirectionStats does not retain absolute
// timestamps, only deltas; this is sufficient for flow-wide IAT stats.
func reconstructTimestamps(anchor time.Time, iats []time.Duration) []time.Time {
	out := make([]time.Time, 0, len(iats)+1)
	t := anchor
	out = append(out, t)
	for _, d := range iats {
		t = t.Add(d)
		out = append(out, t)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
