// Package report computes descriptive statistics over persisted derived
// scores at read time. It never caches: the coordinator keeps the
// underlying rows current, so every read reflects the latest committed
// state.
package report

import (
	"math"
	"sort"
)

// Summary holds descriptive statistics over the non-null scores of a set.
// HasData=false means every row was null; the zero values then carry no
// meaning.
type Summary struct {
	Count     int     `json:"count"`      // rows with a score
	NullCount int     `json:"null_count"` // rows with no data, excluded from the stats
	Mean      float64 `json:"mean"`
	Median    float64 `json:"median"`
	Q1        float64 `json:"q1"`
	Q3        float64 `json:"q3"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	HasData   bool    `json:"has_data"`
}

// Summarize computes a Summary over the given values (already filtered to
// non-null), with nullCount reporting how many rows were excluded.
func Summarize(values []float64, nullCount int) Summary {
	s := Summary{Count: len(values), NullCount: nullCount}
	if len(values) == 0 {
		return s
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	s.HasData = true
	s.Mean = sum / float64(len(sorted))
	s.Median = quantile(sorted, 0.5)
	s.Q1 = quantile(sorted, 0.25)
	s.Q3 = quantile(sorted, 0.75)
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	return s
}

// quantile interpolates linearly between closest ranks; input must be
// sorted and non-empty.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := p * float64(n-1)
	lo := int(math.Floor(h))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}

// Bucket is one band of a score distribution.
type Bucket struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// Distribute counts values into n equal bands over [0,1]. A value of
// exactly 1 lands in the top band.
func Distribute(values []float64, n int) []Bucket {
	if n <= 0 {
		n = 10
	}
	buckets := make([]Bucket, n)
	width := 1.0 / float64(n)
	for i := range buckets {
		buckets[i].Low = float64(i) * width
		buckets[i].High = float64(i+1) * width
	}
	for _, v := range values {
		idx := int(v / width)
		if idx >= n {
			idx = n - 1
		}
		if idx < 0 {
			idx = 0
		}
		buckets[idx].Count++
	}
	return buckets
}
