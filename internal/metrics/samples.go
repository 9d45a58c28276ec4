// Package metrics holds the running aggregates a test session keeps over its
// throughput samples.
package metrics

// SampleStats accumulates sum, count and max of observed throughput samples.
// Not safe for concurrent use; the session controller owns one per run and
// mutates it from its single dispatch goroutine.
type SampleStats struct {
	count int64
	sum   float64
	max   float64
}

func (s *SampleStats) Add(v float64) {
	s.count++
	s.sum += v
	if v > s.max {
		s.max = v
	}
}

func (s *SampleStats) Count() int64 { return s.count }

func (s *SampleStats) Max() float64 { return s.max }

// Avg returns the arithmetic mean, 0 when no samples were recorded.
func (s *SampleStats) Avg() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

func (s *SampleStats) Reset() {
	s.count = 0
	s.sum = 0
	s.max = 0
}
