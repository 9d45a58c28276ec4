package metrics

import "testing"

func TestSampleStats(t *testing.T) {
	var s SampleStats
	if s.Count() != 0 || s.Avg() != 0 || s.Max() != 0 {
		t.Fatal("zero-value stats should report zeros")
	}

	for _, v := range []float64{100, 110, 120} {
		s.Add(v)
	}
	if s.Count() != 3 {
		t.Errorf("Count = %d, want 3", s.Count())
	}
	if s.Avg() != 110 {
		t.Errorf("Avg = %v, want 110", s.Avg())
	}
	if s.Max() != 120 {
		t.Errorf("Max = %v, want 120", s.Max())
	}

	s.Reset()
	if s.Count() != 0 || s.Avg() != 0 || s.Max() != 0 {
		t.Fatal("Reset should clear all aggregates")
	}
}

func TestDistributionPercentiles(t *testing.T) {
	d := NewDistribution(1, 1000)
	for v := 1; v <= 100; v++ {
		d.Record(float64(v))
	}

	if got := d.Percentile(0.50); got < 49 || got > 52 {
		t.Errorf("P50 = %v, want about 50", got)
	}
	if got := d.Percentile(0.95); got < 94 || got > 97 {
		t.Errorf("P95 = %v, want about 95", got)
	}
	if got := d.Total(); got != 100 {
		t.Errorf("Total = %d, want 100", got)
	}
}

func TestDistributionEmpty(t *testing.T) {
	d := NewDistribution(1, 16)
	if got := d.Percentile(0.5); got != 0 {
		t.Fatalf("Percentile on empty distribution = %v, want 0", got)
	}
}

func TestDistributionClampsAndOverflows(t *testing.T) {
	d := NewDistribution(1, 4)
	d.Record(-10) // clamped into the lowest bucket
	d.Record(1e9) // lands in the overflow bucket
	if got := d.Total(); got != 2 {
		t.Fatalf("Total = %d, want 2", got)
	}
	if got := d.Percentile(0); got < 0 {
		t.Fatalf("Percentile(0) = %v, want >= 0", got)
	}
	// The high tail comes back as the overflow bound.
	if got := d.Percentile(1); got < 4 {
		t.Fatalf("Percentile(1) = %v, want the overflow bound", got)
	}
}

func TestDistributionReset(t *testing.T) {
	d := NewDistribution(1, 16)
	d.Record(5)
	d.Reset()
	if d.Total() != 0 {
		t.Fatal("Reset should clear the distribution")
	}
}
