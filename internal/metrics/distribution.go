package metrics

// Distribution is a fixed-bucket histogram over throughput samples, used to
// derive percentiles for the run-history store. Bucket width is expressed in
// the run's display unit.
type Distribution struct {
	bucketWidth float64
	buckets     []uint32
	overflow    uint32
	total       uint64
}

func NewDistribution(bucketWidth float64, bucketCount int) *Distribution {
	if bucketWidth <= 0 {
		bucketWidth = 1
	}
	if bucketCount <= 0 {
		bucketCount = 1
	}
	return &Distribution{
		bucketWidth: bucketWidth,
		buckets:     make([]uint32, bucketCount),
	}
}

func (d *Distribution) Record(v float64) {
	if v < 0 {
		v = 0
	}
	d.total++
	index := int(v / d.bucketWidth)
	if index >= len(d.buckets) {
		d.overflow++
		return
	}
	d.buckets[index]++
}

// Percentile returns the upper bound of the bucket holding the p-th
// percentile sample (p in [0,1]). Overflowed samples map to the top bucket
// bound.
func (d *Distribution) Percentile(p float64) float64 {
	if d.total == 0 {
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	rank := uint64(p * float64(d.total-1))
	var seen uint64
	for i, c := range d.buckets {
		seen += uint64(c)
		if seen > rank {
			return float64(i+1) * d.bucketWidth
		}
	}
	return float64(len(d.buckets)) * d.bucketWidth
}

func (d *Distribution) Total() uint64 { return d.total }

func (d *Distribution) Reset() {
	for i := range d.buckets {
		d.buckets[i] = 0
	}
	d.overflow = 0
	d.total = 0
}
