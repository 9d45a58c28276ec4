package gauge

import "math"

// NiceScale computes the new scale maximum for a value that crossed the
// expansion threshold: 1.2x headroom, rounded up to the nearest 1, 2 or
// 5 times a power of ten. Values <= 0 map to a scale of 1.
func NiceScale(value float64) float64 {
	candidate := value * 1.2
	if value <= 0 {
		candidate = 1
	}
	return niceCeil(candidate)
}

func niceCeil(v float64) float64 {
	if v <= 0 {
		return 1
	}
	exp := math.Floor(math.Log10(v))
	base := math.Pow(10, exp)
	frac := v / base
	var nice float64
	switch {
	case frac <= 1:
		nice = 1
	case frac <= 2:
		nice = 2
	case frac <= 5:
		nice = 5
	default:
		nice = 10
	}
	return nice * base
}

// ScaleLabels returns the labeled gradations for a scale maximum: five even
// steps from one step above zero up to max, keeping the label count below
// six for any nice maximum.
func ScaleLabels(max float64) []float64 {
	const gradations = 5
	labels := make([]float64, 0, gradations)
	step := max / gradations
	for i := 1; i <= gradations; i++ {
		labels = append(labels, step*float64(i))
	}
	return labels
}
