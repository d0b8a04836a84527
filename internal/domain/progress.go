package domain

import "math"

// Progress is the precise reading position: the integer part is the section
// index, the fractional part the normalized scroll offset within it.
type Progress float64

// MakeProgress combines a section index and an intra-section fraction.
// The fraction is clamped to [0, 1).
func MakeProgress(index int, fraction float64) Progress {
	return Progress(float64(index) + clampFraction(fraction))
}

// Section returns the integer section index.
func (p Progress) Section() int {
	if p < 0 {
		return 0
	}
	return int(math.Floor(float64(p)))
}

// Fraction returns the normalized offset within the section, in [0, 1).
func (p Progress) Fraction() float64 {
	return clampFraction(float64(p) - math.Floor(float64(p)))
}

func clampFraction(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f >= 1:
		return math.Nextafter(1, 0)
	default:
		return f
	}
}

// Clamp01 clamps v into [0, 1].
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
