package overlay

import (
	"fmt"
	"image/color"
	"math"
)

// Bands buckets a scalar metric into five colour bands, best first. A value
// falls in band i when value/Reference (capped at 1) reaches Thresholds[i];
// anything below the last threshold is the worst band.
type Bands struct {
	Reference  float64
	Thresholds [4]float64
	Unit       string
}

var bandColors = [5]color.RGBA{
	mustHex("#22c55e"),
	mustHex("#84cc16"),
	mustHex("#eab308"),
	mustHex("#f97316"),
	mustHex("#ef4444"),
}

func DefaultBands() Bands {
	return Bands{
		Reference:  800,
		Thresholds: [4]float64{0.8, 0.6, 0.4, 0.2},
		Unit:       "kg/mu",
	}
}

// NewBands builds bands from a reference and descending thresholds. Anything
// other than four thresholds falls back to the defaults.
func NewBands(reference float64, thresholds []float64, unit string) Bands {
	b := DefaultBands()
	if reference > 0 {
		b.Reference = reference
	}
	if len(thresholds) == len(b.Thresholds) {
		copy(b.Thresholds[:], thresholds)
	}
	if unit != "" {
		b.Unit = unit
	}
	return b
}

func (b Bands) Band(value float64) int {
	ratio := math.Min(1, value/b.Reference)
	for i, th := range b.Thresholds {
		if ratio >= th {
			return i
		}
	}
	return len(b.Thresholds)
}

func (b Bands) Color(value float64) color.RGBA {
	return bandColors[b.Band(value)]
}

// Labels describes each band in metric units for the legend.
func (b Bands) Labels() [5]string {
	var out [5]string
	v := func(i int) string { return fmt.Sprintf("%.0f", b.Thresholds[i]*b.Reference) }
	out[0] = "> " + v(0)
	for i := 1; i < len(b.Thresholds); i++ {
		out[i] = v(i) + "-" + v(i-1)
	}
	out[4] = "< " + v(3)
	return out
}
