package overlay

import (
	"fmt"
	"image/color"

	"fleetmap/internal/fleet"
)

var (
	background   = mustHex("#e5e7eb")
	selectRing   = mustHex("#FFD700")
	textDark     = mustHex("#333333")
	textMuted    = mustHex("#666666")
	fieldColor   = mustHex("#3b82f6")
	legendBorder = mustHex("#dddddd")
)

var brandColors = map[string]color.RGBA{
	"john_deere":  mustHex("#367C2B"),
	"case_ih":     mustHex("#C8102E"),
	"new_holland": mustHex("#0033A0"),
	"claas":       mustHex("#8DC63F"),
}

var statusColors = map[fleet.Status]color.RGBA{
	fleet.Working: mustHex("#22C55E"),
	fleet.Moving:  mustHex("#3B82F6"),
	fleet.Idle:    mustHex("#F59E0B"),
	fleet.Offline: mustHex("#6B7280"),
}

// Background is the fill shown wherever no tile could be drawn.
func Background() color.RGBA {
	return background
}

// BrandColor falls back to John Deere green for unknown brands.
func BrandColor(brand string) color.RGBA {
	if c, ok := brandColors[brand]; ok {
		return c
	}
	return brandColors["john_deere"]
}

func StatusColor(s fleet.Status) color.RGBA {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return statusColors[fleet.Offline]
}

func ParseHexColor(s string) (color.RGBA, error) {
	var r, g, b uint8
	_, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b)
	if err != nil {
		return color.RGBA{A: 255}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

func mustHex(s string) color.RGBA {
	c, err := ParseHexColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

func withAlpha(c color.RGBA, a uint8) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: a}
}
