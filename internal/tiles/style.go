package tiles

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	StyleSatellite = "satellite"
	StyleMap       = "map"
)

// Style is one basemap: a URL template with {z}, {x}, {y} placeholders, or
// {-y} for servers that number rows from the south (TMS).
type Style struct {
	Name    string
	URL     string
	Headers map[string]string
}

// DefaultStyles are the two basemaps the viewer toggles between.
func DefaultStyles() []Style {
	return []Style{
		{Name: StyleSatellite, URL: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}"},
		{Name: StyleMap, URL: "https://tile.openstreetmap.org/{z}/{x}/{y}.png"},
	}
}

// Key addresses one tile at an integer zoom.
type Key struct {
	Z, X, Y int
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// TMSY is the row number counted from the south edge.
func (k Key) TMSY() int {
	return (1 << k.Z) - 1 - k.Y
}

// Valid reports whether the key lies inside the world at its zoom.
func (k Key) Valid() bool {
	n := 1 << k.Z
	return k.Z >= 0 && k.X >= 0 && k.X < n && k.Y >= 0 && k.Y < n
}

// Wrap folds X back into the world so panning across the antimeridian keeps
// finding tiles.
func (k Key) Wrap() Key {
	n := 1 << k.Z
	k.X = ((k.X % n) + n) % n
	return k
}

func (s Style) URLFor(k Key) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(k.Z),
		"{x}", strconv.Itoa(k.X),
		"{-y}", strconv.Itoa(k.TMSY()),
		"{y}", strconv.Itoa(k.Y),
	)
	return r.Replace(s.URL)
}
