package overlay

import (
	"fmt"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

// faces caches glyphs and must not be shared between goroutines.
type faces struct {
	label      font.Face
	glyph      font.Face
	glyphLarge font.Face
	title      font.Face
	small      font.Face
}

func loadFaces() (*faces, error) {
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &faces{
		label:      truetype.NewFace(regular, &truetype.Options{Size: 12}),
		glyph:      truetype.NewFace(bold, &truetype.Options{Size: 11}),
		glyphLarge: truetype.NewFace(bold, &truetype.Options{Size: 14}),
		title:      truetype.NewFace(bold, &truetype.Options{Size: 12}),
		small:      truetype.NewFace(regular, &truetype.Options{Size: 11}),
	}, nil
}
