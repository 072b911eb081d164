package compositor

import (
	"errors"
	"image"
	"image/draw"
	"sync"
)

var ErrReadbackUnsupported = errors.New("surface does not support pixel readback")

// Surface is the visible target a finished frame is blitted to.
type Surface interface {
	// Present shows img. The image is reused by the compositor after the
	// call returns, so implementations must copy or encode it.
	Present(img image.Image) error
	// Snapshot reads back the visible pixels.
	Snapshot() (image.Image, error)
}

// ImageSurface keeps the last presented frame in memory.
type ImageSurface struct {
	mu       sync.Mutex
	frame    *image.RGBA
	presents int
}

func NewImageSurface() *ImageSurface {
	return &ImageSurface{}
}

func (s *ImageSurface) Present(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := img.Bounds()
	if s.frame == nil || s.frame.Bounds() != b {
		s.frame = image.NewRGBA(b)
	}
	draw.Draw(s.frame, b, img, b.Min, draw.Src)
	s.presents++
	return nil
}

func (s *ImageSurface) Snapshot() (image.Image, error) {
	f, err := s.Frame()
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Frame returns a copy of the last presented frame.
func (s *ImageSurface) Frame() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, errors.New("no frame presented yet")
	}
	out := image.NewRGBA(s.frame.Bounds())
	copy(out.Pix, s.frame.Pix)
	return out, nil
}

// Presents counts completed blits.
func (s *ImageSurface) Presents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presents
}
