package tiles

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"time"
)

// Fetcher loads and decodes one tile.
type Fetcher interface {
	Fetch(ctx context.Context, style Style, key Key) (image.Image, error)
}

// HTTPFetcher downloads tiles over HTTP(S).
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout, Transport: transport},
		userAgent: userAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, style Style, key Key) (image.Image, error) {
	url := style.URLFor(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range style.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download tile %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download tile %s: status %d", url, resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %s: %w", url, err)
	}
	return img, nil
}

// AdjustedFetcher applies brightness and contrast to every tile from Next.
type AdjustedFetcher struct {
	Next       Fetcher
	Brightness float64
	Contrast   float64
}

// Adjusted wraps next unless the adjustment is the identity. A zero
// contrast means unchanged.
func Adjusted(next Fetcher, brightness, contrast float64) Fetcher {
	if contrast == 0 {
		contrast = 1
	}
	if brightness == 0 && contrast == 1 {
		return next
	}
	return &AdjustedFetcher{Next: next, Brightness: brightness, Contrast: contrast}
}

func (f *AdjustedFetcher) Fetch(ctx context.Context, style Style, key Key) (image.Image, error) {
	img, err := f.Next.Fetch(ctx, style, key)
	if err != nil {
		return nil, err
	}
	return adjustBrightnessContrast(img, f.Brightness, f.Contrast), nil
}

// adjustBrightnessContrast shifts every channel by brightness*255 and then
// stretches it around mid-grey by contrast. Alpha is kept.
func adjustBrightnessContrast(img image.Image, brightness, contrast float64) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	var lut [256]uint8
	for i := range lut {
		v := (float64(i)+brightness*255-128)*contrast + 128
		lut[i] = uint8(math.Max(0, math.Min(255, v)))
	}

	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i] = lut[out.Pix[i]]
		out.Pix[i+1] = lut[out.Pix[i+1]]
		out.Pix[i+2] = lut[out.Pix[i+2]]
	}
	return out
}
