package tiles

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
)

// DiskFetcher keeps downloaded tiles under Dir/<style>/<z>/<x>/<y>.png and
// only asks Next for tiles it does not have yet. The directory is a cache:
// a tile that cannot be written is still returned.
type DiskFetcher struct {
	Dir  string
	Next Fetcher
	Log  zerolog.Logger
}

func NewDiskFetcher(dir string, next Fetcher, logger zerolog.Logger) *DiskFetcher {
	return &DiskFetcher{Dir: dir, Next: next, Log: logger.With().Str("dir", dir).Logger()}
}

func (f *DiskFetcher) Path(style Style, key Key) string {
	return filepath.Join(f.Dir, style.Name, strconv.Itoa(key.Z), strconv.Itoa(key.X), strconv.Itoa(key.Y)+".png")
}

func (f *DiskFetcher) Fetch(ctx context.Context, style Style, key Key) (image.Image, error) {
	path := f.Path(style, key)
	if img, err := readTile(path); err == nil {
		return img, nil
	}

	img, err := f.Next.Fetch(ctx, style, key)
	if err != nil {
		return nil, err
	}
	if err := writeTile(path, img); err != nil {
		f.Log.Debug().Err(err).Stringer("tile", key).Msg("failed to store tile on disk")
	}
	return img, nil
}

func readTile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// writeTile re-encodes img as PNG and renames it into place so concurrent
// readers never see a partial file.
func writeTile(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tile-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode tile %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
