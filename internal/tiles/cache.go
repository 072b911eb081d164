// Package tiles fetches raster basemap tiles and keeps the decoded images in
// a bounded least-recently-used cache, one cache per basemap style.
package tiles

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the number of decoded tiles kept per style.
const DefaultCacheSize = 512

var ErrOutOfRange = errors.New("tile outside the world")

// Recorder receives cache events; the metrics package implements it.
type Recorder interface {
	TileHit(style string)
	TileMiss(style string)
	TileFetched(style string, took time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) TileHit(string)                           {}
func (nopRecorder) TileMiss(string)                          {}
func (nopRecorder) TileFetched(string, time.Duration, error) {}

// Cache holds decoded tiles of one style. Concurrent misses for the same key
// share a single fetch; a failed fetch stores nothing so the next request
// tries again.
type Cache struct {
	style   Style
	fetcher Fetcher
	images  *lru.Cache[Key, image.Image]
	group   singleflight.Group
	rec     Recorder
	log     zerolog.Logger
}

func NewCache(style Style, fetcher Fetcher, size int, rec Recorder, logger zerolog.Logger) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	images, err := lru.New[Key, image.Image](size)
	if err != nil {
		return nil, fmt.Errorf("create tile cache: %w", err)
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Cache{
		style:   style,
		fetcher: fetcher,
		images:  images,
		rec:     rec,
		log:     logger.With().Str("style", style.Name).Logger(),
	}, nil
}

func (c *Cache) Style() Style {
	return c.style
}

func (c *Cache) Len() int {
	return c.images.Len()
}

// Peek returns a cached tile without fetching or touching recency.
func (c *Cache) Peek(key Key) (image.Image, bool) {
	return c.images.Peek(key.Wrap())
}

// Get returns the tile for key, fetching it on a miss. Cancelling ctx stops
// the wait; a fetch already shared with other callers keeps running for them.
func (c *Cache) Get(ctx context.Context, key Key) (image.Image, error) {
	key = key.Wrap()
	if !key.Valid() {
		return nil, fmt.Errorf("%s: %w", key, ErrOutOfRange)
	}

	if img, ok := c.images.Get(key); ok {
		c.rec.TileHit(c.style.Name)
		return img, nil
	}
	c.rec.TileMiss(c.style.Name)

	ch := c.group.DoChan(key.String(), func() (any, error) {
		if img, ok := c.images.Get(key); ok {
			return img, nil
		}
		start := time.Now()
		img, err := c.fetcher.Fetch(context.WithoutCancel(ctx), c.style, key)
		c.rec.TileFetched(c.style.Name, time.Since(start), err)
		if err != nil {
			c.log.Debug().Err(err).Stringer("tile", key).Msg("tile fetch failed")
			return nil, err
		}
		c.images.Add(key, img)
		return img, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	}
}
