// Package config loads fleetmap settings from fleetmap.yaml (or .json),
// FLEETMAP_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"fleetmap/internal/engine"
	"fleetmap/internal/input"
	"fleetmap/internal/overlay"
	"fleetmap/internal/projection"
	"fleetmap/internal/tiles"
	"fleetmap/internal/viewport"
)

const (
	ConfigName = "fleetmap"
	EnvPrefix  = "FLEETMAP"
)

type MapConfig struct {
	CenterLng   float64 `mapstructure:"centerLng"`
	CenterLat   float64 `mapstructure:"centerLat"`
	MinZoom     float64 `mapstructure:"minZoom"`
	MaxZoom     float64 `mapstructure:"maxZoom"`
	DefaultZoom float64 `mapstructure:"defaultZoom"`
	Width       int     `mapstructure:"width"`
	Height      int     `mapstructure:"height"`
}

type TilesConfig struct {
	Style          string  `mapstructure:"style"`
	SatelliteURL   string  `mapstructure:"satelliteUrl"`
	MapURL         string  `mapstructure:"mapUrl"`
	UserAgent      string  `mapstructure:"userAgent"`
	TimeoutSeconds int     `mapstructure:"timeoutSeconds"`
	CacheSize      int     `mapstructure:"cacheSize"`
	CacheDir       string  `mapstructure:"cacheDir"`
	Concurrency    int     `mapstructure:"concurrency"`
	Brightness     float64 `mapstructure:"brightness"`
	Contrast       float64 `mapstructure:"contrast"`
}

type OverlayConfig struct {
	MetricReference float64   `mapstructure:"metricReference"`
	MetricBands     []float64 `mapstructure:"metricBands"`
	MetricUnit      string    `mapstructure:"metricUnit"`
	LabelZoom       float64   `mapstructure:"labelZoom"`
	LegendZoom      float64   `mapstructure:"legendZoom"`
	HitRadius       float64   `mapstructure:"hitRadius"`
	ScaleTarget     float64   `mapstructure:"scaleTarget"`
}

type PlaybackConfig struct {
	IntervalMs int     `mapstructure:"intervalMs"`
	Step       float64 `mapstructure:"step"`
}

type InputConfig struct {
	WheelStep float64 `mapstructure:"wheelStep"`
	ClickSlop float64 `mapstructure:"clickSlop"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

type Settings struct {
	LogLevel  string         `mapstructure:"logLevel"`
	LogPretty bool           `mapstructure:"logPretty"`
	Map       MapConfig      `mapstructure:"map"`
	Tiles     TilesConfig    `mapstructure:"tiles"`
	Overlay   OverlayConfig  `mapstructure:"overlay"`
	Playback  PlaybackConfig `mapstructure:"playback"`
	Input     InputConfig    `mapstructure:"input"`
	Store     StoreConfig    `mapstructure:"store"`
	NATS      NATSConfig     `mapstructure:"nats"`
	Serve     ServeConfig    `mapstructure:"serve"`
}

// SetDefaults registers every key with its default value. Keys must be
// known to viper for environment overrides to reach Unmarshal.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logPretty", true)

	viper.SetDefault("map.centerLng", 131.85)
	viper.SetDefault("map.centerLat", 46.85)
	viper.SetDefault("map.minZoom", 8)
	viper.SetDefault("map.maxZoom", 18)
	viper.SetDefault("map.defaultZoom", 12)
	viper.SetDefault("map.width", 800)
	viper.SetDefault("map.height", 600)

	viper.SetDefault("tiles.style", tiles.StyleSatellite)
	viper.SetDefault("tiles.satelliteUrl", tiles.DefaultStyles()[0].URL)
	viper.SetDefault("tiles.mapUrl", tiles.DefaultStyles()[1].URL)
	viper.SetDefault("tiles.userAgent", "fleetmap/1.0")
	viper.SetDefault("tiles.timeoutSeconds", 10)
	viper.SetDefault("tiles.cacheSize", tiles.DefaultCacheSize)
	viper.SetDefault("tiles.cacheDir", "")
	viper.SetDefault("tiles.concurrency", 8)
	viper.SetDefault("tiles.brightness", 0.0)
	viper.SetDefault("tiles.contrast", 1.0)

	bands := overlay.DefaultBands()
	viper.SetDefault("overlay.metricReference", bands.Reference)
	viper.SetDefault("overlay.metricBands", bands.Thresholds[:])
	viper.SetDefault("overlay.metricUnit", bands.Unit)
	viper.SetDefault("overlay.labelZoom", 13)
	viper.SetDefault("overlay.legendZoom", 12)
	viper.SetDefault("overlay.hitRadius", 25)
	viper.SetDefault("overlay.scaleTarget", 100)

	viper.SetDefault("playback.intervalMs", 50)
	viper.SetDefault("playback.step", 0.5)

	viper.SetDefault("input.wheelStep", input.DefaultWheelStep)
	viper.SetDefault("input.clickSlop", input.DefaultClickSlop)

	viper.SetDefault("store.path", "fleetmap.db")

	viper.SetDefault("nats.enabled", false)
	viper.SetDefault("nats.url", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.subject", "fleet.snapshot")

	viper.SetDefault("serve.addr", ":8080")
}

// Load sets defaults and reads the config file. An explicit file must
// exist; otherwise fleetmap.yaml or fleetmap.json is looked up in dirs and
// may be absent.
func Load(file string, dirs ...string) error {
	SetDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName(ConfigName)
		for _, d := range dirs {
			viper.AddConfigPath(d)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// Current decodes the loaded configuration.
func Current() (Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("error decoding config: %w", err)
	}
	return s, nil
}

func (s Settings) Home() projection.LngLat {
	return projection.LngLat{Lng: s.Map.CenterLng, Lat: s.Map.CenterLat}
}

func (s Settings) Styles() []tiles.Style {
	return []tiles.Style{
		{Name: tiles.StyleSatellite, URL: s.Tiles.SatelliteURL},
		{Name: tiles.StyleMap, URL: s.Tiles.MapURL},
	}
}

// Fetcher downloads over HTTP and adjusts brightness and contrast last.
// Raw tiles are kept on disk only when tiles.cacheDir is set, which is off
// by default.
func (s Settings) Fetcher(logger zerolog.Logger) tiles.Fetcher {
	var f tiles.Fetcher = tiles.NewHTTPFetcher(time.Duration(s.Tiles.TimeoutSeconds)*time.Second, s.Tiles.UserAgent)
	if s.Tiles.CacheDir != "" {
		f = tiles.NewDiskFetcher(s.Tiles.CacheDir, f, logger)
	}
	return tiles.Adjusted(f, s.Tiles.Brightness, s.Tiles.Contrast)
}

func (s Settings) OverlayOptions() overlay.Options {
	return overlay.Options{
		Bands:       overlay.NewBands(s.Overlay.MetricReference, s.Overlay.MetricBands, s.Overlay.MetricUnit),
		LabelZoom:   s.Overlay.LabelZoom,
		LegendZoom:  s.Overlay.LegendZoom,
		HitRadius:   s.Overlay.HitRadius,
		ScaleTarget: s.Overlay.ScaleTarget,
	}
}

// Engine builds a session configuration for a surface of the configured
// size.
func (s Settings) Engine() engine.Config {
	return engine.Config{
		Home:        s.Home(),
		DefaultZoom: s.Map.DefaultZoom,
		Limits:      viewport.Limits{MinZoom: s.Map.MinZoom, MaxZoom: s.Map.MaxZoom},
		Width:       s.Map.Width,
		Height:      s.Map.Height,
		Style:       s.Tiles.Style,
		Input: input.Config{
			WheelStep: s.Input.WheelStep,
			ClickSlop: s.Input.ClickSlop,
			Home:      s.Home(),
			HomeZoom:  s.Map.DefaultZoom,
		},
		Overlay:          s.OverlayOptions(),
		PlaybackInterval: time.Duration(s.Playback.IntervalMs) * time.Millisecond,
		PlaybackStep:     s.Playback.Step,
		Concurrency:      s.Tiles.Concurrency,
	}
}

func GetString(key string) string {
	return viper.GetString(key)
}
