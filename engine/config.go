// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/gviegas/framegraph/engine/cascade"
)

const (
	// The maximum number of frames in flight.
	MaxFrame = 3

	// The minimum number of shadow mask slots.
	MinMaskCount = 2

	dflFramesInFlight = 2
	dflWidth          = 1280
	dflHeight         = 720
	dflMaskCount      = MinMaskCount
	dflNoiseSeed      = 0x5eed
	dflScreenshotDir  = "screenshots"
)

// Default size of each cascade's shadow map.
var dflCascadeSizes = [cascade.Count]int{2048, 2048, 1024, 1024}

// Config is used to configure the engine.
type Config struct {
	// Name of the driver to use. Any driver whose name
	// contains this string (ignoring case) is accepted.
	//
	// Default is "" (any driver).
	Driver string `toml:"driver"`

	// Number of frames that may be in flight.
	// It must be in the interval [1, MaxFrame].
	//
	// Default is 2.
	FramesInFlight int `toml:"frames_in_flight"`

	// Initial size of the render target.
	//
	// Default is 1280x720.
	Width  int `toml:"width"`
	Height int `toml:"height"`

	// Size of each cascade's shadow map.
	//
	// Default is [2048, 2048, 1024, 1024].
	CascadeSizes [cascade.Count]int `toml:"cascade_sizes"`

	// Initial shadow producer.
	//
	// Default is CascadeRaster.
	ShadowProducer ShadowProducer `toml:"shadow_producer"`

	// Number of shadow mask slots that the resolver
	// ping-pongs between.
	// It must be at least MinMaskCount.
	//
	// Default is 2.
	MaskCount int `toml:"mask_count"`

	// Directory from which shader sources are read.
	// An empty string selects the built-in shaders.
	//
	// Default is "".
	ShaderDir string `toml:"shader_dir"`

	// Poll shader sources for changes every frame.
	//
	// Default is false.
	HotReload bool `toml:"hot_reload"`

	// Directory in which shadow screenshots are written.
	//
	// Default is "screenshots".
	ScreenshotDir string `toml:"screenshot_dir"`

	// Seed of the noise patterns.
	//
	// Default is 0x5eed.
	NoiseSeed uint64 `toml:"noise_seed"`

	// Enable temporal anti-aliasing.
	//
	// Default is true.
	TAA bool `toml:"taa"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		FramesInFlight: dflFramesInFlight,
		Width:          dflWidth,
		Height:         dflHeight,
		CascadeSizes:   dflCascadeSizes,
		ShadowProducer: CascadeRaster,
		MaskCount:      dflMaskCount,
		ScreenshotDir:  dflScreenshotDir,
		NoiseSeed:      dflNoiseSeed,
		TAA:            true,
	}
}

func newConfigErr(s string) error { return errors.New("engine: invalid configuration: " + s) }

// Validate checks whether c is a valid configuration.
func (c *Config) Validate() error {
	switch {
	case c.FramesInFlight < 1 || c.FramesInFlight > MaxFrame:
		return newConfigErr(fmt.Sprintf("frames in flight must be in [1, %d]", MaxFrame))
	case c.Width < 1 || c.Height < 1:
		return newConfigErr("non-positive render target size")
	case c.MaskCount < MinMaskCount:
		return newConfigErr(fmt.Sprintf("mask count must be at least %d", MinMaskCount))
	case c.ShadowProducer != CascadeRaster && c.ShadowProducer != RayTraced:
		return newConfigErr("undefined shadow producer")
	}
	for i, s := range c.CascadeSizes {
		if s < 1 {
			return newConfigErr(fmt.Sprintf("non-positive size for cascade %d", i))
		}
	}
	return nil
}

var cfg Config

// Configure replaces the engine's configuration
// with config.
// It only affects renderers created afterwards.
func Configure(config *Config) { cfg = *config }

// LoadConfig decodes the TOML file at path over the
// default configuration.
// Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return Config{}, fmt.Errorf("engine: %w", err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		s := make([]string, len(keys))
		for i := range keys {
			s[i] = keys[i].String()
		}
		return Config{}, newConfigErr("unknown keys: " + strings.Join(s, ", "))
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func init() {
	config := DefaultConfig()
	Configure(&config)
}
