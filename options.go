package atlas

import "time"

// config holds coordinator configuration assembled from options.
type config struct {
	levels        LevelTable
	padding       int
	tier          DeviceTier
	pressure      Pressure
	minPerAtlas   []int
	decodeTimeout time.Duration
	boostLevel    bool
}

func defaultConfig() config {
	return config{
		levels:        DefaultLevels(),
		padding:       2,
		tier:          TierMedium,
		pressure:      PressureNormal,
		minPerAtlas:   DefaultMinPerAtlas(),
		decodeTimeout: 10 * time.Second,
		boostLevel:    true,
	}
}

func (c *config) validate() error {
	if err := c.levels.Validate(); err != nil {
		return err
	}
	if c.padding < 0 {
		return &ConfigError{Field: "Padding", Reason: "must be non-negative"}
	}
	if c.padding > 64 {
		return &ConfigError{Field: "Padding", Reason: "must be at most 64"}
	}
	if c.decodeTimeout < 0 {
		return &ConfigError{Field: "DecodeTimeout", Reason: "must be non-negative"}
	}
	for _, m := range c.minPerAtlas {
		if m < 1 {
			return &ConfigError{Field: "MinPerAtlas", Reason: "thresholds must be at least 1"}
		}
	}
	return nil
}

// Option configures a Coordinator during creation.
type Option func(*config)

// WithLevels replaces the default detail-level table. The table must pass
// [LevelTable.Validate].
func WithLevels(levels LevelTable) Option {
	return func(c *config) {
		c.levels = levels
	}
}

// WithPadding sets the packing margin in pixels between atlas entries.
// Default: 2.
func WithPadding(px int) Option {
	return func(c *config) {
		c.padding = px
	}
}

// WithDeviceTier sets the device capability tier the budget is computed
// from. Default: TierMedium. See [DetectTier] for deriving a tier from
// device properties.
func WithDeviceTier(t DeviceTier) Option {
	return func(c *config) {
		c.tier = t
	}
}

// WithPressure sets the initial memory-pressure level. Default:
// PressureNormal. Use [Coordinator.SetPressure] for runtime changes.
func WithPressure(p Pressure) Option {
	return func(c *config) {
		c.pressure = p
	}
}

// WithMinPerAtlas sets the per-level minimum-images-per-atlas thresholds
// used by the multi-size distribution policy, indexed by detail level.
func WithMinPerAtlas(thresholds []int) Option {
	return func(c *config) {
		c.minPerAtlas = thresholds
	}
}

// WithDecodeTimeout bounds each individual photo decode. A photo that
// exceeds it is a per-photo failure, not a task failure. Zero disables the
// bound. Default: 10s.
func WithDecodeTimeout(d time.Duration) Option {
	return func(c *config) {
		c.decodeTimeout = d
	}
}

// WithBoostLevel enables or disables generating one detail level above the
// visible level on each full pass, so a small zoom-in has its atlases
// ready before a boundary crossing. Default: enabled.
func WithBoostLevel(enabled bool) Option {
	return func(c *config) {
		c.boostLevel = enabled
	}
}
