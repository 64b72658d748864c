package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// Fast domain: display refresh. Each digit is refreshed at half this
	// rate, so 1000 Hz keeps both digits above the flicker-free target.
	FastTickHz int `yaml:"fast_tick_hz"`
	// Slow domain: cabin floor updates.
	SlowTickHz int `yaml:"slow_tick_hz"`

	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	RateLimits RateLimits `yaml:"rate_limits"`
	Observer   Observer   `yaml:"observer"`
}

type RateLimits struct {
	PressWindowTicks int `yaml:"press_window_ticks"`
	PressMax         int `yaml:"press_max"`
}

type Observer struct {
	// Send every Nth frame to observers; raw 1 kHz refresh frames are far
	// denser than any viewer needs.
	FrameEveryDefault int `yaml:"frame_every_default"`
	FrameEveryMax     int `yaml:"frame_every_max"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		FastTickHz:         1000,
		SlowTickHz:         1,
		SnapshotEveryTicks: 60000,
		RateLimits: RateLimits{
			PressWindowTicks: 5,
			PressMax:         10,
		},
		Observer: Observer{
			FrameEveryDefault: 50,
			FrameEveryMax:     1000,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.FastTickHz < 1 {
		return fmt.Errorf("fast_tick_hz must be >= 1, got %d", t.FastTickHz)
	}
	if t.SlowTickHz < 1 {
		return fmt.Errorf("slow_tick_hz must be >= 1, got %d", t.SlowTickHz)
	}
	if t.FastTickHz <= t.SlowTickHz {
		return fmt.Errorf("fast_tick_hz (%d) must exceed slow_tick_hz (%d)", t.FastTickHz, t.SlowTickHz)
	}
	if t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("snapshot_every_ticks must be >= 0, got %d", t.SnapshotEveryTicks)
	}
	return nil
}
