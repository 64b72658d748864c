package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	data := []byte(`
protocol_version: "1.0"
fast_tick_hz: 2000
slow_tick_hz: 2
snapshot_every_ticks: 1000
rate_limits:
  press_window_ticks: 4
  press_max: 3
observer:
  frame_every_default: 20
  frame_every_max: 500
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	tune, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tune.FastTickHz != 2000 || tune.SlowTickHz != 2 {
		t.Fatalf("tick rates = %d/%d, want 2000/2", tune.FastTickHz, tune.SlowTickHz)
	}
	if tune.RateLimits.PressMax != 3 {
		t.Fatalf("press_max = %d, want 3", tune.RateLimits.PressMax)
	}
	if tune.Observer.FrameEveryDefault != 20 {
		t.Fatalf("frame_every_default = %d, want 20", tune.Observer.FrameEveryDefault)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(path, []byte("slow_tick_hz: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tune, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tune.SlowTickHz != 3 {
		t.Fatalf("slow_tick_hz = %d, want 3", tune.SlowTickHz)
	}
	if tune.FastTickHz != Defaults().FastTickHz {
		t.Fatalf("fast_tick_hz = %d, want default %d", tune.FastTickHz, Defaults().FastTickHz)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Tuning)
	}{
		{"zero fast", func(t *Tuning) { t.FastTickHz = 0 }},
		{"zero slow", func(t *Tuning) { t.SlowTickHz = 0 }},
		{"fast not above slow", func(t *Tuning) { t.FastTickHz = 2; t.SlowTickHz = 2 }},
		{"negative snapshot cadence", func(t *Tuning) { t.SnapshotEveryTicks = -1 }},
	}
	for _, c := range cases {
		tune := Defaults()
		c.mut(&tune)
		if err := tune.Validate(); err == nil {
			t.Errorf("%s: Validate() passed, want error", c.name)
		}
	}
}

func TestDefaults_Valid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("Defaults().Validate(): %v", err)
	}
}
