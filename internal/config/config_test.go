package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	. "github.com/smartystreets/goconvey/convey"
)

func memManager(fs afero.Fs) *Manager {
	return NewManager(Options{Dir: "/etc/playrec", Fs: fs, Logger: log.New(io.Discard)})
}

func TestManager(t *testing.T) {
	Convey("Manager", t, func() {
		fs := afero.NewMemMapFs()

		Convey("Should write defaults when the file is missing", func() {
			m := memManager(fs)
			So(m.Load(), ShouldBeNil)

			exists, _ := afero.Exists(fs, "/etc/playrec/config.yaml")
			So(exists, ShouldBeTrue)

			cfg := m.Get()
			So(cfg.Audio.SampleRate, ShouldEqual, 44100)
			So(cfg.Audio.Channels, ShouldEqual, 2)
			So(cfg.Progress.Interval, ShouldEqual, 250*time.Millisecond)
			So(cfg.Recording.Channels, ShouldEqual, 1)
			So(cfg.Recording.Allow, ShouldBeTrue)
			So(cfg.Remote.Timeout, ShouldEqual, 30*time.Second)
			So(cfg.Remote.CacheDir, ShouldEqual, filepath.Join("/etc/playrec", "cache"))
			So(cfg.Log.Level, ShouldEqual, "info")
		})

		Convey("Should read values from the file over defaults", func() {
			yaml := "audio:\n  sample_rate: 48000\nprogress:\n  interval: 500ms\nrecording:\n  allow: false\n"
			So(fs.MkdirAll("/etc/playrec", 0o700), ShouldBeNil)
			So(afero.WriteFile(fs, "/etc/playrec/config.yaml", []byte(yaml), 0o600), ShouldBeNil)

			m := memManager(fs)
			So(m.Load(), ShouldBeNil)
			cfg := m.Get()
			So(cfg.Audio.SampleRate, ShouldEqual, 48000)
			So(cfg.Audio.Channels, ShouldEqual, 2)
			So(cfg.Progress.Interval, ShouldEqual, 500*time.Millisecond)
			So(cfg.Recording.Allow, ShouldBeFalse)
		})

		Convey("Should reject an invalid file", func() {
			So(fs.MkdirAll("/etc/playrec", 0o700), ShouldBeNil)
			So(afero.WriteFile(fs, "/etc/playrec/config.yaml", []byte("audio:\n  channels: 6\n"), 0o600), ShouldBeNil)

			m := memManager(fs)
			So(m.Load(), ShouldNotBeNil)
		})

		Convey("Should persist updates", func() {
			m := memManager(fs)
			So(m.Load(), ShouldBeNil)
			So(m.Update(func(c *Config) { c.Audio.DefaultVolume = 0.25 }), ShouldBeNil)

			reloaded := memManager(fs)
			So(reloaded.Load(), ShouldBeNil)
			So(reloaded.Get().Audio.DefaultVolume, ShouldEqual, 0.25)
		})

		Convey("Should refuse invalid updates and keep the old value", func() {
			m := memManager(fs)
			So(m.Load(), ShouldBeNil)
			So(m.Update(func(c *Config) { c.Audio.DefaultVolume = 2 }), ShouldNotBeNil)
			So(m.Get().Audio.DefaultVolume, ShouldEqual, 1.0)
		})
	})
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PLAYREC_AUDIO_SAMPLE_RATE", "96000")
	t.Setenv("PLAYREC_PROGRESS_INTERVAL", "1s")
	t.Setenv("PLAYREC_RECORDING_ALLOW", "false")
	t.Setenv("PLAYREC_LOG_LEVEL", "debug")

	m := memManager(afero.NewMemMapFs())
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := m.Get()
	if cfg.Audio.SampleRate != 96000 {
		t.Errorf("Expected sample rate 96000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Progress.Interval != time.Second {
		t.Errorf("Expected interval 1s, got %v", cfg.Progress.Interval)
	}
	if cfg.Recording.Allow {
		t.Error("Expected recording to be disallowed")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %q", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }, true},
		{"three channels", func(c *Config) { c.Audio.Channels = 3 }, true},
		{"mono output", func(c *Config) { c.Audio.Channels = 1 }, false},
		{"volume above one", func(c *Config) { c.Audio.DefaultVolume = 1.5 }, true},
		{"negative volume", func(c *Config) { c.Audio.DefaultVolume = -0.1 }, true},
		{"24 bit recording", func(c *Config) { c.Recording.BitDepth = 24 }, false},
		{"8 bit recording", func(c *Config) { c.Recording.BitDepth = 8 }, true},
		{"stereo recording", func(c *Config) { c.Recording.Channels = 2 }, false},
		{"empty cache", func(c *Config) { c.Remote.MaxCacheMB = 0 }, true},
		{"negative retries", func(c *Config) { c.Remote.Retries = -1 }, true},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(Options{Dir: dir, Logger: log.New(io.Discard)})
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	changed := make(chan Config, 4)
	m.Watch(func(c Config) { changed <- c })

	yaml := "audio:\n  default_volume: 0.5\n"
	if err := os.WriteFile(m.Path(), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Audio.DefaultVolume == 0.5 {
				if m.Get().Audio.DefaultVolume != 0.5 {
					t.Error("Get did not reflect the reload")
				}
				return
			}
		case <-deadline:
			t.Fatal("config change was not picked up")
		}
	}
}
