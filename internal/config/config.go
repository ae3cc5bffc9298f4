// Package config handles daemon configuration: a YAML file managed through
// viper, PLAYREC_* environment overrides and live reload.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	fileName  = "config.yaml"
	envPrefix = "PLAYREC_"
)

// Config represents the daemon configuration
type Config struct {
	Audio     AudioConfig     `mapstructure:"audio" json:"audio" envPrefix:"AUDIO_"`
	Progress  ProgressConfig  `mapstructure:"progress" json:"progress" envPrefix:"PROGRESS_"`
	Recording RecordingConfig `mapstructure:"recording" json:"recording" envPrefix:"RECORDING_"`
	Remote    RemoteConfig    `mapstructure:"remote" json:"remote" envPrefix:"REMOTE_"`
	Log       LogConfig       `mapstructure:"log" json:"log" envPrefix:"LOG_"`
}

// AudioConfig contains playback output settings
type AudioConfig struct {
	SampleRate    int     `mapstructure:"sample_rate" json:"sampleRate" env:"SAMPLE_RATE"`
	Channels      int     `mapstructure:"channels" json:"channels" env:"CHANNELS"`
	DefaultVolume float64 `mapstructure:"default_volume" json:"defaultVolume" env:"DEFAULT_VOLUME"`
	// FFmpegPath is looked up in PATH when empty
	FFmpegPath string `mapstructure:"ffmpeg_path" json:"ffmpegPath" env:"FFMPEG_PATH"`
}

type ProgressConfig struct {
	Interval time.Duration `mapstructure:"interval" json:"interval" env:"INTERVAL"`
}

// RecordingConfig contains capture settings
type RecordingConfig struct {
	SampleRate int  `mapstructure:"sample_rate" json:"sampleRate" env:"SAMPLE_RATE"`
	Channels   int  `mapstructure:"channels" json:"channels" env:"CHANNELS"`
	BitDepth   int  `mapstructure:"bit_depth" json:"bitDepth" env:"BIT_DEPTH"`
	Allow      bool `mapstructure:"allow" json:"allow" env:"ALLOW"`
}

// RemoteConfig contains settings for http(s) resources
type RemoteConfig struct {
	CacheDir          string        `mapstructure:"cache_dir" json:"cacheDir" env:"CACHE_DIR"`
	MaxCacheMB        int           `mapstructure:"max_cache_mb" json:"maxCacheMb" env:"MAX_CACHE_MB"`
	CompressionLevel  int           `mapstructure:"compression_level" json:"compressionLevel" env:"COMPRESSION_LEVEL"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" json:"requestsPerMinute" env:"REQUESTS_PER_MINUTE"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout" env:"TIMEOUT"`
	Retries           int           `mapstructure:"retries" json:"retries" env:"RETRIES"`
}

type LogConfig struct {
	Level string `mapstructure:"level" json:"level" env:"LEVEL"`
	File  string `mapstructure:"file" json:"file" env:"FILE"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:    44100,
			Channels:      2,
			DefaultVolume: 1.0,
		},
		Progress: ProgressConfig{
			Interval: 250 * time.Millisecond,
		},
		Recording: RecordingConfig{
			SampleRate: 44100,
			Channels:   1,
			BitDepth:   16,
			Allow:      true,
		},
		Remote: RemoteConfig{
			MaxCacheMB:        256,
			CompressionLevel:  3,
			RequestsPerMinute: 60,
			Timeout:           30 * time.Second,
			Retries:           2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects settings the audio stack cannot honor.
func (c *Config) Validate() error {
	var errs []error
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels))
	}
	if c.Audio.DefaultVolume < 0 || c.Audio.DefaultVolume > 1 {
		errs = append(errs, fmt.Errorf("audio.default_volume must be within [0, 1], got %g", c.Audio.DefaultVolume))
	}
	if c.Recording.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("recording.sample_rate must be positive, got %d", c.Recording.SampleRate))
	}
	if c.Recording.Channels < 1 || c.Recording.Channels > 2 {
		errs = append(errs, fmt.Errorf("recording.channels must be 1 or 2, got %d", c.Recording.Channels))
	}
	switch c.Recording.BitDepth {
	case 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("recording.bit_depth must be 16, 24 or 32, got %d", c.Recording.BitDepth))
	}
	if c.Remote.MaxCacheMB <= 0 {
		errs = append(errs, fmt.Errorf("remote.max_cache_mb must be positive, got %d", c.Remote.MaxCacheMB))
	}
	if c.Remote.Retries < 0 {
		errs = append(errs, fmt.Errorf("remote.retries must not be negative, got %d", c.Remote.Retries))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// Options configures a Manager.
type Options struct {
	Dir string
	// Fs defaults to the OS filesystem. Watch only works on the OS filesystem.
	Fs     afero.Fs
	Logger *log.Logger
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.RWMutex
	v          *viper.Viper
	fs         afero.Fs
	configDir  string
	configPath string
	config     *Config
	logger     *log.Logger
}

// NewManager creates a new configuration manager
func NewManager(opts Options) *Manager {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	m := &Manager{
		v:          viper.New(),
		fs:         opts.Fs,
		configDir:  opts.Dir,
		configPath: filepath.Join(opts.Dir, fileName),
		config:     DefaultConfig(),
		logger:     opts.Logger,
	}
	m.v.SetFs(opts.Fs)
	m.v.SetConfigFile(m.configPath)
	m.v.SetConfigType("yaml")
	setDefaults(m.v, DefaultConfig())
	return m
}

// DefaultDir is ~/.config/playrec, or the working directory if the home
// directory is unknown.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "playrec"
	}
	return filepath.Join(dir, "playrec")
}

// Load reads the configuration from disk, writing defaults when missing.
func (m *Manager) Load() error {
	if err := m.fs.MkdirAll(m.configDir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exists, err := afero.Exists(m.fs, m.configPath)
	if err != nil {
		return fmt.Errorf("failed to stat config: %w", err)
	}
	if !exists {
		m.logger.Info("writing default config", "path", m.configPath)
		if err := m.write(DefaultConfig()); err != nil {
			return err
		}
	}
	if err := m.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := m.decode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// decode builds a Config from viper's current view plus the environment.
func (m *Manager) decode() (*Config, error) {
	cfg := DefaultConfig()
	if err := m.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.Remote.CacheDir == "" {
		cfg.Remote.CacheDir = filepath.Join(m.configDir, "cache")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the current configuration to disk.
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := *m.config
	m.mu.RUnlock()
	return m.write(&cfg)
}

func (m *Manager) write(cfg *Config) error {
	if err := m.fs.MkdirAll(m.configDir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// a scratch viper keeps Set overrides out of the instance that reads the file
	w := viper.New()
	w.SetFs(m.fs)
	w.SetConfigType("yaml")
	for key, value := range settings(cfg) {
		w.Set(key, value)
	}
	if err := w.WriteConfigAs(m.configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// Path returns the config file path
func (m *Manager) Path() string {
	return m.configPath
}

// Dir returns the config directory
func (m *Manager) Dir() string {
	return m.configDir
}

// Update applies fn to a copy of the configuration, validates and saves it.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *m.config
	fn(&next)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := m.write(&next); err != nil {
		return err
	}
	m.config = &next
	return nil
}

// Watch reloads the configuration when the file changes and passes every
// valid result to fn. Invalid edits are logged and ignored.
func (m *Manager) Watch(fn func(Config)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := m.decode()
		if err != nil {
			m.logger.Warn("ignoring config change", "path", e.Name, "err", err)
			return
		}
		m.mu.Lock()
		m.config = cfg
		m.mu.Unlock()
		m.logger.Info("config reloaded", "path", e.Name)
		if fn != nil {
			fn(*cfg)
		}
	})
	m.v.WatchConfig()
}

func setDefaults(v *viper.Viper, cfg *Config) {
	for key, value := range settings(cfg) {
		v.SetDefault(key, value)
	}
}

// settings flattens cfg into viper keys.
func settings(cfg *Config) map[string]any {
	return map[string]any{
		"audio.sample_rate":          cfg.Audio.SampleRate,
		"audio.channels":             cfg.Audio.Channels,
		"audio.default_volume":       cfg.Audio.DefaultVolume,
		"audio.ffmpeg_path":          cfg.Audio.FFmpegPath,
		"progress.interval":          cfg.Progress.Interval.String(),
		"recording.sample_rate":      cfg.Recording.SampleRate,
		"recording.channels":         cfg.Recording.Channels,
		"recording.bit_depth":        cfg.Recording.BitDepth,
		"recording.allow":            cfg.Recording.Allow,
		"remote.cache_dir":           cfg.Remote.CacheDir,
		"remote.max_cache_mb":        cfg.Remote.MaxCacheMB,
		"remote.compression_level":   cfg.Remote.CompressionLevel,
		"remote.requests_per_minute": cfg.Remote.RequestsPerMinute,
		"remote.timeout":             cfg.Remote.Timeout.String(),
		"remote.retries":             cfg.Remote.Retries,
		"log.level":                  cfg.Log.Level,
		"log.file":                   cfg.Log.File,
	}
}
