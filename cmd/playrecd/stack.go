package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/austinkregel/local-media/playrec/internal/audio"
	"github.com/austinkregel/local-media/playrec/internal/cache"
	"github.com/austinkregel/local-media/playrec/internal/config"
	"github.com/austinkregel/local-media/playrec/internal/logging"
	"github.com/austinkregel/local-media/playrec/internal/playrec"
	"github.com/austinkregel/local-media/playrec/internal/remote"
)

// stack owns the devices, cache and PlayerRecorder shared by every command.
type stack struct {
	pr           *playrec.PlayerRecorder
	output       *audio.OtoOutput
	capture      *audio.Capture
	captureMeter *audio.Meter
	ffmpeg       *audio.FFmpegDecoder
	store        *cache.Store
	logger       *log.Logger
}

// buildStack opens the audio devices and remote cache described by cfg.
// allowRecording is consulted on every permission request so configuration
// reloads take effect without a restart.
func buildStack(cfg config.Config, allowRecording func() bool) (*stack, error) {
	s := &stack{logger: logging.For("playrecd")}

	store, err := cache.Open(cache.Options{
		Fs:               afero.NewOsFs(),
		Dir:              cfg.Remote.CacheDir,
		Capacity:         int64(cfg.Remote.MaxCacheMB) << 20,
		CompressionLevel: cfg.Remote.CompressionLevel,
		Logger:           logging.For("cache"),
	})
	if err != nil {
		return nil, err
	}
	s.store = store
	s.logger.Debug("remote cache", "dir", cfg.Remote.CacheDir, "stats", store.Stats())

	output, err := audio.NewOtoOutput(cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to initialize audio output: %w", err)
	}
	s.output = output

	// Capture is optional; without it recording requests are refused.
	if capture, err := audio.NewCapture(logging.For("capture")); err != nil {
		s.logger.Warn("recording unavailable", "err", err)
	} else {
		s.capture = capture
	}

	decoder := audio.SniffDecoder{}
	if ff, err := audio.NewFFmpegDecoder(cfg.Audio.FFmpegPath, "", logging.For("ffmpeg")); err != nil {
		s.logger.Warn("only WAV playback available", "err", err)
	} else {
		decoder.Fallback = ff
		s.ffmpeg = ff
	}

	s.captureMeter = audio.NewMeter(cfg.Recording.SampleRate, cfg.Recording.Channels)
	engines := &audio.Engines{
		Sink:    output,
		Decoder: decoder,
		Format: audio.RecordFormat{
			SampleRate: cfg.Recording.SampleRate,
			Channels:   cfg.Recording.Channels,
			BitDepth:   cfg.Recording.BitDepth,
		},
		Meter:  s.captureMeter,
		Logger: logging.For("audio"),
	}
	if s.capture != nil {
		engines.Open = s.capture.Open
	}

	fetcher := remote.NewFetcher(remote.Options{
		Cache:             store,
		RequestsPerMinute: cfg.Remote.RequestsPerMinute,
		Timeout:           cfg.Remote.Timeout,
		Retries:           cfg.Remote.Retries,
		Logger:            logging.For("remote"),
	})

	s.pr = playrec.New(playrec.Options{
		Resolver:         &remote.Resolver{Fetcher: fetcher},
		Engines:          engines,
		Permissions:      s.permissions(allowRecording),
		ProgressInterval: cfg.Progress.Interval,
		Volume:           cfg.Audio.DefaultVolume,
		Logger:           logging.For("playrec"),
	})
	return s, nil
}

func (s *stack) permissions(allow func() bool) playrec.PermissionProvider {
	return playrec.PermissionFunc(func(ctx context.Context) error {
		if s.capture == nil {
			return fmt.Errorf("%w: no capture backend", playrec.ErrPermissionDenied)
		}
		return audio.Permissions{Allow: allow(), Devices: s.capture.Devices}.RequestRecordPermission(ctx)
	})
}

func (s *stack) close() error {
	var errs []error
	if s.pr != nil {
		errs = append(errs, s.pr.Close())
	}
	if s.output != nil {
		errs = append(errs, s.output.Close())
	}
	if s.capture != nil {
		errs = append(errs, s.capture.Close())
	}
	if s.store != nil {
		s.logger.Debug("remote cache", "stats", s.store.Stats())
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
